package rewards

import (
	"context"
	"errors"
	"fmt"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"go.uber.org/zap"
)

// Получение награды за баллы.
// Списание и выпуск купона в одной транзакции, списание первым: без оплаты купона нет.
func (s *RewardsService) Claim(ctx context.Context, accountID string, rewardID string) (coupon model.Coupon, err error) {
	defer func() { observe("claim", err) }()

	reward, err := s.catalog.Get(ctx, rewardID)
	if err != nil {
		if errors.Is(err, model.ErrUnknownReward) || errors.Is(err, model.ErrNotFound) {
			return model.Coupon{}, fmt.Errorf("reward %s: %w", rewardID, model.ErrUnknownReward)
		}
		return model.Coupon{}, err
	}
	if reward.PointsCost <= 0 {
		return model.Coupon{}, fmt.Errorf("reward %s has no cost: %w", rewardID, model.ErrUnknownReward)
	}

	// предварительная проверка, окончательная в debitTx
	account, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return model.Coupon{}, err
	}
	if account.Balance < reward.PointsCost {
		return model.Coupon{}, fmt.Errorf("balance %d < %d: %w", account.Balance, reward.PointsCost, model.ErrInsufficientBalance)
	}

	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		if _, err := s.debitTx(ctx, tx, accountID, reward.PointsCost, "Reward: "+reward.Title); err != nil {
			return err
		}
		coupon, err = s.issueTx(ctx, tx, accountID, model.CouponReward, reward.Title, reward.ImageRef)
		return err
	})
	if err != nil {
		return model.Coupon{}, err
	}

	s.logger.Info("reward claimed",
		zap.String("account", accountID),
		zap.String("reward", rewardID),
		zap.String("coupon", coupon.Code))
	ledgerPoints.WithLabelValues("debit").Add(float64(reward.PointsCost))
	couponsIssued.WithLabelValues(string(model.CouponReward)).Inc()
	s.invalidateBalance(ctx, accountID)
	s.publish(ctx, events.AccountTopic(accountID))
	return coupon, nil
}
