package rewards

import (
	"context"
	"fmt"
	"strings"
	"time"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"go.uber.org/zap"
)

const (
	promoPushTitle   = "Nouvelle promo"
	promoPushTimeout = 10 * time.Minute
)

// Промо-купон каждому счету. Каждая пачка - отдельная транзакция,
// при ошибке созданные ранее пачки остаются (возобновления нет).
func (s *RewardsService) BroadcastPromo(ctx context.Context, title string, imageRef string) (res model.BroadcastResult, err error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return res, fmt.Errorf("promo title is required: %w", model.ErrInvalidInput)
	}
	ids, err := s.db.ListAccountIDs(ctx)
	if err != nil {
		return res, err
	}
	res.TotalAccounts = len(ids)

	for i := 0; i < len(ids); i += s.chunkSize {
		chunk := ids[i:min(i+s.chunkSize, len(ids))]
		err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
			for _, accountID := range chunk {
				if _, err := s.issueTx(ctx, tx, accountID, model.CouponPromo, title, imageRef); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Error("promo broadcast interrupted",
				zap.String("title", title),
				zap.Int("created", res.Created),
				zap.Int("accounts", res.TotalAccounts),
				zap.Error(err))
			return res, err
		}
		res.Created += len(chunk)
		couponsIssued.WithLabelValues(string(model.CouponPromo)).Add(float64(len(chunk)))
		for _, accountID := range chunk {
			s.publish(ctx, events.AccountTopic(accountID))
		}
	}

	s.logger.Info("promo broadcast",
		zap.String("title", title),
		zap.Int("created", res.Created))
	s.notifyPromo(ctx, title)
	return res, nil
}

// push без ожидания; ошибки только в лог
func (s *RewardsService) notifyPromo(ctx context.Context, title string) {
	if s.notifier == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), promoPushTimeout)
		defer cancel()

		sent, failed, err := s.notifier.SendToAll(pctx, promoPushTitle, title, map[string]string{"type": "promo"})
		if err != nil {
			s.logger.Warn("promo push failed", zap.String("title", title), zap.Error(err))
			return
		}
		s.logger.Info("promo push",
			zap.Int("sent", sent),
			zap.Int("failed", failed))
	}()
}
