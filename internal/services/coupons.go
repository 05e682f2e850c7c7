package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultExpireBatch = 400
	MaxExpireBatch     = 500
)

// выпуск купона внутри открытой транзакции; код занят - новый код
func (s *RewardsService) issueTx(ctx context.Context, tx interf.RewardsTx, accountID string, kind model.CouponKind, title string, imageRef string) (model.Coupon, error) {
	if strings.TrimSpace(title) == "" {
		return model.Coupon{}, fmt.Errorf("coupon title is required: %w", model.ErrInvalidInput)
	}
	coupon := model.Coupon{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     title,
		Kind:      kind,
		Status:    model.CouponActive,
		CreatedAt: s.timestamp(),
		ImageRef:  imageRef,
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewCouponCode(kind)
		if err != nil {
			return model.Coupon{}, err
		}
		coupon.Code = code
		err = tx.InsertCoupon(ctx, coupon)
		if err == nil {
			return coupon, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return model.Coupon{}, err
		}
	}
	return model.Coupon{}, fmt.Errorf("no free coupon code after %d attempts", maxCodeAttempts)
}

func (s *RewardsService) issue(ctx context.Context, accountID string, kind model.CouponKind, title string, imageRef string) (coupon model.Coupon, err error) {
	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		coupon, err = s.issueTx(ctx, tx, accountID, kind, title, imageRef)
		return err
	})
	if err != nil {
		return model.Coupon{}, err
	}
	couponsIssued.WithLabelValues(string(kind)).Inc()
	s.publish(ctx, events.AccountTopic(accountID))
	return coupon, nil
}

// Промо-купон
func (s *RewardsService) IssuePromo(ctx context.Context, accountID string, title string, imageRef string) (model.Coupon, error) {
	return s.issue(ctx, accountID, model.CouponPromo, title, imageRef)
}

// Купон награды
func (s *RewardsService) IssueReward(ctx context.Context, accountID string, title string, imageRef string) (model.Coupon, error) {
	return s.issue(ctx, accountID, model.CouponReward, title, imageRef)
}

// Погашение купона. presentingAccountID == "" - погашение сотрудником по коду.
// Блокировка строки купона: из параллельных погашений успешно только одно.
func (s *RewardsService) Redeem(ctx context.Context, code string, presentingAccountID string) (coupon model.Coupon, err error) {
	defer func() { observe("redeem", err) }()

	code = strings.ToUpper(strings.TrimSpace(code))
	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		coupon, err = tx.LockCouponByCode(ctx, code)
		if err != nil {
			return err
		}
		if presentingAccountID != "" && presentingAccountID != coupon.AccountID {
			return fmt.Errorf("coupon %s: %w", code, model.ErrWrongOwner)
		}
		if coupon.Status != model.CouponActive {
			return fmt.Errorf("coupon %s is %s: %w", code, coupon.Status, model.ErrNotRedeemable)
		}
		usedAt := s.timestamp()
		if err = tx.MarkCouponUsed(ctx, coupon.ID, usedAt); err != nil {
			return err
		}
		coupon.Status = model.CouponUsed
		coupon.UsedAt = &usedAt
		return nil
	})
	if err != nil {
		return model.Coupon{}, err
	}
	s.publish(ctx, events.AccountTopic(coupon.AccountID))
	return coupon, nil
}

// Истечение до limit активных купонов вида kind
func (s *RewardsService) ExpireBatch(ctx context.Context, kind model.CouponKind, limit int) (updated int, err error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("coupon kind %q: %w", kind, model.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultExpireBatch
	}
	if limit > MaxExpireBatch {
		limit = MaxExpireBatch
	}
	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		updated, err = tx.ExpireCoupons(ctx, kind, limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *RewardsService) GetByCode(ctx context.Context, code string) (model.Coupon, error) {
	return s.db.GetCouponByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *RewardsService) ListCoupons(ctx context.Context, accountID string) ([]model.Coupon, error) {
	return s.db.ListCoupons(ctx, accountID)
}

// активные промо, новые сверху
func (s *RewardsService) ListActivePromos(ctx context.Context, limit int) ([]model.Coupon, error) {
	return s.db.ListActiveCoupons(ctx, model.CouponPromo, clampLimit(limit))
}
