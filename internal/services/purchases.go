package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"go.uber.org/zap"
)

// срок хранения отметки обработанного события
const PurchaseDedupeTTL = 7 * 24 * time.Hour

var ErrDuplicate = errors.New("duplicate event")

// Начисление по событию покупки, повтор eventId пропускается.
// Временная ошибка снимает отметку, чтобы событие обработалось повторно.
func (s *RewardsService) ProcessPurchase(ctx context.Context, ev model.PurchaseEvent, dedupe interf.Deduper) (points int64, err error) {
	if ev.EventID == "" || ev.AccountID == "" {
		return 0, fmt.Errorf("purchase event without eventId/accountId: %w", model.ErrInvalidInput)
	}
	if dedupe != nil {
		first, err := dedupe.MarkProcessed(ctx, ev.EventID, PurchaseDedupeTTL)
		if err != nil {
			return 0, err
		}
		if !first {
			s.logger.Info("duplicate purchase event", zap.String("event", ev.EventID))
			return 0, fmt.Errorf("event %s: %w", ev.EventID, ErrDuplicate)
		}
	}

	points, err = s.CreditFromPurchaseAmount(ctx, ev.AccountID, ev.Amount, ev.Reason)
	if err != nil && dedupe != nil && !model.IsBusiness(err) {
		if uerr := dedupe.UnmarkProcessed(context.WithoutCancel(ctx), ev.EventID); uerr != nil {
			s.logger.Warn("unmark purchase event", zap.String("event", ev.EventID), zap.Error(uerr))
		}
	}
	return points, err
}
