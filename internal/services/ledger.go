package rewards

import (
	"context"
	"errors"
	"fmt"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPurchaseReason = "Achat"
	DefaultDebitReason    = "Récompense"
	DefaultTnxLimit       = 100
)

// начисление внутри открытой транзакции
func (s *RewardsService) creditTx(ctx context.Context, tx interf.RewardsTx, accountID string, points int64, reason string, amount decimal.NullDecimal) (int64, error) {
	if points <= 0 {
		return 0, fmt.Errorf("credit %d: %w", points, model.ErrInvalidAmount)
	}
	balance, err := tx.AddBalance(ctx, accountID, points)
	if err != nil {
		return 0, err
	}
	err = tx.AppendTransaction(ctx, model.PointTransaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Delta:       points,
		Reason:      reason,
		OrderAmount: amount,
		CreatedAt:   s.timestamp(),
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// списание внутри открытой транзакции: проверка и уменьшение баланса под блокировкой строки счета
func (s *RewardsService) debitTx(ctx context.Context, tx interf.RewardsTx, accountID string, points int64, reason string) (int64, error) {
	if points <= 0 {
		return 0, fmt.Errorf("debit %d: %w", points, model.ErrInvalidAmount)
	}
	account, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if account.Balance < points {
		return 0, fmt.Errorf("balance %d < %d: %w", account.Balance, points, model.ErrInsufficientBalance)
	}
	balance, err := tx.AddBalance(ctx, accountID, -points)
	if err != nil {
		return 0, err
	}
	err = tx.AppendTransaction(ctx, model.PointTransaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Delta:     -points,
		Reason:    reason,
		CreatedAt: s.timestamp(),
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Начисление баллов
func (s *RewardsService) Credit(ctx context.Context, accountID string, points int64, reason string) (balance int64, err error) {
	defer func() { observe("credit", err) }()

	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		balance, err = s.creditTx(ctx, tx, accountID, points, reason, decimal.NullDecimal{})
		return err
	})
	if err != nil {
		return 0, err
	}
	ledgerPoints.WithLabelValues("credit").Add(float64(points))
	s.balanceChanged(ctx, accountID)
	return balance, nil
}

// Списание баллов
func (s *RewardsService) Debit(ctx context.Context, accountID string, points int64, reason string) (balance int64, err error) {
	defer func() { observe("debit", err) }()

	if reason == "" {
		reason = DefaultDebitReason
	}
	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		balance, err = s.debitTx(ctx, tx, accountID, points, reason)
		return err
	})
	if err != nil {
		return 0, err
	}
	ledgerPoints.WithLabelValues("debit").Add(float64(points))
	s.balanceChanged(ctx, accountID)
	return balance, nil
}

// Начисление по сумме покупки: floor(amount * rate) баллов
func (s *RewardsService) CreditFromPurchaseAmount(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (points int64, err error) {
	defer func() { observe("purchase", err) }()

	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount %s: %w", amount, model.ErrInvalidAmount)
	}
	points = amount.Mul(s.rate).Floor().IntPart()
	if points <= 0 {
		return 0, fmt.Errorf("amount %s gives no points: %w", amount, model.ErrInvalidAmount)
	}
	if reason == "" {
		reason = DefaultPurchaseReason
	}
	reason = fmt.Sprintf("%s (%s€)", reason, amount.StringFixed(2))

	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		_, err := s.creditTx(ctx, tx, accountID, points, reason, decimal.NewNullDecimal(amount))
		return err
	})
	if err != nil {
		return 0, err
	}
	ledgerPoints.WithLabelValues("credit").Add(float64(points))
	s.balanceChanged(ctx, accountID)
	return points, nil
}

// Транзакции счета, новые сверху.
// Без упорядоченного запроса - порядок вставки, только для отображения.
func (s *RewardsService) ListTransactions(ctx context.Context, accountID string, limit int) ([]model.PointTransaction, error) {
	if limit <= 0 {
		limit = DefaultTnxLimit
	}
	tnxs, err := s.db.ListTransactions(ctx, accountID, limit)
	if err == nil {
		return tnxs, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	s.logger.Warn("ordered transactions unavailable, scanning",
		zap.String("account", accountID),
		zap.Error(err))

	tnxs, err = s.db.ScanTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(tnxs) > limit {
		tnxs = tnxs[:limit]
	}
	return tnxs, nil
}

// баланс
func (s *RewardsService) GetBalance(ctx context.Context, accountID string) (points int64, err error) {
	// cache
	fill := false
	var version int64
	if s.cache != nil {
		points, err = s.cache.GetBalance(ctx, accountID)
		if err == nil {
			return points, nil
		}
		// версия читается до базы: сброс после чтения отменит запись
		version, err = s.cache.BalanceVersion(ctx, accountID)
		fill = err == nil
	}
	// database
	account, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if fill {
		if err := s.cache.SetBalance(ctx, accountID, account.Balance, version); err != nil {
			s.logger.Warn("cache set", zap.String("account", accountID), zap.Error(err))
		}
	}
	return account.Balance, nil
}
