package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"go.uber.org/zap"
)

// Счет при первом входе; существующий возвращается без изменений
func (s *RewardsService) EnsureAccount(ctx context.Context, authID string, email string, displayName string) (model.Account, error) {
	authID = strings.TrimSpace(authID)
	if authID == "" {
		return model.Account{}, fmt.Errorf("account id is required: %w", model.ErrInvalidInput)
	}
	account, err := s.db.GetAccount(ctx, authID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Account{}, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateCustomerCode()
		if err != nil {
			return model.Account{}, err
		}
		account = model.Account{
			ID:           authID,
			CustomerCode: code,
			Email:        email,
			DisplayName:  displayName,
			Role:         model.RoleUser,
			CreatedAt:    s.timestamp(),
		}
		err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
			return tx.CreateAccount(ctx, account)
		})
		if err == nil {
			s.logger.Info("account created",
				zap.String("account", authID),
				zap.String("code", code))
			return account, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return model.Account{}, err
		}
		// параллельный первый вход или занят код
		existing, gerr := s.db.GetAccount(ctx, authID)
		if gerr == nil {
			return existing, nil
		}
	}
	return model.Account{}, fmt.Errorf("no free customer code after %d attempts", maxCodeAttempts)
}

func (s *RewardsService) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	return s.db.GetAccount(ctx, accountID)
}

// Счет по коду клиента (ABCD-1234, регистр и пунктуация не важны) или по ID счета
func (s *RewardsService) ResolveCustomerCode(ctx context.Context, raw string) (model.Account, error) {
	trimmed := strings.TrimSpace(raw)
	if looksLikeAccountID(trimmed) {
		account, err := s.db.GetAccount(ctx, trimmed)
		if err == nil || !errors.Is(err, model.ErrNotFound) {
			return account, err
		}
	}
	code := NormalizeCustomerCode(raw)
	if code == "" {
		return model.Account{}, fmt.Errorf("customer code %q: %w", raw, model.ErrNotFound)
	}
	return s.db.GetAccountByCustomerCode(ctx, code)
}

// Закрытие счета: транзакции, купоны и токены удаляются.
// Участники конкурсов остаются, счетчики конкурсов не меняются.
func (s *RewardsService) CloseAccount(ctx context.Context, accountID string) error {
	err := s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		return tx.DeleteAccount(ctx, accountID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("account closed", zap.String("account", accountID))
	s.invalidateBalance(ctx, accountID)
	s.publish(ctx, events.AccountTopic(accountID))
	return nil
}
