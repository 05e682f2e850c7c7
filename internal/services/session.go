package rewards

import (
	"context"
	"errors"
	"sync"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"go.uber.org/zap"
)

var ErrSessionClosed = errors.New("session closed")

// Session - профиль вошедшего пользователя и подписки на его изменения.
// Роль берется от провайдера входа как есть.
type Session struct {
	svc  *RewardsService
	role model.Role

	mu      sync.Mutex
	profile model.Account
	unsubs  []func()
	closed  bool
}

// role == "" - роль из профиля
func (s *RewardsService) NewSession(ctx context.Context, authID string, email string, displayName string, role model.Role) (*Session, error) {
	account, err := s.EnsureAccount(ctx, authID, email, displayName)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = account.Role
	}
	return &Session{svc: s, role: role, profile: account}, nil
}

func (ss *Session) AccountID() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.profile.ID
}

func (ss *Session) Role() model.Role {
	return ss.role
}

func (ss *Session) IsAdmin() bool {
	return ss.role == model.RoleAdmin
}

// последний известный профиль
func (ss *Session) Profile() model.Account {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.profile
}

// Refresh перечитывает профиль
func (ss *Session) Refresh(ctx context.Context) (model.Account, error) {
	account, err := ss.svc.db.GetAccount(ctx, ss.AccountID())
	if err != nil {
		return model.Account{}, err
	}
	ss.mu.Lock()
	ss.profile = account
	ss.mu.Unlock()
	return account, nil
}

// fn получает свежий профиль после каждого изменения счета.
// Закрытый счет - fn не вызывается, ошибка в лог.
func (ss *Session) Watch(fn func(model.Account)) (unsubscribe func(), err error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return nil, ErrSessionClosed
	}
	accountID := ss.profile.ID
	unsubscribe = ss.svc.bus.Subscribe(events.AccountTopic(accountID), func(string) {
		rctx, cancel := context.WithTimeout(context.Background(), statsRefreshTimeout)
		defer cancel()
		account, err := ss.Refresh(rctx)
		if err != nil {
			ss.svc.logger.Warn("session refresh", zap.String("account", accountID), zap.Error(err))
			return
		}
		fn(account)
	})
	ss.unsubs = append(ss.unsubs, unsubscribe)
	return unsubscribe, nil
}

// отписывает все Watch
func (ss *Session) Close() {
	ss.mu.Lock()
	unsubs := ss.unsubs
	ss.unsubs = nil
	ss.closed = true
	ss.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}
