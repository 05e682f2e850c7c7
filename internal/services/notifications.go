package rewards

import (
	"context"
	"fmt"
	"strings"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultPushChunk = 50

// Рассылка push по сохраненным токенам
type NotificationService struct {
	logger    *zap.Logger
	db        interf.RewardsStorage
	sender    interf.PushSender
	limiter   *rate.Limiter // пачек в секунду
	chunkSize int
}

var _ interf.Notifier = (*NotificationService)(nil)

// interval - пауза между пачками, 0 - без паузы
func NewNotificationService(logger *zap.Logger, db interf.RewardsStorage, sender interf.PushSender, chunkSize int, interval time.Duration) *NotificationService {
	if chunkSize <= 0 {
		chunkSize = DefaultPushChunk
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &NotificationService{
		logger:    logger,
		db:        db,
		sender:    sender,
		limiter:   rate.NewLimiter(limit, 1),
		chunkSize: chunkSize,
	}
}

func (n *NotificationService) SendToAll(ctx context.Context, title string, body string, data map[string]string) (sent int, failed int, err error) {
	tokens, err := n.db.ListTokens(ctx, "")
	if err != nil {
		return 0, 0, err
	}
	return n.send(ctx, tokens, title, body, data)
}

func (n *NotificationService) SendToAccount(ctx context.Context, accountID string, title string, body string, data map[string]string) (sent int, failed int, err error) {
	tokens, err := n.db.ListTokens(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	if len(tokens) == 0 {
		return 0, 0, fmt.Errorf("push tokens of %s: %w", accountID, model.ErrNotFound)
	}
	return n.send(ctx, tokens, title, body, data)
}

// ошибка пачки считается как отказ всех ее сообщений, рассылка продолжается
func (n *NotificationService) send(ctx context.Context, tokens []model.NotificationToken, title string, body string, data map[string]string) (sent int, failed int, err error) {
	if len(tokens) == 0 {
		return 0, 0, nil
	}
	messages := make([]interf.PushMessage, 0, len(tokens))
	for _, tk := range tokens {
		messages = append(messages, interf.PushMessage{
			To:    tk.Token,
			Sound: "default",
			Title: title,
			Body:  body,
			Data:  data,
		})
	}

	for i := 0; i < len(messages); i += n.chunkSize {
		chunk := messages[i:min(i+n.chunkSize, len(messages))]
		if err = n.limiter.Wait(ctx); err != nil {
			return sent, failed + len(messages) - i, err
		}
		tickets, err := n.sender.Send(ctx, chunk)
		if err != nil {
			n.logger.Warn("push chunk failed",
				zap.Int("chunk", i/n.chunkSize+1),
				zap.Int("size", len(chunk)),
				zap.Error(err))
			failed += len(chunk)
			continue
		}
		for _, t := range tickets {
			if t.Status == "ok" {
				sent++
			} else {
				failed++
				n.logger.Debug("push rejected", zap.String("message", t.Message))
			}
		}
		// тикетов меньше чем сообщений
		if len(tickets) < len(chunk) {
			failed += len(chunk) - len(tickets)
		}
	}
	return sent, failed, nil
}

// ID устройства: <account>_<последние 8 символов токена>
func DeviceID(accountID string, token string) string {
	tail := token
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return accountID + "_" + tail
}

// Сохранить push-токен устройства
func (s *RewardsService) RegisterToken(ctx context.Context, accountID string, token string, platform string) (model.NotificationToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.NotificationToken{}, fmt.Errorf("push token is required: %w", model.ErrInvalidInput)
	}
	tk := model.NotificationToken{
		AccountID: accountID,
		Token:     token,
		DeviceID:  DeviceID(accountID, token),
		Platform:  platform,
		CreatedAt: s.timestamp(),
	}
	if err := s.db.SaveToken(ctx, tk); err != nil {
		return model.NotificationToken{}, err
	}
	return tk, nil
}

// Удалить токены счета
func (s *RewardsService) RemoveTokens(ctx context.Context, accountID string) error {
	return s.db.DeleteTokens(ctx, accountID)
}
