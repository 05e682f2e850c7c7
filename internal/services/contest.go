package rewards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultContestsLimit     = 20
	DefaultParticipantsLimit = 100
	statsRefreshTimeout      = 5 * time.Second
)

// Открытый конкурс с ближайшим закрытием; nil если нет
func (s *RewardsService) GetActiveContest(ctx context.Context) (*model.Contest, error) {
	contests, err := s.db.ListOpenContests(ctx, s.now(), 1)
	if err != nil {
		return nil, err
	}
	if len(contests) == 0 {
		return nil, nil
	}
	return &contests[0], nil
}

func (s *RewardsService) GetContest(ctx context.Context, contestID string) (model.Contest, error) {
	return s.db.GetContest(ctx, contestID)
}

// новые сверху
func (s *RewardsService) ListContests(ctx context.Context, limit int) ([]model.Contest, error) {
	if limit <= 0 {
		limit = DefaultContestsLimit
	}
	return s.db.ListContests(ctx, limit)
}

// по убыванию билетов
func (s *RewardsService) ListParticipants(ctx context.Context, contestID string, limit int) ([]model.ContestParticipant, error) {
	if limit <= 0 {
		limit = DefaultParticipantsLimit
	}
	return s.db.ListParticipants(ctx, contestID, limit)
}

// Покупка билетов: списание, участник и счетчик конкурса в одной транзакции.
// Окно продаж проверяется тем же оператором, что увеличивает счетчик.
func (s *RewardsService) PurchaseTickets(ctx context.Context, contestID string, accountID string, quantity int64) (res model.PurchaseResult, err error) {
	defer func() { observe("tickets", err) }()

	if quantity < 1 {
		return res, fmt.Errorf("quantity %d: %w", quantity, model.ErrInvalidAmount)
	}
	contest, err := s.db.GetContest(ctx, contestID)
	if err != nil {
		return res, err
	}
	if !contest.AcceptingPurchases(s.now()) {
		return res, fmt.Errorf("contest %s: %w", contestID, model.ErrContestClosed)
	}
	if quantity > math.MaxInt64/contest.TicketCostPoints {
		return res, fmt.Errorf("quantity %d: %w", quantity, model.ErrInvalidAmount)
	}
	// цена фиксируется на момент покупки
	cost := quantity * contest.TicketCostPoints

	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		now := s.timestamp()
		balance, err := s.debitTx(ctx, tx, accountID, cost, "Contest: "+contest.Title)
		if err != nil {
			return err
		}
		part, err := tx.AddParticipantTickets(ctx, contestID, accountID, quantity, cost, now)
		if err != nil {
			return err
		}
		updated, err := tx.AddContestTickets(ctx, contestID, quantity, now)
		if err != nil {
			return err
		}
		res = model.PurchaseResult{
			AccountTickets: part.NumTickets,
			TotalTickets:   updated.TotalTickets,
			Balance:        balance,
		}
		return nil
	})
	if err != nil {
		return model.PurchaseResult{}, err
	}

	s.logger.Info("tickets purchased",
		zap.String("contest", contestID),
		zap.String("account", accountID),
		zap.Int64("quantity", quantity),
		zap.Int64("cost", cost))
	ledgerPoints.WithLabelValues("debit").Add(float64(cost))
	s.invalidateBalance(ctx, accountID)
	s.publish(ctx,
		events.AccountTopic(accountID),
		events.ContestTopic(contestID),
		events.ParticipantTopic(contestID, accountID))
	return res, nil
}

func (s *RewardsService) accountTickets(ctx context.Context, contestID string, accountID string) (int64, error) {
	part, err := s.db.GetParticipant(ctx, contestID, accountID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return part.NumTickets, nil
}

// Шансы счета в конкурсе
func (s *RewardsService) GetStats(ctx context.Context, contestID string, accountID string) (model.ContestStats, error) {
	contest, err := s.db.GetContest(ctx, contestID)
	if err != nil {
		return model.ContestStats{}, err
	}
	tickets, err := s.accountTickets(ctx, contestID, accountID)
	if err != nil {
		return model.ContestStats{}, err
	}
	return model.NewContestStats(contest, tickets), nil
}

// последние известные значения обеих сторон
type statsWatcher struct {
	mu      sync.Mutex
	ready   bool // до первого чтения конкурса не отдаем
	contest model.Contest
	tickets int64
	fn      func(model.ContestStats)
}

func (w *statsWatcher) emit() {
	if w.ready {
		w.fn(model.NewContestStats(w.contest, w.tickets))
	}
}

// Подписка на статистику конкурса. Первое значение отдается сразу,
// затем при каждом изменении конкурса или участника.
// Подписка завершается вызовом unsubscribe или отменой ctx; после возврата unsubscribe fn не вызывается.
func (s *RewardsService) SubscribeStats(ctx context.Context, contestID string, accountID string, fn func(model.ContestStats)) (unsubscribe func(), err error) {
	w := &statsWatcher{fn: fn}

	onContest := func(string) {
		rctx, cancel := context.WithTimeout(context.Background(), statsRefreshTimeout)
		defer cancel()
		w.mu.Lock()
		defer w.mu.Unlock()
		contest, err := s.db.GetContest(rctx, contestID)
		if err != nil {
			s.logger.Warn("stats refresh contest", zap.String("contest", contestID), zap.Error(err))
			return
		}
		w.contest = contest
		w.emit()
	}
	onParticipant := func(string) {
		rctx, cancel := context.WithTimeout(context.Background(), statsRefreshTimeout)
		defer cancel()
		w.mu.Lock()
		defer w.mu.Unlock()
		tickets, err := s.accountTickets(rctx, contestID, accountID)
		if err != nil {
			s.logger.Warn("stats refresh participant", zap.String("contest", contestID), zap.Error(err))
			return
		}
		w.tickets = tickets
		w.emit()
	}

	// подписка до первого чтения: изменения между ними не теряются
	unsubContest := s.bus.Subscribe(events.ContestTopic(contestID), onContest)
	unsubPart := s.bus.Subscribe(events.ParticipantTopic(contestID, accountID), onParticipant)

	var (
		once   sync.Once
		stopMu sync.Mutex
		stop   func() bool
	)
	unsubscribe = func() {
		once.Do(func() {
			unsubContest()
			unsubPart()
			stopMu.Lock()
			if stop != nil {
				stop()
			}
			stopMu.Unlock()
		})
	}

	w.mu.Lock()
	contest, err := s.db.GetContest(ctx, contestID)
	if err == nil {
		w.contest = contest
		w.tickets, err = s.accountTickets(ctx, contestID, accountID)
	}
	if err == nil {
		w.ready = true
		w.emit()
	}
	w.mu.Unlock()
	if err != nil {
		unsubscribe()
		return nil, err
	}

	stopMu.Lock()
	stop = context.AfterFunc(ctx, unsubscribe)
	stopMu.Unlock()
	return unsubscribe, nil
}

// Создание конкурса
func (s *RewardsService) CreateContest(ctx context.Context, in model.ContestInput) (model.Contest, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Contest{}, fmt.Errorf("contest title is required: %w", model.ErrInvalidInput)
	}
	if in.TicketCostPoints < 1 {
		return model.Contest{}, fmt.Errorf("ticket cost %d: %w", in.TicketCostPoints, model.ErrInvalidInput)
	}
	if in.ClosesAt.IsZero() {
		return model.Contest{}, fmt.Errorf("contest closesAt is required: %w", model.ErrInvalidInput)
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	contest := model.Contest{
		ID:               uuid.NewString(),
		Title:            title,
		Prize:            in.Prize,
		TicketCostPoints: in.TicketCostPoints,
		ClosesAt:         in.ClosesAt.UTC().Truncate(time.Microsecond),
		Active:           active,
		ImageRef:         in.ImageRef,
		CreatedAt:        s.timestamp(),
	}
	err := s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		return tx.InsertContest(ctx, contest)
	})
	if err != nil {
		return model.Contest{}, err
	}
	s.logger.Info("contest created", zap.String("contest", contest.ID), zap.String("title", contest.Title))
	return contest, nil
}

// изменение под блокировкой строки конкурса
func (s *RewardsService) modifyContest(ctx context.Context, contestID string, apply func(c *model.Contest, now time.Time) error) (contest model.Contest, err error) {
	err = s.db.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		contest, err = tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		if err = apply(&contest, s.timestamp()); err != nil {
			return err
		}
		return tx.UpdateContest(ctx, contest)
	})
	if err != nil {
		return model.Contest{}, err
	}
	s.publish(ctx, events.ContestTopic(contestID))
	return contest, nil
}

// Частичное изменение. После ClosesAt конкурс не открывается и срок не переносится.
func (s *RewardsService) UpdateContest(ctx context.Context, contestID string, patch model.ContestPatch) (model.Contest, error) {
	return s.modifyContest(ctx, contestID, func(c *model.Contest, now time.Time) error {
		passed := !now.Before(c.ClosesAt)
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return fmt.Errorf("contest title is required: %w", model.ErrInvalidInput)
			}
			c.Title = title
		}
		if patch.Prize != nil {
			c.Prize = *patch.Prize
		}
		if patch.TicketCostPoints != nil {
			if *patch.TicketCostPoints < 1 {
				return fmt.Errorf("ticket cost %d: %w", *patch.TicketCostPoints, model.ErrInvalidInput)
			}
			c.TicketCostPoints = *patch.TicketCostPoints
		}
		if patch.ClosesAt != nil {
			if passed {
				return fmt.Errorf("contest %s already closed: %w", c.ID, model.ErrContestClosed)
			}
			if patch.ClosesAt.IsZero() {
				return fmt.Errorf("contest closesAt is required: %w", model.ErrInvalidInput)
			}
			c.ClosesAt = patch.ClosesAt.UTC().Truncate(time.Microsecond)
		}
		if patch.ImageRef != nil {
			c.ImageRef = *patch.ImageRef
		}
		if patch.Active != nil {
			if *patch.Active && !now.Before(c.ClosesAt) {
				return fmt.Errorf("contest %s already closed: %w", c.ID, model.ErrContestClosed)
			}
			c.Active = *patch.Active
		}
		return nil
	})
}

// Вкл/выкл продажи; включить после ClosesAt нельзя
func (s *RewardsService) ToggleActive(ctx context.Context, contestID string, active bool) (model.Contest, error) {
	return s.modifyContest(ctx, contestID, func(c *model.Contest, now time.Time) error {
		if active && !now.Before(c.ClosesAt) {
			return fmt.Errorf("contest %s already closed: %w", c.ID, model.ErrContestClosed)
		}
		c.Active = active
		return nil
	})
}

// Завершить сейчас
func (s *RewardsService) ForceClose(ctx context.Context, contestID string) (model.Contest, error) {
	return s.modifyContest(ctx, contestID, func(c *model.Contest, now time.Time) error {
		c.Active = false
		c.ClosesAt = now
		return nil
	})
}
