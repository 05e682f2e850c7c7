package rewards

import (
	"context"
	"sync"
	"time"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPromoChunkSize = 500
	DefaultListLimit      = 50
)

type Settings struct {
	PointsPerUnit  decimal.Decimal // баллов за единицу валюты
	PromoChunkSize int
}

type RewardsService struct {
	logger   *zap.Logger
	db       interf.RewardsStorage
	cache    interf.CacheStorage
	catalog  interf.RewardCatalog
	bus      interf.EventBus
	notifier interf.Notifier

	rate      decimal.Decimal
	chunkSize int
	now       func() time.Time

	background sync.WaitGroup // фоновые рассылки
}

// cache и notifier могут быть nil; без bus события идут в локальный Hub
func NewRewardsService(logger *zap.Logger, db interf.RewardsStorage, cache interf.CacheStorage, catalog interf.RewardCatalog, bus interf.EventBus, notifier interf.Notifier, settings Settings) *RewardsService {
	if bus == nil {
		bus = events.NewHub()
	}
	if catalog == nil {
		catalog = NewStaticCatalog(DefaultCatalog())
	}
	rate := settings.PointsPerUnit
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(1)
	}
	chunk := settings.PromoChunkSize
	if chunk <= 0 || chunk > DefaultPromoChunkSize {
		chunk = DefaultPromoChunkSize
	}
	return &RewardsService{
		logger:    logger,
		db:        db,
		cache:     cache,
		catalog:   catalog,
		bus:       bus,
		notifier:  notifier,
		rate:      rate,
		chunkSize: chunk,
		now:       time.Now,
	}
}

// ждать завершения фоновых рассылок
func (s *RewardsService) Wait() {
	s.background.Wait()
}

func (s *RewardsService) Bus() interf.EventBus {
	return s.bus
}

// время записи с точностью timestamptz
func (s *RewardsService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// события после коммита
func (s *RewardsService) publish(ctx context.Context, topics ...string) {
	for _, topic := range topics {
		s.bus.Publish(ctx, topic)
	}
}

// инвалидировать кэш баланса
func (s *RewardsService) invalidateBalance(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBalance(ctx, accountID); err != nil {
		s.logger.Error("cache invalidate",
			zap.String("account", accountID),
			zap.Error(err))
	}
}

// изменение баланса: кэш и подписчики счета
func (s *RewardsService) balanceChanged(ctx context.Context, accountID string) {
	s.invalidateBalance(ctx, accountID)
	s.publish(ctx, events.AccountTopic(accountID))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
