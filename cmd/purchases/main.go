// Job - начисление баллов за покупки
// Чтение Kafka -> начисление по сумме чека, повторная доставка отсекается по eventId
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	events "github.com/glkeru/loyalty/rewards/internal/events"
	kafka "github.com/glkeru/loyalty/rewards/internal/external/kafka"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// config
	cfg, err := config.LoadConfig(".", "./config")
	if err != nil {
		panic(err)
	}
	rate, _ := cfg.PointsPerUnit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// kafka
	reader, err := kafka.NewPurchaseReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	if err != nil {
		panic(err)
	}
	defer reader.Close()

	// database
	dt, err := db.NewRewardsDB(ctx, cfg.DB.DSN, cfg.DB.Retries, logger)
	if err != nil {
		panic(err)
	}
	defer dt.Close()

	// cache, без него дубли не отсекаются
	var cache interf.CacheStorage
	var dedupe interf.Deduper
	var bus interf.EventBus
	redis, err := db.NewCacheService(ctx, cfg.Cache.Addr, cfg.Cache.User, cfg.Cache.Password, cfg.Cache.TTL)
	if err != nil {
		logger.Warn("cache is unavailable, duplicate purchase events are not suppressed", zap.Error(err))
	} else {
		defer redis.Close()
		cache = redis
		dedupe = redis
		// обновления баланса уходят в live-подписки сервера
		remote, err := db.NewRedisEvents(ctx, redis.Client(), events.NewHub(), logger)
		if err != nil {
			logger.Error(err.Error())
		} else {
			defer remote.Close()
			bus = remote
		}
	}

	// services
	serv := services.NewRewardsService(logger, dt, cache, nil, bus, nil, services.Settings{PointsPerUnit: rate})

	// os signals
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	// обработка параллельная, коммит только непрерывного префикса партиции:
	// сообщение с временной ошибкой будет прочитано снова после перезапуска
	committer := kafka.NewOrderedCommitter(reader)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Kafka.Workers)
	for {
		msg, err := reader.Fetch(gctx)
		if err != nil {
			if gctx.Err() == nil {
				logger.Error(err.Error())
			}
			break
		}
		committer.Track(msg)
		g.Go(func() error {
			return handle(gctx, serv, committer, dedupe, logger, msg)
		})
	}
	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Job purchases is stopped", zap.Error(err))
		return
	}
	logger.Info("Job purchases is finished")
}

// offset фиксируется для всего, кроме временных ошибок
func handle(ctx context.Context, serv *services.RewardsService, committer *kafka.OrderedCommitter, dedupe interf.Deduper, logger *zap.Logger, msg kafkago.Message) error {
	ev, err := kafka.ParsePurchase(msg.Value)
	if err != nil {
		logger.Warn("skip purchase message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return committer.Done(context.WithoutCancel(ctx), msg)
	}

	points, err := serv.ProcessPurchase(ctx, ev, dedupe)
	switch {
	case err == nil:
		logger.Info("purchase credited", zap.String("eventId", ev.EventID), zap.String("accountId", ev.AccountID), zap.Int64("points", points))
	case errors.Is(err, services.ErrDuplicate):
		logger.Debug("duplicate purchase", zap.String("eventId", ev.EventID))
	case model.IsBusiness(err):
		logger.Warn("purchase rejected", zap.String("eventId", ev.EventID), zap.String("kind", model.Kind(err)), zap.Error(err))
	default:
		return err
	}
	return committer.Done(context.WithoutCancel(ctx), msg)
}
