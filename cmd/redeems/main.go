// Job - погашение купонов на кассе
// RabbitMQ coupon_redeems -> Redeem -> ответ в coupon_confirms
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	events "github.com/glkeru/loyalty/rewards/internal/events"
	rabbit "github.com/glkeru/loyalty/rewards/internal/external/rabbitmq"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// rabbitmq
	reader, err := rabbit.NewRabbitConsumer(cfg.Rabbit.URL, cfg.Rabbit.Workers)
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer reader.Close()

	// database
	dt, err := db.NewRewardsDB(ctx, cfg.DB.DSN, cfg.DB.Retries, logger)
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer dt.Close()

	// события для live-подписок сервера
	var bus interf.EventBus
	redis, err := db.NewCacheService(ctx, cfg.Cache.Addr, cfg.Cache.User, cfg.Cache.Password, cfg.Cache.TTL)
	if err != nil {
		logger.Error(err.Error())
	} else {
		defer redis.Close()
		remote, err := db.NewRedisEvents(ctx, redis.Client(), events.NewHub(), logger)
		if err != nil {
			logger.Error(err.Error())
		} else {
			defer remote.Close()
			bus = remote
		}
	}

	// services
	serv := services.NewRewardsService(logger, dt, nil, nil, bus, nil, services.Settings{})

	// os signals
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	// workers
	wg := &sync.WaitGroup{}
	wg.Add(cfg.Rabbit.Workers)
	for i := 0; i < cfg.Rabbit.Workers; i++ {
		go worker(ctx, serv, wg, logger, reader)
	}
	wg.Wait()
	logger.Info("Job redeems is finished")
}

// worker for rabbitmq messages
func worker(ctx context.Context, serv *services.RewardsService, wg *sync.WaitGroup, logger *zap.Logger, reader *rabbit.RabbitConsumer) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-reader.Msg:
			if !ok {
				return
			}
			handle(ctx, serv, logger, reader, msg)
		}
	}
}

// бизнес-ошибка - отрицательный ответ кассе, временная - сообщение возвращается в очередь
func handle(ctx context.Context, serv *services.RewardsService, logger *zap.Logger, reader *rabbit.RabbitConsumer, msg amqp.Delivery) {
	req, err := rabbit.ParseRedeem(msg.Body)
	if err != nil {
		logger.Warn("skip redeem message", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	coupon, err := serv.Redeem(ctx, req.Code, req.AccountID)
	if err != nil && !model.IsBusiness(err) {
		logger.Error(err.Error(), zap.String("requestId", req.RequestID))
		_ = msg.Nack(false, true)
		return
	}
	if err != nil {
		logger.Info("redeem rejected", zap.String("requestId", req.RequestID), zap.String("kind", model.Kind(err)))
	} else {
		logger.Info("coupon redeemed", zap.String("requestId", req.RequestID), zap.String("code", coupon.Code))
	}

	if perr := reader.Processed(ctx, req.RequestID, err); perr != nil {
		logger.Error(perr.Error(), zap.String("requestId", req.RequestID))
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
