// HTTP сервер - счета, баллы, купоны, конкурсы, live-обновления по websocket
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	api "github.com/glkeru/loyalty/rewards/internal/api"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	events "github.com/glkeru/loyalty/rewards/internal/events"
	push "github.com/glkeru/loyalty/rewards/internal/external/push"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	otel "github.com/glkeru/loyalty/rewards/observability/otel"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
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
	rate, _ := cfg.PointsPerUnit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// tracing
	shutdownTracer, err := otel.InitTracer(ctx, cfg.Otel.Endpoint, "rewards", logger)
	if err != nil {
		logger.Error(err.Error())
	} else {
		defer shutdownTracer()
	}

	// database
	var storage interf.RewardsStorage
	if cfg.DB.DSN == "" {
		logger.Warn("env REWARDS_DB_DSN is not set, using in-memory storage")
		storage = db.NewMemoryDB()
	} else {
		pg, err := db.NewRewardsDB(ctx, cfg.DB.DSN, cfg.DB.Retries, logger)
		if err != nil {
			panic(err)
		}
		defer pg.Close()
		if cfg.DB.Migrate {
			if err = pg.Migrate(ctx); err != nil {
				panic(err)
			}
		}
		storage = pg
	}

	// cache и события между инстансами
	var cache interf.CacheStorage
	hub := events.NewHub()
	var bus interf.EventBus = hub
	redis, err := db.NewCacheService(ctx, cfg.Cache.Addr, cfg.Cache.User, cfg.Cache.Password, cfg.Cache.TTL)
	if err != nil {
		logger.Error(err.Error())
	} else {
		defer redis.Close()
		cache = redis
		remote, err := db.NewRedisEvents(ctx, redis.Client(), hub, logger)
		if err != nil {
			logger.Error(err.Error())
		} else {
			defer remote.Close()
			bus = remote
		}
	}

	// каталог наград
	var catalog interf.RewardCatalog = services.NewStaticCatalog(services.DefaultCatalog())
	if cfg.Mongo.URI != "" {
		mongo, err := db.NewCatalogDB(cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			panic(err)
		}
		defer mongo.Close(context.Background())
		if err = mongo.Seed(ctx, services.DefaultCatalog()); err != nil {
			logger.Error(err.Error())
		}
		catalog = mongo
	}

	// push
	sender := push.NewExpoClient(cfg.Push.URL, cfg.Push.Timeout)
	notifier := services.NewNotificationService(logger, storage, sender, cfg.Push.ChunkSize, cfg.Push.Interval)

	svc := services.NewRewardsService(logger, storage, cache, catalog, bus, notifier, services.Settings{
		PointsPerUnit:  rate,
		PromoChunkSize: cfg.Promo.ChunkSize,
	})

	// api handlers
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/").Handler(otelhttp.NewHandler(api.NewHandler(svc, logger), "rewards"))
	srv := &http.Server{
		Handler:      r,
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()
	logger.Info("rewards server started", zap.Int("port", cfg.HTTP.Port))

	// shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	timeout, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err = srv.Shutdown(timeout); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	cancel()
	// фоновые рассылки
	svc.Wait()
}
