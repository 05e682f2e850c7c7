// Job - истечение старых промо-купонов
// Купоны в статусе active переводятся в expired пакетами, пока есть что обновлять
package main

import (
	"context"

	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
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

	ctx := context.Background()

	// database
	dt, err := db.NewRewardsDB(ctx, cfg.DB.DSN, cfg.DB.Retries, logger)
	if err != nil {
		panic(err)
	}
	defer dt.Close()

	serv := services.NewRewardsService(logger, dt, nil, nil, nil, nil, services.Settings{})

	total := 0
	for {
		updated, err := serv.ExpireBatch(ctx, model.CouponPromo, cfg.Promo.ExpireBatch)
		if err != nil {
			logger.Error(err.Error(), zap.Int("expired", total))
			return
		}
		if updated == 0 {
			break
		}
		total += updated
	}
	logger.Info("Job expire promos is finished", zap.Int("expired", total))
}
