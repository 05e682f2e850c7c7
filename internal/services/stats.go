package rewards

import (
	"context"
	"time"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	"golang.org/x/sync/errgroup"
)

const DefaultStatsDays = 30

// Общая статистика, запросы параллельно
func (s *RewardsService) GlobalStats(ctx context.Context) (model.GlobalStats, error) {
	var (
		stats  model.GlobalStats
		promo  int64
		reward int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Accounts, stats.TotalBalance, err = s.db.CountAccounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		promo, err = s.db.CountCoupons(gctx, model.CouponActive, model.CouponPromo)
		return err
	})
	g.Go(func() (err error) {
		reward, err = s.db.CountCoupons(gctx, model.CouponActive, model.CouponReward)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.GlobalStats{}, err
	}
	stats.ActiveCoupons = promo + reward
	stats.ActiveCouponsByKind = map[string]int64{
		string(model.CouponPromo):  promo,
		string(model.CouponReward): reward,
	}
	return stats, nil
}

// Всего купонов и погашенных
func (s *RewardsService) CouponCounts(ctx context.Context) (counts model.CouponCounts, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts.Total, err = s.db.CountCoupons(gctx, "", "")
		return err
	})
	g.Go(func() (err error) {
		counts.Used, err = s.db.CountCoupons(gctx, model.CouponUsed, "")
		return err
	})
	if err = g.Wait(); err != nil {
		return model.CouponCounts{}, err
	}
	return counts, nil
}

// Суммы начислений и списаний за days дней
func (s *RewardsService) PointsAggregates(ctx context.Context, days int) (model.PointsAggregates, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	return s.db.PointsAggregates(ctx, since)
}
