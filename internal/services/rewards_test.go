package rewards

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"

	db "github.com/glkeru/loyalty/rewards/internal/db"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestClaimScenario(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	newAccount(t, svc, "u1", 100)

	coupon, err := svc.Claim(ctx, "u1", "burger")
	require.NoError(t, err)
	require.Equal(t, model.CouponReward, coupon.Kind)
	require.Equal(t, model.CouponActive, coupon.Status)
	require.Equal(t, "Burger Offert", coupon.Title)
	require.Equal(t, int64(20), requireConsistent(t, store, "u1"))

	tnxs, err := store.ScanTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tnxs, 2)
	require.Equal(t, int64(-80), tnxs[1].Delta)
	require.Equal(t, "Reward: Burger Offert", tnxs[1].Reason)

	_, err = svc.Claim(ctx, "u1", "burger")
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
	require.Equal(t, int64(20), requireConsistent(t, store, "u1"))
	coupons, err := svc.ListCoupons(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, coupons, 1)
}

func TestClaimUnknownReward(t *testing.T) {
	cont := gomock.NewController(t)
	defer cont.Finish()

	catalog := NewMockRewardCatalog(cont)
	catalog.EXPECT().Get(gomock.Any(), "pizza").Return(model.RewardCatalogEntry{}, model.ErrNotFound)
	catalog.EXPECT().Get(gomock.Any(), "menu").Return(model.RewardCatalogEntry{ID: "menu", Title: "Menu", PointsCost: 30}, nil)

	store := db.NewMemoryDB()
	svc := NewRewardsService(zap.NewNop(), store, nil, catalog, nil, nil, Settings{})
	newAccount(t, svc, "u1", 30)

	_, err := svc.Claim(context.Background(), "u1", "pizza")
	require.ErrorIs(t, err, model.ErrUnknownReward)

	coupon, err := svc.Claim(context.Background(), "u1", "menu")
	require.NoError(t, err)
	require.Equal(t, "Menu", coupon.Title)
	require.Equal(t, int64(0), requireConsistent(t, store, "u1"))
}

// хранилище, где выпуск купона всегда падает
type failingCoupons struct {
	*db.MemoryDB
}

type failingCouponsTx struct {
	interf.RewardsTx
}

var errCouponStore = errors.New("coupon store down")

func (f failingCoupons) InTx(ctx context.Context, fn func(ctx context.Context, tx interf.RewardsTx) error) error {
	return f.MemoryDB.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		return fn(ctx, failingCouponsTx{tx})
	})
}

func (failingCouponsTx) InsertCoupon(context.Context, model.Coupon) error {
	return errCouponStore
}

func TestClaimAtomic(t *testing.T) {
	store := db.NewMemoryDB()
	seed := NewRewardsService(zap.NewNop(), store, nil, nil, nil, nil, Settings{})
	newAccount(t, seed, "u1", 100)

	svc := NewRewardsService(zap.NewNop(), failingCoupons{store}, nil, nil, nil, nil, Settings{})
	_, err := svc.Claim(context.Background(), "u1", "burger")
	require.ErrorIs(t, err, errCouponStore)

	// списание откатилось вместе с купоном
	require.Equal(t, int64(100), requireConsistent(t, store, "u1"))
	coupons, err := store.ListCoupons(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, coupons)
}

func TestStaticCatalog(t *testing.T) {
	catalog := NewStaticCatalog(append(DefaultCatalog(),
		model.RewardCatalogEntry{ID: "free", Title: "Free"},
		model.RewardCatalogEntry{ID: "burger", Title: "Duplicate", PointsCost: 1},
	))
	entries, err := catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, "boisson", entries[0].ID)
	require.Equal(t, "tacos", entries[3].ID)

	burger, err := catalog.Get(context.Background(), "burger")
	require.NoError(t, err)
	require.Equal(t, int64(80), burger.PointsCost)

	_, err = catalog.Get(context.Background(), "free")
	require.ErrorIs(t, err, model.ErrUnknownReward)
}

// первые busy вставок получают занятый код
type collidingCoupons struct {
	*db.MemoryDB
	busy *atomic.Int32
}

type collidingCouponsTx struct {
	interf.RewardsTx
	busy *atomic.Int32
}

func (c collidingCoupons) InTx(ctx context.Context, fn func(ctx context.Context, tx interf.RewardsTx) error) error {
	return c.MemoryDB.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		return fn(ctx, collidingCouponsTx{tx, c.busy})
	})
}

func (c collidingCouponsTx) InsertCoupon(ctx context.Context, coupon model.Coupon) error {
	if c.busy.Add(-1) >= 0 {
		return fmt.Errorf("coupon code %s: %w", coupon.Code, model.ErrConflict)
	}
	return c.RewardsTx.InsertCoupon(ctx, coupon)
}

func TestClaimCodeCollision(t *testing.T) {
	store := db.NewMemoryDB()
	seed := NewRewardsService(zap.NewNop(), store, nil, nil, nil, nil, Settings{})
	newAccount(t, seed, "u1", 100)
	ctx := context.Background()

	busy := &atomic.Int32{}
	busy.Store(3)
	svc := NewRewardsService(zap.NewNop(), collidingCoupons{store, busy}, nil, nil, nil, nil, Settings{})
	issued := counterValue(t, couponsIssued.WithLabelValues(string(model.CouponReward)))
	coupon, err := svc.Claim(ctx, "u1", "burger")
	require.NoError(t, err)
	require.Equal(t, issued+1, counterValue(t, couponsIssued.WithLabelValues(string(model.CouponReward))))
	require.Regexp(t, regexp.MustCompile(`^RWD-[0-9A-Z]{6}$`), coupon.Code)
	// три занятых кода и одна успешная вставка
	require.Equal(t, int32(-1), busy.Load())
	require.Equal(t, int64(20), requireConsistent(t, store, "u1"))

	stored, err := store.GetCouponByCode(ctx, coupon.Code)
	require.NoError(t, err)
	require.Equal(t, coupon, stored)
}

func TestClaimCodeCollisionExhausted(t *testing.T) {
	store := db.NewMemoryDB()
	seed := NewRewardsService(zap.NewNop(), store, nil, nil, nil, nil, Settings{})
	newAccount(t, seed, "u1", 100)
	ctx := context.Background()

	busy := &atomic.Int32{}
	busy.Store(100)
	svc := NewRewardsService(zap.NewNop(), collidingCoupons{store, busy}, nil, nil, nil, nil, Settings{})
	issued := counterValue(t, couponsIssued.WithLabelValues(string(model.CouponReward)))
	_, err := svc.Claim(ctx, "u1", "burger")
	require.ErrorContains(t, err, "no free coupon code")
	require.Equal(t, issued, counterValue(t, couponsIssued.WithLabelValues(string(model.CouponReward))))
	require.Equal(t, "Internal", model.Kind(err))
	require.Equal(t, int32(100-maxCodeAttempts), busy.Load())

	// списание откатилось
	require.Equal(t, int64(100), requireConsistent(t, store, "u1"))
	coupons, err := store.ListCoupons(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, coupons)
}
