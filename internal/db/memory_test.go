package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, m *MemoryDB, id string, code string, balance int64) {
	t.Helper()
	ctx := context.Background()
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		if err := tx.CreateAccount(ctx, model.Account{ID: id, CustomerCode: code, Role: model.RoleUser, CreatedAt: time.Now()}); err != nil {
			return err
		}
		if balance == 0 {
			return nil
		}
		_, err := tx.AddBalance(ctx, id, balance)
		return err
	})
	require.NoError(t, err)
}

func TestMemoryRollback(t *testing.T) {
	m := NewMemoryDB()
	seedAccount(t, m, "u1", "ABCD-1234", 100)
	ctx := context.Background()

	fail := errors.New("fail")
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		if _, err := tx.AddBalance(ctx, "u1", -80); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, model.PointTransaction{ID: "t1", AccountID: "u1", Delta: -80, CreatedAt: time.Now()}); err != nil {
			return err
		}
		if err := tx.InsertCoupon(ctx, model.Coupon{ID: "c1", AccountID: "u1", Code: "RWD-AAAAAA", Kind: model.CouponReward, Status: model.CouponActive}); err != nil {
			return err
		}
		return fail
	})
	require.ErrorIs(t, err, fail)

	a, err := m.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100), a.Balance)
	tnxs, err := m.ScanTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, tnxs)
	_, err = m.GetCouponByCode(ctx, "RWD-AAAAAA")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryCancelledContext(t *testing.T) {
	m := NewMemoryDB()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryAddBalanceNegative(t *testing.T) {
	m := NewMemoryDB()
	seedAccount(t, m, "u1", "ABCD-1234", 10)
	err := m.InTx(context.Background(), func(ctx context.Context, tx interf.RewardsTx) error {
		_, err := tx.AddBalance(ctx, "u1", -11)
		return err
	})
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func TestMemoryCreateAccountConflict(t *testing.T) {
	m := NewMemoryDB()
	seedAccount(t, m, "u1", "ABCD-1234", 0)
	err := m.InTx(context.Background(), func(ctx context.Context, tx interf.RewardsTx) error {
		return tx.CreateAccount(ctx, model.Account{ID: "u2", CustomerCode: "ABCD-1234"})
	})
	require.ErrorIs(t, err, model.ErrConflict)
}

func TestMemoryContestTickets(t *testing.T) {
	m := NewMemoryDB()
	ctx := context.Background()
	now := time.Now()
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		if err := tx.InsertContest(ctx, model.Contest{ID: "open", TicketCostPoints: 10, ClosesAt: now.Add(time.Hour), Active: true}); err != nil {
			return err
		}
		return tx.InsertContest(ctx, model.Contest{ID: "late", TicketCostPoints: 10, ClosesAt: now.Add(-time.Hour), Active: true})
	})
	require.NoError(t, err)

	err = m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		_, err := tx.AddContestTickets(ctx, "late", 1, now)
		return err
	})
	require.ErrorIs(t, err, model.ErrContestClosed)

	err = m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		_, err := tx.AddContestTickets(ctx, "missing", 1, now)
		return err
	})
	require.ErrorIs(t, err, model.ErrNotFound)

	for i := 0; i < 2; i++ {
		err = m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
			if _, err := tx.AddContestTickets(ctx, "open", 2, now); err != nil {
				return err
			}
			_, err := tx.AddParticipantTickets(ctx, "open", "u1", 2, 20, now)
			return err
		})
		require.NoError(t, err)
	}
	c, err := m.GetContest(ctx, "open")
	require.NoError(t, err)
	require.Equal(t, int64(4), c.TotalTickets)
	p, err := m.GetParticipant(ctx, "open", "u1")
	require.NoError(t, err)
	require.Equal(t, int64(4), p.NumTickets)
	require.Equal(t, int64(40), p.PointsSpent)

	// UpdateContest не трогает счетчик
	err = m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		c.TotalTickets = 0
		c.Title = "renamed"
		return tx.UpdateContest(ctx, c)
	})
	require.NoError(t, err)
	c, err = m.GetContest(ctx, "open")
	require.NoError(t, err)
	require.Equal(t, int64(4), c.TotalTickets)
	require.Equal(t, "renamed", c.Title)

	open, err := m.ListOpenContests(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "open", open[0].ID)
}

func TestMemoryExpireCoupons(t *testing.T) {
	m := NewMemoryDB()
	seedAccount(t, m, "u1", "ABCD-1234", 0)
	ctx := context.Background()
	codes := []string{"PRM-000001", "PRM-000002", "PRM-000003"}
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		for i, code := range codes {
			err := tx.InsertCoupon(ctx, model.Coupon{ID: code, AccountID: "u1", Code: code, Kind: model.CouponPromo, Status: model.CouponActive, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)})
			if err != nil {
				return err
			}
		}
		return tx.InsertCoupon(ctx, model.Coupon{ID: "r", AccountID: "u1", Code: "RWD-000001", Kind: model.CouponReward, Status: model.CouponActive})
	})
	require.NoError(t, err)

	var n int
	err = m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) (err error) {
		n, err = tx.ExpireCoupons(ctx, model.CouponPromo, 2)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	active, err := m.CountCoupons(ctx, model.CouponActive, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), active)
	expired, err := m.CountCoupons(ctx, model.CouponExpired, model.CouponPromo)
	require.NoError(t, err)
	require.Equal(t, int64(2), expired)
}

func TestMemoryDeleteAccountRollback(t *testing.T) {
	m := NewMemoryDB()
	seedAccount(t, m, "u1", "ABCD-1234", 5)
	ctx := context.Background()
	require.NoError(t, m.SaveToken(ctx, model.NotificationToken{AccountID: "u1", Token: "tok", DeviceID: "u1_tok"}))

	fail := errors.New("fail")
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		if err := tx.DeleteAccount(ctx, "u1"); err != nil {
			return err
		}
		return fail
	})
	require.ErrorIs(t, err, fail)

	a, err := m.GetAccountByCustomerCode(ctx, "ABCD-1234")
	require.NoError(t, err)
	require.Equal(t, int64(5), a.Balance)
	tokens, err := m.ListTokens(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
}

func TestMemoryListTransactionsOrder(t *testing.T) {
	m := NewMemoryDB()
	seedAccount(t, m, "u1", "ABCD-1234", 0)
	ctx := context.Background()
	base := time.Now()
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		for i, id := range []string{"a", "b", "c"} {
			err := tx.AppendTransaction(ctx, model.PointTransaction{ID: id, AccountID: "u1", Delta: 1, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	tnxs, err := m.ListTransactions(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, tnxs, 2)
	require.Equal(t, "c", tnxs[0].ID)
	require.Equal(t, "b", tnxs[1].ID)

	m.Unordered = true
	_, err = m.ListTransactions(ctx, "u1", 2)
	require.ErrorIs(t, err, ErrUnordered)
}

func TestMemoryInsertCouponCodeConflict(t *testing.T) {
	m := NewMemoryDB()
	seedAccount(t, m, "u1", "ABCD-1234", 0)
	seedAccount(t, m, "u2", "ABCD-5678", 0)
	ctx := context.Background()
	err := m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		return tx.InsertCoupon(ctx, model.Coupon{ID: "c1", AccountID: "u1", Code: "RWD-AAAAAA", Kind: model.CouponReward, Status: model.CouponActive})
	})
	require.NoError(t, err)

	// занятый код не перезаписывается
	err = m.InTx(ctx, func(ctx context.Context, tx interf.RewardsTx) error {
		return tx.InsertCoupon(ctx, model.Coupon{ID: "c2", AccountID: "u2", Code: "RWD-AAAAAA", Kind: model.CouponReward, Status: model.CouponActive})
	})
	require.ErrorIs(t, err, model.ErrConflict)

	coupon, err := m.GetCouponByCode(ctx, "RWD-AAAAAA")
	require.NoError(t, err)
	require.Equal(t, "u1", coupon.AccountID)
}
