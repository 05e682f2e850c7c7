package rewards

import (
	"context"
	"sync"
	"testing"

	db "github.com/glkeru/loyalty/rewards/internal/db"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) (*RewardsService, *db.MemoryDB) {
	t.Helper()
	store := db.NewMemoryDB()
	return NewRewardsService(zap.NewNop(), store, nil, nil, nil, nil, Settings{}), store
}

func newAccount(t *testing.T, svc *RewardsService, id string, balance int64) model.Account {
	t.Helper()
	ctx := context.Background()
	account, err := svc.EnsureAccount(ctx, id, id+"@example.com", id)
	require.NoError(t, err)
	if balance > 0 {
		account.Balance, err = svc.Credit(ctx, id, balance, "seed")
		require.NoError(t, err)
	}
	return account
}

// баланс равен сумме транзакций
func requireConsistent(t *testing.T, store *db.MemoryDB, accountID string) int64 {
	t.Helper()
	ctx := context.Background()
	account, err := store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	tnxs, err := store.ScanTransactions(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, account.Balance, model.SumDeltas(tnxs), "account %s", accountID)
	return account.Balance
}

// кэш балансов в памяти
type mapCache struct {
	mu          sync.Mutex
	balances    map[string]int64
	versions    map[string]int64
	invalidated int
}

func newMapCache() *mapCache {
	return &mapCache{balances: make(map[string]int64), versions: make(map[string]int64)}
}

func (c *mapCache) BalanceVersion(_ context.Context, accountID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[accountID], nil
}

func (c *mapCache) GetBalance(_ context.Context, accountID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.balances[accountID]
	if !ok {
		return 0, model.ErrNotFound
	}
	return v, nil
}

func (c *mapCache) SetBalance(_ context.Context, accountID string, points int64, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[accountID] != version {
		return nil
	}
	c.balances[accountID] = points
	return nil
}

func (c *mapCache) InvalidateBalance(_ context.Context, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, accountID)
	c.versions[accountID]++
	c.invalidated++
	return nil
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}
