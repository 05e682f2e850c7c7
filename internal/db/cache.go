package rewards

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	balanceKeyPrefix   = "balance:"
	versionKeyPrefix   = "balance_version:"
	processedKeyPrefix = "processed:"

	defaultCacheTTL = 5 * time.Minute
)

// SET только при совпадении версии
var setBalanceScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[2]) or "0")
if current ~= tonumber(ARGV[2]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

var (
	_ interf.CacheStorage = (*CacheService)(nil)
	_ interf.Deduper      = (*CacheService)(nil)
)

func NewCacheService(ctx context.Context, addr string, user string, pwd string, ttl time.Duration) (serv *CacheService, err error) {
	if addr == "" {
		return nil, fmt.Errorf("env REWARDS_CACHE_ADDR is not set")
	}
	// redis
	db := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    pwd,
		Username:    user,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	if err = db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CacheService{client: db, ttl: ttl}, nil
}

func (c *CacheService) Client() *redis.Client {
	return c.client
}

func (c *CacheService) Close() error {
	return c.client.Close()
}

func (c *CacheService) GetBalance(ctx context.Context, accountID string) (points int64, err error) {
	val, err := c.client.Get(ctx, balanceKeyPrefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("balance %s: %w", accountID, model.ErrNotFound)
	} else if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (c *CacheService) BalanceVersion(ctx context.Context, accountID string) (int64, error) {
	version, err := c.client.Get(ctx, versionKeyPrefix+accountID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// устаревшее значение (сброс между чтением версии и записью) не записывается
func (c *CacheService) SetBalance(ctx context.Context, accountID string, points int64, version int64) error {
	keys := []string{balanceKeyPrefix + accountID, versionKeyPrefix + accountID}
	return setBalanceScript.Run(ctx, c.client, keys, points, version, c.ttl.Milliseconds()).Err()
}

func (c *CacheService) InvalidateBalance(ctx context.Context, accountID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKeyPrefix+accountID)
		pipe.Del(ctx, balanceKeyPrefix+accountID)
		return nil
	})
	return err
}

// true если ключ отмечен впервые
func (c *CacheService) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, processedKeyPrefix+key, 1, ttl).Result()
}

// снять отметку, если обработка не удалась
func (c *CacheService) UnmarkProcessed(ctx context.Context, key string) error {
	return c.client.Del(ctx, processedKeyPrefix+key).Err()
}
