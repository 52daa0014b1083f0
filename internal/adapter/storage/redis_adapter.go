package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

const (
	stockKeyPrefix       = "stock:"
	commitLockKeyPrefix  = "commit-lock:"
	defaultCommitLockTTL = 30 * time.Second

	negativeStockMarker = "NEGATIVE_STOCK"
)

// reserveStockScript returns {1, remaining} on success and {0, current}
// when the counter holds less than requested. A missing key is a zero counter.
var reserveStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', key) or '0')
if current < 0 then
	return redis.error_reply('NEGATIVE_STOCK ' .. key .. ' ' .. current)
end

if current >= quantity then
	return {1, redis.call('DECRBY', key, quantity)}
end

return {0, current}
`)

// releaseLockScript deletes a commit lock only while it still carries the
// caller's owner value.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// stockKey length-prefixes the store id so ids containing ':' never map two
// counters onto one key.
func stockKey(storeID, productID string) string {
	return fmt.Sprintf("%s%d:%s:%s", stockKeyPrefix, len(storeID), storeID, productID)
}

// RedisInventory keeps stock counters as Redis integers.
type RedisInventory struct {
	client *redis.Client
}

var _ port.InventoryStore = (*RedisInventory)(nil)

func NewRedisInventory(client *redis.Client) *RedisInventory {
	return &RedisInventory{client: client}
}

func (r *RedisInventory) TryReserve(ctx context.Context, storeID, productID string, quantity int) (port.ReserveResult, error) {
	if quantity < 1 {
		return port.ReserveResult{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	key := stockKey(storeID, productID)
	result, err := reserveStockScript.Run(ctx, r.client, []string{key}, quantity).Int64Slice()
	if err != nil {
		return port.ReserveResult{}, redisErr(err)
	}
	if len(result) != 2 {
		return port.ReserveResult{}, fmt.Errorf("%w: unexpected reserve reply %v", domain.ErrInvariantViolation, result)
	}

	if result[0] == 1 {
		return port.ReserveResult{Reserved: true, Available: int(result[1])}, nil
	}
	return port.ReserveResult{Reserved: false, Available: int(result[1])}, nil
}

func (r *RedisInventory) Release(ctx context.Context, storeID, productID string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}
	if err := r.client.IncrBy(ctx, stockKey(storeID, productID), int64(quantity)).Err(); err != nil {
		return redisErr(err)
	}
	return nil
}

func (r *RedisInventory) Peek(ctx context.Context, storeID, productID string) (int, error) {
	key := stockKey(storeID, productID)
	n, err := r.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, redisErr(err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s is %d", domain.ErrInvariantViolation, key, n)
	}
	return n, nil
}

// SetStock overwrites a counter. Used for seeding and stock intake.
func (r *RedisInventory) SetStock(ctx context.Context, storeID, productID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}
	if err := r.client.Set(ctx, stockKey(storeID, productID), quantity, 0).Err(); err != nil {
		return redisErr(err)
	}
	return nil
}

// RedisTokenGuard claims an idempotency token for the duration of one commit.
type RedisTokenGuard struct {
	client *redis.Client
	ttl    time.Duration
}

var _ port.TokenGuard = (*RedisTokenGuard)(nil)

// NewRedisTokenGuard returns a guard whose claims expire after ttl, so a
// crashed holder never blocks its token for good.
func NewRedisTokenGuard(client *redis.Client, ttl time.Duration) *RedisTokenGuard {
	if ttl <= 0 {
		ttl = defaultCommitLockTTL
	}
	return &RedisTokenGuard{client: client, ttl: ttl}
}

func (g *RedisTokenGuard) Acquire(ctx context.Context, token, owner string) (bool, error) {
	ok, err := g.client.SetNX(ctx, commitLockKeyPrefix+token, owner, g.ttl).Result()
	if err != nil {
		return false, redisErr(err)
	}
	return ok, nil
}

// Release leaves a claim alone once it expired and another owner took it.
func (g *RedisTokenGuard) Release(ctx context.Context, token, owner string) error {
	if err := releaseLockScript.Run(ctx, g.client, []string{commitLockKeyPrefix + token}, owner).Err(); err != nil {
		return redisErr(err)
	}
	return nil
}

func redisErr(err error) error {
	if strings.Contains(err.Error(), negativeStockMarker) {
		return fmt.Errorf("%w: %v", domain.ErrInvariantViolation, err)
	}
	return fmt.Errorf("%w: redis: %w", domain.ErrStorageUnavailable, err)
}
