package redislivestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type gasBalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGasBalanceCache(rdb *redis.Client, ttl time.Duration) ports.GasBalanceCache {
	return &gasBalanceCache{rdb: rdb, ttl: ttl}
}

func (c *gasBalanceCache) Get(ctx context.Context, vaultId string) (decimal.Decimal, bool, error) {
	value, err := c.rdb.Get(ctx, gasBalanceKey(vaultId)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	balance, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("malformed gas balance for vault %s: %v", vaultId, err)
	}
	return balance, true, nil
}

func (c *gasBalanceCache) Set(ctx context.Context, vaultId string, balance decimal.Decimal) error {
	return c.rdb.Set(ctx, gasBalanceKey(vaultId), balance.String(), c.ttl).Err()
}

func (c *gasBalanceCache) Invalidate(ctx context.Context, vaultId string) error {
	return c.rdb.Del(ctx, gasBalanceKey(vaultId)).Err()
}

func gasBalanceKey(vaultId string) string {
	return fmt.Sprintf("%s:%s", gasBalancePrefix, vaultId)
}
