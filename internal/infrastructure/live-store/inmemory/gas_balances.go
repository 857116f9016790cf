package inmemorylivestore

import (
	"context"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

type gasBalanceCache struct {
	cache *expirable.LRU[string, decimal.Decimal]
}

func NewGasBalanceCache(size int, ttl time.Duration) ports.GasBalanceCache {
	return &gasBalanceCache{
		cache: expirable.NewLRU[string, decimal.Decimal](size, nil, ttl),
	}
}

func (c *gasBalanceCache) Get(_ context.Context, vaultId string) (decimal.Decimal, bool, error) {
	balance, ok := c.cache.Get(vaultId)
	return balance, ok, nil
}

func (c *gasBalanceCache) Set(_ context.Context, vaultId string, balance decimal.Decimal) error {
	c.cache.Add(vaultId, balance)
	return nil
}

func (c *gasBalanceCache) Invalidate(_ context.Context, vaultId string) error {
	c.cache.Remove(vaultId)
	return nil
}
