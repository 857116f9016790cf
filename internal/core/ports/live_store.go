package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

type LiveStore interface {
	Monitors() MonitorRegistry
	GasBalances() GasBalanceCache
}

// MonitorRegistry deduplicates reconciliation monitors by external task id.
type MonitorRegistry interface {
	// Register returns false if a monitor for the task is already active.
	Register(ctx context.Context, taskId string) (bool, error)
	Deregister(ctx context.Context, taskId string) error
	IsActive(ctx context.Context, taskId string) (bool, error)
	Count(ctx context.Context) (int, error)
}

// GasBalanceCache holds the last known gas balance of vaults for a bounded time.
type GasBalanceCache interface {
	// Get returns false if there is no fresh entry for the vault.
	Get(ctx context.Context, vaultId string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, vaultId string, balance decimal.Decimal) error
	Invalidate(ctx context.Context, vaultId string) error
}
