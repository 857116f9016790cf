package inmemorylivestore

import (
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
)

type liveStore struct {
	monitors    ports.MonitorRegistry
	gasBalances ports.GasBalanceCache
}

// NewLiveStore returns a process local live store. Gas balances are kept for at
// most gasTTL and the least recently used vaults are evicted past gasCacheSize.
func NewLiveStore(gasCacheSize int, gasTTL time.Duration) ports.LiveStore {
	return &liveStore{
		monitors:    NewMonitorRegistry(),
		gasBalances: NewGasBalanceCache(gasCacheSize, gasTTL),
	}
}

func (s *liveStore) Monitors() ports.MonitorRegistry {
	return s.monitors
}

func (s *liveStore) GasBalances() ports.GasBalanceCache {
	return s.gasBalances
}
