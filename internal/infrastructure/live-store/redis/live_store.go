package redislivestore

import (
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const (
	monitorKeyPrefix  = "monitorRegistry:task"
	activeMonitorsKey = "monitorRegistry:active"
	gasBalancePrefix  = "gasBalanceCache:vault"
)

type liveStore struct {
	monitors    ports.MonitorRegistry
	gasBalances ports.GasBalanceCache
}

// NewLiveStore shares monitor registrations and gas balances across instances.
// A registration expires after monitorTTL if its monitor never deregisters.
func NewLiveStore(
	rdb *redis.Client, numOfRetries int, monitorTTL, gasTTL time.Duration,
) ports.LiveStore {
	return &liveStore{
		monitors:    NewMonitorRegistry(rdb, numOfRetries, monitorTTL),
		gasBalances: NewGasBalanceCache(rdb, gasTTL),
	}
}

func (s *liveStore) Monitors() ports.MonitorRegistry {
	return s.monitors
}

func (s *liveStore) GasBalances() ports.GasBalanceCache {
	return s.gasBalances
}
