package application

import (
	"context"
	"fmt"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

// topUpGas sends the configured gas top up to the vault without waiting for it
// to settle.
func (s *service) topUpGas(ctx context.Context, vaultId string) error {
	if s.cfg.FundingVaultId == "" {
		log.Debug("no funding vault configured, skipping gas top up")
		return nil
	}

	txId, err := s.provider.Transfer(
		ctx, s.cfg.FundingVaultId, vaultId, s.cfg.GasAssetSymbol, s.cfg.GasTopUpAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to transfer gas: %w", err)
	}

	s.invalidateGasBalance(ctx, vaultId)
	log.WithField("vault_id", vaultId).WithField("tx_id", txId).Debug("gas top up sent")
	return nil
}

// ensureGas makes sure the vault holds at least the gas threshold. When it does
// not, it funds it and blocks until the funding transfer is terminal.
func (s *service) ensureGas(ctx context.Context, vaultId string) error {
	if s.cfg.FundingVaultId == "" || !s.cfg.GasThreshold.IsPositive() {
		return nil
	}

	balance, ok, err := s.liveStore.GasBalances().Get(ctx, vaultId)
	if err != nil {
		log.WithError(err).Warn("failed to read gas balance cache")
	}
	if !ok {
		asset, err := s.provider.GetVaultAsset(ctx, vaultId, s.cfg.GasAssetSymbol)
		if err != nil {
			return fmt.Errorf("failed to get gas balance of vault %s: %w", vaultId, err)
		}
		balance = asset.Available
		if err := s.liveStore.GasBalances().Set(ctx, vaultId, balance); err != nil {
			log.WithError(err).Warn("failed to cache gas balance")
		}
	}

	if balance.GreaterThanOrEqual(s.cfg.GasThreshold) {
		return nil
	}

	log.WithField("vault_id", vaultId).
		Infof("gas balance %s below threshold %s, funding", balance, s.cfg.GasThreshold)

	txId, err := s.provider.Transfer(
		ctx, s.cfg.FundingVaultId, vaultId, s.cfg.GasAssetSymbol, s.cfg.GasTopUpAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to fund gas of vault %s: %w", vaultId, err)
	}
	defer s.invalidateGasBalance(ctx, vaultId)

	return s.waitForTask(ctx, txId)
}

// waitForTask polls the task at a fixed interval until it is terminal. A
// terminal status other than COMPLETED is an error.
func (s *service) waitForTask(ctx context.Context, taskId string) error {
	attempts := s.cfg.GasFundingMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := s.cfg.GasFundingPollInterval

	backoff := retry.WithMaxRetries(
		uint64(attempts-1),
		retry.BackoffFunc(func() (time.Duration, bool) {
			return interval, false
		}),
	)

	var lastStatus ports.TaskStatus
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		info, err := s.provider.GetTaskStatus(ctx, taskId)
		if err != nil {
			if ports.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		lastStatus = info.Status

		switch {
		case info.Status == ports.TaskStatusCompleted:
			return nil
		case info.Status.IsFailure():
			return fmt.Errorf(
				"funding task %s ended with status %s: %s",
				taskId, info.Status, info.ErrorMessage,
			)
		default:
			return retry.RetryableError(fmt.Errorf("funding task %s is %s", taskId, info.Status))
		}
	})
	if err != nil {
		if lastStatus != "" && !lastStatus.IsTerminal() {
			return fmt.Errorf(
				"funding task %s still %s after %d attempts", taskId, lastStatus, attempts,
			)
		}
		return err
	}
	return nil
}

func (s *service) invalidateGasBalance(ctx context.Context, vaultId string) {
	if err := s.liveStore.GasBalances().Invalidate(ctx, vaultId); err != nil {
		log.WithError(err).Warn("failed to invalidate gas balance cache")
	}
}
