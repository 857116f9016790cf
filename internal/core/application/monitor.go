package application

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/pkg/errors"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var errTaskPending = stderrors.New("task still pending")

// monitorDelay is the wait before the poll that follows the given number of
// polls: initial + attempts*step, capped at max.
func monitorDelay(cfg MonitorConfig, attempts int) time.Duration {
	delay := cfg.InitialDelay + time.Duration(attempts)*cfg.StepDelay
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

// startMonitor spawns the reconciliation loop of the operation's task unless
// one is already active for the same task id.
func (s *service) startMonitor(op domain.Operation, record domain.CustodyRecord) bool {
	taskId := op.ExternalTaskId
	logger := log.WithField("operation_id", op.Id).WithField("task_id", taskId)

	registered, err := s.liveStore.Monitors().Register(s.ctx, taskId)
	if err != nil {
		logger.WithError(err).Error("failed to register monitor")
		return false
	}
	if !registered {
		logger.Debug("monitor already active")
		return false
	}

	s.metrics.MonitorsActive(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			// the service context may be done already.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.liveStore.Monitors().Deregister(ctx, taskId); err != nil {
				logger.WithError(err).Warn("failed to deregister monitor")
			}
			s.metrics.MonitorsActive(-1)
		}()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("monitor panicked: %v", r)
			}
		}()

		err := s.monitorTask(s.ctx, op, record)
		if s.ctx.Err() != nil {
			return
		}
		s.queue.finish(op.Id, err)
	}()
	return true
}

// monitorTask polls the provider until the task is terminal or the attempt
// budget is exhausted, then writes the outcome back.
func (s *service) monitorTask(
	ctx context.Context, op domain.Operation, record domain.CustodyRecord,
) error {
	cfg := s.cfg.Monitor
	taskId := op.ExternalTaskId
	logger := log.WithField("operation_id", op.Id).WithField("task_id", taskId)

	attempts := 0
	next := monitorDelay(cfg, 0)
	backoff := retry.WithMaxRetries(
		uint64(cfg.MaxAttempts-1),
		retry.BackoffFunc(func() (time.Duration, bool) {
			return next, false
		}),
	)

	timer := time.NewTimer(next)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	var info *ports.TaskInfo
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		next = monitorDelay(cfg, attempts)

		ctx, span := s.tracer.Start(ctx, "monitor.poll", trace.WithAttributes(
			attribute.String("task.id", taskId),
			attribute.Int("attempt", attempts),
		))
		defer span.End()

		res, err := s.provider.GetTaskStatus(ctx, taskId)
		if err != nil {
			switch {
			case ports.IsRateLimited(err):
				next = cfg.RateLimitCooldown
				s.metrics.MonitorPolled("rate_limited")
				logger.WithError(err).Warnf("poll %d rate limited, cooling down %s", attempts, next)
				return retry.RetryableError(err)
			case ports.IsTransient(err):
				next += cfg.TransientCooldown
				s.metrics.MonitorPolled("transient_error")
				logger.WithError(err).Warnf("poll %d failed, retrying in %s", attempts, next)
				return retry.RetryableError(err)
			default:
				s.metrics.MonitorPolled("error")
				return err
			}
		}

		info = res
		span.SetAttributes(attribute.String("task.status", string(res.Status)))
		if op.ProviderStatus != string(res.Status) {
			op.MirrorProviderStatus(string(res.Status))
			if err := s.repoManager.Operations().Update(ctx, op); err != nil {
				logger.WithError(err).Warn("failed to mirror provider status")
			}
		}

		if res.Status.IsTerminal() {
			s.metrics.MonitorPolled(strings.ToLower(string(res.Status)))
			return nil
		}

		s.metrics.MonitorPolled("pending")
		if event, ok := cfg.Milestones[attempts]; ok {
			s.audit(ctx, event, systemActor, map[string]string{
				"task_id":         taskId,
				"attempt":         itoa(attempts),
				"provider_status": string(res.Status),
			}, domain.AuditRefs{CustodyRecordId: op.CustodyRecordId, OperationId: op.Id})
		}
		return retry.RetryableError(errTaskPending)
	})

	switch {
	case err == nil:
		logger.Infof("task %s after %d polls", info.Status, attempts)
		if info.Status == ports.TaskStatusCompleted {
			return s.applySuccess(ctx, &op, &record, info, false)
		}
		return s.applyFailure(ctx, &op, &record, info)
	case ctx.Err() != nil:
		logger.Info("monitor stopped before task completion")
		return ctx.Err()
	case stderrors.Is(err, errTaskPending) || ports.IsTransient(err):
		logger.Warnf("task not terminal after %d polls, giving up", attempts)
		s.audit(ctx, domain.EventReconciliationTimeout, systemActor, map[string]string{
			"task_id":  taskId,
			"attempts": itoa(attempts),
		}, domain.AuditRefs{CustodyRecordId: op.CustodyRecordId, OperationId: op.Id})
		return errors.RECONCILIATION_TIMEOUT.New(
			"task %s not terminal after %d polls", taskId, attempts,
		).WithMetadata(errors.ReconciliationMetadata{
			OperationId: op.Id, TaskId: taskId, Attempts: attempts,
		})
	default:
		// the provider refuses to report on the task, handled as a failure.
		return s.applyFailure(ctx, &op, &record, &ports.TaskInfo{
			TaskId:       taskId,
			Status:       ports.TaskStatusFailed,
			ErrorMessage: err.Error(),
		})
	}
}

// applySuccess writes back a COMPLETED task. recovered marks a task reported as
// failed whose effect was nonetheless found on the provider.
func (s *service) applySuccess(
	ctx context.Context,
	op *domain.Operation,
	record *domain.CustodyRecord,
	info *ports.TaskInfo,
	recovered bool,
) error {
	payload, err := domain.DecodePayload(op.Type, op.Payload)
	if err != nil {
		return err
	}

	meta := domain.StatusMetadata{
		TxHash:       info.TxHash,
		TokenAddress: info.ContractAddress,
	}

	var (
		auditEvent domain.AuditEventType
		event      ports.Event
	)
	switch op.Type {
	case domain.OperationTypeMint:
		p := payload.(domain.MintPayload)
		auditEvent, event = domain.EventTokenMinted, ports.EventTokenMinted
		if record.Status == domain.CustodyStatusMinted {
			break
		}
		meta.Quantity = p.TotalSupply
		meta.TokenSymbol = p.Symbol
		if err := s.transitionRecord(
			ctx, record, domain.CustodyStatusMinted, meta, systemActor,
		); err != nil {
			return err
		}
		issued := decimal.RequireFromString(p.TotalSupply).IntPart()
		if err := s.repoManager.Market().CreditOwnership(
			ctx, record.AssetId, record.TenantId, issued,
		); err != nil {
			// the record is already MINTED, the credit is left to support.
			log.WithError(err).WithField("custody_record_id", record.Id).
				Error("failed to credit issued quantity")
			s.audit(ctx, domain.EventOwnershipCreditFailed, systemActor, map[string]string{
				"asset_id": record.AssetId,
				"owner_id": record.TenantId,
				"quantity": p.TotalSupply,
				"error":    err.Error(),
			}, domain.AuditRefs{CustodyRecordId: record.Id, OperationId: op.Id})
		}
	case domain.OperationTypeBurn:
		p := payload.(domain.BurnPayload)
		auditEvent, event = domain.EventTokenBurned, ports.EventTokenBurned
		if err := s.reduceQuantity(
			ctx, record, p.Amount, domain.CustodyStatusBurned, meta,
		); err != nil {
			return err
		}
	case domain.OperationTypeTransfer:
		p := payload.(domain.TransferPayload)
		auditEvent, event = domain.EventTokenTransferred, ports.EventTokenTransferred
		if err := s.reduceQuantity(
			ctx, record, p.Amount, domain.CustodyStatusWithdrawn, meta,
		); err != nil {
			return err
		}
	default:
		return fmt.Errorf("operation type %s is not reconciled", op.Type)
	}

	metadata := map[string]string{
		"task_id":  info.TaskId,
		"tx_hash":  info.TxHash,
		"quantity": record.Quantity,
	}
	if info.ContractAddress != "" {
		metadata["contract_address"] = info.ContractAddress
	}
	if recovered {
		metadata["recovered"] = "true"
		metadata["provider_status"] = string(info.Status)
	}
	s.audit(ctx, auditEvent, systemActor, metadata, domain.AuditRefs{
		CustodyRecordId: record.Id, OperationId: op.Id,
	})

	notification := newCustodyNotification(*record, info.TxHash)
	notification.Recovered = recovered
	s.notify(event, notification)

	if op.IsTerminal() {
		return nil
	}
	return s.completeOperation(ctx, op, info.TxHash)
}

// reduceQuantity removes amount from the record. Consuming all of it moves the
// record to exhausted, otherwise it stays MINTED with the reduced quantity.
func (s *service) reduceQuantity(
	ctx context.Context,
	record *domain.CustodyRecord,
	amount string,
	exhausted domain.CustodyStatus,
	meta domain.StatusMetadata,
) error {
	current := decimal.Zero
	if record.Quantity != "" {
		current = decimal.RequireFromString(record.Quantity)
	}
	remaining := current.Sub(decimal.RequireFromString(amount))

	if !remaining.IsPositive() {
		meta.Quantity = "0"
		return s.transitionRecord(ctx, record, exhausted, meta, systemActor)
	}

	record.Quantity = remaining.String()
	record.UpdatedAt = time.Now().Unix()
	if err := s.repoManager.CustodyRecords().Update(ctx, *record); err != nil {
		return fmt.Errorf("failed to update custody record: %w", err)
	}
	return nil
}

// applyFailure handles a task reported as failed. For mints the provider report
// is provisional, the recovery check gets the last word.
func (s *service) applyFailure(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, info *ports.TaskInfo,
) error {
	reason := failureReason(info)
	diagnostic := string(info.Raw)
	if diagnostic == "" {
		// nolint:errchkjson
		buf, _ := json.Marshal(info)
		diagnostic = string(buf)
	}

	if op.Type == domain.OperationTypeMint {
		recovered, err := s.recoveryCheck(ctx, *record)
		if err != nil {
			log.WithError(err).WithField("custody_record_id", record.Id).
				Warn("recovery check failed, conceding failure")
		}
		if recovered {
			log.WithField("custody_record_id", record.Id).
				Warnf("provider reported %s but token is live, recovering", info.Status)
			return s.applySuccess(ctx, op, record, info, true)
		}

		if record.Status.CanTransitionTo(domain.CustodyStatusFailed) {
			if err := s.transitionRecord(ctx, record, domain.CustodyStatusFailed, domain.StatusMetadata{
				FailureReason:     reason,
				FailureDiagnostic: diagnostic,
			}, systemActor); err != nil {
				log.WithError(err).WithField("custody_record_id", record.Id).
					Error("failed to mark custody record failed")
			}
		}
	}

	s.failOperation(ctx, op, reason, diagnostic)
	return fmt.Errorf("task %s ended with status %s: %s", info.TaskId, info.Status, reason)
}

// recoveryCheck reports whether the vault holds a positive balance of the
// record's token despite a failed task.
func (s *service) recoveryCheck(ctx context.Context, record domain.CustodyRecord) (bool, error) {
	if record.TokenSymbol == "" {
		return false, nil
	}
	vault, err := s.vaultOf(ctx, record)
	if err != nil {
		return false, err
	}
	asset, err := s.provider.GetVaultAsset(ctx, vault.VaultId, record.TokenSymbol)
	if err != nil {
		return false, err
	}
	return asset.Available.IsPositive(), nil
}

func failureReason(info *ports.TaskInfo) string {
	parts := []string{string(info.Status)}
	if info.Substatus != "" {
		parts = append(parts, info.Substatus)
	}
	if info.ErrorMessage != "" {
		parts = append(parts, info.ErrorMessage)
	}
	return strings.Join(parts, ": ")
}
