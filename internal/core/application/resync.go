package application

import (
	"context"
	"fmt"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// shouldResync throttles resyncs per record to one per cooldown.
func (s *service) shouldResync(record domain.CustodyRecord, now time.Time) bool {
	if !record.NeedsResync(now, s.cfg.ResyncCooldown) {
		return false
	}
	return s.throttleResync(record.Id, now)
}

// shouldResyncOperation throttles resyncs of stalled operations to one per
// cooldown.
func (s *service) shouldResyncOperation(op domain.Operation, now time.Time) bool {
	if !op.Stalled(now, s.cfg.ResyncCooldown) {
		return false
	}
	return s.throttleResync(op.Id, now)
}

func (s *service) throttleResync(key string, now time.Time) bool {
	s.resyncLock.Lock()
	defer s.resyncLock.Unlock()

	if last, ok := s.lastResync[key]; ok && now.Sub(last) < s.cfg.ResyncCooldown {
		return false
	}
	s.lastResync[key] = now
	return true
}

// resyncRecord replays the terminal handling of the record's latest mint against
// the current provider status. Records whose task is still monitored are skipped.
func (s *service) resyncRecord(ctx context.Context, record domain.CustodyRecord) error {
	op, err := s.repoManager.Operations().GetLatest(ctx, record.Id, domain.OperationTypeMint)
	if err != nil {
		return fmt.Errorf("failed to get latest mint: %w", err)
	}
	if op == nil || op.ExternalTaskId == "" {
		return nil
	}

	info, err := s.terminalTaskInfo(ctx, *op)
	if err != nil || info == nil {
		return err
	}

	s.audit(ctx, domain.EventReconciliationResynced, systemActor, map[string]string{
		"task_id":         op.ExternalTaskId,
		"provider_status": string(info.Status),
		"previous_status": record.Status.String(),
	}, domain.AuditRefs{CustodyRecordId: record.Id, OperationId: op.Id})

	if info.Status != ports.TaskStatusCompleted &&
		record.Status == domain.CustodyStatusFailed && op.IsTerminal() {
		return nil
	}
	return s.applyTaskOutcome(ctx, op, &record, info)
}

// resyncOperation settles an EXECUTING operation whose monitor is gone, e.g.
// after its attempts ran out, from the current provider status.
func (s *service) resyncOperation(ctx context.Context, op domain.Operation) error {
	info, err := s.terminalTaskInfo(ctx, op)
	if err != nil || info == nil {
		return err
	}

	record, err := s.repoManager.CustodyRecords().Get(ctx, op.CustodyRecordId)
	if err != nil {
		return fmt.Errorf("failed to get custody record: %w", err)
	}

	s.audit(ctx, domain.EventReconciliationResynced, systemActor, map[string]string{
		"task_id":         op.ExternalTaskId,
		"provider_status": string(info.Status),
		"previous_status": op.Status.String(),
	}, domain.AuditRefs{CustodyRecordId: record.Id, OperationId: op.Id})

	return s.applyTaskOutcome(ctx, &op, record, info)
}

// terminalTaskInfo returns the provider status of the operation's task, nil if
// the task is still monitored or not terminal yet.
func (s *service) terminalTaskInfo(
	ctx context.Context, op domain.Operation,
) (*ports.TaskInfo, error) {
	active, err := s.liveStore.Monitors().IsActive(ctx, op.ExternalTaskId)
	if err != nil {
		return nil, fmt.Errorf("failed to check monitor registry: %w", err)
	}
	if active {
		return nil, nil
	}

	info, err := s.provider.GetTaskStatus(ctx, op.ExternalTaskId)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	if !info.Status.IsTerminal() {
		log.WithField("operation_id", op.Id).
			Debugf("task %s still %s", info.TaskId, info.Status)
		return nil, nil
	}
	return info, nil
}

// applyTaskOutcome writes back a terminal task found by a resync and closes the
// execution handle of the operation.
func (s *service) applyTaskOutcome(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, info *ports.TaskInfo,
) error {
	if info.Status == ports.TaskStatusCompleted {
		err := s.applySuccess(ctx, op, record, info, false)
		s.queue.finish(op.Id, err)
		return err
	}

	// nil when the recovery check found the token live.
	err := s.applyFailure(ctx, op, record, info)
	if err != nil {
		log.WithError(err).WithField("operation_id", op.Id).Debug("resync confirmed failure")
	}
	s.queue.finish(op.Id, err)
	return nil
}

// stalledOperation returns the record's EXECUTING operation if no monitor owns it
// anymore and the cooldown allows a resync, nil otherwise.
func (s *service) stalledOperation(
	ctx context.Context, recordId string, now time.Time,
) (*domain.Operation, error) {
	op, err := s.repoManager.Operations().GetLive(ctx, recordId)
	if err != nil || op == nil {
		return nil, err
	}
	if !s.shouldResyncOperation(*op, now) {
		return nil, nil
	}
	return op, nil
}

// resyncSweep settles stalled operations, then resyncs every record stuck below
// MINTED with a known token.
func (s *service) resyncSweep() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	now := time.Now()
	count := 0

	ops, err := s.repoManager.Operations().GetByStatus(ctx, domain.OperationStatusExecuting)
	if err != nil {
		log.WithError(err).Warn("resync sweep: failed to get executing operations")
	}
	for _, op := range ops {
		if !s.shouldResyncOperation(op, now) {
			continue
		}
		if err := s.resyncOperation(ctx, op); err != nil {
			log.WithError(err).WithField("operation_id", op.Id).
				Warn("resync sweep: failed to resync operation")
			continue
		}
		count++
	}

	records, err := s.repoManager.CustodyRecords().GetWithTokenByStatus(
		ctx, domain.ReconcilableStatuses,
	)
	if err != nil {
		log.WithError(err).Warn("resync sweep: failed to get records")
		return
	}
	for _, record := range records {
		if !s.shouldResync(record, now) {
			continue
		}
		if err := s.resyncRecord(ctx, record); err != nil {
			log.WithError(err).WithField("custody_record_id", record.Id).
				Warn("resync sweep: failed to resync record")
			continue
		}
		count++
	}

	if count > 0 {
		log.Infof("resync sweep: checked %d records and operations", count)
	}
}
