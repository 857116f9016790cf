package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ExecutionResult struct {
	// Dispatched is true when the provider accepted the request and a monitor
	// now owns the operation.
	Dispatched bool
	TaskId     string
}

type operationHandler interface {
	execute(
		ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, payload any,
	) (ExecutionResult, error)
}

func (s *service) handlerFor(opType domain.OperationType) (operationHandler, error) {
	switch opType {
	case domain.OperationTypeLinkAsset:
		return linkAssetHandler{s}, nil
	case domain.OperationTypeMint:
		return mintHandler{s}, nil
	case domain.OperationTypeBurn:
		return burnHandler{s}, nil
	case domain.OperationTypeFreeze:
		return freezeHandler{s, true}, nil
	case domain.OperationTypeUnfreeze:
		return freezeHandler{s, false}, nil
	case domain.OperationTypeTransfer:
		return transferHandler{s}, nil
	case domain.OperationTypeUnknown:
		return nil, fmt.Errorf("operation type not set")
	default:
		return nil, fmt.Errorf("unsupported operation type %d", opType)
	}
}

// runOperation runs an APPROVED operation. Dispatch failures mark the operation
// FAILED and are returned.
func (s *service) runOperation(ctx context.Context, operationId string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "operation.execute", trace.WithAttributes(
		attribute.String("operation.id", operationId),
	))
	defer span.End()

	op, err := s.repoManager.Operations().Get(ctx, operationId)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.String("operation.type", op.Type.String()))

	switch op.Status {
	case domain.OperationStatusApproved:
	case domain.OperationStatusExecuting:
		log.WithField("operation_id", op.Id).Debug("operation already dispatched")
		return true, nil
	default:
		return false, domain.InvalidStateError{
			Entity: "operation", Id: op.Id, Status: op.Status.String(),
		}
	}

	record, err := s.repoManager.CustodyRecords().Get(ctx, op.CustodyRecordId)
	if err != nil {
		return false, err
	}

	result, err := s.dispatch(ctx, op, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.failOperation(ctx, op, err.Error(), "")
		return false, err
	}
	return result.Dispatched, nil
}

func (s *service) dispatch(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord,
) (ExecutionResult, error) {
	handler, err := s.handlerFor(op.Type)
	if err != nil {
		return ExecutionResult{}, err
	}
	payload, err := domain.DecodePayload(op.Type, op.Payload)
	if err != nil {
		return ExecutionResult{}, err
	}
	return handler.execute(ctx, op, record, payload)
}

// markDispatched moves the operation to EXECUTING with the provider task id.
func (s *service) markDispatched(
	ctx context.Context, op *domain.Operation, taskId string, status ports.TaskStatus,
) error {
	if err := op.MarkExecuting(taskId, string(status)); err != nil {
		return err
	}
	if err := s.repoManager.Operations().Update(ctx, *op); err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}

	s.metrics.OperationTransitioned(op.Type.String(), op.Status.String())
	s.audit(ctx, domain.EventOperationExecuting, systemActor, map[string]string{
		"task_id":         taskId,
		"provider_status": string(status),
	}, domain.AuditRefs{CustodyRecordId: op.CustodyRecordId, OperationId: op.Id})
	return nil
}

func (s *service) completeOperation(ctx context.Context, op *domain.Operation, txHash string) error {
	if err := op.MarkExecuted(txHash); err != nil {
		return err
	}
	if err := s.repoManager.Operations().Update(ctx, *op); err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}

	s.metrics.OperationTransitioned(op.Type.String(), op.Status.String())
	s.audit(ctx, domain.EventOperationExecuted, systemActor, map[string]string{
		"tx_hash": txHash,
	}, domain.AuditRefs{CustodyRecordId: op.CustodyRecordId, OperationId: op.Id})
	s.notify(ports.EventOperationExecuted, newOperationNotification(*op, systemActor))
	return nil
}

// failOperation records the failure of a non terminal operation. Errors are
// logged since the caller is already handling a failure.
func (s *service) failOperation(
	ctx context.Context, op *domain.Operation, reason, diagnostic string,
) {
	if op.IsTerminal() {
		return
	}
	if err := op.Fail(reason, diagnostic); err != nil {
		log.WithError(err).WithField("operation_id", op.Id).Error("failed to mark operation failed")
		return
	}
	if err := s.repoManager.Operations().Update(ctx, *op); err != nil {
		log.WithError(err).WithField("operation_id", op.Id).Error("failed to persist operation failure")
		return
	}

	s.metrics.OperationTransitioned(op.Type.String(), op.Status.String())
	metadata := map[string]string{"failure_reason": reason}
	if diagnostic != "" {
		metadata["diagnostic"] = diagnostic
	}
	s.audit(ctx, domain.EventOperationFailed, systemActor, metadata, domain.AuditRefs{
		CustodyRecordId: op.CustodyRecordId, OperationId: op.Id,
	})
	s.notify(ports.EventOperationFailed, newOperationNotification(*op, systemActor))
}

type linkAssetHandler struct {
	*service
}

func (h linkAssetHandler) execute(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, payload any,
) (ExecutionResult, error) {
	p, ok := payload.(domain.LinkAssetPayload)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("unexpected payload %T for %s", payload, op.Type)
	}
	if err := h.linkRecord(ctx, record, p, op.ApprovedBy); err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{}, h.completeOperation(ctx, op, "")
}

type mintHandler struct {
	*service
}

func (h mintHandler) execute(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, payload any,
) (ExecutionResult, error) {
	p, ok := payload.(domain.MintPayload)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("unexpected payload %T for %s", payload, op.Type)
	}
	vault, err := h.vaultOf(ctx, *record)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to get vault of custody record: %w", err)
	}

	// minting against an unfunded wallet would fail on chain.
	if err := h.ensureGas(ctx, vault.VaultId); err != nil {
		return ExecutionResult{}, fmt.Errorf("gas pre-flight failed: %w", err)
	}

	handle, err := h.provider.IssueToken(ctx, vault.VaultId, ports.TokenSpec{
		Name:        p.Name,
		Symbol:      p.Symbol,
		Decimals:    p.Decimals,
		TotalSupply: p.TotalSupply,
	})
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to issue token: %w", err)
	}

	record.TokenId = handle.TokenId
	if record.TokenId == "" {
		record.TokenId = handle.TaskId
	}
	record.TokenSymbol = p.Symbol
	record.UpdatedAt = time.Now().Unix()
	if err := h.repoManager.CustodyRecords().Update(ctx, *record); err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to update custody record: %w", err)
	}

	if err := h.markDispatched(ctx, op, handle.TaskId, handle.Status); err != nil {
		return ExecutionResult{}, err
	}
	h.startMonitor(*op, *record)
	return ExecutionResult{Dispatched: true, TaskId: handle.TaskId}, nil
}

type burnHandler struct {
	*service
}

type contractCallData struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

func (h burnHandler) execute(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, payload any,
) (ExecutionResult, error) {
	p, ok := payload.(domain.BurnPayload)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("unexpected payload %T for %s", payload, op.Type)
	}
	if err := checkAmountWithinQuantity(p.Amount, record.Quantity); err != nil {
		return ExecutionResult{}, err
	}
	vault, err := h.vaultOf(ctx, *record)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to get vault of custody record: %w", err)
	}
	if err := h.ensureGas(ctx, vault.VaultId); err != nil {
		return ExecutionResult{}, fmt.Errorf("gas pre-flight failed: %w", err)
	}

	// nolint:errchkjson
	data, _ := json.Marshal(contractCallData{Method: "burn", Params: []string{p.Amount}})
	txId, err := h.provider.ContractCall(
		ctx, vault.VaultId, record.TokenAddress, data, record.TokenSymbol,
	)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to submit burn: %w", err)
	}

	if err := h.markDispatched(ctx, op, txId, ports.TaskStatusSubmitted); err != nil {
		return ExecutionResult{}, err
	}
	h.startMonitor(*op, *record)
	return ExecutionResult{Dispatched: true, TaskId: txId}, nil
}

type transferHandler struct {
	*service
}

func (h transferHandler) execute(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, payload any,
) (ExecutionResult, error) {
	p, ok := payload.(domain.TransferPayload)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("unexpected payload %T for %s", payload, op.Type)
	}
	if err := checkAmountWithinQuantity(p.Amount, record.Quantity); err != nil {
		return ExecutionResult{}, err
	}
	vault, err := h.vaultOf(ctx, *record)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to get vault of custody record: %w", err)
	}

	amount := decimal.RequireFromString(p.Amount)
	txId, err := h.provider.Transfer(ctx, vault.VaultId, p.ToVaultId, record.TokenSymbol, amount)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to submit transfer: %w", err)
	}

	if err := h.markDispatched(ctx, op, txId, ports.TaskStatusSubmitted); err != nil {
		return ExecutionResult{}, err
	}
	h.startMonitor(*op, *record)
	return ExecutionResult{Dispatched: true, TaskId: txId}, nil
}

type freezeHandler struct {
	*service
	freeze bool
}

func (h freezeHandler) execute(
	ctx context.Context, op *domain.Operation, record *domain.CustodyRecord, payload any,
) (ExecutionResult, error) {
	target, event := domain.CustodyStatusMinted, domain.EventTokenUnfrozen
	if h.freeze {
		target, event = domain.CustodyStatusFrozen, domain.EventTokenFrozen
	}

	if err := h.transitionRecord(
		ctx, record, target, domain.StatusMetadata{}, op.ApprovedBy,
	); err != nil {
		return ExecutionResult{}, err
	}

	metadata := map[string]string{}
	if p, ok := payload.(domain.FreezePayload); ok && p.Reason != "" {
		metadata["reason"] = p.Reason
	}
	h.audit(ctx, event, op.ApprovedBy, metadata, domain.AuditRefs{
		CustodyRecordId: record.Id, OperationId: op.Id,
	})
	return ExecutionResult{}, h.completeOperation(ctx, op, "")
}

func checkAmountWithinQuantity(amount, quantity string) error {
	requested, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q", amount)
	}
	available := decimal.Zero
	if quantity != "" {
		if available, err = decimal.NewFromString(quantity); err != nil {
			return fmt.Errorf("invalid custody quantity %q", quantity)
		}
	}
	if requested.GreaterThan(available) {
		return fmt.Errorf("amount %s exceeds custody quantity %s", requested, available)
	}
	return nil
}
