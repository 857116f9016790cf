package application

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// requiredCustodyStatuses lists the statuses a custody record must be in for an
// operation of the given type to be initiated.
func requiredCustodyStatuses(opType domain.OperationType) []domain.CustodyStatus {
	switch opType {
	case domain.OperationTypeLinkAsset:
		return []domain.CustodyStatus{domain.CustodyStatusPending, domain.CustodyStatusFailed}
	case domain.OperationTypeMint:
		return []domain.CustodyStatus{domain.CustodyStatusLinked, domain.CustodyStatusFailed}
	case domain.OperationTypeBurn, domain.OperationTypeTransfer, domain.OperationTypeFreeze:
		return []domain.CustodyStatus{domain.CustodyStatusMinted}
	case domain.OperationTypeUnfreeze:
		return []domain.CustodyStatus{domain.CustodyStatusFrozen}
	default:
		return nil
	}
}

func (s *service) InitiateOperation(
	ctx context.Context, req InitiateOperationRequest,
) (*domain.Operation, errors.Error) {
	var missing []string
	if req.CustodyRecordId == "" {
		missing = append(missing, "custodyRecordId")
	}
	if req.Maker == "" {
		missing = append(missing, "maker")
	}
	if req.Type == domain.OperationTypeUnknown {
		missing = append(missing, "operationType")
	}
	if len(missing) > 0 {
		return nil, errors.VALIDATION.New("missing required fields").
			WithMetadata(errors.FieldsMetadata{Fields: missing})
	}

	record, err := s.repoManager.CustodyRecords().Get(ctx, req.CustodyRecordId)
	if err != nil {
		return nil, notFound(err, "custody_record", req.CustodyRecordId)
	}

	live, err := s.repoManager.Operations().GetLive(ctx, record.Id)
	if err != nil {
		return nil, toServiceError(err)
	}
	if live != nil {
		return nil, errors.PENDING_OPERATION_EXISTS.New(
			"custody record %s already has operation %s in status %s",
			record.Id, live.Id, live.Status,
		).WithMetadata(errors.PendingOperationMetadata{
			CustodyRecordId: record.Id,
			OperationId:     live.Id,
		})
	}

	allowed := false
	for _, status := range requiredCustodyStatuses(req.Type) {
		if record.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errors.INVALID_STATE.New(
			"cannot initiate %s on custody record in status %s", req.Type, record.Status,
		).WithMetadata(errors.EntityMetadata{Entity: "custody_record", Id: record.Id})
	}

	op, err := domain.NewOperation(req.Type, record.Id, req.Payload, req.Maker)
	if err != nil {
		return nil, validationError(err, "payload")
	}

	if err := s.repoManager.Operations().Add(ctx, *op); err != nil {
		if stderrors.Is(err, domain.ErrLiveOperationExists) {
			return nil, errors.PENDING_OPERATION_EXISTS.Wrap(err).
				WithMetadata(errors.PendingOperationMetadata{CustodyRecordId: record.Id})
		}
		return nil, toServiceError(err)
	}

	s.metrics.OperationTransitioned(op.Type.String(), op.Status.String())
	s.audit(ctx, domain.EventOperationInitiated, req.Maker, map[string]string{
		"operation_type": op.Type.String(),
		"offchain_hash":  op.OffchainHash,
	}, domain.AuditRefs{CustodyRecordId: record.Id, OperationId: op.Id})

	return op, nil
}

func (s *service) ApproveOperation(
	ctx context.Context, id, checker string, bypassMakerCheck bool,
) (*domain.Operation, errors.Error) {
	if checker == "" {
		return nil, errors.VALIDATION.New("missing checker").
			WithMetadata(errors.FieldsMetadata{Fields: []string{"checker"}})
	}

	op, err := s.repoManager.Operations().Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "operation", id)
	}

	// A retried approval re-submits the execution instead of approving again.
	if op.Status == domain.OperationStatusApproved {
		log.WithField("operation_id", op.Id).Debug("operation already approved, resubmitting")
		s.queue.submit(s.ctx, op.Id)
		return op, nil
	}

	if err := op.Approve(checker, bypassMakerCheck); err != nil {
		return nil, toServiceError(err)
	}
	if err := s.repoManager.Operations().Update(ctx, *op); err != nil {
		return nil, toServiceError(err)
	}

	s.metrics.OperationTransitioned(op.Type.String(), op.Status.String())
	s.audit(ctx, domain.EventOperationApproved, checker, map[string]string{
		"checker":            checker,
		"maker":              op.InitiatedBy,
		"bypass_maker_check": fmt.Sprintf("%t", bypassMakerCheck),
	}, domain.AuditRefs{CustodyRecordId: op.CustodyRecordId, OperationId: op.Id})
	s.notify(ports.EventOperationApproved, newOperationNotification(*op, checker))

	s.queue.submit(s.ctx, op.Id)

	return op, nil
}

func (s *service) RejectOperation(
	ctx context.Context, id, checker, reason string,
) (*domain.Operation, errors.Error) {
	if checker == "" {
		return nil, errors.VALIDATION.New("missing checker").
			WithMetadata(errors.FieldsMetadata{Fields: []string{"checker"}})
	}

	op, err := s.repoManager.Operations().Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "operation", id)
	}

	if err := op.Reject(checker, reason); err != nil {
		return nil, toServiceError(err)
	}
	if err := s.repoManager.Operations().Update(ctx, *op); err != nil {
		return nil, toServiceError(err)
	}

	s.metrics.OperationTransitioned(op.Type.String(), op.Status.String())
	s.audit(ctx, domain.EventOperationRejected, checker, map[string]string{
		"checker": checker,
		"reason":  reason,
	}, domain.AuditRefs{CustodyRecordId: op.CustodyRecordId, OperationId: op.Id})
	s.notify(ports.EventOperationRejected, newOperationNotification(*op, checker))

	return op, nil
}

func (s *service) ExecuteOperation(
	ctx context.Context, id string,
) (*domain.Operation, errors.Error) {
	if _, err := s.runOperation(ctx, id); err != nil {
		return nil, toServiceError(err)
	}

	op, err := s.repoManager.Operations().Get(ctx, id)
	if err != nil {
		return nil, toServiceError(err)
	}
	return op, nil
}

func (s *service) GetOperationDetails(
	ctx context.Context, id string,
) (*OperationDetails, errors.Error) {
	op, err := s.repoManager.Operations().Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "operation", id)
	}
	record, err := s.repoManager.CustodyRecords().Get(ctx, op.CustodyRecordId)
	if err != nil {
		return nil, toServiceError(err)
	}

	details := &OperationDetails{Operation: *op, CustodyRecord: *record}
	if handle, ok := s.queue.get(op.Id); ok {
		details.Execution = &handle
	}
	return details, nil
}

func (s *service) executeInBackground(ctx context.Context, operationId string) (bool, error) {
	return s.runOperation(ctx, operationId)
}
