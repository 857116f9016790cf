package application

import (
	"context"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (s *service) ListAuditLogs(
	ctx context.Context, filter domain.AuditFilter,
) ([]domain.AuditLog, errors.Error) {
	entries, err := s.repoManager.Audit().List(ctx, filter)
	if err != nil {
		return nil, toServiceError(err)
	}
	return entries, nil
}

func (s *service) SubscribeAudit(ctx context.Context) (<-chan domain.AuditLog, errors.Error) {
	if s.auditStream == nil {
		return nil, errors.INTERNAL_ERROR.New("audit stream not configured")
	}
	ch, err := s.auditStream.Subscribe(ctx)
	if err != nil {
		return nil, toServiceError(err)
	}
	return ch, nil
}

// audit appends an entry to the audit log and fans it out to live subscribers.
// Failures are logged, the caller's state change is already committed.
func (s *service) audit(
	ctx context.Context,
	eventType domain.AuditEventType,
	actor string,
	metadata map[string]string,
	refs domain.AuditRefs,
) {
	entry := domain.NewAuditLog(eventType, actor, metadata, refs)

	if err := s.repoManager.Audit().Append(ctx, entry); err != nil {
		log.WithError(err).WithField("event", eventType).Error("failed to append audit log")
		return
	}

	if s.auditStream == nil {
		return
	}
	if err := s.auditStream.Publish(ctx, entry); err != nil {
		log.WithError(err).WithField("event", eventType).Warn("failed to publish audit log")
	}
}

// notify delivers the webhook in background, it never blocks nor fails the caller.
func (s *service) notify(event ports.Event, data any) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.notifier.Notify(ctx, event, data); err != nil {
			log.WithError(err).WithField("event", event).Warn("failed to deliver webhook")
		}
	}()
}

type operationNotification struct {
	OperationId     string `json:"operationId"`
	OperationType   string `json:"operationType"`
	Status          string `json:"status"`
	CustodyRecordId string `json:"custodyRecordId"`
	Actor           string `json:"actor,omitempty"`
	TxHash          string `json:"txHash,omitempty"`
	FailureReason   string `json:"failureReason,omitempty"`
}

func newOperationNotification(op domain.Operation, actor string) operationNotification {
	return operationNotification{
		OperationId:     op.Id,
		OperationType:   op.Type.String(),
		Status:          op.Status.String(),
		CustodyRecordId: op.CustodyRecordId,
		Actor:           actor,
		TxHash:          op.TxHash,
		FailureReason:   op.FailureReason,
	}
}

type custodyNotification struct {
	CustodyRecordId string `json:"custodyRecordId"`
	AssetId         string `json:"assetId"`
	Status          string `json:"status"`
	TokenAddress    string `json:"tokenAddress,omitempty"`
	Quantity        string `json:"quantity,omitempty"`
	TxHash          string `json:"txHash,omitempty"`
	Recovered       bool   `json:"recovered,omitempty"`
}

func newCustodyNotification(record domain.CustodyRecord, txHash string) custodyNotification {
	return custodyNotification{
		CustodyRecordId: record.Id,
		AssetId:         record.AssetId,
		Status:          record.Status.String(),
		TokenAddress:    record.TokenAddress,
		Quantity:        record.Quantity,
		TxHash:          txHash,
	}
}
