package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/infrastructure/db/sqlite/sqlc/queries"
)

type operationRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewOperationRepository(config ...interface{}) (domain.OperationRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open operation repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &operationRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

// Add relies on the partial unique index over live statuses, so two concurrent
// initiations for the same record cannot both succeed.
func (r *operationRepository) Add(ctx context.Context, op domain.Operation) error {
	if err := r.querier.InsertOperation(ctx, toOperationRow(op)); err != nil {
		if err := mapInsertError(err); errors.Is(err, domain.ErrLiveOperationExists) {
			return err
		}
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

func (r *operationRepository) Get(ctx context.Context, id string) (*domain.Operation, error) {
	row, err := r.querier.SelectOperation(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation %s %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return toOperation(row), nil
}

func (r *operationRepository) Update(ctx context.Context, op domain.Operation) error {
	affected, err := r.querier.UpdateOperation(ctx, toOperationRow(op))
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("operation %s %w", op.Id, domain.ErrNotFound)
	}
	return nil
}

func (r *operationRepository) GetLive(
	ctx context.Context, custodyRecordId string,
) (*domain.Operation, error) {
	row, err := r.querier.SelectLiveOperation(ctx, custodyRecordId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live operation: %w", err)
	}
	return toOperation(row), nil
}

func (r *operationRepository) GetLatest(
	ctx context.Context, custodyRecordId string, opType domain.OperationType,
) (*domain.Operation, error) {
	row, err := r.querier.SelectLatestOperation(ctx, queries.SelectLatestOperationParams{
		CustodyRecordID: custodyRecordId,
		Type:            int64(opType),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest operation: %w", err)
	}
	return toOperation(row), nil
}

func (r *operationRepository) GetByStatus(
	ctx context.Context, status domain.OperationStatus,
) ([]domain.Operation, error) {
	rows, err := r.querier.SelectOperationsByStatus(ctx, int64(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	ops := make([]domain.Operation, 0, len(rows))
	for _, row := range rows {
		ops = append(ops, *toOperation(row))
	}
	return ops, nil
}

func (r *operationRepository) Close() {
	_ = r.db.Close()
}

func toOperationRow(op domain.Operation) queries.Operation {
	payload := op.Payload
	if payload == nil {
		payload = []byte{}
	}
	return queries.Operation{
		ID:                op.Id,
		Type:              int64(op.Type),
		Status:            int64(op.Status),
		CustodyRecordID:   op.CustodyRecordId,
		Payload:           payload,
		InitiatedBy:       op.InitiatedBy,
		ApprovedBy:        op.ApprovedBy,
		RejectedBy:        op.RejectedBy,
		RejectionReason:   op.RejectionReason,
		ExternalTaskID:    op.ExternalTaskId,
		ProviderStatus:    op.ProviderStatus,
		TxHash:            op.TxHash,
		OffchainHash:      op.OffchainHash,
		FailureReason:     op.FailureReason,
		FailureDiagnostic: op.FailureDiagnostic,
		CreatedAt:         op.CreatedAt,
		UpdatedAt:         op.UpdatedAt,
	}
}

func toOperation(row queries.Operation) *domain.Operation {
	return &domain.Operation{
		Id:                row.ID,
		Type:              domain.OperationType(row.Type),
		Status:            domain.OperationStatus(row.Status),
		CustodyRecordId:   row.CustodyRecordID,
		Payload:           row.Payload,
		InitiatedBy:       row.InitiatedBy,
		ApprovedBy:        row.ApprovedBy,
		RejectedBy:        row.RejectedBy,
		RejectionReason:   row.RejectionReason,
		ExternalTaskId:    row.ExternalTaskID,
		ProviderStatus:    row.ProviderStatus,
		TxHash:            row.TxHash,
		OffchainHash:      row.OffchainHash,
		FailureReason:     row.FailureReason,
		FailureDiagnostic: row.FailureDiagnostic,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}
