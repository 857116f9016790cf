package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/infrastructure/db/sqlite/sqlc/queries"
)

type auditRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewAuditRepository(config ...interface{}) (domain.AuditRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open audit repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &auditRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *auditRepository) Append(ctx context.Context, entry domain.AuditLog) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	if err := r.querier.InsertAuditLog(ctx, queries.AuditLog{
		ID:              entry.Id,
		EventType:       string(entry.EventType),
		Actor:           entry.Actor,
		CustodyRecordID: entry.CustodyRecordId,
		OperationID:     entry.OperationId,
		Metadata:        string(metadata),
		CreatedAt:       entry.CreatedAt,
	}); err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) List(
	ctx context.Context, filter domain.AuditFilter,
) ([]domain.AuditLog, error) {
	limit := int64(-1)
	if filter.Limit > 0 {
		limit = int64(filter.Limit)
	}
	rows, err := r.querier.SelectAuditLogs(ctx, queries.SelectAuditLogsParams{
		CustodyRecordID: filter.CustodyRecordId,
		OperationID:     filter.OperationId,
		EventType:       string(filter.EventType),
		Limit:           limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	entries := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		metadata := map[string]string{}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
				return nil, fmt.Errorf("invalid metadata for audit log %s: %w", row.ID, err)
			}
		}
		entries = append(entries, domain.AuditLog{
			Id:              row.ID,
			EventType:       domain.AuditEventType(row.EventType),
			Actor:           row.Actor,
			CustodyRecordId: row.CustodyRecordID,
			OperationId:     row.OperationID,
			Metadata:        metadata,
			CreatedAt:       row.CreatedAt,
		})
	}
	return entries, nil
}

func (r *auditRepository) Close() {
	_ = r.db.Close()
}
