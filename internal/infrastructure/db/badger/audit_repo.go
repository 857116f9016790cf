package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const auditSeqKey = "audit_log_seq"

type auditLogEntry struct {
	Id              string
	Seq             uint64
	EventType       string
	Actor           string
	CustodyRecordId string `badgerhold:"index"`
	OperationId     string `badgerhold:"index"`
	Metadata        map[string]string
	CreatedAt       int64
}

type auditRepository struct {
	store *badgerhold.Store
	seq   *badger.Sequence
}

// NewAuditRepository opens an append-only audit store. Entries are inserted and
// never overwritten.
func NewAuditRepository(config ...interface{}) (domain.AuditRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	store, err := createDB(baseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %s", err)
	}
	seq, err := store.Badger().GetSequence([]byte(auditSeqKey), 100)
	if err != nil {
		// nolint:all
		store.Close()
		return nil, fmt.Errorf("failed to open audit sequence: %s", err)
	}

	return &auditRepository{store, seq}, nil
}

func (r *auditRepository) Append(_ context.Context, entry domain.AuditLog) error {
	seq, err := r.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to get audit sequence: %w", err)
	}
	record := auditLogEntry{
		Id:              entry.Id,
		Seq:             seq,
		EventType:       string(entry.EventType),
		Actor:           entry.Actor,
		CustodyRecordId: entry.CustodyRecordId,
		OperationId:     entry.OperationId,
		Metadata:        entry.Metadata,
		CreatedAt:       entry.CreatedAt,
	}

	for {
		err := r.store.Insert(entry.Id, record)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("audit log %s already exists", entry.Id)
		}
		if err != nil {
			return fmt.Errorf("failed to append audit log: %w", err)
		}
		return nil
	}
}

func (r *auditRepository) List(
	_ context.Context, filter domain.AuditFilter,
) ([]domain.AuditLog, error) {
	query := badgerhold.Where("Id").Ne("")
	if filter.CustodyRecordId != "" {
		query = badgerhold.Where("CustodyRecordId").Eq(filter.CustodyRecordId).
			Index("CustodyRecordId")
	}
	if filter.OperationId != "" {
		query = query.And("OperationId").Eq(filter.OperationId)
	}
	if filter.EventType != "" {
		query = query.And("EventType").Eq(string(filter.EventType))
	}
	query = query.SortBy("CreatedAt", "Seq")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []auditLogEntry
	if err := r.store.Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	logs := make([]domain.AuditLog, 0, len(entries))
	for _, e := range entries {
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		logs = append(logs, domain.AuditLog{
			Id:              e.Id,
			EventType:       domain.AuditEventType(e.EventType),
			Actor:           e.Actor,
			CustodyRecordId: e.CustodyRecordId,
			OperationId:     e.OperationId,
			Metadata:        metadata,
			CreatedAt:       e.CreatedAt,
		})
	}
	return logs, nil
}

func (r *auditRepository) Close() {
	// nolint:all
	r.seq.Release()
	// nolint:all
	r.store.Close()
}

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}
