package domain

import "context"

// Repositories return an error wrapping ErrNotFound when the requested entity
// does not exist.

type CustodyRecordRepository interface {
	// Add fails with ErrDuplicateAsset if the asset is already under custody.
	Add(ctx context.Context, record CustodyRecord) error
	Get(ctx context.Context, id string) (*CustodyRecord, error)
	GetByAssetId(ctx context.Context, assetId string) (*CustodyRecord, error)
	Update(ctx context.Context, record CustodyRecord) error
	// GetWithTokenByStatus returns the records in one of the given statuses that
	// already have a token id.
	GetWithTokenByStatus(ctx context.Context, statuses []CustodyStatus) ([]CustodyRecord, error)
	Close()
}

type VaultWalletRepository interface {
	Add(ctx context.Context, wallet VaultWallet) error
	Get(ctx context.Context, id string) (*VaultWallet, error)
	GetByCustodyRecord(ctx context.Context, custodyRecordId string) (*VaultWallet, error)
	Close()
}

type OperationRepository interface {
	// Add fails with ErrLiveOperationExists if the custody record already has a
	// non terminal operation.
	Add(ctx context.Context, op Operation) error
	Get(ctx context.Context, id string) (*Operation, error)
	Update(ctx context.Context, op Operation) error
	// GetLive returns the non terminal operation of the record, nil if none.
	GetLive(ctx context.Context, custodyRecordId string) (*Operation, error)
	// GetLatest returns the most recent operation of the given type for the
	// record, nil if none.
	GetLatest(ctx context.Context, custodyRecordId string, opType OperationType) (*Operation, error)
	GetByStatus(ctx context.Context, status OperationStatus) ([]Operation, error)
	Close()
}

type AuditRepository interface {
	Append(ctx context.Context, entry AuditLog) error
	// List returns the matching entries ordered by creation time.
	List(ctx context.Context, filter AuditFilter) ([]AuditLog, error)
	Close()
}
