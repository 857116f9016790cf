package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/infrastructure/db/postgres/sqlc/queries"
)

type custodyRecordRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewCustodyRecordRepository(config ...interface{}) (domain.CustodyRecordRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open custody record repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &custodyRecordRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *custodyRecordRepository) Add(ctx context.Context, record domain.CustodyRecord) error {
	if err := r.querier.InsertCustodyRecord(ctx, toCustodyRecordRow(record)); err != nil {
		if err := mapInsertError(err); errors.Is(err, domain.ErrDuplicateAsset) {
			return fmt.Errorf("%w: %s", err, record.AssetId)
		}
		return fmt.Errorf("failed to insert custody record: %w", err)
	}
	return nil
}

func (r *custodyRecordRepository) Get(ctx context.Context, id string) (*domain.CustodyRecord, error) {
	row, err := r.querier.SelectCustodyRecord(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("custody record %s %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get custody record: %w", err)
	}
	return toCustodyRecord(row), nil
}

func (r *custodyRecordRepository) GetByAssetId(
	ctx context.Context, assetId string,
) (*domain.CustodyRecord, error) {
	row, err := r.querier.SelectCustodyRecordByAsset(ctx, assetId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("custody record for asset %s %w", assetId, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get custody record: %w", err)
	}
	return toCustodyRecord(row), nil
}

func (r *custodyRecordRepository) Update(ctx context.Context, record domain.CustodyRecord) error {
	affected, err := r.querier.UpdateCustodyRecord(ctx, toCustodyRecordRow(record))
	if err != nil {
		return fmt.Errorf("failed to update custody record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("custody record %s %w", record.Id, domain.ErrNotFound)
	}
	return nil
}

func (r *custodyRecordRepository) GetWithTokenByStatus(
	ctx context.Context, statuses []domain.CustodyStatus,
) ([]domain.CustodyRecord, error) {
	records := make([]domain.CustodyRecord, 0)
	for _, status := range statuses {
		rows, err := r.querier.SelectCustodyRecordsWithTokenByStatus(ctx, int64(status))
		if err != nil {
			return nil, fmt.Errorf("failed to list custody records: %w", err)
		}
		for _, row := range rows {
			records = append(records, *toCustodyRecord(row))
		}
	}
	return records, nil
}

func (r *custodyRecordRepository) Close() {
	_ = r.db.Close()
}

type vaultWalletRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewVaultWalletRepository(config ...interface{}) (domain.VaultWalletRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open vault wallet repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &vaultWalletRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *vaultWalletRepository) Add(ctx context.Context, wallet domain.VaultWallet) error {
	if err := r.querier.InsertVaultWallet(ctx, queries.VaultWallet{
		ID:              wallet.Id,
		CustodyRecordID: wallet.CustodyRecordId,
		VaultID:         wallet.VaultId,
		Blockchain:      wallet.Blockchain,
		AssetSymbol:     wallet.AssetSymbol,
		Address:         wallet.Address,
		CreatedAt:       wallet.CreatedAt,
	}); err != nil {
		return fmt.Errorf("failed to insert vault wallet: %w", err)
	}
	return nil
}

func (r *vaultWalletRepository) Get(ctx context.Context, id string) (*domain.VaultWallet, error) {
	row, err := r.querier.SelectVaultWallet(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vault wallet %s %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get vault wallet: %w", err)
	}
	return toVaultWallet(row), nil
}

func (r *vaultWalletRepository) GetByCustodyRecord(
	ctx context.Context, custodyRecordId string,
) (*domain.VaultWallet, error) {
	row, err := r.querier.SelectVaultWalletByCustodyRecord(ctx, custodyRecordId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf(
				"vault wallet of custody record %s %w", custodyRecordId, domain.ErrNotFound,
			)
		}
		return nil, fmt.Errorf("failed to get vault wallet: %w", err)
	}
	return toVaultWallet(row), nil
}

func (r *vaultWalletRepository) Close() {
	_ = r.db.Close()
}

func toCustodyRecordRow(record domain.CustodyRecord) queries.CustodyRecord {
	return queries.CustodyRecord{
		ID:                record.Id,
		AssetID:           record.AssetId,
		TenantID:          record.TenantId,
		CreatedBy:         record.CreatedBy,
		Status:            int64(record.Status),
		VaultWalletID:     record.VaultWalletId,
		TokenAddress:      record.TokenAddress,
		TokenID:           record.TokenId,
		TokenSymbol:       record.TokenSymbol,
		Quantity:          record.Quantity,
		FailureReason:     record.FailureReason,
		FailureDiagnostic: record.FailureDiagnostic,
		LinkedAt:          record.LinkedAt,
		MintedAt:          record.MintedAt,
		WithdrawnAt:       record.WithdrawnAt,
		BurnedAt:          record.BurnedAt,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
}

func toCustodyRecord(row queries.CustodyRecord) *domain.CustodyRecord {
	return &domain.CustodyRecord{
		Id:                row.ID,
		AssetId:           row.AssetID,
		TenantId:          row.TenantID,
		CreatedBy:         row.CreatedBy,
		Status:            domain.CustodyStatus(row.Status),
		VaultWalletId:     row.VaultWalletID,
		TokenAddress:      row.TokenAddress,
		TokenId:           row.TokenID,
		TokenSymbol:       row.TokenSymbol,
		Quantity:          row.Quantity,
		FailureReason:     row.FailureReason,
		FailureDiagnostic: row.FailureDiagnostic,
		LinkedAt:          row.LinkedAt,
		MintedAt:          row.MintedAt,
		WithdrawnAt:       row.WithdrawnAt,
		BurnedAt:          row.BurnedAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func toVaultWallet(row queries.VaultWallet) *domain.VaultWallet {
	return &domain.VaultWallet{
		Id:              row.ID,
		CustodyRecordId: row.CustodyRecordID,
		VaultId:         row.VaultID,
		Blockchain:      row.Blockchain,
		AssetSymbol:     row.AssetSymbol,
		Address:         row.Address,
		CreatedAt:       row.CreatedAt,
	}
}
