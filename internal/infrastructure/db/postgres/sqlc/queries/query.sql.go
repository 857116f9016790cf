package queries

import (
	"context"
)

const custodyRecordColumns = `id, asset_id, tenant_id, created_by, status, vault_wallet_id, token_address,
    token_id, token_symbol, quantity, failure_reason, failure_diagnostic, linked_at, minted_at,
    withdrawn_at, burned_at, created_at, updated_at`

const operationColumns = `id, type, status, custody_record_id, payload, initiated_by, approved_by,
    rejected_by, rejection_reason, external_task_id, provider_status, tx_hash, offchain_hash,
    failure_reason, failure_diagnostic, created_at, updated_at`

const listingColumns = `id, asset_id, seller_id, price, quantity_listed, quantity_sold, status,
    created_at, updated_at`

const bidColumns = `id, listing_id, bidder_id, amount, quantity, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCustodyRecord(row scanner) (CustodyRecord, error) {
	var i CustodyRecord
	err := row.Scan(
		&i.ID,
		&i.AssetID,
		&i.TenantID,
		&i.CreatedBy,
		&i.Status,
		&i.VaultWalletID,
		&i.TokenAddress,
		&i.TokenID,
		&i.TokenSymbol,
		&i.Quantity,
		&i.FailureReason,
		&i.FailureDiagnostic,
		&i.LinkedAt,
		&i.MintedAt,
		&i.WithdrawnAt,
		&i.BurnedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanOperation(row scanner) (Operation, error) {
	var i Operation
	err := row.Scan(
		&i.ID,
		&i.Type,
		&i.Status,
		&i.CustodyRecordID,
		&i.Payload,
		&i.InitiatedBy,
		&i.ApprovedBy,
		&i.RejectedBy,
		&i.RejectionReason,
		&i.ExternalTaskID,
		&i.ProviderStatus,
		&i.TxHash,
		&i.OffchainHash,
		&i.FailureReason,
		&i.FailureDiagnostic,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanListing(row scanner) (Listing, error) {
	var i Listing
	err := row.Scan(
		&i.ID,
		&i.AssetID,
		&i.SellerID,
		&i.Price,
		&i.QuantityListed,
		&i.QuantitySold,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanBid(row scanner) (Bid, error) {
	var i Bid
	err := row.Scan(
		&i.ID,
		&i.ListingID,
		&i.BidderID,
		&i.Amount,
		&i.Quantity,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertCustodyRecord = `-- name: InsertCustodyRecord :exec
INSERT INTO custody_record (` + custodyRecordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`

func (q *Queries) InsertCustodyRecord(ctx context.Context, arg CustodyRecord) error {
	_, err := q.db.ExecContext(ctx, insertCustodyRecord,
		arg.ID,
		arg.AssetID,
		arg.TenantID,
		arg.CreatedBy,
		arg.Status,
		arg.VaultWalletID,
		arg.TokenAddress,
		arg.TokenID,
		arg.TokenSymbol,
		arg.Quantity,
		arg.FailureReason,
		arg.FailureDiagnostic,
		arg.LinkedAt,
		arg.MintedAt,
		arg.WithdrawnAt,
		arg.BurnedAt,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const updateCustodyRecord = `-- name: UpdateCustodyRecord :execrows
UPDATE custody_record SET
    status = $1, vault_wallet_id = $2, token_address = $3, token_id = $4, token_symbol = $5,
    quantity = $6, failure_reason = $7, failure_diagnostic = $8, linked_at = $9, minted_at = $10,
    withdrawn_at = $11, burned_at = $12, updated_at = $13
WHERE id = $14
`

func (q *Queries) UpdateCustodyRecord(ctx context.Context, arg CustodyRecord) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateCustodyRecord,
		arg.Status,
		arg.VaultWalletID,
		arg.TokenAddress,
		arg.TokenID,
		arg.TokenSymbol,
		arg.Quantity,
		arg.FailureReason,
		arg.FailureDiagnostic,
		arg.LinkedAt,
		arg.MintedAt,
		arg.WithdrawnAt,
		arg.BurnedAt,
		arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const selectCustodyRecord = `-- name: SelectCustodyRecord :one
SELECT ` + custodyRecordColumns + ` FROM custody_record WHERE id = $1
`

func (q *Queries) SelectCustodyRecord(ctx context.Context, id string) (CustodyRecord, error) {
	row := q.db.QueryRowContext(ctx, selectCustodyRecord, id)
	return scanCustodyRecord(row)
}

const selectCustodyRecordByAsset = `-- name: SelectCustodyRecordByAsset :one
SELECT ` + custodyRecordColumns + ` FROM custody_record WHERE asset_id = $1
`

func (q *Queries) SelectCustodyRecordByAsset(ctx context.Context, assetID string) (CustodyRecord, error) {
	row := q.db.QueryRowContext(ctx, selectCustodyRecordByAsset, assetID)
	return scanCustodyRecord(row)
}

const selectCustodyRecordsWithTokenByStatus = `-- name: SelectCustodyRecordsWithTokenByStatus :many
SELECT ` + custodyRecordColumns + ` FROM custody_record
WHERE status = $1 AND token_id != ''
ORDER BY updated_at
`

func (q *Queries) SelectCustodyRecordsWithTokenByStatus(
	ctx context.Context, status int64,
) ([]CustodyRecord, error) {
	rows, err := q.db.QueryContext(ctx, selectCustodyRecordsWithTokenByStatus, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CustodyRecord
	for rows.Next() {
		i, err := scanCustodyRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertVaultWallet = `-- name: InsertVaultWallet :exec
INSERT INTO vault_wallet (id, custody_record_id, vault_id, blockchain, asset_symbol, address, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (q *Queries) InsertVaultWallet(ctx context.Context, arg VaultWallet) error {
	_, err := q.db.ExecContext(ctx, insertVaultWallet,
		arg.ID,
		arg.CustodyRecordID,
		arg.VaultID,
		arg.Blockchain,
		arg.AssetSymbol,
		arg.Address,
		arg.CreatedAt,
	)
	return err
}

const selectVaultWallet = `-- name: SelectVaultWallet :one
SELECT id, custody_record_id, vault_id, blockchain, asset_symbol, address, created_at
FROM vault_wallet WHERE id = $1
`

func (q *Queries) SelectVaultWallet(ctx context.Context, id string) (VaultWallet, error) {
	row := q.db.QueryRowContext(ctx, selectVaultWallet, id)
	var i VaultWallet
	err := row.Scan(
		&i.ID,
		&i.CustodyRecordID,
		&i.VaultID,
		&i.Blockchain,
		&i.AssetSymbol,
		&i.Address,
		&i.CreatedAt,
	)
	return i, err
}

const selectVaultWalletByCustodyRecord = `-- name: SelectVaultWalletByCustodyRecord :one
SELECT id, custody_record_id, vault_id, blockchain, asset_symbol, address, created_at
FROM vault_wallet WHERE custody_record_id = $1
`

func (q *Queries) SelectVaultWalletByCustodyRecord(
	ctx context.Context, custodyRecordID string,
) (VaultWallet, error) {
	row := q.db.QueryRowContext(ctx, selectVaultWalletByCustodyRecord, custodyRecordID)
	var i VaultWallet
	err := row.Scan(
		&i.ID,
		&i.CustodyRecordID,
		&i.VaultID,
		&i.Blockchain,
		&i.AssetSymbol,
		&i.Address,
		&i.CreatedAt,
	)
	return i, err
}

const insertOperation = `-- name: InsertOperation :exec
INSERT INTO operation (` + operationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

func (q *Queries) InsertOperation(ctx context.Context, arg Operation) error {
	_, err := q.db.ExecContext(ctx, insertOperation,
		arg.ID,
		arg.Type,
		arg.Status,
		arg.CustodyRecordID,
		arg.Payload,
		arg.InitiatedBy,
		arg.ApprovedBy,
		arg.RejectedBy,
		arg.RejectionReason,
		arg.ExternalTaskID,
		arg.ProviderStatus,
		arg.TxHash,
		arg.OffchainHash,
		arg.FailureReason,
		arg.FailureDiagnostic,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const updateOperation = `-- name: UpdateOperation :execrows
UPDATE operation SET
    status = $1, approved_by = $2, rejected_by = $3, rejection_reason = $4, external_task_id = $5,
    provider_status = $6, tx_hash = $7, failure_reason = $8, failure_diagnostic = $9, updated_at = $10
WHERE id = $11
`

func (q *Queries) UpdateOperation(ctx context.Context, arg Operation) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateOperation,
		arg.Status,
		arg.ApprovedBy,
		arg.RejectedBy,
		arg.RejectionReason,
		arg.ExternalTaskID,
		arg.ProviderStatus,
		arg.TxHash,
		arg.FailureReason,
		arg.FailureDiagnostic,
		arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const selectOperation = `-- name: SelectOperation :one
SELECT ` + operationColumns + ` FROM operation WHERE id = $1
`

func (q *Queries) SelectOperation(ctx context.Context, id string) (Operation, error) {
	row := q.db.QueryRowContext(ctx, selectOperation, id)
	return scanOperation(row)
}

const selectLiveOperation = `-- name: SelectLiveOperation :one
SELECT ` + operationColumns + ` FROM operation
WHERE custody_record_id = $1 AND status IN (0, 1, 2, 3)
LIMIT 1
`

func (q *Queries) SelectLiveOperation(ctx context.Context, custodyRecordID string) (Operation, error) {
	row := q.db.QueryRowContext(ctx, selectLiveOperation, custodyRecordID)
	return scanOperation(row)
}

const selectLatestOperation = `-- name: SelectLatestOperation :one
SELECT ` + operationColumns + ` FROM operation
WHERE custody_record_id = $1 AND type = $2
ORDER BY created_at DESC, seq DESC
LIMIT 1
`

type SelectLatestOperationParams struct {
	CustodyRecordID string
	Type            int64
}

func (q *Queries) SelectLatestOperation(
	ctx context.Context, arg SelectLatestOperationParams,
) (Operation, error) {
	row := q.db.QueryRowContext(ctx, selectLatestOperation, arg.CustodyRecordID, arg.Type)
	return scanOperation(row)
}

const selectOperationsByStatus = `-- name: SelectOperationsByStatus :many
SELECT ` + operationColumns + ` FROM operation WHERE status = $1 ORDER BY created_at
`

func (q *Queries) SelectOperationsByStatus(ctx context.Context, status int64) ([]Operation, error) {
	rows, err := q.db.QueryContext(ctx, selectOperationsByStatus, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Operation
	for rows.Next() {
		i, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const selectOwnership = `-- name: SelectOwnership :one
SELECT asset_id, owner_id, quantity, updated_at FROM ownership
WHERE asset_id = $1 AND owner_id = $2
`

type SelectOwnershipParams struct {
	AssetID string
	OwnerID string
}

func (q *Queries) SelectOwnership(ctx context.Context, arg SelectOwnershipParams) (Ownership, error) {
	row := q.db.QueryRowContext(ctx, selectOwnership, arg.AssetID, arg.OwnerID)
	var i Ownership
	err := row.Scan(&i.AssetID, &i.OwnerID, &i.Quantity, &i.UpdatedAt)
	return i, err
}

const creditOwnership = `-- name: CreditOwnership :exec
INSERT INTO ownership (asset_id, owner_id, quantity, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (asset_id, owner_id) DO UPDATE SET
    quantity = ownership.quantity + excluded.quantity,
    updated_at = excluded.updated_at
`

func (q *Queries) CreditOwnership(ctx context.Context, arg Ownership) error {
	_, err := q.db.ExecContext(ctx, creditOwnership,
		arg.AssetID, arg.OwnerID, arg.Quantity, arg.UpdatedAt,
	)
	return err
}

const upsertOwnership = `-- name: UpsertOwnership :exec
INSERT INTO ownership (asset_id, owner_id, quantity, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (asset_id, owner_id) DO UPDATE SET
    quantity = excluded.quantity,
    updated_at = excluded.updated_at
`

func (q *Queries) UpsertOwnership(ctx context.Context, arg Ownership) error {
	_, err := q.db.ExecContext(ctx, upsertOwnership,
		arg.AssetID, arg.OwnerID, arg.Quantity, arg.UpdatedAt,
	)
	return err
}

const deleteOwnership = `-- name: DeleteOwnership :exec
DELETE FROM ownership WHERE asset_id = $1 AND owner_id = $2
`

func (q *Queries) DeleteOwnership(ctx context.Context, arg SelectOwnershipParams) error {
	_, err := q.db.ExecContext(ctx, deleteOwnership, arg.AssetID, arg.OwnerID)
	return err
}

const selectBalance = `-- name: SelectBalance :one
SELECT owner_id, amount, updated_at FROM balance WHERE owner_id = $1
`

func (q *Queries) SelectBalance(ctx context.Context, ownerID string) (Balance, error) {
	row := q.db.QueryRowContext(ctx, selectBalance, ownerID)
	var i Balance
	err := row.Scan(&i.OwnerID, &i.Amount, &i.UpdatedAt)
	return i, err
}

const upsertBalance = `-- name: UpsertBalance :exec
INSERT INTO balance (owner_id, amount, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (owner_id) DO UPDATE SET
    amount = excluded.amount,
    updated_at = excluded.updated_at
`

func (q *Queries) UpsertBalance(ctx context.Context, arg Balance) error {
	_, err := q.db.ExecContext(ctx, upsertBalance, arg.OwnerID, arg.Amount, arg.UpdatedAt)
	return err
}

const insertListing = `-- name: InsertListing :exec
INSERT INTO listing (` + listingColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func (q *Queries) InsertListing(ctx context.Context, arg Listing) error {
	_, err := q.db.ExecContext(ctx, insertListing,
		arg.ID,
		arg.AssetID,
		arg.SellerID,
		arg.Price,
		arg.QuantityListed,
		arg.QuantitySold,
		arg.Status,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const updateListing = `-- name: UpdateListing :exec
UPDATE listing SET quantity_sold = $1, status = $2, updated_at = $3 WHERE id = $4
`

func (q *Queries) UpdateListing(ctx context.Context, arg Listing) error {
	_, err := q.db.ExecContext(ctx, updateListing,
		arg.QuantitySold, arg.Status, arg.UpdatedAt, arg.ID,
	)
	return err
}

const selectListing = `-- name: SelectListing :one
SELECT ` + listingColumns + ` FROM listing WHERE id = $1
`

func (q *Queries) SelectListing(ctx context.Context, id string) (Listing, error) {
	row := q.db.QueryRowContext(ctx, selectListing, id)
	return scanListing(row)
}

const selectActiveListings = `-- name: SelectActiveListings :many
SELECT ` + listingColumns + ` FROM listing
WHERE asset_id = $1 AND seller_id = $2 AND status = 0
ORDER BY created_at
`

type SelectActiveListingsParams struct {
	AssetID  string
	SellerID string
}

func (q *Queries) SelectActiveListings(
	ctx context.Context, arg SelectActiveListingsParams,
) ([]Listing, error) {
	rows, err := q.db.QueryContext(ctx, selectActiveListings, arg.AssetID, arg.SellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Listing
	for rows.Next() {
		i, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertBid = `-- name: InsertBid :exec
INSERT INTO bid (` + bidColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (q *Queries) InsertBid(ctx context.Context, arg Bid) error {
	_, err := q.db.ExecContext(ctx, insertBid,
		arg.ID,
		arg.ListingID,
		arg.BidderID,
		arg.Amount,
		arg.Quantity,
		arg.Status,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const updateBid = `-- name: UpdateBid :execrows
UPDATE bid SET status = $1, updated_at = $2 WHERE id = $3
`

func (q *Queries) UpdateBid(ctx context.Context, arg Bid) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateBid, arg.Status, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const selectBid = `-- name: SelectBid :one
SELECT ` + bidColumns + ` FROM bid WHERE id = $1
`

func (q *Queries) SelectBid(ctx context.Context, id string) (Bid, error) {
	row := q.db.QueryRowContext(ctx, selectBid, id)
	return scanBid(row)
}

const selectBidForUpdate = `-- name: SelectBidForUpdate :one
SELECT ` + bidColumns + ` FROM bid WHERE id = $1 FOR UPDATE
`

func (q *Queries) SelectBidForUpdate(ctx context.Context, id string) (Bid, error) {
	row := q.db.QueryRowContext(ctx, selectBidForUpdate, id)
	return scanBid(row)
}

const selectListingForUpdate = `-- name: SelectListingForUpdate :one
SELECT ` + listingColumns + ` FROM listing WHERE id = $1 FOR UPDATE
`

func (q *Queries) SelectListingForUpdate(ctx context.Context, id string) (Listing, error) {
	row := q.db.QueryRowContext(ctx, selectListingForUpdate, id)
	return scanListing(row)
}

const selectOwnershipForUpdate = `-- name: SelectOwnershipForUpdate :one
SELECT asset_id, owner_id, quantity, updated_at FROM ownership
WHERE asset_id = $1 AND owner_id = $2
FOR UPDATE
`

func (q *Queries) SelectOwnershipForUpdate(
	ctx context.Context, arg SelectOwnershipParams,
) (Ownership, error) {
	row := q.db.QueryRowContext(ctx, selectOwnershipForUpdate, arg.AssetID, arg.OwnerID)
	var i Ownership
	err := row.Scan(&i.AssetID, &i.OwnerID, &i.Quantity, &i.UpdatedAt)
	return i, err
}

const selectBalanceForUpdate = `-- name: SelectBalanceForUpdate :one
SELECT owner_id, amount, updated_at FROM balance WHERE owner_id = $1 FOR UPDATE
`

func (q *Queries) SelectBalanceForUpdate(ctx context.Context, ownerID string) (Balance, error) {
	row := q.db.QueryRowContext(ctx, selectBalanceForUpdate, ownerID)
	var i Balance
	err := row.Scan(&i.OwnerID, &i.Amount, &i.UpdatedAt)
	return i, err
}

const insertAuditLog = `-- name: InsertAuditLog :exec
INSERT INTO audit_log (id, event_type, actor, custody_record_id, operation_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (q *Queries) InsertAuditLog(ctx context.Context, arg AuditLog) error {
	_, err := q.db.ExecContext(ctx, insertAuditLog,
		arg.ID,
		arg.EventType,
		arg.Actor,
		arg.CustodyRecordID,
		arg.OperationID,
		arg.Metadata,
		arg.CreatedAt,
	)
	return err
}

const selectAuditLogs = `-- name: SelectAuditLogs :many
SELECT id, event_type, actor, custody_record_id, operation_id, metadata, created_at
FROM audit_log
WHERE ($1 = '' OR custody_record_id = $1)
    AND ($2 = '' OR operation_id = $2)
    AND ($3 = '' OR event_type = $3)
ORDER BY created_at, seq
LIMIT NULLIF($4::bigint, 0)
`

type SelectAuditLogsParams struct {
	CustodyRecordID string
	OperationID     string
	EventType       string
	// Limit of 0 means no limit.
	Limit int64
}

func (q *Queries) SelectAuditLogs(ctx context.Context, arg SelectAuditLogsParams) ([]AuditLog, error) {
	rows, err := q.db.QueryContext(ctx, selectAuditLogs,
		arg.CustodyRecordID, arg.OperationID, arg.EventType, arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuditLog
	for rows.Next() {
		var i AuditLog
		if err := rows.Scan(
			&i.ID,
			&i.EventType,
			&i.Actor,
			&i.CustodyRecordID,
			&i.OperationID,
			&i.Metadata,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
