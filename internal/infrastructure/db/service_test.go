package db_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/internal/infrastructure/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "repo_manager_with_sqlite_stores",
			config: db.ServiceConfig{
				AuditStoreType:  "sqlite",
				DataStoreType:   "sqlite",
				DataStoreConfig: []interface{}{t.TempDir()},
			},
		},
		{
			name: "repo_manager_with_badger_audit_store",
			config: db.ServiceConfig{
				AuditStoreType:   "badger",
				DataStoreType:    "sqlite",
				AuditStoreConfig: []interface{}{"", nil},
				DataStoreConfig:  []interface{}{t.TempDir()},
			},
		},
	}
	if pgDsn := os.Getenv("CUSTODYD_TEST_PG_DSN"); pgDsn != "" {
		tests = append(tests, struct {
			name   string
			config db.ServiceConfig
		}{
			name: "repo_manager_with_postgres_stores",
			config: db.ServiceConfig{
				AuditStoreType:  "postgres",
				DataStoreType:   "postgres",
				DataStoreConfig: []interface{}{pgDsn, true},
			},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			require.NotNil(t, svc)

			testCustodyRecordRepository(t, svc)
			testVaultWalletRepository(t, svc)
			testOperationRepository(t, svc)
			testMarketRepository(t, svc)
			testSettlement(t, svc)
			testAuditRepository(t, svc)

			svc.Close()
		})
	}
}

func TestServiceConfig(t *testing.T) {
	fixtures := []struct {
		name   string
		config db.ServiceConfig
		err    string
	}{
		{
			name: "unknown_data_store",
			config: db.ServiceConfig{
				AuditStoreType: "sqlite",
				DataStoreType:  "mysql",
			},
			err: "invalid data store type",
		},
		{
			name: "unknown_audit_store",
			config: db.ServiceConfig{
				AuditStoreType:  "redis",
				DataStoreType:   "sqlite",
				DataStoreConfig: []interface{}{""},
			},
			err: "invalid audit store type",
		},
		{
			name: "invalid_sqlite_config",
			config: db.ServiceConfig{
				AuditStoreType:  "sqlite",
				DataStoreType:   "sqlite",
				DataStoreConfig: []interface{}{1},
			},
			err: "invalid base directory",
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			svc, err := db.NewService(f.config)
			require.ErrorContains(t, err, f.err)
			require.Nil(t, svc)
		})
	}
}

func newRecord(t *testing.T, svc ports.RepoManager) *domain.CustodyRecord {
	record := domain.NewCustodyRecord(uuid.New().String(), "tenant-1", "alice")
	require.NoError(t, svc.CustodyRecords().Add(context.Background(), *record))
	return record
}

func testCustodyRecordRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_custody_record_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.CustodyRecords()

		got, err := repo.Get(ctx, uuid.New().String())
		require.ErrorIs(t, err, domain.ErrNotFound)
		require.Nil(t, got)

		record := newRecord(t, svc)

		err = repo.Add(ctx, *domain.NewCustodyRecord(record.AssetId, "tenant-2", "bob"))
		require.ErrorIs(t, err, domain.ErrDuplicateAsset)

		got, err = repo.Get(ctx, record.Id)
		require.NoError(t, err)
		require.Equal(t, *record, *got)

		got, err = repo.GetByAssetId(ctx, record.AssetId)
		require.NoError(t, err)
		require.Equal(t, record.Id, got.Id)

		require.NoError(t, record.Transition(domain.CustodyStatusPending, domain.StatusMetadata{}))
		require.NoError(t, record.Transition(domain.CustodyStatusLinked, domain.StatusMetadata{
			VaultWalletId: "vault-1",
		}))
		record.TokenId = "task-" + record.Id
		record.TokenSymbol = "GLD"
		require.NoError(t, repo.Update(ctx, *record))

		got, err = repo.Get(ctx, record.Id)
		require.NoError(t, err)
		require.Equal(t, *record, *got)

		withToken, err := repo.GetWithTokenByStatus(ctx, domain.ReconcilableStatuses)
		require.NoError(t, err)
		ids := make([]string, 0, len(withToken))
		for _, r := range withToken {
			ids = append(ids, r.Id)
		}
		require.Contains(t, ids, record.Id)

		missing := *domain.NewCustodyRecord(uuid.New().String(), "tenant-1", "alice")
		require.ErrorIs(t, repo.Update(ctx, missing), domain.ErrNotFound)
	})
}

func testVaultWalletRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_vault_wallet_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.VaultWallets()
		record := newRecord(t, svc)

		_, err := repo.GetByCustodyRecord(ctx, record.Id)
		require.ErrorIs(t, err, domain.ErrNotFound)

		wallet := domain.NewVaultWallet(record.Id, "vault-1", "ETH_TEST", "ETH_TEST", "0xabc")
		require.NoError(t, repo.Add(ctx, wallet))

		got, err := repo.Get(ctx, wallet.Id)
		require.NoError(t, err)
		require.Equal(t, wallet, *got)

		got, err = repo.GetByCustodyRecord(ctx, record.Id)
		require.NoError(t, err)
		require.Equal(t, wallet, *got)

		other := domain.NewVaultWallet(record.Id, "vault-2", "ETH_TEST", "ETH_TEST", "0xdef")
		require.Error(t, repo.Add(ctx, other))
	})
}

func testOperationRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_operation_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Operations()
		record := newRecord(t, svc)

		live, err := repo.GetLive(ctx, record.Id)
		require.NoError(t, err)
		require.Nil(t, live)

		op, err := domain.NewOperation(
			domain.OperationTypeFreeze, record.Id, []byte(`{"reason":"audit"}`), "alice",
		)
		require.NoError(t, err)
		require.NoError(t, repo.Add(ctx, *op))

		got, err := repo.Get(ctx, op.Id)
		require.NoError(t, err)
		require.Equal(t, *op, *got)

		second, err := domain.NewOperation(domain.OperationTypeFreeze, record.Id, nil, "bob")
		require.NoError(t, err)
		require.ErrorIs(t, repo.Add(ctx, *second), domain.ErrLiveOperationExists)

		live, err = repo.GetLive(ctx, record.Id)
		require.NoError(t, err)
		require.NotNil(t, live)
		require.Equal(t, op.Id, live.Id)

		require.NoError(t, op.Approve("bob", false))
		require.NoError(t, op.MarkExecuting("task-1", "SUBMITTED"))
		require.NoError(t, repo.Update(ctx, *op))

		executing, err := repo.GetByStatus(ctx, domain.OperationStatusExecuting)
		require.NoError(t, err)
		found := false
		for _, e := range executing {
			if e.Id == op.Id {
				found = true
				require.Equal(t, "task-1", e.ExternalTaskId)
				require.Equal(t, "bob", e.ApprovedBy)
			}
		}
		require.True(t, found)

		require.NoError(t, op.MarkExecuted("0xhash"))
		require.NoError(t, repo.Update(ctx, *op))

		live, err = repo.GetLive(ctx, record.Id)
		require.NoError(t, err)
		require.Nil(t, live)

		// the terminal operation frees the record for a new one.
		require.NoError(t, repo.Add(ctx, *second))

		latest, err := repo.GetLatest(ctx, record.Id, domain.OperationTypeFreeze)
		require.NoError(t, err)
		require.NotNil(t, latest)
		require.Equal(t, second.Id, latest.Id)

		latest, err = repo.GetLatest(ctx, record.Id, domain.OperationTypeMint)
		require.NoError(t, err)
		require.Nil(t, latest)
	})

	t.Run("test_concurrent_live_operations", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Operations()
		record := newRecord(t, svc)

		count := 5
		errs := make(chan error, count)
		wg := &sync.WaitGroup{}
		wg.Add(count)
		for i := range count {
			go func(i int) {
				defer wg.Done()
				op, err := domain.NewOperation(
					domain.OperationTypeFreeze, record.Id, nil, fmt.Sprintf("maker-%d", i),
				)
				if err != nil {
					errs <- err
					return
				}
				errs <- repo.Add(ctx, *op)
			}(i)
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, domain.ErrLiveOperationExists)
		}
		require.Equal(t, 1, succeeded)
	})
}

func testMarketRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_market_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Market()
		assetId, seller := uuid.New().String(), uuid.New().String()

		ownership, err := repo.GetOwnership(ctx, assetId, seller)
		require.NoError(t, err)
		require.Zero(t, ownership.Quantity)

		require.NoError(t, repo.CreditOwnership(ctx, assetId, seller, 10))
		require.NoError(t, repo.CreditOwnership(ctx, assetId, seller, 5))
		ownership, err = repo.GetOwnership(ctx, assetId, seller)
		require.NoError(t, err)
		require.Equal(t, int64(15), ownership.Quantity)

		balance, err := repo.GetBalance(ctx, seller)
		require.NoError(t, err)
		require.True(t, balance.Amount.IsZero())

		require.NoError(t, repo.CreditBalance(ctx, seller, decimal.RequireFromString("10.25")))
		require.NoError(t, repo.CreditBalance(ctx, seller, decimal.RequireFromString("0.75")))
		balance, err = repo.GetBalance(ctx, seller)
		require.NoError(t, err)
		require.True(t, balance.Amount.Equal(decimal.NewFromInt(11)), balance.Amount.String())

		guard := func(listing domain.Listing) func(int64, []domain.Listing) error {
			return func(owned int64, active []domain.Listing) error {
				return domain.CheckListingAvailability(listing, owned, active)
			}
		}

		first, err := domain.NewListing(assetId, seller, decimal.NewFromInt(2), 10)
		require.NoError(t, err)
		require.NoError(t, repo.CreateListing(ctx, *first, guard(*first)))

		second, err := domain.NewListing(assetId, seller, decimal.NewFromInt(2), 6)
		require.NoError(t, err)
		err = repo.CreateListing(ctx, *second, guard(*second))
		require.ErrorAs(t, err, &domain.ListingOversoldError{})

		_, err = repo.GetListing(ctx, second.Id)
		require.ErrorIs(t, err, domain.ErrNotFound)

		got, err := repo.GetListing(ctx, first.Id)
		require.NoError(t, err)
		require.True(t, first.Price.Equal(got.Price))
		require.Equal(t, first.QuantityListed, got.QuantityListed)

		active, err := repo.GetActiveListings(ctx, assetId, seller)
		require.NoError(t, err)
		require.Len(t, active, 1)

		bid, err := got.NewBid(uuid.New().String(), decimal.NewFromInt(2), 3)
		require.NoError(t, err)
		require.NoError(t, repo.AddBid(ctx, *bid))

		require.NoError(t, bid.Reject())
		require.NoError(t, repo.UpdateBid(ctx, *bid))
		gotBid, err := repo.GetBid(ctx, bid.Id)
		require.NoError(t, err)
		require.Equal(t, domain.BidStatusRejected, gotBid.Status)
		require.True(t, bid.Amount.Equal(gotBid.Amount))
	})
}

func testSettlement(t *testing.T, svc ports.RepoManager) {
	ctx := context.Background()
	repo := svc.Market()

	setup := func(t *testing.T, owned, listed, bidQty int64, funds string) (string, string, *domain.Bid) {
		assetId, seller, buyer := uuid.New().String(), uuid.New().String(), uuid.New().String()
		require.NoError(t, repo.CreditOwnership(ctx, assetId, seller, owned))
		if funds != "" {
			require.NoError(t, repo.CreditBalance(ctx, buyer, decimal.RequireFromString(funds)))
		}
		listing, err := domain.NewListing(assetId, seller, decimal.NewFromInt(10), listed)
		require.NoError(t, err)
		require.NoError(t, repo.CreateListing(ctx, *listing, func(int64, []domain.Listing) error {
			return nil
		}))
		bid, err := listing.NewBid(buyer, decimal.NewFromInt(10), bidQty)
		require.NoError(t, err)
		require.NoError(t, repo.AddBid(ctx, *bid))
		return assetId, seller, bid
	}

	t.Run("test_settlement_partial", func(t *testing.T) {
		assetId, seller, bid := setup(t, 10, 10, 4, "100")

		settlement, err := repo.SettleBid(ctx, bid.Id, func(s *domain.Settlement) error {
			return s.Accept(seller)
		})
		require.NoError(t, err)
		require.Equal(t, domain.BidStatusAccepted, settlement.Bid.Status)

		sellerOwnership, err := repo.GetOwnership(ctx, assetId, seller)
		require.NoError(t, err)
		require.Equal(t, int64(6), sellerOwnership.Quantity)
		buyerOwnership, err := repo.GetOwnership(ctx, assetId, bid.BidderId)
		require.NoError(t, err)
		require.Equal(t, int64(4), buyerOwnership.Quantity)

		sellerBalance, err := repo.GetBalance(ctx, seller)
		require.NoError(t, err)
		require.True(t, sellerBalance.Amount.Equal(decimal.NewFromInt(40)))
		buyerBalance, err := repo.GetBalance(ctx, bid.BidderId)
		require.NoError(t, err)
		require.True(t, buyerBalance.Amount.Equal(decimal.NewFromInt(60)))

		listing, err := repo.GetListing(ctx, bid.ListingId)
		require.NoError(t, err)
		require.Equal(t, domain.ListingStatusActive, listing.Status)
		require.Equal(t, int64(4), listing.QuantitySold)
	})

	t.Run("test_settlement_consumes_seller", func(t *testing.T) {
		assetId, seller, bid := setup(t, 5, 5, 5, "50")

		_, err := repo.SettleBid(ctx, bid.Id, func(s *domain.Settlement) error {
			return s.Accept(seller)
		})
		require.NoError(t, err)

		sellerOwnership, err := repo.GetOwnership(ctx, assetId, seller)
		require.NoError(t, err)
		require.Zero(t, sellerOwnership.Quantity)

		listing, err := repo.GetListing(ctx, bid.ListingId)
		require.NoError(t, err)
		require.Equal(t, domain.ListingStatusSold, listing.Status)
	})

	t.Run("test_settlement_is_atomic", func(t *testing.T) {
		assetId, seller, bid := setup(t, 10, 10, 4, "39.99")

		settlement, err := repo.SettleBid(ctx, bid.Id, func(s *domain.Settlement) error {
			return s.Accept(seller)
		})
		require.ErrorAs(t, err, &domain.InsufficientBalanceError{})
		require.Nil(t, settlement)

		gotBid, err := repo.GetBid(ctx, bid.Id)
		require.NoError(t, err)
		require.Equal(t, domain.BidStatusPending, gotBid.Status)
		sellerOwnership, err := repo.GetOwnership(ctx, assetId, seller)
		require.NoError(t, err)
		require.Equal(t, int64(10), sellerOwnership.Quantity)
		buyerBalance, err := repo.GetBalance(ctx, bid.BidderId)
		require.NoError(t, err)
		require.True(t, buyerBalance.Amount.Equal(decimal.RequireFromString("39.99")))
		listing, err := repo.GetListing(ctx, bid.ListingId)
		require.NoError(t, err)
		require.Zero(t, listing.QuantitySold)
	})

	t.Run("test_settlement_unknown_bid", func(t *testing.T) {
		_, err := repo.SettleBid(ctx, uuid.New().String(), func(*domain.Settlement) error {
			return nil
		})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func testAuditRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_audit_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Audit()
		recordId, opId := uuid.New().String(), uuid.New().String()

		events := []domain.AuditEventType{
			domain.EventOperationInitiated,
			domain.EventOperationApproved,
			domain.EventTaskSubmitted,
			domain.EventOperationExecuted,
		}
		for _, event := range events {
			entry := domain.NewAuditLog(event, "alice", map[string]string{
				"event": string(event),
			}, domain.AuditRefs{CustodyRecordId: recordId, OperationId: opId})
			require.NoError(t, repo.Append(ctx, entry))
		}
		other := domain.NewAuditLog(
			domain.EventLinkRequested, "bob", nil, domain.AuditRefs{CustodyRecordId: recordId},
		)
		require.NoError(t, repo.Append(ctx, other))
		require.Error(t, repo.Append(ctx, other))

		entries, err := repo.List(ctx, domain.AuditFilter{OperationId: opId})
		require.NoError(t, err)
		require.Len(t, entries, len(events))
		for i, entry := range entries {
			require.Equal(t, events[i], entry.EventType)
			require.Equal(t, string(events[i]), entry.Metadata["event"])
			require.Equal(t, "alice", entry.Actor)
		}

		entries, err = repo.List(ctx, domain.AuditFilter{CustodyRecordId: recordId})
		require.NoError(t, err)
		require.Len(t, entries, len(events)+1)
		require.NotNil(t, entries[len(entries)-1].Metadata)

		entries, err = repo.List(ctx, domain.AuditFilter{
			CustodyRecordId: recordId,
			EventType:       domain.EventTaskSubmitted,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)

		entries, err = repo.List(ctx, domain.AuditFilter{CustodyRecordId: recordId, Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, domain.EventOperationInitiated, entries[0].EventType)

		require.WithinDuration(t, time.Now(), time.UnixMilli(entries[0].CreatedAt), time.Minute)

		entries, err = repo.List(ctx, domain.AuditFilter{CustodyRecordId: uuid.New().String()})
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}
