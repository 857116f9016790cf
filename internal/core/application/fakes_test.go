package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateVault(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateOrGetAddress(
	ctx context.Context, vaultId, assetSymbol string,
) (string, error) {
	args := m.Called(ctx, vaultId, assetSymbol)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) IssueToken(
	ctx context.Context, vaultId string, spec ports.TokenSpec,
) (*ports.TaskHandle, error) {
	args := m.Called(ctx, vaultId, spec)
	var res *ports.TaskHandle
	if a := args.Get(0); a != nil {
		res = a.(*ports.TaskHandle)
	}
	return res, args.Error(1)
}

func (m *mockProvider) GetTaskStatus(ctx context.Context, taskId string) (*ports.TaskInfo, error) {
	args := m.Called(ctx, taskId)
	var res *ports.TaskInfo
	if a := args.Get(0); a != nil {
		res = a.(*ports.TaskInfo)
	}
	return res, args.Error(1)
}

func (m *mockProvider) Transfer(
	ctx context.Context, fromVaultId, toVaultId, assetSymbol string, amount decimal.Decimal,
) (string, error) {
	args := m.Called(ctx, fromVaultId, toVaultId, assetSymbol, amount)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ContractCall(
	ctx context.Context, vaultId, contractAddress string, data []byte, assetSymbol string,
) (string, error) {
	args := m.Called(ctx, vaultId, contractAddress, data, assetSymbol)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) GetVaultAsset(
	ctx context.Context, vaultId, assetSymbol string,
) (*ports.VaultAsset, error) {
	args := m.Called(ctx, vaultId, assetSymbol)
	var res *ports.VaultAsset
	if a := args.Get(0); a != nil {
		res = a.(*ports.VaultAsset)
	}
	return res, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event ports.Event, data any) error {
	args := m.Called(ctx, event, data)
	return args.Error(0)
}

// fakeRepoManager keeps every entity in memory. Getters return copies.
type fakeRepoManager struct {
	lock *sync.Mutex

	records    map[string]domain.CustodyRecord
	wallets    map[string]domain.VaultWallet
	operations map[string]domain.Operation
	ownerships map[string]domain.Ownership
	balances   map[string]domain.Balance
	listings   map[string]domain.Listing
	bids       map[string]domain.Bid
	auditLogs  []domain.AuditLog

	creditErr error
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		lock:       &sync.Mutex{},
		records:    make(map[string]domain.CustodyRecord),
		wallets:    make(map[string]domain.VaultWallet),
		operations: make(map[string]domain.Operation),
		ownerships: make(map[string]domain.Ownership),
		balances:   make(map[string]domain.Balance),
		listings:   make(map[string]domain.Listing),
		bids:       make(map[string]domain.Bid),
	}
}

func (f *fakeRepoManager) CustodyRecords() domain.CustodyRecordRepository { return fakeRecords{f} }
func (f *fakeRepoManager) VaultWallets() domain.VaultWalletRepository     { return fakeWallets{f} }
func (f *fakeRepoManager) Operations() domain.OperationRepository         { return fakeOperations{f} }
func (f *fakeRepoManager) Market() domain.MarketRepository                { return fakeMarket{f} }
func (f *fakeRepoManager) Audit() domain.AuditRepository                  { return fakeAudit{f} }
func (f *fakeRepoManager) Close()                                         {}

func (f *fakeRepoManager) auditEvents(recordId string) []domain.AuditEventType {
	f.lock.Lock()
	defer f.lock.Unlock()
	events := make([]domain.AuditEventType, 0)
	for _, entry := range f.auditLogs {
		if recordId == "" || entry.CustodyRecordId == recordId {
			events = append(events, entry.EventType)
		}
	}
	return events
}

type fakeRecords struct{ *fakeRepoManager }

func (r fakeRecords) Add(_ context.Context, record domain.CustodyRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, existing := range r.records {
		if existing.AssetId == record.AssetId {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAsset, record.AssetId)
		}
	}
	r.records[record.Id] = record
	return nil
}

func (r fakeRecords) Get(_ context.Context, id string) (*domain.CustodyRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: custody record %s", domain.ErrNotFound, id)
	}
	return &record, nil
}

func (r fakeRecords) GetByAssetId(_ context.Context, assetId string) (*domain.CustodyRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, record := range r.records {
		if record.AssetId == assetId {
			return &record, nil
		}
	}
	return nil, fmt.Errorf("%w: asset %s", domain.ErrNotFound, assetId)
}

func (r fakeRecords) Update(_ context.Context, record domain.CustodyRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.records[record.Id] = record
	return nil
}

func (r fakeRecords) GetWithTokenByStatus(
	_ context.Context, statuses []domain.CustodyStatus,
) ([]domain.CustodyRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]domain.CustodyRecord, 0)
	for _, record := range r.records {
		for _, status := range statuses {
			if record.Status == status && record.TokenId != "" {
				res = append(res, record)
			}
		}
	}
	return res, nil
}

func (r fakeRecords) Close() {}

type fakeWallets struct{ *fakeRepoManager }

func (r fakeWallets) Add(_ context.Context, wallet domain.VaultWallet) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.wallets[wallet.Id] = wallet
	return nil
}

func (r fakeWallets) Get(_ context.Context, id string) (*domain.VaultWallet, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	wallet, ok := r.wallets[id]
	if !ok {
		return nil, fmt.Errorf("%w: vault wallet %s", domain.ErrNotFound, id)
	}
	return &wallet, nil
}

func (r fakeWallets) GetByCustodyRecord(
	_ context.Context, custodyRecordId string,
) (*domain.VaultWallet, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, wallet := range r.wallets {
		if wallet.CustodyRecordId == custodyRecordId {
			return &wallet, nil
		}
	}
	return nil, fmt.Errorf("%w: vault wallet of %s", domain.ErrNotFound, custodyRecordId)
}

func (r fakeWallets) Close() {}

type fakeOperations struct{ *fakeRepoManager }

func (r fakeOperations) Add(_ context.Context, op domain.Operation) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, existing := range r.operations {
		if existing.CustodyRecordId == op.CustodyRecordId && !existing.IsTerminal() {
			return domain.ErrLiveOperationExists
		}
	}
	r.operations[op.Id] = op
	return nil
}

func (r fakeOperations) Get(_ context.Context, id string) (*domain.Operation, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	op, ok := r.operations[id]
	if !ok {
		return nil, fmt.Errorf("%w: operation %s", domain.ErrNotFound, id)
	}
	return &op, nil
}

func (r fakeOperations) Update(_ context.Context, op domain.Operation) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.operations[op.Id] = op
	return nil
}

func (r fakeOperations) GetLive(_ context.Context, custodyRecordId string) (*domain.Operation, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, op := range r.operations {
		if op.CustodyRecordId == custodyRecordId && !op.IsTerminal() {
			return &op, nil
		}
	}
	return nil, nil
}

func (r fakeOperations) GetLatest(
	_ context.Context, custodyRecordId string, opType domain.OperationType,
) (*domain.Operation, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	var latest *domain.Operation
	for _, op := range r.operations {
		if op.CustodyRecordId != custodyRecordId || op.Type != opType {
			continue
		}
		if latest == nil || op.CreatedAt > latest.CreatedAt {
			latest = &op
		}
	}
	return latest, nil
}

func (r fakeOperations) GetByStatus(
	_ context.Context, status domain.OperationStatus,
) ([]domain.Operation, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]domain.Operation, 0)
	for _, op := range r.operations {
		if op.Status == status {
			res = append(res, op)
		}
	}
	return res, nil
}

func (r fakeOperations) Close() {}

type fakeMarket struct{ *fakeRepoManager }

func ownershipKey(assetId, ownerId string) string {
	return assetId + "/" + ownerId
}

func (r fakeMarket) GetOwnership(_ context.Context, assetId, ownerId string) (*domain.Ownership, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	ownership, ok := r.ownerships[ownershipKey(assetId, ownerId)]
	if !ok {
		return &domain.Ownership{AssetId: assetId, OwnerId: ownerId}, nil
	}
	return &ownership, nil
}

func (r fakeMarket) CreditOwnership(_ context.Context, assetId, ownerId string, quantity int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.creditErr != nil {
		return r.creditErr
	}
	key := ownershipKey(assetId, ownerId)
	ownership := r.ownerships[key]
	ownership.AssetId, ownership.OwnerId = assetId, ownerId
	ownership.Quantity += quantity
	r.ownerships[key] = ownership
	return nil
}

func (r fakeMarket) GetBalance(_ context.Context, ownerId string) (*domain.Balance, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	balance, ok := r.balances[ownerId]
	if !ok {
		return &domain.Balance{OwnerId: ownerId, Amount: decimal.Zero}, nil
	}
	return &balance, nil
}

func (r fakeMarket) CreditBalance(_ context.Context, ownerId string, amount decimal.Decimal) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	balance, ok := r.balances[ownerId]
	if !ok {
		balance = domain.Balance{OwnerId: ownerId, Amount: decimal.Zero}
	}
	balance.Amount = balance.Amount.Add(amount)
	r.balances[ownerId] = balance
	return nil
}

func (r fakeMarket) CreateListing(
	_ context.Context, listing domain.Listing, guard func(int64, []domain.Listing) error,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	owned := r.ownerships[ownershipKey(listing.AssetId, listing.SellerId)].Quantity
	active := make([]domain.Listing, 0)
	for _, l := range r.listings {
		if l.AssetId == listing.AssetId && l.SellerId == listing.SellerId &&
			l.Status == domain.ListingStatusActive {
			active = append(active, l)
		}
	}
	if err := guard(owned, active); err != nil {
		return err
	}
	r.listings[listing.Id] = listing
	return nil
}

func (r fakeMarket) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	listing, ok := r.listings[id]
	if !ok {
		return nil, fmt.Errorf("%w: listing %s", domain.ErrNotFound, id)
	}
	return &listing, nil
}

func (r fakeMarket) GetActiveListings(
	_ context.Context, assetId, sellerId string,
) ([]domain.Listing, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]domain.Listing, 0)
	for _, l := range r.listings {
		if l.AssetId == assetId && l.SellerId == sellerId && l.Status == domain.ListingStatusActive {
			res = append(res, l)
		}
	}
	return res, nil
}

func (r fakeMarket) AddBid(_ context.Context, bid domain.Bid) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.bids[bid.Id] = bid
	return nil
}

func (r fakeMarket) GetBid(_ context.Context, id string) (*domain.Bid, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	bid, ok := r.bids[id]
	if !ok {
		return nil, fmt.Errorf("%w: bid %s", domain.ErrNotFound, id)
	}
	return &bid, nil
}

func (r fakeMarket) UpdateBid(_ context.Context, bid domain.Bid) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.bids[bid.Id] = bid
	return nil
}

func (r fakeMarket) SettleBid(
	_ context.Context, bidId string, settle func(*domain.Settlement) error,
) (*domain.Settlement, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	bid, ok := r.bids[bidId]
	if !ok {
		return nil, fmt.Errorf("%w: bid %s", domain.ErrNotFound, bidId)
	}
	listing, ok := r.listings[bid.ListingId]
	if !ok {
		return nil, fmt.Errorf("%w: listing %s", domain.ErrNotFound, bid.ListingId)
	}

	settlement := &domain.Settlement{Bid: &bid, Listing: &listing}
	if o, ok := r.ownerships[ownershipKey(listing.AssetId, listing.SellerId)]; ok {
		settlement.SellerOwnership = &o
	}
	if o, ok := r.ownerships[ownershipKey(listing.AssetId, bid.BidderId)]; ok {
		settlement.BuyerOwnership = &o
	}
	if b, ok := r.balances[listing.SellerId]; ok {
		settlement.SellerBalance = &b
	}
	if b, ok := r.balances[bid.BidderId]; ok {
		settlement.BuyerBalance = &b
	}

	if err := settle(settlement); err != nil {
		return nil, err
	}

	sellerKey := ownershipKey(listing.AssetId, listing.SellerId)
	if settlement.SellerOwnershipConsumed() {
		delete(r.ownerships, sellerKey)
	} else {
		r.ownerships[sellerKey] = *settlement.SellerOwnership
	}
	r.ownerships[ownershipKey(listing.AssetId, bid.BidderId)] = *settlement.BuyerOwnership
	r.balances[listing.SellerId] = *settlement.SellerBalance
	r.balances[bid.BidderId] = *settlement.BuyerBalance
	r.listings[listing.Id] = listing
	r.bids[bid.Id] = bid
	return settlement, nil
}

func (r fakeMarket) Close() {}

type fakeAudit struct{ *fakeRepoManager }

func (r fakeAudit) Append(_ context.Context, entry domain.AuditLog) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.auditLogs = append(r.auditLogs, entry)
	return nil
}

func (r fakeAudit) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]domain.AuditLog, 0)
	for _, entry := range r.auditLogs {
		if filter.Matches(entry) {
			res = append(res, entry)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt < res[j].CreatedAt })
	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[:filter.Limit]
	}
	return res, nil
}

func (r fakeAudit) Close() {}

type fakeLiveStore struct {
	lock     *sync.Mutex
	monitors map[string]struct{}
	gas      map[string]decimal.Decimal
	// registrations counts successful Register calls per task.
	registrations map[string]int
}

func newFakeLiveStore() *fakeLiveStore {
	return &fakeLiveStore{
		lock:          &sync.Mutex{},
		monitors:      make(map[string]struct{}),
		gas:           make(map[string]decimal.Decimal),
		registrations: make(map[string]int),
	}
}

func (f *fakeLiveStore) Monitors() ports.MonitorRegistry    { return f }
func (f *fakeLiveStore) GasBalances() ports.GasBalanceCache { return fakeGasCache{f} }

func (f *fakeLiveStore) Register(_ context.Context, taskId string) (bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if _, ok := f.monitors[taskId]; ok {
		return false, nil
	}
	f.monitors[taskId] = struct{}{}
	f.registrations[taskId]++
	return true, nil
}

func (f *fakeLiveStore) Deregister(_ context.Context, taskId string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	delete(f.monitors, taskId)
	return nil
}

func (f *fakeLiveStore) IsActive(_ context.Context, taskId string) (bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	_, ok := f.monitors[taskId]
	return ok, nil
}

func (f *fakeLiveStore) Count(_ context.Context) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.monitors), nil
}

type fakeGasCache struct{ *fakeLiveStore }

func (c fakeGasCache) Get(_ context.Context, vaultId string) (decimal.Decimal, bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	balance, ok := c.gas[vaultId]
	return balance, ok, nil
}

func (c fakeGasCache) Set(_ context.Context, vaultId string, balance decimal.Decimal) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.gas[vaultId] = balance
	return nil
}

func (c fakeGasCache) Invalidate(_ context.Context, vaultId string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.gas, vaultId)
	return nil
}

func testConfig() Config {
	return Config{
		Blockchain:             "ETH_TEST",
		FundingVaultId:         "funding-vault",
		GasAssetSymbol:         "ETH_TEST",
		GasThreshold:           decimal.RequireFromString("0.01"),
		GasTopUpAmount:         decimal.RequireFromString("0.05"),
		GasFundingPollInterval: time.Millisecond,
		GasFundingMaxAttempts:  5,
		Monitor: MonitorConfig{
			InitialDelay:      time.Millisecond,
			StepDelay:         time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			MaxAttempts:       6,
			TransientCooldown: time.Millisecond,
			RateLimitCooldown: 2 * time.Millisecond,
			Milestones:        DefaultMilestones(1, 3, 5),
		},
		ResyncCooldown:   time.Second,
		ExecutionWorkers: 2,
	}
}
