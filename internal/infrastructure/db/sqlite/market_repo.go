package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/infrastructure/db/sqlite/sqlc/queries"
	"github.com/shopspring/decimal"
)

type marketRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewMarketRepository(config ...interface{}) (domain.MarketRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open market repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &marketRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *marketRepository) GetOwnership(
	ctx context.Context, assetId, ownerId string,
) (*domain.Ownership, error) {
	return selectOwnership(ctx, r.querier, assetId, ownerId)
}

func (r *marketRepository) CreditOwnership(
	ctx context.Context, assetId, ownerId string, quantity int64,
) error {
	if err := r.querier.CreditOwnership(ctx, queries.Ownership{
		AssetID:   assetId,
		OwnerID:   ownerId,
		Quantity:  quantity,
		UpdatedAt: time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("failed to credit ownership: %w", err)
	}
	return nil
}

func (r *marketRepository) GetBalance(ctx context.Context, ownerId string) (*domain.Balance, error) {
	return selectBalance(ctx, r.querier, ownerId)
}

func (r *marketRepository) CreditBalance(
	ctx context.Context, ownerId string, amount decimal.Decimal,
) error {
	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		balance, err := selectBalance(ctx, querierWithTx, ownerId)
		if err != nil {
			return err
		}
		return querierWithTx.UpsertBalance(ctx, queries.Balance{
			OwnerID:   ownerId,
			Amount:    balance.Amount.Add(amount).String(),
			UpdatedAt: time.Now().Unix(),
		})
	})
}

func (r *marketRepository) CreateListing(
	ctx context.Context, listing domain.Listing, guard func(int64, []domain.Listing) error,
) error {
	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		ownership, err := selectOwnership(ctx, querierWithTx, listing.AssetId, listing.SellerId)
		if err != nil {
			return err
		}
		rows, err := querierWithTx.SelectActiveListings(ctx, queries.SelectActiveListingsParams{
			AssetID:  listing.AssetId,
			SellerID: listing.SellerId,
		})
		if err != nil {
			return fmt.Errorf("failed to list active listings: %w", err)
		}
		active, err := toListings(rows)
		if err != nil {
			return err
		}
		if err := guard(ownership.Quantity, active); err != nil {
			return err
		}
		return querierWithTx.InsertListing(ctx, toListingRow(listing))
	})
}

func (r *marketRepository) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	row, err := r.querier.SelectListing(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("listing %s %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return toListing(row)
}

func (r *marketRepository) GetActiveListings(
	ctx context.Context, assetId, sellerId string,
) ([]domain.Listing, error) {
	rows, err := r.querier.SelectActiveListings(ctx, queries.SelectActiveListingsParams{
		AssetID:  assetId,
		SellerID: sellerId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active listings: %w", err)
	}
	return toListings(rows)
}

func (r *marketRepository) AddBid(ctx context.Context, bid domain.Bid) error {
	if err := r.querier.InsertBid(ctx, toBidRow(bid)); err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (r *marketRepository) GetBid(ctx context.Context, id string) (*domain.Bid, error) {
	row, err := r.querier.SelectBid(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bid %s %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return toBid(row)
}

func (r *marketRepository) UpdateBid(ctx context.Context, bid domain.Bid) error {
	affected, err := r.querier.UpdateBid(ctx, toBidRow(bid))
	if err != nil {
		return fmt.Errorf("failed to update bid: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("bid %s %w", bid.Id, domain.ErrNotFound)
	}
	return nil
}

func (r *marketRepository) SettleBid(
	ctx context.Context, bidId string, settle func(*domain.Settlement) error,
) (*domain.Settlement, error) {
	var settlement *domain.Settlement
	if err := execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		s, err := loadSettlement(ctx, querierWithTx, bidId)
		if err != nil {
			return err
		}
		if err := settle(s); err != nil {
			return err
		}
		if err := storeSettlement(ctx, querierWithTx, s); err != nil {
			return err
		}
		settlement = s
		return nil
	}); err != nil {
		return nil, err
	}
	return settlement, nil
}

func (r *marketRepository) Close() {
	_ = r.db.Close()
}

func loadSettlement(
	ctx context.Context, querier *queries.Queries, bidId string,
) (*domain.Settlement, error) {
	bidRow, err := querier.SelectBid(ctx, bidId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bid %s %w", bidId, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	bid, err := toBid(bidRow)
	if err != nil {
		return nil, err
	}
	listingRow, err := querier.SelectListing(ctx, bid.ListingId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("listing %s %w", bid.ListingId, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	listing, err := toListing(listingRow)
	if err != nil {
		return nil, err
	}

	s := &domain.Settlement{Bid: bid, Listing: listing}
	if s.SellerOwnership, err = findOwnership(
		ctx, querier, listing.AssetId, listing.SellerId,
	); err != nil {
		return nil, err
	}
	if s.BuyerOwnership, err = findOwnership(
		ctx, querier, listing.AssetId, bid.BidderId,
	); err != nil {
		return nil, err
	}
	if s.SellerBalance, err = findBalance(ctx, querier, listing.SellerId); err != nil {
		return nil, err
	}
	if s.BuyerBalance, err = findBalance(ctx, querier, bid.BidderId); err != nil {
		return nil, err
	}
	return s, nil
}

func storeSettlement(ctx context.Context, querier *queries.Queries, s *domain.Settlement) error {
	if _, err := querier.UpdateBid(ctx, toBidRow(*s.Bid)); err != nil {
		return fmt.Errorf("failed to update bid: %w", err)
	}
	if err := querier.UpdateListing(ctx, toListingRow(*s.Listing)); err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}

	seller := s.SellerOwnership
	if s.SellerOwnershipConsumed() {
		if err := querier.DeleteOwnership(ctx, queries.SelectOwnershipParams{
			AssetID: seller.AssetId,
			OwnerID: seller.OwnerId,
		}); err != nil {
			return fmt.Errorf("failed to delete seller ownership: %w", err)
		}
	} else if err := querier.UpsertOwnership(ctx, toOwnershipRow(*seller)); err != nil {
		return fmt.Errorf("failed to update seller ownership: %w", err)
	}
	if err := querier.UpsertOwnership(ctx, toOwnershipRow(*s.BuyerOwnership)); err != nil {
		return fmt.Errorf("failed to update buyer ownership: %w", err)
	}

	for _, balance := range []*domain.Balance{s.SellerBalance, s.BuyerBalance} {
		if err := querier.UpsertBalance(ctx, queries.Balance{
			OwnerID:   balance.OwnerId,
			Amount:    balance.Amount.String(),
			UpdatedAt: balance.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("failed to update balance of %s: %w", balance.OwnerId, err)
		}
	}
	return nil
}

// selectOwnership returns a zero ownership when the pair has no row.
func selectOwnership(
	ctx context.Context, querier *queries.Queries, assetId, ownerId string,
) (*domain.Ownership, error) {
	ownership, err := findOwnership(ctx, querier, assetId, ownerId)
	if err != nil {
		return nil, err
	}
	if ownership == nil {
		return &domain.Ownership{AssetId: assetId, OwnerId: ownerId}, nil
	}
	return ownership, nil
}

func findOwnership(
	ctx context.Context, querier *queries.Queries, assetId, ownerId string,
) (*domain.Ownership, error) {
	row, err := querier.SelectOwnership(ctx, queries.SelectOwnershipParams{
		AssetID: assetId,
		OwnerID: ownerId,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership: %w", err)
	}
	return &domain.Ownership{
		AssetId:   row.AssetID,
		OwnerId:   row.OwnerID,
		Quantity:  row.Quantity,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func selectBalance(
	ctx context.Context, querier *queries.Queries, ownerId string,
) (*domain.Balance, error) {
	balance, err := findBalance(ctx, querier, ownerId)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &domain.Balance{OwnerId: ownerId, Amount: decimal.Zero}, nil
	}
	return balance, nil
}

func findBalance(
	ctx context.Context, querier *queries.Queries, ownerId string,
) (*domain.Balance, error) {
	row, err := querier.SelectBalance(ctx, ownerId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid balance amount for %s: %w", ownerId, err)
	}
	return &domain.Balance{
		OwnerId:   row.OwnerID,
		Amount:    amount,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func toOwnershipRow(ownership domain.Ownership) queries.Ownership {
	return queries.Ownership{
		AssetID:   ownership.AssetId,
		OwnerID:   ownership.OwnerId,
		Quantity:  ownership.Quantity,
		UpdatedAt: ownership.UpdatedAt,
	}
}

func toListingRow(listing domain.Listing) queries.Listing {
	return queries.Listing{
		ID:             listing.Id,
		AssetID:        listing.AssetId,
		SellerID:       listing.SellerId,
		Price:          listing.Price.String(),
		QuantityListed: listing.QuantityListed,
		QuantitySold:   listing.QuantitySold,
		Status:         int64(listing.Status),
		CreatedAt:      listing.CreatedAt,
		UpdatedAt:      listing.UpdatedAt,
	}
}

func toListing(row queries.Listing) (*domain.Listing, error) {
	price, err := decimal.NewFromString(row.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price for listing %s: %w", row.ID, err)
	}
	return &domain.Listing{
		Id:             row.ID,
		AssetId:        row.AssetID,
		SellerId:       row.SellerID,
		Price:          price,
		QuantityListed: row.QuantityListed,
		QuantitySold:   row.QuantitySold,
		Status:         domain.ListingStatus(row.Status),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func toListings(rows []queries.Listing) ([]domain.Listing, error) {
	listings := make([]domain.Listing, 0, len(rows))
	for _, row := range rows {
		listing, err := toListing(row)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *listing)
	}
	return listings, nil
}

func toBidRow(bid domain.Bid) queries.Bid {
	return queries.Bid{
		ID:        bid.Id,
		ListingID: bid.ListingId,
		BidderID:  bid.BidderId,
		Amount:    bid.Amount.String(),
		Quantity:  bid.Quantity,
		Status:    int64(bid.Status),
		CreatedAt: bid.CreatedAt,
		UpdatedAt: bid.UpdatedAt,
	}
}

func toBid(row queries.Bid) (*domain.Bid, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount for bid %s: %w", row.ID, err)
	}
	return &domain.Bid{
		Id:        row.ID,
		ListingId: row.ListingID,
		BidderId:  row.BidderID,
		Amount:    amount,
		Quantity:  row.Quantity,
		Status:    domain.BidStatus(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}
