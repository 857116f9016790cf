package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type MarketRepository interface {
	// GetOwnership returns a zero quantity ownership if the pair has no row.
	GetOwnership(ctx context.Context, assetId, ownerId string) (*Ownership, error)
	// CreditOwnership adds quantity to the pair, creating the row if needed.
	CreditOwnership(ctx context.Context, assetId, ownerId string, quantity int64) error
	// GetBalance returns a zero balance if the owner has no row.
	GetBalance(ctx context.Context, ownerId string) (*Balance, error)
	CreditBalance(ctx context.Context, ownerId string, amount decimal.Decimal) error

	// CreateListing stores the listing in the same transaction in which guard is
	// given the seller's owned quantity and ACTIVE listings for the asset.
	CreateListing(
		ctx context.Context, listing Listing, guard func(owned int64, active []Listing) error,
	) error
	GetListing(ctx context.Context, id string) (*Listing, error)
	GetActiveListings(ctx context.Context, assetId, sellerId string) ([]Listing, error)

	AddBid(ctx context.Context, bid Bid) error
	GetBid(ctx context.Context, id string) (*Bid, error)
	UpdateBid(ctx context.Context, bid Bid) error

	// SettleBid loads every row of the settlement of the bid, hands it to settle
	// and persists the outcome atomically. Nothing is written if settle fails.
	SettleBid(ctx context.Context, bidId string, settle func(*Settlement) error) (*Settlement, error)
	Close()
}
