package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ListingStatus uint8

const (
	ListingStatusActive ListingStatus = iota
	ListingStatusSold
	ListingStatusCancelled
	ListingStatusExpired
)

func (s ListingStatus) String() string {
	return []string{"ACTIVE", "SOLD", "CANCELLED", "EXPIRED"}[s]
}

type BidStatus uint8

const (
	BidStatusPending BidStatus = iota
	BidStatusAccepted
	BidStatusRejected
)

func (s BidStatus) String() string {
	return []string{"PENDING", "ACCEPTED", "REJECTED"}[s]
}

type Ownership struct {
	AssetId   string
	OwnerId   string
	Quantity  int64
	UpdatedAt int64
}

type Balance struct {
	OwnerId   string
	Amount    decimal.Decimal
	UpdatedAt int64
}

type Listing struct {
	Id             string
	AssetId        string
	SellerId       string
	Price          decimal.Decimal
	QuantityListed int64
	QuantitySold   int64
	Status         ListingStatus
	CreatedAt      int64
	UpdatedAt      int64
}

func NewListing(assetId, sellerId string, price decimal.Decimal, quantity int64) (*Listing, error) {
	if assetId == "" || sellerId == "" {
		return nil, fmt.Errorf("missing asset or seller")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("listing quantity must be positive")
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("listing price must be positive")
	}
	now := time.Now().Unix()
	return &Listing{
		Id:             uuid.New().String(),
		AssetId:        assetId,
		SellerId:       sellerId,
		Price:          price,
		QuantityListed: quantity,
		Status:         ListingStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (l *Listing) Remaining() int64 {
	return l.QuantityListed - l.QuantitySold
}

// NewBid places a bid of amount per unit for quantity units of the listing.
func (l *Listing) NewBid(bidderId string, amount decimal.Decimal, quantity int64) (*Bid, error) {
	if l.Status != ListingStatusActive {
		return nil, InvalidStateError{Entity: "listing", Id: l.Id, Status: l.Status.String()}
	}
	if bidderId == "" {
		return nil, fmt.Errorf("missing bidder")
	}
	if bidderId == l.SellerId {
		return nil, fmt.Errorf("seller cannot bid on own listing")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("bid amount must be positive")
	}
	if quantity <= 0 || quantity > l.Remaining() {
		return nil, fmt.Errorf(
			"bid quantity must be between 1 and %d, got %d", l.Remaining(), quantity,
		)
	}
	now := time.Now().Unix()
	return &Bid{
		Id:        uuid.New().String(),
		ListingId: l.Id,
		BidderId:  bidderId,
		Amount:    amount,
		Quantity:  quantity,
		Status:    BidStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AvailableToList is the quantity the seller can still list given the ACTIVE
// listings already reserving part of the owned quantity. excludeId is skipped.
func AvailableToList(owned int64, listings []Listing, excludeId string) int64 {
	reserved := int64(0)
	for _, l := range listings {
		if l.Id == excludeId || l.Status != ListingStatusActive {
			continue
		}
		reserved += l.Remaining()
	}
	return owned - reserved
}

// CheckListingAvailability rejects a listing that would reserve more than the
// seller owns once the other ACTIVE listings for the same asset are counted.
func CheckListingAvailability(listing Listing, owned int64, others []Listing) error {
	sameAsset := make([]Listing, 0, len(others))
	for _, l := range others {
		if l.AssetId == listing.AssetId && l.SellerId == listing.SellerId {
			sameAsset = append(sameAsset, l)
		}
	}
	available := AvailableToList(owned, sameAsset, listing.Id)
	if listing.QuantityListed > available {
		return ListingOversoldError{
			AssetId:   listing.AssetId,
			SellerId:  listing.SellerId,
			Available: available,
			Requested: listing.QuantityListed,
		}
	}
	return nil
}

type Bid struct {
	Id        string
	ListingId string
	BidderId  string
	Amount    decimal.Decimal
	Quantity  int64
	Status    BidStatus
	CreatedAt int64
	UpdatedAt int64
}

// Total is what the bidder pays when the bid is accepted.
func (b *Bid) Total() decimal.Decimal {
	return b.Amount.Mul(decimal.NewFromInt(b.Quantity))
}

func (b *Bid) Reject() error {
	if b.Status != BidStatusPending {
		return InvalidStateError{Entity: "bid", Id: b.Id, Status: b.Status.String()}
	}
	b.Status = BidStatusRejected
	b.UpdatedAt = time.Now().Unix()
	return nil
}

// Settlement is the set of rows touched when a bid is accepted. Nil ownerships
// and balances stand for rows that do not exist yet.
type Settlement struct {
	Bid             *Bid
	Listing         *Listing
	SellerOwnership *Ownership
	BuyerOwnership  *Ownership
	SellerBalance   *Balance
	BuyerBalance    *Balance
}

// Accept applies the bid to all rows of the settlement. Nothing is mutated if
// any check fails.
func (s *Settlement) Accept(seller string) error {
	bid, listing := s.Bid, s.Listing
	if bid.Status != BidStatusPending {
		return InvalidStateError{Entity: "bid", Id: bid.Id, Status: bid.Status.String()}
	}
	if listing.Status != ListingStatusActive {
		return InvalidStateError{Entity: "listing", Id: listing.Id, Status: listing.Status.String()}
	}
	if listing.SellerId != seller {
		return NotOwnerError{Entity: "listing", Id: listing.Id, Actor: seller}
	}
	if bid.Quantity > listing.Remaining() {
		return ListingOversoldError{
			AssetId:   listing.AssetId,
			SellerId:  seller,
			Available: listing.Remaining(),
			Requested: bid.Quantity,
		}
	}

	owned := int64(0)
	if s.SellerOwnership != nil {
		owned = s.SellerOwnership.Quantity
	}
	if owned < bid.Quantity {
		return InsufficientOwnershipError{
			AssetId:   listing.AssetId,
			OwnerId:   seller,
			Owned:     owned,
			Requested: bid.Quantity,
		}
	}

	total := bid.Total()
	available := decimal.Zero
	if s.BuyerBalance != nil {
		available = s.BuyerBalance.Amount
	}
	if available.LessThan(total) {
		return InsufficientBalanceError{
			OwnerId:   bid.BidderId,
			Available: available.String(),
			Required:  total.String(),
		}
	}

	now := time.Now().Unix()

	s.SellerOwnership.Quantity -= bid.Quantity
	s.SellerOwnership.UpdatedAt = now

	if s.BuyerOwnership == nil {
		s.BuyerOwnership = &Ownership{AssetId: listing.AssetId, OwnerId: bid.BidderId}
	}
	s.BuyerOwnership.Quantity += bid.Quantity
	s.BuyerOwnership.UpdatedAt = now

	s.BuyerBalance.Amount = s.BuyerBalance.Amount.Sub(total)
	s.BuyerBalance.UpdatedAt = now

	if s.SellerBalance == nil {
		s.SellerBalance = &Balance{OwnerId: seller, Amount: decimal.Zero}
	}
	s.SellerBalance.Amount = s.SellerBalance.Amount.Add(total)
	s.SellerBalance.UpdatedAt = now

	listing.QuantitySold += bid.Quantity
	if listing.Remaining() == 0 {
		listing.Status = ListingStatusSold
	}
	listing.UpdatedAt = now

	bid.Status = BidStatusAccepted
	bid.UpdatedAt = now
	return nil
}

// SellerOwnershipConsumed reports whether the seller row must be deleted.
func (s *Settlement) SellerOwnershipConsumed() bool {
	return s.SellerOwnership != nil && s.SellerOwnership.Quantity == 0
}
