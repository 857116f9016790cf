package application

import (
	"context"
	"fmt"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/pkg/errors"
	"github.com/shopspring/decimal"
)

func (s *service) DepositFunds(
	ctx context.Context, ownerId string, amount decimal.Decimal, actor string,
) (*domain.Balance, errors.Error) {
	if ownerId == "" {
		return nil, errors.VALIDATION.New("missing owner").
			WithMetadata(errors.FieldsMetadata{Fields: []string{"ownerId"}})
	}
	if !amount.IsPositive() {
		return nil, errors.VALIDATION.New("deposit amount must be positive").
			WithMetadata(errors.FieldsMetadata{Fields: []string{"amount"}})
	}

	if err := s.repoManager.Market().CreditBalance(ctx, ownerId, amount); err != nil {
		return nil, toServiceError(err)
	}
	balance, err := s.repoManager.Market().GetBalance(ctx, ownerId)
	if err != nil {
		return nil, toServiceError(err)
	}

	s.audit(ctx, domain.EventFundsDeposited, actor, map[string]string{
		"owner_id": ownerId,
		"amount":   amount.String(),
	}, domain.AuditRefs{})
	return balance, nil
}

func (s *service) CreateListing(
	ctx context.Context, assetId, sellerId string, price decimal.Decimal, quantity int64,
) (*domain.Listing, errors.Error) {
	listing, err := domain.NewListing(assetId, sellerId, price, quantity)
	if err != nil {
		return nil, validationError(err, "assetId", "sellerId", "price", "quantity")
	}

	if err := s.repoManager.Market().CreateListing(
		ctx, *listing, func(owned int64, active []domain.Listing) error {
			return domain.CheckListingAvailability(*listing, owned, active)
		},
	); err != nil {
		return nil, toServiceError(err)
	}

	s.audit(ctx, domain.EventListingCreated, sellerId, map[string]string{
		"listing_id": listing.Id,
		"asset_id":   assetId,
		"quantity":   fmt.Sprintf("%d", quantity),
		"price":      price.String(),
	}, domain.AuditRefs{})
	return listing, nil
}

func (s *service) PlaceBid(
	ctx context.Context, listingId, bidderId string, amount decimal.Decimal, quantity int64,
) (*domain.Bid, errors.Error) {
	listing, err := s.repoManager.Market().GetListing(ctx, listingId)
	if err != nil {
		return nil, notFound(err, "listing", listingId)
	}

	bid, err := listing.NewBid(bidderId, amount, quantity)
	if err != nil {
		if _, ok := err.(domain.InvalidStateError); ok {
			return nil, toServiceError(err)
		}
		return nil, validationError(err, "bidderId", "amount", "quantity")
	}

	if err := s.repoManager.Market().AddBid(ctx, *bid); err != nil {
		return nil, toServiceError(err)
	}

	s.audit(ctx, domain.EventBidPlaced, bidderId, map[string]string{
		"bid_id":     bid.Id,
		"listing_id": listingId,
		"amount":     amount.String(),
		"quantity":   fmt.Sprintf("%d", quantity),
	}, domain.AuditRefs{})
	return bid, nil
}

// AcceptBid settles the bid atomically, either every row of the settlement is
// updated or none is.
func (s *service) AcceptBid(
	ctx context.Context, bidId, sellerId string,
) (*domain.Settlement, errors.Error) {
	settlement, err := s.repoManager.Market().SettleBid(
		ctx, bidId, func(settlement *domain.Settlement) error {
			return settlement.Accept(sellerId)
		},
	)
	if err != nil {
		s.metrics.SettlementCompleted("aborted")
		return nil, notFound(err, "bid", bidId)
	}
	s.metrics.SettlementCompleted("settled")

	bid, listing := settlement.Bid, settlement.Listing
	s.audit(ctx, domain.EventBidAccepted, sellerId, map[string]string{
		"bid_id":         bid.Id,
		"listing_id":     listing.Id,
		"asset_id":       listing.AssetId,
		"buyer_id":       bid.BidderId,
		"quantity":       fmt.Sprintf("%d", bid.Quantity),
		"total":          bid.Total().String(),
		"listing_status": listing.Status.String(),
	}, domain.AuditRefs{})
	s.notify(ports.EventBidAccepted, map[string]any{
		"bidId":         bid.Id,
		"listingId":     listing.Id,
		"assetId":       listing.AssetId,
		"buyerId":       bid.BidderId,
		"sellerId":      sellerId,
		"quantity":      bid.Quantity,
		"total":         bid.Total().String(),
		"listingStatus": listing.Status.String(),
	})

	return settlement, nil
}

func (s *service) RejectBid(
	ctx context.Context, bidId, sellerId string,
) (*domain.Bid, errors.Error) {
	bid, err := s.repoManager.Market().GetBid(ctx, bidId)
	if err != nil {
		return nil, notFound(err, "bid", bidId)
	}
	listing, err := s.repoManager.Market().GetListing(ctx, bid.ListingId)
	if err != nil {
		return nil, notFound(err, "listing", bid.ListingId)
	}
	if listing.SellerId != sellerId {
		return nil, toServiceError(domain.NotOwnerError{
			Entity: "listing", Id: listing.Id, Actor: sellerId,
		})
	}

	if err := bid.Reject(); err != nil {
		return nil, toServiceError(err)
	}
	if err := s.repoManager.Market().UpdateBid(ctx, *bid); err != nil {
		return nil, toServiceError(err)
	}

	s.audit(ctx, domain.EventBidRejected, sellerId, map[string]string{
		"bid_id":     bid.Id,
		"listing_id": listing.Id,
	}, domain.AuditRefs{})
	return bid, nil
}
