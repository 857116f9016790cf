package application

import (
	stderrors "errors"
	"strconv"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/pkg/errors"
)

// toServiceError lifts domain and infrastructure errors into typed errors.
// Errors that are already typed are returned as they are.
func toServiceError(err error) errors.Error {
	if err == nil {
		return nil
	}

	var typed errors.Error
	if stderrors.As(err, &typed) {
		return typed
	}

	var (
		transitionErr   domain.InvalidTransitionError
		makerCheckerErr domain.MakerCheckerError
		notOwnerErr     domain.NotOwnerError
		invalidStateErr domain.InvalidStateError
		ownershipErr    domain.InsufficientOwnershipError
		balanceErr      domain.InsufficientBalanceError
		oversoldErr     domain.ListingOversoldError
		providerErr     *ports.ProviderError
	)

	switch {
	case stderrors.As(err, &transitionErr):
		return errors.INVALID_STATUS_TRANSITION.Wrap(err).WithMetadata(errors.TransitionMetadata{
			Entity: transitionErr.Entity,
			Id:     transitionErr.Id,
			From:   transitionErr.From,
			To:     transitionErr.To,
		})
	case stderrors.As(err, &makerCheckerErr):
		return errors.MAKER_CHECKER_VIOLATION.Wrap(err).WithMetadata(errors.MakerCheckerMetadata{
			OperationId: makerCheckerErr.OperationId,
			Actor:       makerCheckerErr.Actor,
		})
	case stderrors.As(err, &notOwnerErr):
		return errors.NOT_OWNER.Wrap(err).WithMetadata(errors.EntityMetadata{
			Entity: notOwnerErr.Entity,
			Id:     notOwnerErr.Id,
		})
	case stderrors.As(err, &invalidStateErr):
		return errors.INVALID_STATE.Wrap(err).WithMetadata(errors.EntityMetadata{
			Entity: invalidStateErr.Entity,
			Id:     invalidStateErr.Id,
		})
	case stderrors.As(err, &ownershipErr):
		return errors.INSUFFICIENT_OWNERSHIP.Wrap(err).WithMetadata(errors.OwnershipMetadata{
			AssetId:   ownershipErr.AssetId,
			OwnerId:   ownershipErr.OwnerId,
			Owned:     ownershipErr.Owned,
			Requested: ownershipErr.Requested,
		})
	case stderrors.As(err, &balanceErr):
		return errors.INSUFFICIENT_BALANCE.Wrap(err).WithMetadata(errors.BalanceMetadata{
			OwnerId:   balanceErr.OwnerId,
			Available: balanceErr.Available,
			Required:  balanceErr.Required,
		})
	case stderrors.As(err, &oversoldErr):
		return errors.LISTING_OVERSOLD.Wrap(err).WithMetadata(errors.OwnershipMetadata{
			AssetId:   oversoldErr.AssetId,
			OwnerId:   oversoldErr.SellerId,
			Owned:     oversoldErr.Available,
			Requested: oversoldErr.Requested,
		})
	case stderrors.Is(err, domain.ErrNotFound):
		return errors.NOT_FOUND.Wrap(err)
	case stderrors.Is(err, domain.ErrDuplicateAsset):
		return errors.DUPLICATE_ASSET.Wrap(err)
	case stderrors.Is(err, domain.ErrLiveOperationExists):
		return errors.PENDING_OPERATION_EXISTS.Wrap(err)
	case stderrors.As(err, &providerErr):
		return errors.PROVIDER_ERROR.Wrap(err).WithMetadata(errors.ProviderMetadata{
			Transient: ports.IsTransient(err),
		})
	default:
		return errors.INTERNAL_ERROR.Wrap(err)
	}
}

func validationError(err error, fields ...string) errors.Error {
	return errors.VALIDATION.Wrap(err).WithMetadata(errors.FieldsMetadata{Fields: fields})
}

func notFound(err error, entity, id string) errors.Error {
	if stderrors.Is(err, domain.ErrNotFound) {
		return errors.NOT_FOUND.Wrap(err).WithMetadata(errors.EntityMetadata{
			Entity: entity, Id: id,
		})
	}
	return toServiceError(err)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
