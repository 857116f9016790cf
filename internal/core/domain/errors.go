package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrLiveOperationExists = errors.New("custody record already has a live operation")
	ErrDuplicateAsset      = errors.New("asset already under custody")
)

// InvalidTransitionError is returned whenever a status change is not listed in
// the transition table of the entity.
type InvalidTransitionError struct {
	Entity string
	Id     string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf(
		"invalid %s status transition for %s: %s -> %s", e.Entity, e.Id, e.From, e.To,
	)
}

// MakerCheckerError is returned when the checker of an operation is also its maker.
type MakerCheckerError struct {
	OperationId string
	Actor       string
}

func (e MakerCheckerError) Error() string {
	return fmt.Sprintf(
		"operation %s was initiated by %s and cannot be approved by the same actor",
		e.OperationId, e.Actor,
	)
}

type NotOwnerError struct {
	Entity string
	Id     string
	Actor  string
}

func (e NotOwnerError) Error() string {
	return fmt.Sprintf("%s %s does not belong to %s", e.Entity, e.Id, e.Actor)
}

// InvalidStateError is returned when an entity exists but is not in a status that
// allows the requested action.
type InvalidStateError struct {
	Entity string
	Id     string
	Status string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s", e.Entity, e.Id, e.Status)
}

type InsufficientOwnershipError struct {
	AssetId   string
	OwnerId   string
	Owned     int64
	Requested int64
}

func (e InsufficientOwnershipError) Error() string {
	return fmt.Sprintf(
		"%s owns %d of asset %s, %d requested", e.OwnerId, e.Owned, e.AssetId, e.Requested,
	)
}

type InsufficientBalanceError struct {
	OwnerId   string
	Available string
	Required  string
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf(
		"balance of %s is %s, %s required", e.OwnerId, e.Available, e.Required,
	)
}

type ListingOversoldError struct {
	AssetId   string
	SellerId  string
	Available int64
	Requested int64
}

func (e ListingOversoldError) Error() string {
	return fmt.Sprintf(
		"%s can list at most %d of asset %s, %d requested",
		e.SellerId, e.Available, e.AssetId, e.Requested,
	)
}
