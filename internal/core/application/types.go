package application

import (
	"context"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/pkg/errors"
	"github.com/shopspring/decimal"
)

type Service interface {
	Start() error
	Stop()

	LinkAsset(ctx context.Context, assetId, tenantId, actor string) (*domain.CustodyRecord, errors.Error)
	ApproveLink(
		ctx context.Context, id, actor string, req domain.LinkAssetPayload,
	) (*domain.CustodyRecord, errors.Error)
	RejectLink(ctx context.Context, id, actor, reason string) (*domain.CustodyRecord, errors.Error)
	// GetCustodyRecord resyncs the record against the provider when it is stuck
	// below MINTED with a known token.
	GetCustodyRecord(ctx context.Context, id string) (*domain.CustodyRecord, errors.Error)
	TransitionStatus(
		ctx context.Context, id string, status domain.CustodyStatus, meta domain.StatusMetadata,
	) (*domain.CustodyRecord, errors.Error)

	InitiateOperation(ctx context.Context, req InitiateOperationRequest) (*domain.Operation, errors.Error)
	ApproveOperation(
		ctx context.Context, id, checker string, bypassMakerCheck bool,
	) (*domain.Operation, errors.Error)
	RejectOperation(ctx context.Context, id, checker, reason string) (*domain.Operation, errors.Error)
	// ExecuteOperation runs an APPROVED operation synchronously and returns the
	// dispatch error, if any, to the caller.
	ExecuteOperation(ctx context.Context, id string) (*domain.Operation, errors.Error)
	GetOperationDetails(ctx context.Context, id string) (*OperationDetails, errors.Error)

	DepositFunds(
		ctx context.Context, ownerId string, amount decimal.Decimal, actor string,
	) (*domain.Balance, errors.Error)
	CreateListing(
		ctx context.Context, assetId, sellerId string, price decimal.Decimal, quantity int64,
	) (*domain.Listing, errors.Error)
	PlaceBid(
		ctx context.Context, listingId, bidderId string, amount decimal.Decimal, quantity int64,
	) (*domain.Bid, errors.Error)
	AcceptBid(ctx context.Context, bidId, sellerId string) (*domain.Settlement, errors.Error)
	RejectBid(ctx context.Context, bidId, sellerId string) (*domain.Bid, errors.Error)

	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, errors.Error)
	SubscribeAudit(ctx context.Context) (<-chan domain.AuditLog, errors.Error)
}

type InitiateOperationRequest struct {
	Type            domain.OperationType
	CustodyRecordId string
	Payload         []byte
	Maker           string
}

type OperationDetails struct {
	Operation     domain.Operation
	CustodyRecord domain.CustodyRecord
	// Execution is nil if the operation was never submitted for execution by
	// this process.
	Execution *ExecutionHandle
}

type Config struct {
	Blockchain             string
	FundingVaultId         string
	GasAssetSymbol         string
	GasThreshold           decimal.Decimal
	GasTopUpAmount         decimal.Decimal
	GasFundingPollInterval time.Duration
	GasFundingMaxAttempts  int

	Monitor MonitorConfig

	ResyncCooldown   time.Duration
	ResyncInterval   time.Duration
	ExecutionWorkers int
}

type MonitorConfig struct {
	InitialDelay      time.Duration
	StepDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	TransientCooldown time.Duration
	RateLimitCooldown time.Duration
	// Milestones maps a poll attempt number to the progress event emitted when
	// the task is still pending at that attempt.
	Milestones map[int]domain.AuditEventType
}

// DefaultMilestones emits the coarse progress events of a typical mint.
func DefaultMilestones(submitted, propagating, finalizing int) map[int]domain.AuditEventType {
	return map[int]domain.AuditEventType{
		submitted:   domain.EventTaskSubmitted,
		propagating: domain.EventTaskPropagating,
		finalizing:  domain.EventTaskFinalizing,
	}
}

const systemActor = "system"
