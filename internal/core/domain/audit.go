package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	EventLinkRequested          AuditEventType = "LINK_REQUESTED"
	EventLinkApproved           AuditEventType = "LINK_APPROVED"
	EventLinkRejected           AuditEventType = "LINK_REJECTED"
	EventGasFundingFailed       AuditEventType = "GAS_FUNDING_FAILED"
	EventCustodyStatusChanged   AuditEventType = "CUSTODY_STATUS_CHANGED"
	EventOperationInitiated     AuditEventType = "OPERATION_INITIATED"
	EventOperationApproved      AuditEventType = "OPERATION_APPROVED"
	EventOperationRejected      AuditEventType = "OPERATION_REJECTED"
	EventOperationExecuting     AuditEventType = "OPERATION_EXECUTING"
	EventOperationExecuted      AuditEventType = "OPERATION_EXECUTED"
	EventOperationFailed        AuditEventType = "OPERATION_FAILED"
	EventTaskSubmitted          AuditEventType = "TASK_SUBMITTED"
	EventTaskPropagating        AuditEventType = "TASK_PROPAGATING"
	EventTaskFinalizing         AuditEventType = "TASK_FINALIZING"
	EventTokenMinted            AuditEventType = "TOKEN_MINTED"
	EventOwnershipCreditFailed  AuditEventType = "OWNERSHIP_CREDIT_FAILED"
	EventTokenBurned            AuditEventType = "TOKEN_BURNED"
	EventTokenTransferred       AuditEventType = "TOKEN_TRANSFERRED"
	EventTokenFrozen            AuditEventType = "TOKEN_FROZEN"
	EventTokenUnfrozen          AuditEventType = "TOKEN_UNFROZEN"
	EventReconciliationTimeout  AuditEventType = "RECONCILIATION_TIMEOUT"
	EventReconciliationResynced AuditEventType = "RECONCILIATION_RESYNCED"
	EventListingCreated         AuditEventType = "LISTING_CREATED"
	EventBidPlaced              AuditEventType = "BID_PLACED"
	EventBidAccepted            AuditEventType = "BID_ACCEPTED"
	EventBidRejected            AuditEventType = "BID_REJECTED"
	EventFundsDeposited         AuditEventType = "FUNDS_DEPOSITED"
)

// AuditLog is an append-only entry, it is never updated or deleted.
type AuditLog struct {
	Id              string
	EventType       AuditEventType
	Actor           string
	CustodyRecordId string
	OperationId     string
	Metadata        map[string]string
	CreatedAt       int64
}

type AuditRefs struct {
	CustodyRecordId string
	OperationId     string
}

func NewAuditLog(
	eventType AuditEventType, actor string, metadata map[string]string, refs AuditRefs,
) AuditLog {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return AuditLog{
		Id:              uuid.New().String(),
		EventType:       eventType,
		Actor:           actor,
		CustodyRecordId: refs.CustodyRecordId,
		OperationId:     refs.OperationId,
		Metadata:        metadata,
		CreatedAt:       time.Now().UnixMilli(),
	}
}

type AuditFilter struct {
	CustodyRecordId string
	OperationId     string
	EventType       AuditEventType
	// Limit of 0 means no limit.
	Limit int
}

func (f AuditFilter) Matches(entry AuditLog) bool {
	if f.CustodyRecordId != "" && f.CustodyRecordId != entry.CustodyRecordId {
		return false
	}
	if f.OperationId != "" && f.OperationId != entry.OperationId {
		return false
	}
	if f.EventType != "" && f.EventType != entry.EventType {
		return false
	}
	return true
}
