package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
)

type OperationType uint8

const (
	OperationTypeUnknown OperationType = iota
	OperationTypeLinkAsset
	OperationTypeMint
	OperationTypeBurn
	OperationTypeFreeze
	OperationTypeUnfreeze
	OperationTypeTransfer
)

var operationTypeNames = []string{
	"UNKNOWN",
	"LINK_ASSET",
	"MINT",
	"BURN",
	"FREEZE",
	"UNFREEZE",
	"TRANSFER",
}

func (t OperationType) String() string {
	if int(t) >= len(operationTypeNames) {
		return "UNKNOWN"
	}
	return operationTypeNames[t]
}

func ParseOperationType(str string) (OperationType, bool) {
	for i, name := range operationTypeNames {
		if i > 0 && name == str {
			return OperationType(i), true
		}
	}
	return OperationTypeUnknown, false
}

type OperationStatus uint8

const (
	OperationStatusPendingMaker OperationStatus = iota
	OperationStatusPendingChecker
	OperationStatusApproved
	OperationStatusExecuting
	OperationStatusExecuted
	OperationStatusRejected
	OperationStatusFailed
)

var operationStatusNames = []string{
	"PENDING_MAKER",
	"PENDING_CHECKER",
	"APPROVED",
	"EXECUTING",
	"EXECUTED",
	"REJECTED",
	"FAILED",
}

func (s OperationStatus) String() string {
	if int(s) >= len(operationStatusNames) {
		return "UNKNOWN"
	}
	return operationStatusNames[s]
}

func ParseOperationStatus(str string) (OperationStatus, bool) {
	for i, name := range operationStatusNames {
		if name == str {
			return OperationStatus(i), true
		}
	}
	return 0, false
}

var operationTransitions = map[OperationStatus][]OperationStatus{
	OperationStatusPendingMaker:   {OperationStatusPendingChecker, OperationStatusRejected},
	OperationStatusPendingChecker: {OperationStatusApproved, OperationStatusRejected},
	OperationStatusApproved: {
		OperationStatusExecuting, OperationStatusExecuted, OperationStatusFailed,
	},
	OperationStatusExecuting: {OperationStatusExecuted, OperationStatusFailed},
}

func (s OperationStatus) CanTransitionTo(target OperationStatus) bool {
	for _, allowed := range operationTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusExecuted ||
		s == OperationStatusRejected ||
		s == OperationStatusFailed
}

// LiveOperationStatuses are the non-terminal statuses, at most one operation per
// custody record may be in one of them.
var LiveOperationStatuses = []OperationStatus{
	OperationStatusPendingMaker,
	OperationStatusPendingChecker,
	OperationStatusApproved,
	OperationStatusExecuting,
}

type Operation struct {
	Id                string
	Type              OperationType
	Status            OperationStatus
	CustodyRecordId   string
	Payload           []byte
	InitiatedBy       string
	ApprovedBy        string
	RejectedBy        string
	RejectionReason   string
	ExternalTaskId    string
	ProviderStatus    string
	TxHash            string
	OffchainHash      string
	FailureReason     string
	FailureDiagnostic string
	CreatedAt         int64
	UpdatedAt         int64
}

// NewOperation validates the payload against the operation type and returns the
// operation waiting for a checker.
func NewOperation(
	opType OperationType, custodyRecordId string, payload []byte, maker string,
) (*Operation, error) {
	if _, err := DecodePayload(opType, payload); err != nil {
		return nil, err
	}

	nonce := uuid.New().String()
	hash := sha256.New()
	for _, part := range [][]byte{
		[]byte(opType.String()), []byte(custodyRecordId), payload, []byte(maker), []byte(nonce),
	} {
		hash.Write(part)
		hash.Write([]byte{0})
	}

	now := time.Now().Unix()
	return &Operation{
		Id:              uuid.New().String(),
		Type:            opType,
		Status:          OperationStatusPendingChecker,
		CustodyRecordId: custodyRecordId,
		Payload:         payload,
		InitiatedBy:     maker,
		OffchainHash:    hex.EncodeToString(hash.Sum(nil)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Approve records the checker. bypassMakerCheck is reserved to direct admin paths.
func (o *Operation) Approve(checker string, bypassMakerCheck bool) error {
	if !bypassMakerCheck && checker == o.InitiatedBy {
		return MakerCheckerError{OperationId: o.Id, Actor: checker}
	}
	if err := o.transition(OperationStatusApproved); err != nil {
		return err
	}
	o.ApprovedBy = checker
	return nil
}

func (o *Operation) Reject(checker, reason string) error {
	if err := o.transition(OperationStatusRejected); err != nil {
		return err
	}
	o.RejectedBy = checker
	o.RejectionReason = reason
	return nil
}

// MarkExecuting records the provider task the operation has been dispatched as.
func (o *Operation) MarkExecuting(taskId, providerStatus string) error {
	if err := o.transition(OperationStatusExecuting); err != nil {
		return err
	}
	o.ExternalTaskId = taskId
	o.ProviderStatus = providerStatus
	return nil
}

func (o *Operation) MarkExecuted(txHash string) error {
	if err := o.transition(OperationStatusExecuted); err != nil {
		return err
	}
	if txHash != "" {
		o.TxHash = txHash
	}
	return nil
}

func (o *Operation) Fail(reason, diagnostic string) error {
	if err := o.transition(OperationStatusFailed); err != nil {
		return err
	}
	o.FailureReason = reason
	o.FailureDiagnostic = diagnostic
	return nil
}

// MirrorProviderStatus keeps the last provider status seen while polling.
func (o *Operation) MirrorProviderStatus(status string) {
	o.ProviderStatus = status
	o.UpdatedAt = time.Now().Unix()
}

func (o *Operation) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Stalled reports whether the operation was dispatched to the provider and has
// not been touched for longer than cooldown.
func (o *Operation) Stalled(now time.Time, cooldown time.Duration) bool {
	if o.Status != OperationStatusExecuting || o.ExternalTaskId == "" {
		return false
	}
	return now.Sub(time.Unix(o.UpdatedAt, 0)) > cooldown
}

func (o *Operation) transition(target OperationStatus) error {
	if !o.Status.CanTransitionTo(target) {
		return InvalidTransitionError{
			Entity: "operation",
			Id:     o.Id,
			From:   o.Status.String(),
			To:     target.String(),
		}
	}
	o.Status = target
	o.UpdatedAt = time.Now().Unix()
	return nil
}

type LinkAssetPayload struct {
	VaultName   string `json:"vaultName"`
	AssetSymbol string `json:"assetSymbol"`
	Blockchain  string `json:"blockchain"`
}

type MintPayload struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

type BurnPayload struct {
	Amount string `json:"amount"`
}

type TransferPayload struct {
	ToVaultId string `json:"toVaultId"`
	Amount    string `json:"amount"`
}

type FreezePayload struct {
	Reason string `json:"reason,omitempty"`
}

// DecodePayload parses and validates the payload of the given operation type.
// An empty payload is accepted for FREEZE/UNFREEZE.
func DecodePayload(opType OperationType, raw []byte) (any, error) {
	switch opType {
	case OperationTypeLinkAsset:
		var p LinkAssetPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		var result *multierror.Error
		if p.AssetSymbol == "" {
			result = multierror.Append(result, fmt.Errorf("missing assetSymbol"))
		}
		if p.Blockchain == "" {
			result = multierror.Append(result, fmt.Errorf("missing blockchain"))
		}
		return p, result.ErrorOrNil()
	case OperationTypeMint:
		var p MintPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		var result *multierror.Error
		if p.Name == "" {
			result = multierror.Append(result, fmt.Errorf("missing name"))
		}
		if p.Symbol == "" {
			result = multierror.Append(result, fmt.Errorf("missing symbol"))
		}
		if err := validatePositiveAmount("totalSupply", p.TotalSupply); err != nil {
			result = multierror.Append(result, err)
		}
		return p, result.ErrorOrNil()
	case OperationTypeBurn:
		var p BurnPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		return p, validatePositiveAmount("amount", p.Amount)
	case OperationTypeTransfer:
		var p TransferPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		var result *multierror.Error
		if p.ToVaultId == "" {
			result = multierror.Append(result, fmt.Errorf("missing toVaultId"))
		}
		if err := validatePositiveAmount("amount", p.Amount); err != nil {
			result = multierror.Append(result, err)
		}
		return p, result.ErrorOrNil()
	case OperationTypeFreeze, OperationTypeUnfreeze:
		var p FreezePayload
		if len(raw) == 0 {
			return p, nil
		}
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported operation type %s", opType)
	}
}

func unmarshalPayload(raw []byte, dest any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func validatePositiveAmount(field, value string) error {
	if value == "" {
		return fmt.Errorf("missing %s", field)
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q", field, value)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}
