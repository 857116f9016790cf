package domain

import (
	"time"

	"github.com/google/uuid"
)

type CustodyStatus uint8

const (
	CustodyStatusUnlinked CustodyStatus = iota
	CustodyStatusPending
	CustodyStatusLinked
	CustodyStatusMinted
	CustodyStatusWithdrawn
	CustodyStatusBurned
	CustodyStatusFrozen
	CustodyStatusFailed
)

var custodyStatusNames = []string{
	"UNLINKED",
	"PENDING",
	"LINKED",
	"MINTED",
	"WITHDRAWN",
	"BURNED",
	"FROZEN",
	"FAILED",
}

func (s CustodyStatus) String() string {
	if int(s) >= len(custodyStatusNames) {
		return "UNKNOWN"
	}
	return custodyStatusNames[s]
}

func ParseCustodyStatus(str string) (CustodyStatus, bool) {
	for i, name := range custodyStatusNames {
		if name == str {
			return CustodyStatus(i), true
		}
	}
	return 0, false
}

var custodyTransitions = map[CustodyStatus][]CustodyStatus{
	CustodyStatusUnlinked: {CustodyStatusPending},
	CustodyStatusPending:  {CustodyStatusLinked, CustodyStatusUnlinked},
	CustodyStatusLinked:   {CustodyStatusMinted, CustodyStatusFailed},
	CustodyStatusMinted: {
		CustodyStatusWithdrawn, CustodyStatusBurned, CustodyStatusFrozen, CustodyStatusFailed,
	},
	CustodyStatusFrozen: {CustodyStatusMinted},
	CustodyStatusFailed: {CustodyStatusLinked, CustodyStatusMinted},
}

func (s CustodyStatus) CanTransitionTo(target CustodyStatus) bool {
	for _, allowed := range custodyTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// CustodyRecord is the authoritative lifecycle record of one asset under custody.
// Timestamps are unix seconds, zero when unset.
type CustodyRecord struct {
	Id                string
	AssetId           string
	TenantId          string
	CreatedBy         string
	Status            CustodyStatus
	VaultWalletId     string
	TokenAddress      string
	TokenId           string
	TokenSymbol       string
	Quantity          string
	FailureReason     string
	FailureDiagnostic string
	LinkedAt          int64
	MintedAt          int64
	WithdrawnAt       int64
	BurnedAt          int64
	CreatedAt         int64
	UpdatedAt         int64
}

func NewCustodyRecord(assetId, tenantId, createdBy string) *CustodyRecord {
	now := time.Now().Unix()
	return &CustodyRecord{
		Id:        uuid.New().String(),
		AssetId:   assetId,
		TenantId:  tenantId,
		CreatedBy: createdBy,
		Status:    CustodyStatusUnlinked,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StatusMetadata carries the optional side data of a custody transition. Empty
// fields leave the record untouched.
type StatusMetadata struct {
	TxHash            string
	TokenAddress      string
	TokenId           string
	TokenSymbol       string
	VaultWalletId     string
	Quantity          string
	FailureReason     string
	FailureDiagnostic string
	At                time.Time
}

// Transition moves the record to target if the transition table allows it and
// applies the metadata.
func (r *CustodyRecord) Transition(target CustodyStatus, meta StatusMetadata) error {
	if !r.Status.CanTransitionTo(target) {
		return InvalidTransitionError{
			Entity: "custody record",
			Id:     r.Id,
			From:   r.Status.String(),
			To:     target.String(),
		}
	}

	at := meta.At
	if at.IsZero() {
		at = time.Now()
	}

	if meta.TokenAddress != "" {
		r.TokenAddress = meta.TokenAddress
	}
	if meta.TokenId != "" {
		r.TokenId = meta.TokenId
	}
	if meta.TokenSymbol != "" {
		r.TokenSymbol = meta.TokenSymbol
	}
	if meta.VaultWalletId != "" {
		r.VaultWalletId = meta.VaultWalletId
	}
	if meta.Quantity != "" {
		r.Quantity = meta.Quantity
	}

	switch target {
	case CustodyStatusLinked:
		if r.LinkedAt == 0 {
			r.LinkedAt = at.Unix()
		}
		r.clearFailure()
	case CustodyStatusMinted:
		if r.MintedAt == 0 {
			r.MintedAt = at.Unix()
		}
		r.clearFailure()
	case CustodyStatusWithdrawn:
		r.WithdrawnAt = at.Unix()
	case CustodyStatusBurned:
		r.BurnedAt = at.Unix()
	case CustodyStatusFailed:
		r.FailureReason = meta.FailureReason
		r.FailureDiagnostic = meta.FailureDiagnostic
	}

	r.Status = target
	r.UpdatedAt = at.Unix()
	return nil
}

// ReconcilableStatuses are the statuses a record can sit in while a provider
// task for its token may still complete.
var ReconcilableStatuses = []CustodyStatus{CustodyStatusLinked, CustodyStatusFailed}

// NeedsResync reports whether the record has a known token that never reached
// MINTED locally and was last touched before the cooldown elapsed.
func (r *CustodyRecord) NeedsResync(now time.Time, cooldown time.Duration) bool {
	if r.TokenId == "" {
		return false
	}
	if r.Status != CustodyStatusLinked && r.Status != CustodyStatusFailed {
		return false
	}
	return now.Sub(time.Unix(r.UpdatedAt, 0)) > cooldown
}

func (r *CustodyRecord) clearFailure() {
	r.FailureReason = ""
	r.FailureDiagnostic = ""
}

// VaultWallet is the external vault and address provisioned for a custody record.
type VaultWallet struct {
	Id              string
	CustodyRecordId string
	VaultId         string
	Blockchain      string
	AssetSymbol     string
	Address         string
	CreatedAt       int64
}

func NewVaultWallet(custodyRecordId, vaultId, blockchain, assetSymbol, address string) VaultWallet {
	return VaultWallet{
		Id:              uuid.New().String(),
		CustodyRecordId: custodyRecordId,
		VaultId:         vaultId,
		Blockchain:      blockchain,
		AssetSymbol:     assetSymbol,
		Address:         address,
		CreatedAt:       time.Now().Unix(),
	}
}
