package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type TaskStatus string

const (
	TaskStatusPendingApproval TaskStatus = "PENDING_APPROVAL"
	TaskStatusSubmitted       TaskStatus = "SUBMITTED"
	TaskStatusCompleted       TaskStatus = "COMPLETED"
	TaskStatusFailed          TaskStatus = "FAILED"
	TaskStatusRejected        TaskStatus = "REJECTED"
	TaskStatusCancelled       TaskStatus = "CANCELLED"
	TaskStatusBlocked         TaskStatus = "BLOCKED"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s.IsFailure()
}

func (s TaskStatus) IsFailure() bool {
	switch s {
	case TaskStatusFailed, TaskStatusRejected, TaskStatusCancelled, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

type TokenSpec struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

type TaskHandle struct {
	TaskId  string     `json:"taskId"`
	Status  TaskStatus `json:"status"`
	TokenId string     `json:"tokenId,omitempty"`
}

type TaskInfo struct {
	TaskId          string     `json:"taskId"`
	Status          TaskStatus `json:"status"`
	TxHash          string     `json:"txHash,omitempty"`
	ContractAddress string     `json:"contractAddress,omitempty"`
	Substatus       string     `json:"substatus,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	// Raw is the provider payload as received, kept for diagnostics.
	Raw []byte `json:"-"`
}

type VaultAsset struct {
	VaultId   string          `json:"vaultId"`
	Symbol    string          `json:"symbol"`
	Available decimal.Decimal `json:"available"`
}

// CustodyProvider is the external custodial signing service. Every call that
// moves funds or tokens is asynchronous on the provider side and returns a task.
type CustodyProvider interface {
	CreateVault(ctx context.Context, name string) (string, error)
	CreateOrGetAddress(ctx context.Context, vaultId, assetSymbol string) (string, error)
	IssueToken(ctx context.Context, vaultId string, spec TokenSpec) (*TaskHandle, error)
	GetTaskStatus(ctx context.Context, taskId string) (*TaskInfo, error)
	Transfer(
		ctx context.Context, fromVaultId, toVaultId, assetSymbol string, amount decimal.Decimal,
	) (string, error)
	ContractCall(
		ctx context.Context, vaultId, contractAddress string, data []byte, assetSymbol string,
	) (string, error)
	// GetVaultAsset returns a zero balance if the vault holds nothing of the asset.
	GetVaultAsset(ctx context.Context, vaultId, assetSymbol string) (*VaultAsset, error)
}

// ProviderError classifies provider failures so that pollers can tell a
// transient hiccup from a definitive answer.
type ProviderError struct {
	Op          string
	StatusCode  int
	RateLimited bool
	Transient   bool
	Err         error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s failed with status %d: %s", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimited covers rate limiting and authorization errors, both of which
// call for a longer cooldown before retrying.
func IsRateLimited(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.RateLimited
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient || providerErr.RateLimited
	}
	return false
}
