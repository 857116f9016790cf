package domain_test

import (
	"testing"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

var allOperationStatuses = []domain.OperationStatus{
	domain.OperationStatusPendingMaker,
	domain.OperationStatusPendingChecker,
	domain.OperationStatusApproved,
	domain.OperationStatusExecuting,
	domain.OperationStatusExecuted,
	domain.OperationStatusRejected,
	domain.OperationStatusFailed,
}

func TestOperationTransitions(t *testing.T) {
	allowed := map[domain.OperationStatus][]domain.OperationStatus{
		domain.OperationStatusPendingMaker: {
			domain.OperationStatusPendingChecker, domain.OperationStatusRejected,
		},
		domain.OperationStatusPendingChecker: {
			domain.OperationStatusApproved, domain.OperationStatusRejected,
		},
		domain.OperationStatusApproved: {
			domain.OperationStatusExecuting,
			domain.OperationStatusExecuted,
			domain.OperationStatusFailed,
		},
		domain.OperationStatusExecuting: {
			domain.OperationStatusExecuted, domain.OperationStatusFailed,
		},
	}

	for _, from := range allOperationStatuses {
		for _, to := range allOperationStatuses {
			expected := false
			for _, s := range allowed[from] {
				if s == to {
					expected = true
				}
			}
			t.Run(from.String()+"_to_"+to.String(), func(t *testing.T) {
				require.Equal(t, expected, from.CanTransitionTo(to))
			})
		}
	}

	for _, status := range allOperationStatuses {
		terminal := status == domain.OperationStatusExecuted ||
			status == domain.OperationStatusRejected ||
			status == domain.OperationStatusFailed
		require.Equal(t, terminal, status.IsTerminal(), status.String())
	}
}

func TestOperationApprove(t *testing.T) {
	payload := []byte(`{"name":"Gold","symbol":"GLD","decimals":18,"totalSupply":"1000"}`)

	tests := []struct {
		name    string
		checker string
		bypass  bool
		wantErr bool
	}{
		{"different_checker", "bob", false, false},
		{"maker_is_checker", "alice", false, true},
		{"maker_is_checker_with_bypass", "alice", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := domain.NewOperation(domain.OperationTypeMint, "rec", payload, "alice")
			require.NoError(t, err)
			require.Equal(t, domain.OperationStatusPendingChecker, op.Status)
			require.Len(t, op.OffchainHash, 64)

			err = op.Approve(tt.checker, tt.bypass)
			if tt.wantErr {
				var mcErr domain.MakerCheckerError
				require.ErrorAs(t, err, &mcErr)
				require.Equal(t, domain.OperationStatusPendingChecker, op.Status)
				return
			}
			require.NoError(t, err)
			require.Equal(t, domain.OperationStatusApproved, op.Status)
			require.Equal(t, tt.checker, op.ApprovedBy)
		})
	}

	t.Run("approve_twice", func(t *testing.T) {
		op, err := domain.NewOperation(domain.OperationTypeMint, "rec", payload, "alice")
		require.NoError(t, err)
		require.NoError(t, op.Approve("bob", false))

		var transitionErr domain.InvalidTransitionError
		require.ErrorAs(t, op.Approve("carol", false), &transitionErr)
	})

	t.Run("reject_after_approve", func(t *testing.T) {
		op, err := domain.NewOperation(domain.OperationTypeMint, "rec", payload, "alice")
		require.NoError(t, err)
		require.NoError(t, op.Approve("bob", false))
		require.Error(t, op.Reject("bob", "too late"))
	})
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		opType  domain.OperationType
		payload string
		wantErr bool
	}{
		{"mint_valid", domain.OperationTypeMint,
			`{"name":"Gold","symbol":"GLD","decimals":18,"totalSupply":"1000"}`, false},
		{"mint_zero_supply", domain.OperationTypeMint,
			`{"name":"Gold","symbol":"GLD","totalSupply":"0"}`, true},
		{"mint_missing_fields", domain.OperationTypeMint, `{}`, true},
		{"burn_valid", domain.OperationTypeBurn, `{"amount":"10.5"}`, false},
		{"burn_not_a_number", domain.OperationTypeBurn, `{"amount":"ten"}`, true},
		{"transfer_missing_vault", domain.OperationTypeTransfer, `{"amount":"1"}`, true},
		{"link_valid", domain.OperationTypeLinkAsset,
			`{"assetSymbol":"ETH_TEST","blockchain":"ETH"}`, false},
		{"freeze_empty", domain.OperationTypeFreeze, ``, false},
		{"unknown_type", domain.OperationTypeUnknown, `{}`, true},
		{"malformed_json", domain.OperationTypeBurn, `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.DecodePayload(tt.opType, []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOperationStalled(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		status   domain.OperationStatus
		taskId   string
		age      time.Duration
		expected bool
	}{
		{"executing_untouched", domain.OperationStatusExecuting, "tx-1", time.Minute, true},
		{"within_cooldown", domain.OperationStatusExecuting, "tx-1", time.Second, false},
		{"no_task", domain.OperationStatusExecuting, "", time.Minute, false},
		{"approved", domain.OperationStatusApproved, "", time.Minute, false},
		{"executed", domain.OperationStatusExecuted, "tx-1", time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := domain.Operation{
				Status:         tt.status,
				ExternalTaskId: tt.taskId,
				UpdatedAt:      now.Add(-tt.age).Unix(),
			}
			require.Equal(t, tt.expected, op.Stalled(now, 30*time.Second))
		})
	}
}
