package application

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(
	t *testing.T, cfg Config,
) (*service, *fakeRepoManager, *mockProvider, *fakeLiveStore) {
	t.Helper()

	repoManager := newFakeRepoManager()
	provider := &mockProvider{}
	liveStore := newFakeLiveStore()

	svc, err := NewService(repoManager, provider, liveStore, nil, nil, nil, nil, cfg)
	require.NoError(t, err)

	s := svc.(*service)
	t.Cleanup(func() {
		s.stop()
		s.queue.stop()
		s.wg.Wait()
	})
	return s, repoManager, provider, liveStore
}

// seedRecord stores a custody record in the given status, with a vault wallet
// when the status implies one.
func seedRecord(
	t *testing.T, repo *fakeRepoManager, status domain.CustodyStatus,
) domain.CustodyRecord {
	t.Helper()

	record := domain.NewCustodyRecord("asset-"+uuid.NewString(), "tenant", "maker")
	record.Status = status
	if status != domain.CustodyStatusUnlinked && status != domain.CustodyStatusPending {
		wallet := domain.NewVaultWallet(record.Id, "vault-1", "ETH_TEST", "ETH_TEST", "0xabc")
		require.NoError(t, repo.VaultWallets().Add(context.Background(), wallet))
		record.VaultWalletId = wallet.Id
	}
	if status == domain.CustodyStatusMinted || status == domain.CustodyStatusFrozen {
		record.TokenAddress = "0xtoken"
		record.TokenId = "token-1"
		record.TokenSymbol = "GLD"
		record.Quantity = "1000"
	}
	require.NoError(t, repo.CustodyRecords().Add(context.Background(), *record))
	return *record
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	buf, err := json.Marshal(v)
	require.NoError(t, err)
	return buf
}

func mintPayload(t *testing.T) []byte {
	return mustJSON(t, domain.MintPayload{
		Name: "Gold Bar", Symbol: "GLD", Decimals: 0, TotalSupply: "1000",
	})
}

func TestInitiateOperation(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		record := seedRecord(t, repo, domain.CustodyStatusLinked)

		op, err := s.InitiateOperation(ctx, InitiateOperationRequest{
			Type:            domain.OperationTypeMint,
			CustodyRecordId: record.Id,
			Payload:         mintPayload(t),
			Maker:           "alice",
		})
		require.Nil(t, err)
		require.Equal(t, domain.OperationStatusPendingChecker, op.Status)
		require.Equal(t, "alice", op.InitiatedBy)
		require.NotEmpty(t, op.OffchainHash)
		require.Contains(t, repo.auditEvents(record.Id), domain.EventOperationInitiated)
	})

	t.Run("conflict_with_live_operation", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		record := seedRecord(t, repo, domain.CustodyStatusLinked)
		req := InitiateOperationRequest{
			Type:            domain.OperationTypeMint,
			CustodyRecordId: record.Id,
			Payload:         mintPayload(t),
			Maker:           "alice",
		}

		first, err := s.InitiateOperation(ctx, req)
		require.Nil(t, err)

		_, err = s.InitiateOperation(ctx, req)
		require.NotNil(t, err)
		require.True(t, errors.PENDING_OPERATION_EXISTS.Is(err))
		require.Equal(t, first.Id, err.Metadata()["operation_id"])
	})

	t.Run("allowed_after_terminal_operation", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		record := seedRecord(t, repo, domain.CustodyStatusLinked)
		req := InitiateOperationRequest{
			Type:            domain.OperationTypeMint,
			CustodyRecordId: record.Id,
			Payload:         mintPayload(t),
			Maker:           "alice",
		}

		first, err := s.InitiateOperation(ctx, req)
		require.Nil(t, err)
		_, err = s.RejectOperation(ctx, first.Id, "bob", "wrong supply")
		require.Nil(t, err)

		second, err := s.InitiateOperation(ctx, req)
		require.Nil(t, err)
		require.NotEqual(t, first.Id, second.Id)
	})

	fixtures := []struct {
		name   string
		status domain.CustodyStatus
		req    func(recordId string) InitiateOperationRequest
		code   interface{ Is(error) bool }
	}{
		{
			name:   "missing_maker",
			status: domain.CustodyStatusLinked,
			req: func(recordId string) InitiateOperationRequest {
				return InitiateOperationRequest{
					Type: domain.OperationTypeMint, CustodyRecordId: recordId, Payload: mintPayload(t),
				}
			},
			code: errors.VALIDATION,
		},
		{
			name:   "mint_on_pending_record",
			status: domain.CustodyStatusPending,
			req: func(recordId string) InitiateOperationRequest {
				return InitiateOperationRequest{
					Type:            domain.OperationTypeMint,
					CustodyRecordId: recordId,
					Payload:         mintPayload(t),
					Maker:           "alice",
				}
			},
			code: errors.INVALID_STATE,
		},
		{
			name:   "unfreeze_on_minted_record",
			status: domain.CustodyStatusMinted,
			req: func(recordId string) InitiateOperationRequest {
				return InitiateOperationRequest{
					Type:            domain.OperationTypeUnfreeze,
					CustodyRecordId: recordId,
					Payload:         mustJSON(t, domain.FreezePayload{}),
					Maker:           "alice",
				}
			},
			code: errors.INVALID_STATE,
		},
		{
			name:   "invalid_payload",
			status: domain.CustodyStatusMinted,
			req: func(recordId string) InitiateOperationRequest {
				return InitiateOperationRequest{
					Type:            domain.OperationTypeBurn,
					CustodyRecordId: recordId,
					Payload:         mustJSON(t, domain.BurnPayload{Amount: "-3"}),
					Maker:           "alice",
				}
			},
			code: errors.VALIDATION,
		},
		{
			name:   "unknown_record",
			status: domain.CustodyStatusLinked,
			req: func(string) InitiateOperationRequest {
				return InitiateOperationRequest{
					Type:            domain.OperationTypeMint,
					CustodyRecordId: "missing",
					Payload:         mintPayload(t),
					Maker:           "alice",
				}
			},
			code: errors.NOT_FOUND,
		},
	}
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			s, repo, _, _ := newTestService(t, testConfig())
			record := seedRecord(t, repo, f.status)

			op, err := s.InitiateOperation(ctx, f.req(record.Id))
			require.Nil(t, op)
			require.NotNil(t, err)
			require.True(t, f.code.Is(err), "got %s", err.CodeName())
		})
	}
}

func TestApproveOperation(t *testing.T) {
	ctx := context.Background()

	newFreeze := func(t *testing.T, s *service, repo *fakeRepoManager) *domain.Operation {
		record := seedRecord(t, repo, domain.CustodyStatusMinted)
		op, err := s.InitiateOperation(ctx, InitiateOperationRequest{
			Type:            domain.OperationTypeFreeze,
			CustodyRecordId: record.Id,
			Payload:         mustJSON(t, domain.FreezePayload{Reason: "court order"}),
			Maker:           "alice",
		})
		require.Nil(t, err)
		return op
	}

	t.Run("maker_cannot_approve", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		op := newFreeze(t, s, repo)

		_, err := s.ApproveOperation(ctx, op.Id, "alice", false)
		require.NotNil(t, err)
		require.True(t, errors.MAKER_CHECKER_VIOLATION.Is(err))

		stored, gerr := repo.Operations().Get(ctx, op.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.OperationStatusPendingChecker, stored.Status)
	})

	t.Run("bypass_allows_self_approval", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		op := newFreeze(t, s, repo)

		approved, err := s.ApproveOperation(ctx, op.Id, "alice", true)
		require.Nil(t, err)
		require.Equal(t, "alice", approved.ApprovedBy)

		handle, ok := s.queue.wait(ctx, op.Id)
		require.True(t, ok)
		require.Equal(t, ExecutionDone, handle.State)
	})

	t.Run("checker_approval_executes_in_background", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		op := newFreeze(t, s, repo)

		approved, err := s.ApproveOperation(ctx, op.Id, "bob", false)
		require.Nil(t, err)
		require.Equal(t, domain.OperationStatusApproved, approved.Status)

		handle, ok := s.queue.wait(ctx, op.Id)
		require.True(t, ok)
		require.Equal(t, ExecutionDone, handle.State)

		details, err := s.GetOperationDetails(ctx, op.Id)
		require.Nil(t, err)
		require.Equal(t, domain.OperationStatusExecuted, details.Operation.Status)
		require.Equal(t, domain.CustodyStatusFrozen, details.CustodyRecord.Status)
		require.NotNil(t, details.Execution)

		events := repo.auditEvents(op.CustodyRecordId)
		require.Contains(t, events, domain.EventOperationApproved)
		require.Contains(t, events, domain.EventTokenFrozen)
		require.Contains(t, events, domain.EventOperationExecuted)
	})

	t.Run("reject_after_approval", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		op := newFreeze(t, s, repo)

		_, err := s.ApproveOperation(ctx, op.Id, "bob", false)
		require.Nil(t, err)
		_, _ = s.queue.wait(ctx, op.Id)

		_, err = s.RejectOperation(ctx, op.Id, "carol", "too late")
		require.NotNil(t, err)
		require.True(t, errors.INVALID_STATUS_TRANSITION.Is(err))
	})
}

func TestExecuteOperation(t *testing.T) {
	ctx := context.Background()

	t.Run("not_approved", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		record := seedRecord(t, repo, domain.CustodyStatusMinted)
		op, err := s.InitiateOperation(ctx, InitiateOperationRequest{
			Type:            domain.OperationTypeFreeze,
			CustodyRecordId: record.Id,
			Payload:         mustJSON(t, domain.FreezePayload{}),
			Maker:           "alice",
		})
		require.Nil(t, err)

		_, err = s.ExecuteOperation(ctx, op.Id)
		require.NotNil(t, err)
		require.True(t, errors.INVALID_STATE.Is(err))
	})

	t.Run("burn_above_quantity_fails_operation", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, testConfig())
		record := seedRecord(t, repo, domain.CustodyStatusMinted)
		op, err := domain.NewOperation(
			domain.OperationTypeBurn, record.Id, mustJSON(t, domain.BurnPayload{Amount: "1001"}), "alice",
		)
		require.NoError(t, err)
		require.NoError(t, op.Approve("bob", false))
		require.NoError(t, repo.Operations().Add(ctx, *op))

		_, serr := s.ExecuteOperation(ctx, op.Id)
		require.NotNil(t, serr)

		stored, gerr := repo.Operations().Get(ctx, op.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.OperationStatusFailed, stored.Status)
		require.Contains(t, stored.FailureReason, "exceeds custody quantity")

		current, gerr := repo.CustodyRecords().Get(ctx, record.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.CustodyStatusMinted, current.Status)
	})
}

// Link approval provisions a vault, a wallet and funds the gas reserve.
func TestLinkFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	t.Run("approve", func(t *testing.T) {
		s, repo, provider, _ := newTestService(t, cfg)
		provider.On("CreateVault", mock.Anything, "custody-A1").Return("vault-7", nil).Once()
		provider.On("CreateOrGetAddress", mock.Anything, "vault-7", "ETH_TEST").
			Return("0xwallet", nil).Once()
		provider.On(
			"Transfer", mock.Anything, cfg.FundingVaultId, "vault-7", "ETH_TEST", cfg.GasTopUpAmount,
		).Return("gas-tx", nil).Once()

		record, err := s.LinkAsset(ctx, "A1", "tenant", "alice")
		require.Nil(t, err)
		require.Equal(t, domain.CustodyStatusPending, record.Status)

		_, err = s.LinkAsset(ctx, "A1", "tenant", "alice")
		require.NotNil(t, err)
		require.True(t, errors.DUPLICATE_ASSET.Is(err))

		linked, err := s.ApproveLink(ctx, record.Id, "bob", domain.LinkAssetPayload{})
		require.Nil(t, err)
		require.Equal(t, domain.CustodyStatusLinked, linked.Status)
		require.NotZero(t, linked.LinkedAt)
		require.NotEmpty(t, linked.VaultWalletId)

		wallet, gerr := repo.VaultWallets().GetByCustodyRecord(ctx, record.Id)
		require.NoError(t, gerr)
		require.Equal(t, "vault-7", wallet.VaultId)
		require.Equal(t, "0xwallet", wallet.Address)

		events := repo.auditEvents(record.Id)
		require.Contains(t, events, domain.EventLinkRequested)
		require.Contains(t, events, domain.EventLinkApproved)
		require.NotContains(t, events, domain.EventGasFundingFailed)
		provider.AssertExpectations(t)
	})

	t.Run("gas_funding_failure_does_not_block_link", func(t *testing.T) {
		s, repo, provider, _ := newTestService(t, cfg)
		provider.On("CreateVault", mock.Anything, mock.Anything).Return("vault-8", nil).Once()
		provider.On("CreateOrGetAddress", mock.Anything, "vault-8", "ETH_TEST").
			Return("0xwallet", nil).Once()
		provider.On("Transfer", mock.Anything, mock.Anything, "vault-8", mock.Anything, mock.Anything).
			Return("", &ports.ProviderError{
				Op: "transfer", StatusCode: 400, Err: fmt.Errorf("insufficient funds"),
			}).Once()

		record, err := s.LinkAsset(ctx, "A2", "tenant", "alice")
		require.Nil(t, err)

		linked, err := s.ApproveLink(ctx, record.Id, "bob", domain.LinkAssetPayload{})
		require.Nil(t, err)
		require.Equal(t, domain.CustodyStatusLinked, linked.Status)
		require.Contains(t, repo.auditEvents(record.Id), domain.EventGasFundingFailed)
	})

	t.Run("reject", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, cfg)
		record, err := s.LinkAsset(ctx, "A3", "tenant", "alice")
		require.Nil(t, err)

		rejected, err := s.RejectLink(ctx, record.Id, "bob", "unknown asset")
		require.Nil(t, err)
		require.Equal(t, domain.CustodyStatusUnlinked, rejected.Status)
		require.Contains(t, repo.auditEvents(record.Id), domain.EventLinkRejected)
	})

	t.Run("relink_after_reject", func(t *testing.T) {
		s, repo, _, _ := newTestService(t, cfg)
		record, err := s.LinkAsset(ctx, "A4", "tenant", "alice")
		require.Nil(t, err)
		_, err = s.RejectLink(ctx, record.Id, "bob", "missing documents")
		require.Nil(t, err)

		_, err = s.LinkAsset(ctx, "A4", "other-tenant", "mallory")
		require.NotNil(t, err)
		require.True(t, errors.NOT_OWNER.Is(err))

		relinked, err := s.LinkAsset(ctx, "A4", "tenant", "alice")
		require.Nil(t, err)
		require.Equal(t, record.Id, relinked.Id)
		require.Equal(t, domain.CustodyStatusPending, relinked.Status)

		stored, gerr := repo.CustodyRecords().Get(ctx, record.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.CustodyStatusPending, stored.Status)

		_, err = s.LinkAsset(ctx, "A4", "tenant", "alice")
		require.NotNil(t, err)
		require.True(t, errors.DUPLICATE_ASSET.Is(err))
	})
}

func TestTransitionStatus(t *testing.T) {
	ctx := context.Background()
	s, repo, _, _ := newTestService(t, testConfig())
	record := seedRecord(t, repo, domain.CustodyStatusLinked)

	_, err := s.TransitionStatus(ctx, record.Id, domain.CustodyStatusBurned, domain.StatusMetadata{})
	require.NotNil(t, err)
	require.True(t, errors.INVALID_STATUS_TRANSITION.Is(err))

	updated, err := s.TransitionStatus(
		ctx, record.Id, domain.CustodyStatusMinted, domain.StatusMetadata{
			TokenAddress: "0xtoken", Quantity: "5",
		},
	)
	require.Nil(t, err)
	require.Equal(t, domain.CustodyStatusMinted, updated.Status)
	require.Equal(t, "5", updated.Quantity)
	require.NotZero(t, updated.MintedAt)
	require.Contains(t, repo.auditEvents(record.Id), domain.EventCustodyStatusChanged)
}

func TestGetCustodyRecordResync(t *testing.T) {
	ctx := context.Background()

	seedStuckMint := func(t *testing.T, repo *fakeRepoManager) (domain.CustodyRecord, domain.Operation) {
		record := seedRecord(t, repo, domain.CustodyStatusLinked)
		record.TokenId = "token-9"
		record.TokenSymbol = "GLD"
		record.UpdatedAt = time.Now().Add(-time.Hour).Unix()
		require.NoError(t, repo.CustodyRecords().Update(ctx, record))

		op, err := domain.NewOperation(domain.OperationTypeMint, record.Id, mintPayload(t), "alice")
		require.NoError(t, err)
		require.NoError(t, op.Approve("bob", false))
		require.NoError(t, op.MarkExecuting("task-9", "SUBMITTED"))
		require.NoError(t, repo.Operations().Add(ctx, *op))
		return record, *op
	}

	t.Run("completed_task_is_applied", func(t *testing.T) {
		s, repo, provider, _ := newTestService(t, testConfig())
		record, op := seedStuckMint(t, repo)
		provider.On("GetTaskStatus", mock.Anything, "task-9").Return(&ports.TaskInfo{
			TaskId:          "task-9",
			Status:          ports.TaskStatusCompleted,
			TxHash:          "0xhash",
			ContractAddress: "0xcontract",
		}, nil).Once()

		got, err := s.GetCustodyRecord(ctx, record.Id)
		require.Nil(t, err)
		require.Equal(t, domain.CustodyStatusMinted, got.Status)
		require.Equal(t, "0xcontract", got.TokenAddress)
		require.Equal(t, "1000", got.Quantity)

		stored, gerr := repo.Operations().Get(ctx, op.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.OperationStatusExecuted, stored.Status)
		require.Contains(t, repo.auditEvents(record.Id), domain.EventReconciliationResynced)
	})

	t.Run("throttled_within_cooldown", func(t *testing.T) {
		s, repo, provider, _ := newTestService(t, testConfig())
		record, _ := seedStuckMint(t, repo)
		provider.On("GetTaskStatus", mock.Anything, "task-9").Return(&ports.TaskInfo{
			TaskId: "task-9", Status: ports.TaskStatusSubmitted,
		}, nil)

		for i := 0; i < 3; i++ {
			got, err := s.GetCustodyRecord(ctx, record.Id)
			require.Nil(t, err)
			require.Equal(t, domain.CustodyStatusLinked, got.Status)
		}
		provider.AssertNumberOfCalls(t, "GetTaskStatus", 1)
	})

	t.Run("skipped_while_monitored", func(t *testing.T) {
		s, repo, provider, liveStore := newTestService(t, testConfig())
		record, _ := seedStuckMint(t, repo)
		registered, err := liveStore.Register(ctx, "task-9")
		require.NoError(t, err)
		require.True(t, registered)

		got, serr := s.GetCustodyRecord(ctx, record.Id)
		require.Nil(t, serr)
		require.Equal(t, domain.CustodyStatusLinked, got.Status)
		provider.AssertNotCalled(t, "GetTaskStatus", mock.Anything, mock.Anything)
	})
}

// Settlement moves ownership and funds between seller and buyer in one step.
func TestResyncStalledOperation(t *testing.T) {
	ctx := context.Background()

	// backdate marks the operation as untouched since long before the cooldown.
	backdate := func(t *testing.T, repo *fakeRepoManager, opId string) {
		op, err := repo.Operations().Get(ctx, opId)
		require.NoError(t, err)
		op.UpdatedAt = time.Now().Add(-time.Hour).Unix()
		require.NoError(t, repo.Operations().Update(ctx, *op))
	}

	t.Run("burn_settled_on_read_after_monitor_gave_up", func(t *testing.T) {
		cfg := testConfig()
		s, repo, provider, liveStore := newTestService(t, cfg)
		record := seedRecord(t, repo, domain.CustodyStatusMinted)
		liveStore.gas["vault-1"] = decimal.NewFromInt(1)

		provider.On("ContractCall", mock.Anything, "vault-1", "0xtoken", mock.Anything, "GLD").
			Return("tx-5", nil).Once()
		provider.On("GetTaskStatus", mock.Anything, "tx-5").Return(&ports.TaskInfo{
			TaskId: "tx-5", Status: ports.TaskStatusSubmitted,
		}, nil).Times(cfg.Monitor.MaxAttempts)
		provider.On("GetTaskStatus", mock.Anything, "tx-5").Return(&ports.TaskInfo{
			TaskId: "tx-5", Status: ports.TaskStatusCompleted, TxHash: "0xburn",
		}, nil).Once()

		op, err := s.InitiateOperation(ctx, InitiateOperationRequest{
			Type:            domain.OperationTypeBurn,
			CustodyRecordId: record.Id,
			Payload:         mustJSON(t, domain.BurnPayload{Amount: "400"}),
			Maker:           "alice",
		})
		require.Nil(t, err)
		_, err = s.ApproveOperation(ctx, op.Id, "bob", false)
		require.Nil(t, err)

		handle := waitIdle(t, s, op.Id)
		require.Equal(t, ExecutionFailed, handle.State)
		stored, gerr := repo.Operations().Get(ctx, op.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.OperationStatusExecuting, stored.Status)
		backdate(t, repo, op.Id)

		got, err := s.GetCustodyRecord(ctx, record.Id)
		require.Nil(t, err)
		require.Equal(t, domain.CustodyStatusMinted, got.Status)
		require.Equal(t, "600", got.Quantity)

		stored, gerr = repo.Operations().Get(ctx, op.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.OperationStatusExecuted, stored.Status)
		require.Equal(t, "0xburn", stored.TxHash)
		require.Contains(t, repo.auditEvents(record.Id), domain.EventReconciliationResynced)

		handle, ok := s.queue.get(op.Id)
		require.True(t, ok)
		require.Equal(t, ExecutionDone, handle.State)

		_, err = s.InitiateOperation(ctx, InitiateOperationRequest{
			Type:            domain.OperationTypeFreeze,
			CustodyRecordId: record.Id,
			Payload:         mustJSON(t, domain.FreezePayload{Reason: "court order"}),
			Maker:           "alice",
		})
		require.Nil(t, err)
	})

	t.Run("transfer_failed_by_sweep", func(t *testing.T) {
		s, repo, provider, _ := newTestService(t, testConfig())
		record := seedRecord(t, repo, domain.CustodyStatusMinted)

		op, err := domain.NewOperation(
			domain.OperationTypeTransfer, record.Id,
			mustJSON(t, domain.TransferPayload{ToVaultId: "vault-2", Amount: "100"}), "alice",
		)
		require.NoError(t, err)
		require.NoError(t, op.Approve("bob", false))
		require.NoError(t, op.MarkExecuting("tx-6", "SUBMITTED"))
		require.NoError(t, repo.Operations().Add(ctx, *op))
		backdate(t, repo, op.Id)

		provider.On("GetTaskStatus", mock.Anything, "tx-6").Return(&ports.TaskInfo{
			TaskId: "tx-6", Status: ports.TaskStatusFailed, ErrorMessage: "nonce too low",
		}, nil).Once()

		s.resyncSweep()

		stored, gerr := repo.Operations().Get(ctx, op.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.OperationStatusFailed, stored.Status)
		require.Contains(t, stored.FailureReason, "nonce too low")

		current, gerr := repo.CustodyRecords().Get(ctx, record.Id)
		require.NoError(t, gerr)
		require.Equal(t, domain.CustodyStatusMinted, current.Status)
		require.Equal(t, "1000", current.Quantity)
		provider.AssertNotCalled(t, "GetVaultAsset", mock.Anything, mock.Anything, mock.Anything)

		// settled operations are not polled again.
		s.resyncSweep()
		provider.AssertNumberOfCalls(t, "GetTaskStatus", 1)
	})

	t.Run("recent_dispatch_is_left_to_its_monitor", func(t *testing.T) {
		s, repo, provider, _ := newTestService(t, testConfig())
		record := seedRecord(t, repo, domain.CustodyStatusMinted)

		op, err := domain.NewOperation(
			domain.OperationTypeBurn, record.Id,
			mustJSON(t, domain.BurnPayload{Amount: "1"}), "alice",
		)
		require.NoError(t, err)
		require.NoError(t, op.Approve("bob", false))
		require.NoError(t, op.MarkExecuting("tx-7", "SUBMITTED"))
		require.NoError(t, repo.Operations().Add(ctx, *op))

		s.resyncSweep()
		_, serr := s.GetCustodyRecord(ctx, record.Id)
		require.Nil(t, serr)
		provider.AssertNotCalled(t, "GetTaskStatus", mock.Anything, mock.Anything)
	})
}

func TestSettlementFlow(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*service, *fakeRepoManager, *domain.Listing) {
		s, repo, _, _ := newTestService(t, testConfig())
		require.NoError(t, repo.Market().CreditOwnership(ctx, "A1", "seller", 5))

		_, err := s.DepositFunds(ctx, "buyer", decimal.NewFromInt(100), "admin")
		require.Nil(t, err)

		listing, err := s.CreateListing(ctx, "A1", "seller", decimal.NewFromInt(10), 5)
		require.Nil(t, err)
		return s, repo, listing
	}

	t.Run("accept", func(t *testing.T) {
		s, repo, listing := setup(t)

		bid, err := s.PlaceBid(ctx, listing.Id, "buyer", decimal.NewFromInt(10), 2)
		require.Nil(t, err)

		settlement, err := s.AcceptBid(ctx, bid.Id, "seller")
		require.Nil(t, err)
		require.Equal(t, domain.BidStatusAccepted, settlement.Bid.Status)
		require.Equal(t, int64(2), settlement.Listing.QuantitySold)

		seller, _ := repo.Market().GetOwnership(ctx, "A1", "seller")
		buyer, _ := repo.Market().GetOwnership(ctx, "A1", "buyer")
		require.Equal(t, int64(3), seller.Quantity)
		require.Equal(t, int64(2), buyer.Quantity)

		buyerBalance, _ := repo.Market().GetBalance(ctx, "buyer")
		sellerBalance, _ := repo.Market().GetBalance(ctx, "seller")
		require.True(t, buyerBalance.Amount.Equal(decimal.NewFromInt(80)))
		require.True(t, sellerBalance.Amount.Equal(decimal.NewFromInt(20)))
	})

	t.Run("insufficient_balance_aborts", func(t *testing.T) {
		s, repo, listing := setup(t)

		bid, err := s.PlaceBid(ctx, listing.Id, "buyer", decimal.NewFromInt(30), 4)
		require.Nil(t, err)

		_, err = s.AcceptBid(ctx, bid.Id, "seller")
		require.NotNil(t, err)
		require.True(t, errors.INSUFFICIENT_BALANCE.Is(err))

		seller, _ := repo.Market().GetOwnership(ctx, "A1", "seller")
		require.Equal(t, int64(5), seller.Quantity)
		stored, _ := repo.Market().GetBid(ctx, bid.Id)
		require.Equal(t, domain.BidStatusPending, stored.Status)
	})

	t.Run("not_the_seller", func(t *testing.T) {
		s, _, listing := setup(t)

		bid, err := s.PlaceBid(ctx, listing.Id, "buyer", decimal.NewFromInt(10), 1)
		require.Nil(t, err)

		_, err = s.AcceptBid(ctx, bid.Id, "mallory")
		require.NotNil(t, err)
		require.True(t, errors.NOT_OWNER.Is(err))

		_, err = s.RejectBid(ctx, bid.Id, "mallory")
		require.NotNil(t, err)
		require.True(t, errors.NOT_OWNER.Is(err))
	})

	t.Run("oversold_listing", func(t *testing.T) {
		s, _, _ := setup(t)

		_, err := s.CreateListing(ctx, "A1", "seller", decimal.NewFromInt(10), 1)
		require.NotNil(t, err)
		require.True(t, errors.LISTING_OVERSOLD.Is(err))
	})

	t.Run("reject", func(t *testing.T) {
		s, repo, listing := setup(t)

		bid, err := s.PlaceBid(ctx, listing.Id, "buyer", decimal.NewFromInt(10), 1)
		require.Nil(t, err)

		rejected, err := s.RejectBid(ctx, bid.Id, "seller")
		require.Nil(t, err)
		require.Equal(t, domain.BidStatusRejected, rejected.Status)

		_, err = s.AcceptBid(ctx, bid.Id, "seller")
		require.NotNil(t, err)
		require.True(t, errors.INVALID_STATE.Is(err))

		logs, err := s.ListAuditLogs(ctx, domain.AuditFilter{EventType: domain.EventBidRejected})
		require.Nil(t, err)
		require.Len(t, logs, 1)
		require.Empty(t, repo.auditEvents("missing"))
	})
}
