package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
)

func generateErrorFixtures() []Error {
	return []Error{
		INTERNAL_ERROR.New("database unavailable").
			WithMetadata(map[string]any{"component": "db"}),
		VALIDATION.New("missing fields").
			WithMetadata(FieldsMetadata{Fields: []string{"assetId", "maker"}}),
		INVALID_STATUS_TRANSITION.New("cannot move from LINKED to BURNED").
			WithMetadata(TransitionMetadata{
				Entity: "custody_record", Id: "c1", From: "LINKED", To: "BURNED",
			}),
		NOT_FOUND.New("operation op1 not found").
			WithMetadata(EntityMetadata{Entity: "operation", Id: "op1"}),
		DUPLICATE_ASSET.New("asset A1 already linked").
			WithMetadata(EntityMetadata{Entity: "custody_record", Id: "A1"}),
		PENDING_OPERATION_EXISTS.New("operation op2 still pending").
			WithMetadata(PendingOperationMetadata{CustodyRecordId: "c1", OperationId: "op2"}),
		INSUFFICIENT_OWNERSHIP.New("seller owns 1").
			WithMetadata(OwnershipMetadata{AssetId: "A1", OwnerId: "s", Owned: 1, Requested: 2}),
		INSUFFICIENT_BALANCE.New("buyer cannot pay").
			WithMetadata(BalanceMetadata{OwnerId: "b", Available: "10", Required: "20"}),
		LISTING_OVERSOLD.New("only 3 available").
			WithMetadata(OwnershipMetadata{AssetId: "A1", OwnerId: "s", Owned: 3, Requested: 5}),
		MAKER_CHECKER_VIOLATION.New("maker cannot approve").
			WithMetadata(MakerCheckerMetadata{OperationId: "op1", Actor: "alice"}),
		NOT_OWNER.New("listing belongs to someone else").
			WithMetadata(EntityMetadata{Entity: "listing", Id: "l1"}),
		PROVIDER_ERROR.New("provider returned 503").
			WithMetadata(ProviderMetadata{TaskId: "t1", Transient: true}),
		RECONCILIATION_TIMEOUT.New("gave up after 30 polls").
			WithMetadata(ReconciliationMetadata{OperationId: "op1", TaskId: "t1", Attempts: 30}),
	}
}

func TestErrorMetadata(t *testing.T) {
	for _, err := range generateErrorFixtures() {
		t.Run(err.CodeName(), func(t *testing.T) {
			require.NotEmpty(t, err.Error())
			require.Contains(t, err.Error(), err.CodeName())
			require.NotEmpty(t, err.Metadata())
			require.NotNil(t, err.Log())
		})
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		class    Class
		grpcCode grpccodes.Code
	}{
		{
			name:     "validation",
			err:      VALIDATION.New("bad input"),
			class:    ClassValidation,
			grpcCode: grpccodes.InvalidArgument,
		},
		{
			name:     "wrapped_conflict",
			err:      fmt.Errorf("initiate: %w", PENDING_OPERATION_EXISTS.New("busy")),
			class:    ClassConflict,
			grpcCode: grpccodes.FailedPrecondition,
		},
		{
			name:     "forbidden",
			err:      MAKER_CHECKER_VIOLATION.New("same actor"),
			class:    ClassForbidden,
			grpcCode: grpccodes.PermissionDenied,
		},
		{
			name:     "plain_error",
			err:      stderrors.New("boom"),
			class:    ClassInternal,
			grpcCode: grpccodes.Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.class, ClassOf(tt.err))

			var typed Error
			if stderrors.As(tt.err, &typed) {
				require.Equal(t, tt.grpcCode, typed.GrpcCode())
			}
		})
	}
}

func TestCodeIs(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := fmt.Errorf("poll: %w", PROVIDER_ERROR.Wrap(cause))

	require.True(t, PROVIDER_ERROR.Is(err))
	require.False(t, NOT_FOUND.Is(err))
	require.ErrorIs(t, err, cause)
}
