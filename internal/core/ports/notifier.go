package ports

import "context"

type Event string

const (
	EventLinkApproved      Event = "custody.link_approved"
	EventLinkRejected      Event = "custody.link_rejected"
	EventOperationApproved Event = "operation.approved"
	EventOperationRejected Event = "operation.rejected"
	EventOperationExecuted Event = "operation.executed"
	EventOperationFailed   Event = "operation.failed"
	EventTokenMinted       Event = "token.minted"
	EventTokenBurned       Event = "token.burned"
	EventTokenTransferred  Event = "token.transferred"
	EventBidAccepted       Event = "market.bid_accepted"
)

// Notifier delivers best-effort notifications. Delivery failures are returned to
// the caller for logging only.
type Notifier interface {
	Notify(ctx context.Context, event Event, data any) error
}
