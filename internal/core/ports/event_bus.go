package ports

import (
	"context"

	"github.com/assetvault/custodyd/internal/core/domain"
)

// AuditStream fans out appended audit entries to live subscribers.
type AuditStream interface {
	Publish(ctx context.Context, entry domain.AuditLog) error
	// Subscribe returns a channel closed when ctx is done or the stream is closed.
	Subscribe(ctx context.Context) (<-chan domain.AuditLog, error)
	Close() error
}
