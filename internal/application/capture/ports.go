package capture

import (
	"context"
	"time"

	"github.com/Nauflars/myshop-sub003/internal/contracts/queuemsg"
	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// AuditLog is the relational interaction log: source of truth for replay.
type AuditLog interface {
	InsertInteraction(ctx context.Context, e *domain.InteractionEvent) (int64, error)
	MarkDispatched(ctx context.Context, eventID int64) error
	ClaimUndispatched(ctx context.Context, grace time.Duration, limit int) ([]*domain.InteractionEvent, error)
}

// QueuePublisher hands a message to the broker durably, failing fast when the
// broker is unavailable.
type QueuePublisher interface {
	Publish(ctx context.Context, msg queuemsg.Message) error
}
