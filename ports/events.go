package ports

import (
	"context"

	"github.com/layer-3/passage/core"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishRevocation(ctx context.Context, subjectID string, entry core.RevocationEntry) error
}

// CodeSender hands a one-time code to the out-of-band delivery channel.
// A nil error means the dispatch was accepted, not that it was delivered.
type CodeSender interface {
	SendCode(ctx context.Context, address, code string, purpose core.Purpose) error
}
