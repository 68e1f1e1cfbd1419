package godotgrpc

import (
	"context"
	"time"

	"google.golang.org/grpc/metadata"
)

// CallOptions holds per-call execution parameters. The zero value
// means no deadline and no metadata.
type CallOptions struct {
	// DeadlineMillis, when positive, sets an absolute deadline that
	// many milliseconds from now. Deadline enforcement is the
	// transport's concern; there is no separate client-side timer.
	DeadlineMillis int64
	// Metadata is attached to the call as outgoing metadata. Keys may
	// carry multiple values.
	Metadata metadata.MD
}

// newContext builds the call's execution context from base. The
// returned cancel func must be called once the call completes.
func (o CallOptions) newContext(base context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(base)
	if o.DeadlineMillis > 0 {
		deadline := time.Now().Add(time.Duration(o.DeadlineMillis) * time.Millisecond)
		parentCancel := cancel
		ctx, cancel = context.WithDeadline(ctx, deadline)
		timeoutCancel := cancel
		cancel = func() {
			timeoutCancel()
			parentCancel()
		}
	}
	if len(o.Metadata) > 0 {
		// Snapshot so later mutation of the caller's map cannot race
		// the call.
		ctx = metadata.NewOutgoingContext(ctx, o.Metadata.Copy())
	}
	return ctx, cancel
}
