// Package transport implements the Signaling Transport contract: the
// abstract push/pull carrier the presence and session loops drive the
// broker through. Three implementations ship here — an in-process
// carrier wrapping a broker.Broker directly, a request/response bus
// multiplexed by a client-generated request id (modeling a
// cross-document message bus), and an HTTP GET carrier that serializes
// the event or pull request into a query parameter.
package transport

import (
	"context"

	"github.com/jabolina/go-rendezvous/pkg/signal/broker"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

// PullRequest names the topic and cursor a Pull call reads from. After
// == nil means "from the beginning of the currently retained window".
type PullRequest struct {
	Topic types.Topic    `json:"topic"`
	After *types.EventId `json:"after,omitempty"`
}

// Transport is the carrier the core depends on. Every implementation
// must be push-idempotent-safe, since upstream may retry a push it
// isn't sure landed, and must treat any failure as recoverable: a
// failed push is never reattempted by the core itself (the next alive
// tick resynchronizes state), and a failed pull is retried by the
// caller's own adaptive polling loop.
type Transport interface {
	Push(ctx context.Context, event types.SignalingEvent) error
	Pull(ctx context.Context, req PullRequest) ([]types.SignalingEvent, error)
}
