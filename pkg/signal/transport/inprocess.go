package transport

import (
	"context"

	"github.com/jabolina/go-rendezvous/pkg/signal/broker"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

// InProcess carries events directly to a broker.Broker living in the
// same process — the default transport for tests and for peers that
// share an address space (e.g. multiple rooms inside one process, or a
// single-process integration harness).
type InProcess struct {
	broker *broker.Broker
}

// NewInProcess wraps an existing broker. Passing nil creates a fresh one.
func NewInProcess(b *broker.Broker) *InProcess {
	if b == nil {
		b = broker.New()
	}
	return &InProcess{broker: b}
}

func (t *InProcess) Push(_ context.Context, event types.SignalingEvent) error {
	return t.broker.Push(event)
}

func (t *InProcess) Pull(_ context.Context, req PullRequest) ([]types.SignalingEvent, error) {
	events := t.broker.Pull(broker.PullRequest{Topic: req.Topic, After: req.After})
	return events, nil
}
