package signal

import (
	"context"
	"sync"

	"github.com/jabolina/go-rendezvous/pkg/signal/definition"
	"github.com/jabolina/go-rendezvous/pkg/signal/presence"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

// Peer is the local identity joining rooms. It owns a mapping from Room
// handle identity — not room id — to that handle's RoomPresenceLoop:
// two *Room values constructed with the same room id are independent
// loops, by design, matching the one-loop-per-handle invariant.
type Peer struct {
	id     types.PeerId
	logger types.Logger

	mu    sync.Mutex
	loops map[*Room]*presence.RoomPresenceLoop
}

// NewPeer mints a fresh process-unique PeerId from name. Passing a nil
// logger falls back to definition.NewDefaultLogger.
func NewPeer(logger types.Logger, name string) *Peer {
	if logger == nil {
		logger = definition.NewDefaultLogger()
	}
	return &Peer{
		id:     types.NewPeerId(name),
		logger: logger,
		loops:  make(map[*Room]*presence.RoomPresenceLoop),
	}
}

// Id returns this peer's generated identity.
func (p *Peer) Id() types.PeerId { return p.id }

// In returns the RoomPresenceLoop for this Room handle, creating it on
// first use. The loop is not started until Join is called.
func (p *Peer) In(room *Room) *presence.RoomPresenceLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	loop, ok := p.loops[room]
	if !ok {
		loop = presence.New(p.logger, room.Transport, room.SessionConfig, room.Id, p.id)
		p.loops[room] = loop
	}
	return loop
}

// Join starts (or returns the already-started) loop for room and blocks
// until this peer's own join has round-tripped through the room topic.
func (p *Peer) Join(ctx context.Context, room *Room) (*presence.RoomPresenceLoop, error) {
	loop := p.In(room)
	if err := loop.Join(ctx); err != nil {
		return nil, err
	}
	return loop, nil
}

// Leave tears down room's loop, if this peer ever joined it, and drops
// it from the mapping so a later In(room) starts fresh.
func (p *Peer) Leave(ctx context.Context, room *Room) error {
	p.mu.Lock()
	loop, ok := p.loops[room]
	if ok {
		delete(p.loops, room)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return loop.Leave(ctx)
}
