// Package presence implements the Room Presence Loop: the per-room
// heartbeat and membership tracker that discovers peers over the room's
// presence topic and brings up a Remote Peer Session for each one.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jabolina/go-rendezvous/pkg/signal/eventbus"
	"github.com/jabolina/go-rendezvous/pkg/signal/session"
	"github.com/jabolina/go-rendezvous/pkg/signal/transport"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

const (
	heartbeatInterval = 2 * time.Second
	presencePollBase  = 100 * time.Millisecond
	presencePollMax   = 5 * time.Second
)

// PresenceEvent is published on the "presence" bus key whenever a join,
// alive, or leave record is observed on the room topic, including the
// local peer's own reflected heartbeats.
type PresenceEvent struct {
	Peer types.PeerId
	Type types.EventType
}

// MessageEvent is published on the "message" bus key for every data
// channel payload received, and for the local peer's own broadcasts.
type MessageEvent struct {
	Peer types.PeerId
	Data []byte
}

// DataChannelEvent is published on the "dataChannel" bus key.
type DataChannelEvent struct {
	Peer types.PeerId
	Kind string
}

// PeerConnectionEvent is published on the "peerConnection" bus key.
type PeerConnectionEvent struct {
	Peer types.PeerId
	Kind string
}

// SignalEvent is published on the "sentSignal"/"receivedSignal" bus keys.
type SignalEvent struct {
	Event types.SignalingEvent
}

// RoomPresenceLoop owns every RemotePeerSession for one room: it emits
// this peer's own heartbeat, polls the room's presence topic, and
// dispatches join/alive/leave records to bring sessions up or tear them
// down. It implements session.Notifier so sessions can publish onto its
// bus without importing this package.
type RoomPresenceLoop struct {
	room        types.RoomId
	localPeerId types.PeerId
	transport   transport.Transport
	sessionCfg  session.Config
	bus         *eventbus.Bus
	logger      types.Logger

	mu          sync.Mutex
	started     bool
	lastEventId *types.EventId
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	remotePeers map[types.PeerId]*session.RemotePeerSession
}

// New constructs a presence loop for one room. The bus is created
// internally and exposed via Bus() for callers to subscribe to.
func New(logger types.Logger, tr transport.Transport, cfg session.Config, room types.RoomId, local types.PeerId) *RoomPresenceLoop {
	return &RoomPresenceLoop{
		room:        room,
		localPeerId: local,
		transport:   tr,
		sessionCfg:  cfg,
		bus:         eventbus.New(),
		logger:      logger,
		remotePeers: make(map[types.PeerId]*session.RemotePeerSession),
	}
}

// Bus exposes the event bus observers subscribe to for presence,
// message, data channel, and peer connection state notifications.
func (l *RoomPresenceLoop) Bus() *eventbus.Bus { return l.bus }

// Sessions returns a snapshot of every remote peer session currently
// tracked, keyed by the remote peer's id.
func (l *RoomPresenceLoop) Sessions() map[types.PeerId]*session.RemotePeerSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[types.PeerId]*session.RemotePeerSession, len(l.remotePeers))
	for k, v := range l.remotePeers {
		out[k] = v
	}
	return out
}

// Join starts the loop's heartbeat and poll goroutines and blocks until
// this peer's own join record has round-tripped through the room topic,
// confirming the transport is reachable.
func (l *RoomPresenceLoop) Join(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	confirmed := make(chan struct{})
	failed := make(chan struct{})
	var confirmOnce, failOnce sync.Once
	s := eventbus.On[PresenceEvent](l.bus, loopCtx, "presence", func(evt PresenceEvent) {
		if evt.Peer != l.localPeerId {
			return
		}
		switch evt.Type {
		case types.EventJoin, types.EventAlive:
			confirmOnce.Do(func() { close(confirmed) })
		case types.EventLeave:
			failOnce.Do(func() { close(failed) })
		}
	})
	defer s.Dispose()

	if err := l.push(loopCtx, types.NewJoin(l.room, l.localPeerId)); err != nil {
		return err
	}

	l.wg.Add(2)
	go l.emitLoop(loopCtx)
	go l.pollLoop(loopCtx)

	select {
	case <-confirmed:
		return nil
	case <-failed:
		return types.ErrJoinAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave cancels the loop's goroutines, disconnects every remote peer
// session, and pushes a terminal leave record exactly once.
func (l *RoomPresenceLoop) Leave(ctx context.Context) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	cancel := l.cancel
	l.cancel = nil
	peers := l.remotePeers
	l.remotePeers = make(map[types.PeerId]*session.RemotePeerSession)
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()

	for _, s := range peers {
		s.Disconnect()
	}

	return l.push(ctx, types.NewLeave(l.room, l.localPeerId))
}

// WaitForOtherPeers resolves as soon as at least one tracked session's
// data channel is open, including one that was already open before this
// call — it never blocks forever on a peer that connected early.
func (l *RoomPresenceLoop) WaitForOtherPeers(ctx context.Context) error {
	ready := make(chan struct{})
	var once sync.Once
	signalReady := func() { once.Do(func() { close(ready) }) }

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub := eventbus.On[DataChannelEvent](l.bus, watchCtx, "dataChannel", func(evt DataChannelEvent) {
		if evt.Kind == "open" {
			signalReady()
		}
	})
	defer sub.Dispose()

	for _, s := range l.Sessions() {
		if s.IsReady() {
			signalReady()
			break
		}
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage broadcasts payload over every session whose data channel
// is currently open, and reflects it back to local observers as a
// MessageEvent so the sender's own bus sees its own broadcasts.
func (l *RoomPresenceLoop) SendMessage(ctx context.Context, payload []byte) error {
	var firstErr error
	for peer, s := range l.Sessions() {
		if !s.IsReady() {
			continue
		}
		if err := s.Send(ctx, payload); err != nil && firstErr == nil {
			l.logger.Warnf("send to %s failed: %v", peer, err)
			firstErr = err
		}
	}
	eventbus.Emit(l.bus, "message", MessageEvent{Peer: l.localPeerId, Data: payload})
	return firstErr
}

func (l *RoomPresenceLoop) emitLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_ = l.push(ctx, types.NewAlive(l.room, l.localPeerId))
	}
}

func (l *RoomPresenceLoop) pollLoop(ctx context.Context) {
	defer l.wg.Done()
	bo := &backoff.ExponentialBackOff{
		InitialInterval: presencePollBase,
		Multiplier:      2,
		MaxInterval:     presencePollMax,
		MaxElapsedTime:  0,
		Clock:           backoff.SystemClock,
	}
	bo.Reset()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.mu.Lock()
		after := l.lastEventId
		l.mu.Unlock()

		events, err := l.transport.Pull(ctx, transport.PullRequest{Topic: l.room.Topic(), After: after})
		if err != nil {
			l.logger.Warnf("room %s pull failed: %v", l.room, err)
		} else if len(events) > 0 {
			for _, evt := range events {
				l.process(ctx, evt)
				id := evt.Id
				l.mu.Lock()
				l.lastEventId = &id
				l.mu.Unlock()
			}
			bo.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (l *RoomPresenceLoop) process(ctx context.Context, evt types.SignalingEvent) {
	eventbus.Emit(l.bus, "receivedSignal", SignalEvent{Event: evt})
	eventbus.Emit(l.bus, "presence", PresenceEvent{Peer: evt.PeerId, Type: evt.Type})

	if evt.PeerId == l.localPeerId {
		return
	}

	s := l.sessionFor(evt.PeerId)

	switch evt.Type {
	case types.EventJoin:
		if err := s.Connect(ctx); err != nil {
			l.logger.Warnf("connect to %s failed: %v", evt.PeerId, err)
		}
	case types.EventAlive:
		if err := s.EnsureConnected(ctx); err != nil {
			l.logger.Warnf("ensure-connected to %s failed: %v", evt.PeerId, err)
		}
	case types.EventLeave:
		s.Disconnect()
		l.mu.Lock()
		delete(l.remotePeers, evt.PeerId)
		l.mu.Unlock()
	default:
		l.logger.Warnf("room %s received unexpected presence event type %s", l.room, evt.Type)
	}
}

func (l *RoomPresenceLoop) sessionFor(peer types.PeerId) *session.RemotePeerSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.remotePeers[peer]
	if !ok {
		s = session.New(l.logger, l.transport, l, l.sessionCfg, l.room, l.localPeerId, peer)
		l.remotePeers[peer] = s
	}
	return s
}

func (l *RoomPresenceLoop) push(ctx context.Context, evt types.SignalingEvent) error {
	if err := l.transport.Push(ctx, evt); err != nil {
		l.logger.Warnf("failed pushing %s on room %s: %v", evt.Type, l.room, err)
		return err
	}
	eventbus.Emit(l.bus, "sentSignal", SignalEvent{Event: evt})
	return nil
}

// EmitSentSignal implements session.Notifier.
func (l *RoomPresenceLoop) EmitSentSignal(evt types.SignalingEvent) {
	eventbus.Emit(l.bus, "sentSignal", SignalEvent{Event: evt})
}

// EmitReceivedSignal implements session.Notifier.
func (l *RoomPresenceLoop) EmitReceivedSignal(evt types.SignalingEvent) {
	eventbus.Emit(l.bus, "receivedSignal", SignalEvent{Event: evt})
}

// EmitDataChannelEvent implements session.Notifier.
func (l *RoomPresenceLoop) EmitDataChannelEvent(peer types.PeerId, kind string) {
	eventbus.Emit(l.bus, "dataChannel", DataChannelEvent{Peer: peer, Kind: kind})
}

// EmitPeerConnectionEvent implements session.Notifier.
func (l *RoomPresenceLoop) EmitPeerConnectionEvent(peer types.PeerId, kind string) {
	eventbus.Emit(l.bus, "peerConnection", PeerConnectionEvent{Peer: peer, Kind: kind})
}

// EmitMessage implements session.Notifier.
func (l *RoomPresenceLoop) EmitMessage(peer types.PeerId, data []byte) {
	eventbus.Emit(l.bus, "message", MessageEvent{Peer: peer, Data: data})
}
