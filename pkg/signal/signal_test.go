package signal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-rendezvous/pkg/signal/broker"
	"github.com/jabolina/go-rendezvous/pkg/signal/definition"
	"github.com/jabolina/go-rendezvous/pkg/signal/direct"
	"github.com/jabolina/go-rendezvous/pkg/signal/eventbus"
	"github.com/jabolina/go-rendezvous/pkg/signal/presence"
	"github.com/jabolina/go-rendezvous/pkg/signal/session"
	"github.com/jabolina/go-rendezvous/pkg/signal/transport"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

func newTestPeer(t *testing.T, name string) *Peer {
	t.Helper()
	return NewPeer(nil, name)
}

func newTestRoom(b *broker.Broker, id types.RoomId) *Room {
	return NewRoom(id, transport.NewInProcess(b), session.Config{DirectFactory: direct.NewFake()})
}

// newLinkedTestRoom is like newTestRoom but shares one loopback direct
// factory across every room built with it, so that two peers' sessions
// for the same pairwise channel get Fakes that are Linked to each other
// instead of independent islands. Scenarios that assert on cross-peer
// data channel delivery (broadcasting or relaying a message) need this;
// scenarios that only exercise one side's signaling choreography don't.
func newLinkedTestRoom(b *broker.Broker, id types.RoomId, factory direct.Factory) *Room {
	return NewRoom(id, transport.NewInProcess(b), session.Config{DirectFactory: factory})
}

// openAllFakeChannels drives every tracked session's fake data channel to
// the open state, standing in for the direct transport's own ICE/DTLS
// handshake which this module never performs itself.
func openAllFakeChannels(loop *presence.RoomPresenceLoop) {
	for _, s := range loop.Sessions() {
		if ch, ok := s.DataChannel().(*direct.FakeDataChannel); ok {
			ch.SimulateOpen()
		}
	}
}

func TestScenario_ThreePeerJoin(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := broker.New()
	room := types.RoomId("test-room-1")

	alice := newTestPeer(t, "Alice")
	bob := newTestPeer(t, "Bob")
	charlie := newTestPeer(t, "Charlie")

	aliceRoom := newTestRoom(b, room)
	bobRoom := newTestRoom(b, room)
	charlieRoom := newTestRoom(b, room)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Observers are attached before anyone joins: the bus does not
	// replay presence events that were already processed.
	aliceSeen := watchPresences(alice.In(aliceRoom))
	bobSeen := watchPresences(bob.In(bobRoom))
	charlieSeen := watchPresences(charlie.In(charlieRoom))

	if _, err := alice.Join(ctx, aliceRoom); err != nil {
		t.Fatalf("alice join failed: %v", err)
	}
	if _, err := bob.Join(ctx, bobRoom); err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	if _, err := charlie.Join(ctx, charlieRoom); err != nil {
		t.Fatalf("charlie join failed: %v", err)
	}
	defer alice.Leave(context.Background(), aliceRoom)
	defer bob.Leave(context.Background(), bobRoom)
	defer charlie.Leave(context.Background(), charlieRoom)

	want := 3
	aliceSeen(t, want)
	bobSeen(t, want)
	charlieSeen(t, want)
}

// watchPresences subscribes to loop's presence events right away and
// returns a function that waits up to one second until want distinct
// peers have been seen as join or alive, then disposes the subscription.
func watchPresences(loop *presence.RoomPresenceLoop) func(t *testing.T, want int) {
	var mu sync.Mutex
	seen := make(map[types.PeerId]bool)
	sub := eventbus.On[presence.PresenceEvent](loop.Bus(), nil, "presence", func(evt presence.PresenceEvent) {
		if evt.Type == types.EventJoin || evt.Type == types.EventAlive {
			mu.Lock()
			seen[evt.Peer] = true
			mu.Unlock()
		}
	})

	return func(t *testing.T, want int) {
		t.Helper()
		defer sub.Dispose()
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			ok := len(seen) >= want
			mu.Unlock()
			if ok {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("expected to observe %d presences, saw %d", want, len(seen))
	}
}

func TestScenario_Broadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := broker.New()
	room := types.RoomId("test-room-1")

	alice := newTestPeer(t, "Alice")
	bob := newTestPeer(t, "Bob")

	factory := direct.NewLoopbackFactory()
	aliceRoom := newLinkedTestRoom(b, room, factory)
	bobRoom := newLinkedTestRoom(b, room, factory)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	aliceLoop, err := alice.Join(ctx, aliceRoom)
	if err != nil {
		t.Fatalf("alice join failed: %v", err)
	}
	bobLoop, err := bob.Join(ctx, bobRoom)
	if err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	defer alice.Leave(context.Background(), aliceRoom)
	defer bob.Leave(context.Background(), bobRoom)

	waitUntilSessionExists(t, aliceLoop, bob.Id())
	waitUntilSessionExists(t, bobLoop, alice.Id())

	openAllFakeChannels(aliceLoop)
	openAllFakeChannels(bobLoop)

	if err := aliceLoop.WaitForOtherPeers(ctx); err != nil {
		t.Fatalf("alice's wait did not resolve after channels opened: %v", err)
	}
	if err := bobLoop.WaitForOtherPeers(ctx); err != nil {
		t.Fatalf("bob's wait did not resolve after channels opened: %v", err)
	}

	var mu sync.Mutex
	received := make(map[string]bool)
	sub := eventbus.On[presence.MessageEvent](bobLoop.Bus(), ctx, "message", func(evt presence.MessageEvent) {
		mu.Lock()
		received[string(evt.Data)] = true
		mu.Unlock()
	})
	defer sub.Dispose()

	msg := fmt.Sprintf("Hello everyone! (%s)", "Alice")
	if err := aliceLoop.SendMessage(ctx, []byte(msg)); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := received[msg]
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("bob never received %q", msg)
}

func waitUntilSessionExists(t *testing.T, loop *presence.RoomPresenceLoop, peer types.PeerId) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := loop.Sessions()[peer]; ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session for %s never appeared", peer)
}

func TestScenario_Latecomer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := broker.New()
	room := types.RoomId("test-room-1")

	alice := newTestPeer(t, "Alice")
	bob := newTestPeer(t, "Bob")
	charlie := newTestPeer(t, "Charlie")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	factory := direct.NewLoopbackFactory()
	aliceRoom := newLinkedTestRoom(b, room, factory)
	bobRoom := newLinkedTestRoom(b, room, factory)
	charlieRoom := newLinkedTestRoom(b, room, factory)

	aliceSeen := watchPresences(alice.In(aliceRoom))
	bobSeen := watchPresences(bob.In(bobRoom))
	charlieSeen := watchPresences(charlie.In(charlieRoom))

	aliceLoop, err := alice.Join(ctx, aliceRoom)
	if err != nil {
		t.Fatalf("alice join failed: %v", err)
	}
	bobLoop, err := bob.Join(ctx, bobRoom)
	if err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	charlieLoop, err := charlie.Join(ctx, charlieRoom)
	if err != nil {
		t.Fatalf("charlie join failed: %v", err)
	}

	aliceSeen(t, 3)
	bobSeen(t, 3)
	charlieSeen(t, 3)

	dan := newTestPeer(t, "Dan")
	danRoom := newLinkedTestRoom(b, room, factory)
	danLoop, err := dan.Join(ctx, danRoom)
	if err != nil {
		t.Fatalf("dan join failed: %v", err)
	}
	defer alice.Leave(context.Background(), aliceRoom)
	defer bob.Leave(context.Background(), bobRoom)
	defer charlie.Leave(context.Background(), charlieRoom)
	defer dan.Leave(context.Background(), danRoom)

	for _, l := range []*presence.RoomPresenceLoop{aliceLoop, bobLoop, charlieLoop} {
		waitUntilSessionExists(t, l, dan.Id())
	}
	waitUntilSessionExists(t, danLoop, alice.Id())
	waitUntilSessionExists(t, danLoop, bob.Id())
	waitUntilSessionExists(t, danLoop, charlie.Id())

	openAllFakeChannels(aliceLoop)
	openAllFakeChannels(bobLoop)
	openAllFakeChannels(charlieLoop)
	openAllFakeChannels(danLoop)

	var mu sync.Mutex
	received := map[*presence.RoomPresenceLoop]bool{}
	watchers := []*presence.RoomPresenceLoop{aliceLoop, bobLoop, charlieLoop}
	msg := "Hello everyone! (Dan)"

	var subs []eventbus.Subscription
	for _, l := range watchers {
		l := l
		subs = append(subs, eventbus.On[presence.MessageEvent](l.Bus(), ctx, "message", func(evt presence.MessageEvent) {
			if string(evt.Data) == msg {
				mu.Lock()
				received[l] = true
				mu.Unlock()
			}
		}))
	}
	defer func() {
		for _, s := range subs {
			s.Dispose()
		}
	}()

	if err := danLoop.WaitForOtherPeers(ctx); err != nil {
		t.Fatalf("dan never saw a ready channel: %v", err)
	}
	if err := danLoop.SendMessage(ctx, []byte(msg)); err != nil {
		t.Fatalf("dan's send failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := len(received) == len(watchers)
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("not every original peer observed dan's message: %d/%d", len(received), len(watchers))
}

func TestScenario_GlareFree(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := broker.New()
	room := types.RoomId("test-room-1")
	tr := transport.NewInProcess(b)
	cfg := session.Config{DirectFactory: direct.NewFake()}

	a, bp := types.PeerId("A"), types.PeerId("B")
	sessA := session.New(definition.NewDefaultLogger(), tr, noopNotifier{}, cfg, room, a, bp)
	sessB := session.New(definition.NewDefaultLogger(), tr, noopNotifier{}, cfg, room, bp, a)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = sessA.Connect(context.Background()) }()
	go func() { defer wg.Done(); _ = sessB.Connect(context.Background()) }()
	wg.Wait()
	defer sessA.Disconnect()
	defer sessB.Disconnect()

	time.Sleep(300 * time.Millisecond)

	events := b.Pull(broker.PullRequest{Topic: types.NewChannelId(room, a, bp).Topic()})
	offers := 0
	for _, e := range events {
		if e.Type == types.EventSdpOffer {
			offers++
		}
	}
	if offers != 1 {
		t.Fatalf("expected exactly one sdpOffer under glare, found %d", offers)
	}
}

type noopNotifier struct{}

func (noopNotifier) EmitSentSignal(types.SignalingEvent) {}

func (noopNotifier) EmitReceivedSignal(types.SignalingEvent) {}

func (noopNotifier) EmitDataChannelEvent(types.PeerId, string) {}

func (noopNotifier) EmitPeerConnectionEvent(types.PeerId, string) {}

func (noopNotifier) EmitMessage(types.PeerId, []byte) {}
