package direct

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// NewFake returns a Factory producing in-memory Transport fakes. It
// never touches real media — it exists so RemotePeerSession's
// offer/answer/ICE/restart choreography can be exercised deterministically
// in tests. State transitions (ICE candidates, connection state) are
// driven explicitly by the test through the returned *Fake, not
// automatically, so tests can reproduce specific orderings (in
// particular the late-answer-on-a-new-transport case that
// session.RemotePeerSession's answer handling flags as ambiguous). Fakes built this way are never linked to one
// another — each is an island, which is the right shape for exercising
// one RemotePeerSession's own choreography in isolation.
func NewFake() Factory {
	return func(cfg Config) (Transport, error) {
		return newFake(cfg), nil
	}
}

// NewLoopbackFactory returns a Factory whose Fakes automatically Link to
// whichever other Fake is built against the same Config.CorrelationKey.
// This stands in for the real transport's post-negotiation media path —
// which this module never drives itself — so that scenario-level tests
// spanning two peers' sessions can observe an actual data channel open
// and actual message delivery between them, not just the signaling
// choreography each side runs independently. Callers that want the two
// ends of one pairwise channel to loop back to each other pass the same
// factory to both rooms and the same channel id (the natural
// CorrelationKey) through Config.
func NewLoopbackFactory() Factory {
	var mu sync.Mutex
	waiting := make(map[string]*Fake)
	return func(cfg Config) (Transport, error) {
		f := newFake(cfg)
		if cfg.CorrelationKey == "" {
			return f, nil
		}
		mu.Lock()
		defer mu.Unlock()
		if peer, ok := waiting[cfg.CorrelationKey]; ok {
			delete(waiting, cfg.CorrelationKey)
			f.Link(peer)
		} else {
			waiting[cfg.CorrelationKey] = f
		}
		return f, nil
	}
}

var fakeSdpCounter int64

func newFake(cfg Config) *Fake {
	return &Fake{cfg: cfg, state: StateNew}
}

// Fake is an in-memory Transport implementation for tests.
type Fake struct {
	cfg Config

	mu              sync.Mutex
	state           ConnectionState
	localDesc       string
	remoteDesc      string
	channels        []*FakeDataChannel
	closed          bool
	linked          *Fake
	pendingChannels []*FakeDataChannel

	onICECandidate func(*Candidate)
	onDataChannel  func(DataChannel)
	onStateChange  func(ConnectionState)
	onNegotiation  func()
}

func (f *Fake) CreateOffer(_ context.Context) (string, error) {
	n := atomic.AddInt64(&fakeSdpCounter, 1)
	return fmt.Sprintf("offer-%d", n), nil
}

func (f *Fake) CreateAnswer(_ context.Context) (string, error) {
	n := atomic.AddInt64(&fakeSdpCounter, 1)
	return fmt.Sprintf("answer-%d", n), nil
}

func (f *Fake) SetLocalDescription(_ context.Context, sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("direct: transport closed")
	}
	f.localDesc = sdp
	return nil
}

func (f *Fake) SetRemoteDescription(_ context.Context, sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("direct: transport closed")
	}
	f.remoteDesc = sdp
	return nil
}

func (f *Fake) AddICECandidate(_ context.Context, _ Candidate) error {
	return nil
}

// CreateDataChannel creates a local channel and, if this Fake is already
// Linked to a peer, immediately delivers a matching remote-opened
// channel to that peer (queued until the peer registers OnDataChannel,
// if it hasn't yet).
func (f *Fake) CreateDataChannel(label string) (DataChannel, error) {
	ch := newFakeDataChannel(label)
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	linked := f.linked
	f.mu.Unlock()
	if linked != nil {
		linked.deliverRemoteChannel(ch)
	}
	return ch, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = StateClosed
	for _, ch := range f.channels {
		ch.simulateClose()
	}
	return nil
}

func (f *Fake) ConnectionState() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) OnICECandidate(h func(*Candidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICECandidate = h
}

func (f *Fake) OnDataChannel(h func(DataChannel)) {
	f.mu.Lock()
	f.onDataChannel = h
	pending := f.pendingChannels
	f.pendingChannels = nil
	f.mu.Unlock()
	for _, ch := range pending {
		h(ch)
	}
}

func (f *Fake) OnConnectionStateChange(h func(ConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStateChange = h
}

func (f *Fake) OnNegotiationNeeded(h func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNegotiation = h
}

// Link connects f and other so that a data channel created on either
// side is mirrored to the other via its OnDataChannel handler, and
// messages/opens on one side's channel propagate to its mirror. Any
// channel already created on either side before Link is called is
// delivered to the other side as part of linking, so call order
// (create-then-link or link-then-create) doesn't matter.
func (f *Fake) Link(other *Fake) {
	f.mu.Lock()
	f.linked = other
	fPending := append([]*FakeDataChannel(nil), f.channels...)
	f.mu.Unlock()

	other.mu.Lock()
	other.linked = f
	otherPending := append([]*FakeDataChannel(nil), other.channels...)
	other.mu.Unlock()

	for _, ch := range fPending {
		other.deliverRemoteChannel(ch)
	}
	for _, ch := range otherPending {
		f.deliverRemoteChannel(ch)
	}
}

// deliverRemoteChannel mirrors remote (a channel created on the other
// side of a Link) onto f, firing f's OnDataChannel handler if one is
// registered, or queuing it until one is. A channel already mirrored is
// not delivered twice.
func (f *Fake) deliverRemoteChannel(remote *FakeDataChannel) {
	remote.mu.Lock()
	if remote.peer != nil {
		remote.mu.Unlock()
		return
	}
	remote.mu.Unlock()

	ch := newFakeDataChannel(remote.label)
	ch.peer = remote
	remote.mu.Lock()
	remote.peer = ch
	remote.mu.Unlock()

	f.mu.Lock()
	f.channels = append(f.channels, ch)
	handler := f.onDataChannel
	if handler == nil {
		f.pendingChannels = append(f.pendingChannels, ch)
	}
	f.mu.Unlock()
	if handler != nil {
		handler(ch)
	}
}

// SimulateConnectionState lets a test drive the fake past StateNew,
// firing any registered OnConnectionStateChange handler.
func (f *Fake) SimulateConnectionState(s ConnectionState) {
	f.mu.Lock()
	f.state = s
	handler := f.onStateChange
	f.mu.Unlock()
	if handler != nil {
		handler(s)
	}
}

// SimulateICECandidate fires a locally generated candidate, as a real
// transport would when ICE gathering produces one.
func (f *Fake) SimulateICECandidate(c Candidate) {
	f.mu.Lock()
	handler := f.onICECandidate
	f.mu.Unlock()
	if handler != nil {
		handler(&c)
	}
}

// LocalDescription returns whatever was last passed to
// SetLocalDescription, mostly useful for test assertions.
func (f *Fake) LocalDescription() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localDesc
}

// FakeDataChannel is the DataChannel counterpart to Fake.
type FakeDataChannel struct {
	label string

	mu      sync.Mutex
	state   ReadyState
	sent    [][]byte
	peer    *FakeDataChannel
	onOpen  func()
	onClose func()
	onError func(error)
	onMsg   func([]byte)
}

func newFakeDataChannel(label string) *FakeDataChannel {
	return &FakeDataChannel{label: label, state: Connecting}
}

// Send appends data to this channel's own record and, if it is Linked to
// a peer channel (via the owning Fakes' Link call), delivers it to that
// peer as an inbound message — standing in for the real data plane this
// module never carries itself.
func (c *FakeDataChannel) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return fmt.Errorf("direct: data channel not open")
	}
	c.sent = append(c.sent, data)
	peer := c.peer
	c.mu.Unlock()
	if peer != nil {
		peer.SimulateMessage(data)
	}
	return nil
}

func (c *FakeDataChannel) Close() error {
	c.simulateClose()
	return nil
}

func (c *FakeDataChannel) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *FakeDataChannel) OnOpen(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = h
}

func (c *FakeDataChannel) OnClose(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = h
}

func (c *FakeDataChannel) OnError(h func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = h
}

func (c *FakeDataChannel) OnMessage(h func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = h
}

// SimulateOpen transitions the channel to Open and fires OnOpen. If this
// channel is Linked to a peer channel, the peer is opened too — a real
// data channel's open event is a consequence of the shared underlying
// transport reaching readiness, not a one-sided transition.
func (c *FakeDataChannel) SimulateOpen() {
	c.mu.Lock()
	if c.state == Open {
		c.mu.Unlock()
		return
	}
	c.state = Open
	h := c.onOpen
	peer := c.peer
	c.mu.Unlock()
	if h != nil {
		h()
	}
	if peer != nil {
		peer.SimulateOpen()
	}
}

func (c *FakeDataChannel) simulateClose() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	h := c.onClose
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

// SimulateMessage delivers an inbound message to the channel's handler.
func (c *FakeDataChannel) SimulateMessage(data []byte) {
	c.mu.Lock()
	h := c.onMsg
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// SentMessages returns every payload handed to Send, for assertions.
func (c *FakeDataChannel) SentMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}
