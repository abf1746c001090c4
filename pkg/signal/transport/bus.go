package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jabolina/go-rendezvous/pkg/signal/broker"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

// busRequestTimeout is how long a BusClient waits for a correlated
// response before giving up. The request isn't cancelled on the wire —
// a late reply is simply dropped — so this only bounds how long the
// caller waits, matching the cross-document-bus contract of resolving
// to "no events" on timeout rather than failing the call.
const busRequestTimeout = 5 * time.Second

type busKind string

const (
	busPush busKind = "push"
	busPull busKind = "pull"
)

// busFrame is the wire shape exchanged over the bus connection. Exactly
// one of Event / Request is populated on a request frame; Events /
// ErrMessage are populated on the matching response.
type busFrame struct {
	RequestId  string                 `json:"requestId"`
	Kind       busKind                `json:"kind,omitempty"`
	Event      *types.SignalingEvent  `json:"event,omitempty"`
	Request    *PullRequest           `json:"request,omitempty"`
	Events     []types.SignalingEvent `json:"events,omitempty"`
	ErrMessage string                 `json:"error,omitempty"`
}

var busUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// BusServer models a cross-document message bus peer: it accepts a
// websocket connection and answers push/pull frames against a shared
// broker, correlating each reply by the request id the client minted.
type BusServer struct {
	broker *broker.Broker
}

// NewBusServer wraps broker b for serving over the bus.
func NewBusServer(b *broker.Broker) *BusServer {
	return &BusServer{broker: b}
}

// ServeHTTP upgrades the connection and answers frames until it closes.
func (s *BusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := busUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var frame busFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		reply := s.handle(frame)
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *BusServer) handle(frame busFrame) busFrame {
	reply := busFrame{RequestId: frame.RequestId}
	switch frame.Kind {
	case busPush:
		if frame.Event == nil {
			reply.ErrMessage = "missing event"
			return reply
		}
		if err := s.broker.Push(*frame.Event); err != nil {
			reply.ErrMessage = err.Error()
		}
	case busPull:
		if frame.Request == nil {
			reply.ErrMessage = "missing pull request"
			return reply
		}
		reply.Events = s.broker.Pull(broker.PullRequest{Topic: frame.Request.Topic, After: frame.Request.After})
	default:
		reply.ErrMessage = "unknown frame kind"
	}
	return reply
}

// BusClient is the Transport implementation driving a BusServer over a
// single long-lived websocket connection, multiplexing concurrent
// callers by a client-generated request id.
type BusClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan busFrame
	closed  bool
}

// DialBus connects to a BusServer listening at wsURL (e.g.
// "ws://127.0.0.1:8080/bus") and starts the background read loop that
// demultiplexes replies to their waiting caller.
func DialBus(ctx context.Context, wsURL string) (*BusClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	c := &BusClient{conn: conn, pending: make(map[string]chan busFrame)}
	go c.readLoop()
	return c, nil
}

func (c *BusClient) readLoop() {
	for {
		var frame busFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.shutdown()
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.RequestId]
		if ok {
			delete(c.pending, frame.RequestId)
		}
		c.mu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

func (c *BusClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *BusClient) roundTrip(ctx context.Context, frame busFrame) (busFrame, bool, error) {
	frame.RequestId = uuid.NewString()
	ch := make(chan busFrame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return busFrame{}, false, types.ErrTransportClosed
	}
	c.pending[frame.RequestId] = ch
	c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return busFrame{}, false, err
	}
	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return busFrame{}, false, err
	}

	timeout := time.NewTimer(busRequestTimeout)
	defer timeout.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return busFrame{}, false, nil
		}
		return reply, true, nil
	case <-timeout.C:
		c.mu.Lock()
		delete(c.pending, frame.RequestId)
		c.mu.Unlock()
		return busFrame{}, false, nil
	case <-ctx.Done():
		return busFrame{}, false, ctx.Err()
	}
}

// Push sends event and waits for an ack. A 5s timeout resolves silently
// (no error) rather than failing the call, matching the bus transport's
// contract: the core never retries a push itself, so there's nothing
// gained by surfacing a timeout as an error here.
func (c *BusClient) Push(ctx context.Context, event types.SignalingEvent) error {
	reply, got, err := c.roundTrip(ctx, busFrame{Kind: busPush, Event: &event})
	if err != nil {
		return err
	}
	if !got {
		return nil
	}
	if reply.ErrMessage != "" {
		return &busError{reply.ErrMessage}
	}
	return nil
}

// Pull requests events after req.After and resolves to an empty slice
// on a 5s timeout rather than an error.
func (c *BusClient) Pull(ctx context.Context, req PullRequest) ([]types.SignalingEvent, error) {
	reply, got, err := c.roundTrip(ctx, busFrame{Kind: busPull, Request: &req})
	if err != nil {
		return nil, err
	}
	if !got {
		return []types.SignalingEvent{}, nil
	}
	if reply.ErrMessage != "" {
		return nil, &busError{reply.ErrMessage}
	}
	if reply.Events == nil {
		return []types.SignalingEvent{}, nil
	}
	return reply.Events, nil
}

// Close tears down the underlying connection.
func (c *BusClient) Close() error {
	c.shutdown()
	return c.conn.Close()
}

type busError struct{ msg string }

func (e *busError) Error() string { return "signal: bus: " + e.msg }
