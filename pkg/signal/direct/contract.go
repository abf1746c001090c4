// Package direct pins the Direct Transport contract: the capability set
// a RemotePeerSession needs from the media-plane engine that actually
// carries user bytes once bringup completes. This is never implemented
// against real media here — the transport itself is explicitly out of
// scope per the root package doc — but the interface is shaped after
// pion/webrtc/v3's PeerConnection and DataChannel so a real binding can
// satisfy it with a thin wrapper around that library.
package direct

import "context"

// ReadyState mirrors RTCDataChannelState.
type ReadyState string

const (
	Connecting ReadyState = "connecting"
	Open       ReadyState = "open"
	Closing    ReadyState = "closing"
	Closed     ReadyState = "closed"
)

// ConnectionState mirrors RTCPeerConnectionState.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Candidate is an opaque ICE candidate string, carried verbatim between
// the transport and the signaling layer.
type Candidate string

// DataChannel is the capability set of a single data channel.
type DataChannel interface {
	Send(ctx context.Context, data []byte) error
	Close() error
	ReadyState() ReadyState

	OnOpen(func())
	OnClose(func())
	OnError(func(error))
	OnMessage(func(data []byte))
}

// Config configures a Transport at construction time.
type Config struct {
	ICEServers        []string
	BundlePolicy      string
	CandidatePoolSize int

	// CorrelationKey identifies the pairwise channel this Transport is
	// being built for. Production factories ignore it; NewLoopbackFactory
	// uses it to find and Link the two Fakes built for the same channel,
	// since nothing else ties two independently constructed peers'
	// transports together.
	CorrelationKey string
}

// Transport is the capability set a RemotePeerSession drives through
// the offer/answer/ICE choreography implemented in package session.
type Transport interface {
	CreateOffer(ctx context.Context) (sdp string, err error)
	CreateAnswer(ctx context.Context) (sdp string, err error)
	SetLocalDescription(ctx context.Context, sdp string) error
	SetRemoteDescription(ctx context.Context, sdp string) error
	AddICECandidate(ctx context.Context, c Candidate) error
	CreateDataChannel(label string) (DataChannel, error)
	Close() error

	ConnectionState() ConnectionState

	OnICECandidate(func(c *Candidate))
	OnDataChannel(func(DataChannel))
	OnConnectionStateChange(func(ConnectionState))
	OnNegotiationNeeded(func())
}

// Factory constructs a Transport from a Config. Production code supplies
// one backed by pion/webrtc; tests use NewFake (fake.go).
type Factory func(Config) (Transport, error)
