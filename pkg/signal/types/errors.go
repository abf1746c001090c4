package types

import "errors"

var (
	// ErrMissingTopicKey is returned when a push/pull carries neither a
	// RoomId nor a ChannelId. This is a programmer error at the call
	// site, never a recoverable runtime condition.
	ErrMissingTopicKey = errors.New("signal: event has neither roomId nor channelId")

	// ErrDataChannelNotReady is surfaced to a caller that tries to send
	// user data before the direct channel reached the open state.
	ErrDataChannelNotReady = errors.New("signal: data channel not ready")

	// ErrTransportClosed is returned by a transport once Close has been
	// called; any push or pull issued after that point fails this way.
	ErrTransportClosed = errors.New("signal: transport closed")

	// ErrNegotiationFailed is returned by RemotePeerSession.Reconnect
	// once its attempt budget is exhausted without the data channel
	// becoming ready.
	ErrNegotiationFailed = errors.New("signal: negotiation failed")

	// ErrSessionClosed names a session torn down by Disconnect. No
	// function in this module returns it: RemotePeerSession.Send after
	// Disconnect reports ErrDataChannelNotReady.
	ErrSessionClosed = errors.New("signal: session closed")

	// ErrJoinAborted is returned by Join when a leave record for the
	// local peer is observed on the room topic before the join itself
	// confirms, e.g. a concurrent Leave racing an in-flight Join.
	ErrJoinAborted = errors.New("signal: join aborted by a leave observed for this peer")
)
