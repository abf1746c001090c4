package types

// EventType discriminates a SignalingEvent's variant. Presence events
// (Join, Alive, Leave) carry a RoomId; negotiation events (SdpOffer,
// SdpAnswer, SdpRestart, IceCandidate) carry a ChannelId. A single event
// never carries both.
type EventType string

const (
	EventJoin         EventType = "join"
	EventAlive        EventType = "alive"
	EventLeave        EventType = "leave"
	EventSdpOffer     EventType = "sdpOffer"
	EventSdpAnswer    EventType = "sdpAnswer"
	EventSdpRestart   EventType = "sdpRestart"
	EventIceCandidate EventType = "iceCandidate"
)

// IsPresence reports whether this event type belongs on a room topic.
func (t EventType) IsPresence() bool {
	switch t {
	case EventJoin, EventAlive, EventLeave:
		return true
	default:
		return false
	}
}

// IsNegotiation reports whether this event type belongs on a channel topic.
func (t EventType) IsNegotiation() bool {
	return !t.IsPresence()
}

// SignalingEvent is the tagged record pushed and pulled through the
// broker. Exactly one of RoomId / ChannelId is populated, and it names
// the topic the event belongs to.
type SignalingEvent struct {
	Id     EventId   `json:"id"`
	Type   EventType `json:"type"`
	PeerId PeerId    `json:"peerId"`

	RoomId    RoomId    `json:"roomId,omitempty"`
	ChannelId ChannelId `json:"channelId,omitempty"`

	// SdpOffer/SdpAnswer/SdpRestart/IceCandidate payloads. Only the
	// field matching Type is meaningful; the rest are zero.
	Sdp       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

// Topic returns the broker key this event is addressed to, and an error
// if neither RoomId nor ChannelId was set — a programmer error at the
// call site, per the broker's MissingTopicKey contract.
func (e SignalingEvent) Topic() (Topic, error) {
	if e.ChannelId != "" {
		return e.ChannelId.Topic(), nil
	}
	if e.RoomId != "" {
		return e.RoomId.Topic(), nil
	}
	return "", ErrMissingTopicKey
}

// NewJoin builds a join presence event for the given room/peer.
func NewJoin(room RoomId, peer PeerId) SignalingEvent {
	return SignalingEvent{Id: NewEventId(), Type: EventJoin, PeerId: peer, RoomId: room}
}

// NewAlive builds an alive presence event for the given room/peer.
func NewAlive(room RoomId, peer PeerId) SignalingEvent {
	return SignalingEvent{Id: NewEventId(), Type: EventAlive, PeerId: peer, RoomId: room}
}

// NewLeave builds a terminal leave presence event for the given room/peer.
func NewLeave(room RoomId, peer PeerId) SignalingEvent {
	return SignalingEvent{Id: NewEventId(), Type: EventLeave, PeerId: peer, RoomId: room}
}

// NewSdpOffer builds an offer negotiation event on a channel topic.
func NewSdpOffer(channel ChannelId, peer PeerId, sdp string) SignalingEvent {
	return SignalingEvent{Id: NewEventId(), Type: EventSdpOffer, PeerId: peer, ChannelId: channel, Sdp: sdp}
}

// NewSdpAnswer builds an answer negotiation event on a channel topic.
func NewSdpAnswer(channel ChannelId, peer PeerId, sdp string) SignalingEvent {
	return SignalingEvent{Id: NewEventId(), Type: EventSdpAnswer, PeerId: peer, ChannelId: channel, Sdp: sdp}
}

// NewSdpRestart builds a restart negotiation event on a channel topic.
func NewSdpRestart(channel ChannelId, peer PeerId) SignalingEvent {
	return SignalingEvent{Id: NewEventId(), Type: EventSdpRestart, PeerId: peer, ChannelId: channel}
}

// NewIceCandidate builds an ICE trickle negotiation event on a channel topic.
func NewIceCandidate(channel ChannelId, peer PeerId, candidate string) SignalingEvent {
	return SignalingEvent{Id: NewEventId(), Type: EventIceCandidate, PeerId: peer, ChannelId: channel, Candidate: candidate}
}
