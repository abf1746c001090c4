// Package signal implements a peer-to-peer session-establishment layer:
// independent peers discover each other inside named rooms and bring up
// direct, bidirectional data channels between every pair of peers in the
// same room, using a passive, transport-agnostic signaling medium as the
// only shared rendezvous.
//
// The media-plane transport that eventually carries user bytes (see
// pkg/signal/direct) is an external collaborator — this module only
// negotiates its bringup over the signaling broker (pkg/signal/broker)
// and abstract transport (pkg/signal/transport). It does not
// authenticate peers, encrypt signaling payloads, guarantee total
// ordering across topics, guarantee exactly-once delivery, or route
// user messages through the broker once a direct channel is open.
//
// A Room is a value object and owns no loop state. Peer owns a mapping
// from Room handle identity (not room id) to that handle's
// RoomPresenceLoop, so two Room handles constructed with the same room
// id are independent. RoomPresenceLoop owns a RemotePeerSession per
// discovered remote peer; sessions hold a non-owning back-reference
// (session.Notifier) to their owning loop rather than the loop's
// concrete type, to avoid a cyclic package dependency.
package signal
