package types

import (
	"crypto/rand"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EventId uniquely identifies a SignalingEvent inside a topic. It is
// lexicographically sortable by creation time, so a cursor can be
// compared as a plain string equality check without a side index.
type EventId string

// NewEventId mints a fresh, time-sortable identifier for an event about
// to be pushed onto a topic.
func NewEventId() EventId {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return EventId(id.String())
}

// PeerId identifies a peer process. A reload must never reuse the
// identity of a previous incarnation, so every PeerId is the caller's
// requested name plus a process-unique suffix minted once at startup.
type PeerId string

// processSuffix is minted once per process and appended to every PeerId.
var processSuffix = uuid.NewString()

// NewPeerId combines a caller-supplied name with the process-unique
// suffix. Every id minted in one process shares that suffix, so the
// same name yields the same id within a process; the suffix exists to
// make a reload distinguishable from the peer that came before it.
func NewPeerId(name string) PeerId {
	if name == "" {
		name = "peer"
	}
	return PeerId(fmt.Sprintf("%s-%s", name, processSuffix))
}

// Topic is the broker-level key identifying either a room or a channel
// stream. The two namespaces never collide because a ChannelId embeds
// the RoomId it was derived from.
type Topic string

// RoomId names a room's presence topic directly.
type RoomId string

func (r RoomId) Topic() Topic { return Topic(r) }

// ChannelId names the pairwise negotiation topic shared by two peers
// inside a room. It is a pure function of (roomId, peerA, peerB): sort
// the two peer ids and join them onto the room id, so either side
// derives the same topic independently.
type ChannelId string

func (c ChannelId) Topic() Topic { return Topic(c) }

// NewChannelId derives the deterministic channel id for a pair of peers
// inside a room. The peer ids are sorted lexicographically first, so
// NewChannelId(room, a, b) == NewChannelId(room, b, a).
func NewChannelId(room RoomId, a, b PeerId) ChannelId {
	lo, hi := string(a), string(b)
	if lo > hi {
		lo, hi = hi, lo
	}
	return ChannelId(fmt.Sprintf("%s:%s-%s", room, lo, hi))
}

// Role is which side of a pairwise channel a peer plays. The peer whose
// id sorts first is always the Initiator; this removes the need for any
// negotiation about who creates the offer and eliminates glare.
type Role int

const (
	Responder Role = iota
	Initiator
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// RoleFor returns the deterministic role of localId relative to otherId.
func RoleFor(localId, otherId PeerId) Role {
	if localId < otherId {
		return Initiator
	}
	return Responder
}

// SortPeerPair returns the two ids in lexicographic order, matching the
// ordering ChannelId derivation relies on.
func SortPeerPair(a, b PeerId) (lo, hi PeerId) {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return PeerId(ids[0]), PeerId(ids[1])
}
