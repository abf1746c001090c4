package signal

import (
	"github.com/jabolina/go-rendezvous/pkg/signal/session"
	"github.com/jabolina/go-rendezvous/pkg/signal/transport"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

// Room is a value object naming a room id, the transport its presence
// loop will push/pull through, and the configuration new Remote Peer
// Sessions construct their direct transport with. A Room carries no
// loop state itself — that lives on the RoomPresenceLoop a Peer creates
// the first time it joins this particular Room handle.
type Room struct {
	Id            types.RoomId
	Transport     transport.Transport
	SessionConfig session.Config
}

// NewRoom constructs a Room bound to tr for its signaling traffic and
// cfg for any direct transport its sessions bring up.
func NewRoom(id types.RoomId, tr transport.Transport, cfg session.Config) *Room {
	return &Room{Id: id, Transport: tr, SessionConfig: cfg}
}
