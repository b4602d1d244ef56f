package friend

import (
	"github.com/google/uuid"

	"glusterd/internal/peer"
	"glusterd/internal/ports"
)

type EventType int

const (
	EventNone EventType = iota
	EventProbe
	EventInitFriendReq
	EventRcvdFriendReq
	EventRcvdAccept
	EventRcvdReject
	EventRemoveFriend
	EventInitRemoveFriend
	EventRcvdRemoveAck
	EventConnect
	EventDisconnect
	EventRcvdProbeAck
)

var eventNames = [...]string{
	EventNone:             "none",
	EventProbe:            "probe",
	EventInitFriendReq:    "init_friend_req",
	EventRcvdFriendReq:    "rcvd_friend_req",
	EventRcvdAccept:       "rcvd_accept",
	EventRcvdReject:       "rcvd_reject",
	EventRemoveFriend:     "remove_friend",
	EventInitRemoveFriend: "init_remove_friend",
	EventRcvdRemoveAck:    "rcvd_remove_ack",
	EventConnect:          "connect",
	EventDisconnect:       "disconnect",
	EventRcvdProbeAck:     "rcvd_probe_ack",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[t]
}

// Result is the single answer an event sends on Context.Reply.
type Result struct {
	UUID     uuid.UUID
	Hostname string
	Err      error
}

// Context is the payload of an event.
type Context struct {
	UUID     uuid.UUID
	Hostname string
	// Err carries the failure of an asynchronous RPC into reply events.
	Err error
	// Reply, when set, receives exactly one Result. It must be buffered.
	Reply chan<- Result
}

type Event struct {
	Type   EventType
	PeerID peer.ID
	Ctx    Context

	conn *link
}

// link ties transport notifications to the record that owns a connection.
// Only the event loop reads or writes it.
type link struct {
	id     peer.ID
	client ports.PeerClient
	dead   bool
}
