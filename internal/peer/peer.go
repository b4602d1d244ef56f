package peer

import (
	"github.com/google/uuid"

	"glusterd/internal/ports"
)

// ID is a registry-local handle for a peer record. IDs are never reused.
type ID uint64

// State is the membership state of a peer.
type State int

const (
	StateNone State = iota
	StateProbeSent
	StateReqSent
	StateReqRcvd
	StateBefriended
	StateRejected
)

var stateNames = [...]string{
	StateNone:       "None",
	StateProbeSent:  "Probe Sent",
	StateReqSent:    "Request Sent",
	StateReqRcvd:    "Request Received",
	StateBefriended: "Befriended",
	StateRejected:   "Rejected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Peer is a snapshot of one registry record.
type Peer struct {
	ID        ID
	UUID      uuid.UUID
	Hostname  string
	State     State
	Connected bool
	Client    ports.PeerClient
}

// Name is the best human-readable identifier available.
func (p Peer) Name() string {
	if p.Hostname != "" {
		return p.Hostname
	}
	return p.UUID.String()
}
