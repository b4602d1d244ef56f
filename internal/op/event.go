package op

import (
	"github.com/google/uuid"

	"glusterd/internal/wire"
)

type State int32

const (
	StateIdle State = iota
	StateLocked
	StateStaged
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLocked:
		return "Locked"
	case StateStaged:
		return "Staged"
	case StateCommitted:
		return "Committed"
	default:
		return "Unknown"
	}
}

type EventType int

const (
	EventStartLock EventType = iota + 1
	EventLock
	EventStageOp
	EventCommitOp
	EventUnlock
	EventRcvdReply
)

func (t EventType) String() string {
	switch t {
	case EventStartLock:
		return "start_lock"
	case EventLock:
		return "lock"
	case EventStageOp:
		return "stage_op"
	case EventCommitOp:
		return "commit_op"
	case EventUnlock:
		return "unlock"
	case EventRcvdReply:
		return "rcvd_reply"
	default:
		return "unknown"
	}
}

// Reply answers a participant-side event.
type Reply struct {
	Op  wire.OpKind
	Err error
}

// Context carries a request from another node, or from Begin for StartLock.
type Context struct {
	Requester uuid.UUID
	Op        wire.OpKind
	Blob      []byte
	// Reply, when set, receives exactly one Reply. It must be buffered.
	Reply chan<- Reply
}

type Event struct {
	Type EventType
	Ctx  Context

	result chan<- Result
	answer *peerAnswer
}

// peerAnswer is a peer's reply, or its absence, for one correlation key.
type peerAnswer struct {
	key   string
	txn   uuid.UUID
	index int
	phase Phase
	err   error

	// refused is set when the peer answered and said no.
	refused bool
}
