package op

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"glusterd/internal/dict"
	"glusterd/internal/peer"
	"glusterd/internal/ports"
	"glusterd/internal/wire"
)

type Phase int

const (
	PhaseLock Phase = iota
	PhaseStage
	PhaseCommit
	PhaseUnlock
)

func (p Phase) String() string {
	switch p {
	case PhaseLock:
		return "lock"
	case PhaseStage:
		return "stage"
	case PhaseCommit:
		return "commit"
	case PhaseUnlock:
		return "unlock"
	default:
		return "unknown"
	}
}

// PeerFailure names one node that failed one phase. A zero Hostname with
// the local uuid means this node.
type PeerFailure struct {
	UUID     uuid.UUID
	Hostname string
	Phase    Phase
	Err      error
}

func (f PeerFailure) Error() string {
	name := f.Hostname
	if name == "" {
		name = f.UUID.String()
	}
	return fmt.Sprintf("%s: %s: %v", name, f.Phase, f.Err)
}

func (f PeerFailure) Unwrap() error { return f.Err }

// Result is what the originator of a transaction gets back.
type Result struct {
	TxnID    uuid.UUID
	Op       wire.OpKind
	Err      error
	Failures []PeerFailure
}

type participant struct {
	id       peer.ID
	uuid     uuid.UUID
	hostname string
	client   ports.PeerClient

	// locked is set once the peer may hold our lock: it granted it, or its
	// lock reply never came back.
	locked bool
}

// Transaction is the single cluster operation this node is originating.
type Transaction struct {
	ID     uuid.UUID
	Op     wire.OpKind
	Blob   []byte
	Params dict.Dict

	participants []*participant
	phase        Phase
	waiting      map[string]struct{}
	failures     []PeerFailure
	started      time.Time
	result       chan<- Result
}

func newTransaction(op wire.OpKind, blob []byte, params dict.Dict, peers []peer.Peer, result chan<- Result) *Transaction {
	t := &Transaction{
		ID:      uuid.New(),
		Op:      op,
		Blob:    blob,
		Params:  params,
		phase:   PhaseLock,
		waiting: make(map[string]struct{}),
		started: time.Now(),
		result:  result,
	}
	for _, p := range peers {
		t.participants = append(t.participants, &participant{
			id:       p.ID,
			uuid:     p.UUID,
			hostname: p.Hostname,
			client:   p.Client,
		})
	}
	return t
}

func (t *Transaction) key(phase Phase, index int) string {
	return fmt.Sprintf("%s/%s/%d", t.ID, phase, index)
}

func (t *Transaction) fail(f PeerFailure) {
	t.failures = append(t.failures, f)
}

func (t *Transaction) failedIn(phase Phase) bool {
	for _, f := range t.failures {
		if f.Phase == phase {
			return true
		}
	}
	return false
}

// outcome folds the failures into the caller-facing error. Unlock failures
// alone do not fail a committed transaction.
func (t *Transaction) outcome() error {
	var sentinel error
	switch {
	case t.failedIn(PhaseLock):
		sentinel = ErrLockFailed
	case t.failedIn(PhaseStage):
		sentinel = ErrStageRejected
	case t.failedIn(PhaseCommit):
		sentinel = ErrCommitFailed
	default:
		return nil
	}

	errs := make([]error, 0, len(t.failures))
	for _, f := range t.failures {
		errs = append(errs, f)
	}
	return fmt.Errorf("%w: %w", sentinel, errors.Join(errs...))
}
