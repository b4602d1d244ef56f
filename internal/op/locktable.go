package op

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"glusterd/internal/metrics"
)

// LockTable maps a node to the uuid of whoever holds that node's cluster
// lock. It is shared by the event loop and Begin, hence the mutex.
type LockTable struct {
	mu     sync.Mutex
	owners map[uuid.UUID]uuid.UUID
}

func NewLockTable() *LockTable {
	return &LockTable{owners: make(map[uuid.UUID]uuid.UUID)}
}

func (t *LockTable) Acquire(node, owner uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if held, ok := t.owners[node]; ok {
		return fmt.Errorf("%w: held by %s", ErrAlreadyLocked, held)
	}
	t.owners[node] = owner
	metrics.ClusterLockHeld.Set(1)
	return nil
}

// Release frees node's lock. Releasing a free lock is a no-op.
func (t *LockTable) Release(node, owner uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	held, ok := t.owners[node]
	if !ok {
		return nil
	}
	if held != owner {
		return fmt.Errorf("%w: held by %s, release by %s", ErrNotLockOwner, held, owner)
	}
	delete(t.owners, node)
	if len(t.owners) == 0 {
		metrics.ClusterLockHeld.Set(0)
	}
	return nil
}

func (t *LockTable) Owner(node uuid.UUID) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[node]
	return owner, ok
}

func (t *LockTable) IsLocked(node uuid.UUID) bool {
	_, ok := t.Owner(node)
	return ok
}
