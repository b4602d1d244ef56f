package op

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glusterd/internal/dict"
	"glusterd/internal/metrics"
	"glusterd/internal/peer"
	"glusterd/internal/ports/portstest"
	"glusterd/internal/wire"
)

const waitFor = 3 * time.Second

type fakeHandler struct {
	mu        sync.Mutex
	stageErr  error
	commitErr error
	staged    []dict.Dict
	committed []dict.Dict
}

func (h *fakeHandler) Stage(_ context.Context, _ wire.OpKind, params dict.Dict) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staged = append(h.staged, params)
	return h.stageErr
}

func (h *fakeHandler) Commit(_ context.Context, _ wire.OpKind, params dict.Dict) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.committed = append(h.committed, params)
	return h.commitErr
}

func (h *fakeHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.staged), len(h.committed)
}

type cluster struct {
	m     *Machine
	reg   *peer.Registry
	locks *LockTable
	h     *fakeHandler
}

func newCluster(t *testing.T, h *fakeHandler, clients ...*portstest.Client) *cluster {
	t.Helper()
	return newClusterTimeout(t, h, 100*time.Millisecond, clients...)
}

func newClusterTimeout(t *testing.T, h *fakeHandler, rpcTimeout time.Duration, clients ...*portstest.Client) *cluster {
	t.Helper()
	reg := peer.NewRegistry()
	for _, c := range clients {
		id, err := reg.Add(c.Host, c.UUID, peer.StateBefriended)
		require.NoError(t, err)
		require.NoError(t, reg.SetClient(id, c))
	}

	locks := NewLockTable()
	m := New(reg, h, locks, Config{
		Self:       uuid.New(),
		RPCTimeout: rpcTimeout,
		ReplyGrace: 50 * time.Millisecond,
		QueueSize:  16,
	})
	m.Start()
	t.Cleanup(m.Stop)

	return &cluster{m: m, reg: reg, locks: locks, h: h}
}

func volumeBlob(t *testing.T) []byte {
	t.Helper()
	d := dict.New()
	d.Set("volname", "vol0")
	d.Set("type", 0)
	d.Set("count", 1)
	d.Set("bricks", "host-a:/b0")
	buf, err := dict.Serialize(d)
	require.NoError(t, err)
	return buf
}

func run(t *testing.T, c *cluster) Result {
	t.Helper()
	ch, err := c.m.Begin(context.Background(), wire.OpCreateVolume, volumeBlob(t))
	require.NoError(t, err)
	return await(t, ch)
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("transaction did not finish")
		return Result{}
	}
}

func failingLock(c *portstest.Client) *portstest.Client {
	c.ClusterLockFn = func(context.Context, *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
		return &wire.ClusterLockResponse{UUID: c.UUID, OpRet: -1, OpErrno: wire.ErrnoLockFailed}, nil
	}
	return c
}

func failingStage(c *portstest.Client) *portstest.Client {
	c.StageOpFn = func(_ context.Context, req *wire.StageOpRequest) (*wire.StageOpResponse, error) {
		return &wire.StageOpResponse{UUID: c.UUID, Op: req.Op, OpRet: -1, OpErrno: wire.ErrnoStageRejected, OpErrstr: "volume vol0 already exists"}, nil
	}
	return c
}

func failingCommit(c *portstest.Client) *portstest.Client {
	c.CommitOpFn = func(_ context.Context, req *wire.CommitOpRequest) (*wire.CommitOpResponse, error) {
		return &wire.CommitOpResponse{UUID: c.UUID, Op: req.Op, OpRet: -1, OpErrno: wire.ErrnoCommitFailed}, nil
	}
	return c
}

func TestBegin_AllPhasesInOrder(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	b := portstest.NewClient("host-b", uuid.New())
	c := newCluster(t, &fakeHandler{}, a, b)

	r := run(t, c)
	require.NoError(t, r.Err)
	assert.Equal(t, wire.OpCreateVolume, r.Op)
	assert.Empty(t, r.Failures)

	want := []string{"ClusterLock", "StageOp", "CommitOp", "ClusterUnlock"}
	assert.Equal(t, want, a.Calls())
	assert.Equal(t, want, b.Calls())

	staged, committed := c.h.counts()
	assert.Equal(t, 1, staged)
	assert.Equal(t, 1, committed)
	name, err := c.h.committed[0].String("volname")
	require.NoError(t, err)
	assert.Equal(t, "vol0", name)

	assert.False(t, c.locks.IsLocked(c.m.self))
	assert.Equal(t, StateIdle, c.m.State())
	assert.Zero(t, c.m.pending.len())
	assert.Zero(t, testutil.ToFloat64(metrics.OpPendingReplies))
}

func TestBegin_NoPeersCommitsLocally(t *testing.T) {
	c := newCluster(t, &fakeHandler{})

	r := run(t, c)
	require.NoError(t, r.Err)

	staged, committed := c.h.counts()
	assert.Equal(t, 1, staged)
	assert.Equal(t, 1, committed)
}

func TestBegin_BusyContactsNoPeer(t *testing.T) {
	release := make(chan struct{})
	a := portstest.NewClient("host-a", uuid.New())
	a.ClusterLockFn = func(ctx context.Context, req *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &wire.ClusterLockResponse{UUID: a.UUID}, nil
	}
	c := newClusterTimeout(t, &fakeHandler{}, time.Second, a)

	first, err := c.m.Begin(context.Background(), wire.OpCreateVolume, volumeBlob(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.Count("ClusterLock") == 1 }, waitFor, 5*time.Millisecond)

	_, err = c.m.Begin(context.Background(), wire.OpCreateVolume, volumeBlob(t))
	assert.True(t, errors.Is(err, ErrAlreadyInProgress))
	assert.Equal(t, 1, a.Count("ClusterLock"), "a busy node must not send lock requests")

	close(release)
	r := await(t, first)
	require.NoError(t, r.Err)

	// the lock is free again
	r = run(t, c)
	require.NoError(t, r.Err)
}

func TestBegin_BusyWhileParticipating(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	c := newCluster(t, &fakeHandler{}, a)

	remote := uuid.New()
	require.NoError(t, c.locks.Acquire(c.m.self, remote))

	_, err := c.m.Begin(context.Background(), wire.OpCreateVolume, volumeBlob(t))
	assert.True(t, errors.Is(err, ErrAlreadyInProgress))
	assert.Empty(t, a.Calls())

	owner, ok := c.locks.Owner(c.m.self)
	require.True(t, ok)
	assert.Equal(t, remote, owner)
}

func TestLockFailure_UnlocksOnlyLockedPeers(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	b := failingLock(portstest.NewClient("host-b", uuid.New()))
	cc := portstest.NewClient("host-c", uuid.New())
	c := newCluster(t, &fakeHandler{}, a, b, cc)

	r := run(t, c)
	require.Error(t, r.Err)
	assert.True(t, errors.Is(r.Err, ErrLockFailed))

	require.Len(t, r.Failures, 1)
	assert.Equal(t, b.UUID, r.Failures[0].UUID)
	assert.Equal(t, "host-b", r.Failures[0].Hostname)
	assert.Equal(t, PhaseLock, r.Failures[0].Phase)
	assert.Contains(t, r.Err.Error(), "host-b")
	assert.NotContains(t, r.Err.Error(), "lock failed: lock failed")

	assert.Equal(t, []string{"ClusterLock", "ClusterUnlock"}, a.Calls())
	assert.Equal(t, []string{"ClusterLock"}, b.Calls())
	assert.Equal(t, []string{"ClusterLock", "ClusterUnlock"}, cc.Calls())

	staged, committed := c.h.counts()
	assert.Zero(t, staged)
	assert.Zero(t, committed)
	assert.False(t, c.locks.IsLocked(c.m.self))
}

func TestStageFailure_NoCommitAnywhere(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	b := portstest.NewClient("host-b", uuid.New())
	cc := failingStage(portstest.NewClient("host-c", uuid.New()))
	c := newCluster(t, &fakeHandler{}, a, b, cc)

	r := run(t, c)
	assert.True(t, errors.Is(r.Err, ErrStageRejected))
	assert.Contains(t, r.Err.Error(), "already exists")

	for _, p := range []*portstest.Client{a, b, cc} {
		assert.Zero(t, p.Count("CommitOp"), p.Host)
		assert.Equal(t, 1, p.Count("ClusterUnlock"), p.Host)
	}

	_, committed := c.h.counts()
	assert.Zero(t, committed)
}

func TestLocalStageFailure_NoPeerStaged(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	c := newCluster(t, &fakeHandler{stageErr: errors.New("brick path in use")}, a)

	r := run(t, c)
	assert.True(t, errors.Is(r.Err, ErrStageRejected))
	require.Len(t, r.Failures, 1)
	assert.Equal(t, c.m.self, r.Failures[0].UUID)

	assert.Equal(t, []string{"ClusterLock", "ClusterUnlock"}, a.Calls())
}

func TestCommitFailure_ReportedAndUnlocked(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	b := failingCommit(portstest.NewClient("host-b", uuid.New()))
	c := newCluster(t, &fakeHandler{}, a, b)

	r := run(t, c)
	assert.True(t, errors.Is(r.Err, ErrCommitFailed))
	require.Len(t, r.Failures, 1)
	assert.Equal(t, PhaseCommit, r.Failures[0].Phase)

	assert.Equal(t, 1, a.Count("CommitOp"))
	assert.Equal(t, 1, a.Count("ClusterUnlock"))
	assert.Equal(t, 1, b.Count("ClusterUnlock"))
	assert.Equal(t, StateIdle, c.m.State())
}

func TestLockTimeout_TreatedAsFailure(t *testing.T) {
	release := make(chan struct{})
	a := portstest.NewClient("host-a", uuid.New())
	b := portstest.NewClient("host-b", uuid.New())
	// ignores its deadline, so only the reply table notices
	b.ClusterLockFn = func(context.Context, *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
		<-release
		return &wire.ClusterLockResponse{UUID: b.UUID}, nil
	}
	c := newCluster(t, &fakeHandler{}, a, b)
	t.Cleanup(func() { close(release) })

	r := run(t, c)
	assert.True(t, errors.Is(r.Err, ErrLockFailed))
	assert.True(t, errors.Is(r.Err, ErrTimeout))

	// b may have taken the lock before going quiet
	assert.Equal(t, []string{"ClusterLock", "ClusterUnlock"}, a.Calls())
	assert.Equal(t, []string{"ClusterLock", "ClusterUnlock"}, b.Calls())
}

// deliver hands a lock or unlock request to a participant machine.
func deliver(ctx context.Context, m *Machine, typ EventType, requester uuid.UUID) error {
	ch := make(chan Reply, 1)
	if err := m.Inject(ctx, Event{Type: typ, Ctx: Context{Requester: requester, Reply: ch}}); err != nil {
		return err
	}
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestLockTimeout_ReleasesLateGrant(t *testing.T) {
	b := newCluster(t, &fakeHandler{})
	bc := portstest.NewClient("host-b", uuid.New())
	bc.ClusterLockFn = func(ctx context.Context, req *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
		if err := deliver(ctx, b.m, EventLock, req.UUID); err != nil {
			return nil, err
		}
		// granted, but the answer misses the deadline
		<-ctx.Done()
		return nil, ctx.Err()
	}
	bc.ClusterUnlockFn = func(ctx context.Context, req *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error) {
		if err := deliver(ctx, b.m, EventUnlock, req.UUID); err != nil {
			return &wire.ClusterUnlockResponse{UUID: bc.UUID, OpRet: -1, OpErrno: wire.ErrnoNotLockOwner}, nil
		}
		return &wire.ClusterUnlockResponse{UUID: bc.UUID}, nil
	}
	a := newCluster(t, &fakeHandler{}, bc)

	r := run(t, a)
	assert.True(t, errors.Is(r.Err, ErrLockFailed))
	assert.True(t, errors.Is(r.Err, ErrTimeout))
	assert.Equal(t, []string{"ClusterLock", "ClusterUnlock"}, bc.Calls())

	assert.False(t, b.locks.IsLocked(b.m.self))
	require.NoError(t, participantCall(t, b.m, EventLock, uuid.New(), nil).Err, "another originator can lock b")
}

func TestRPCDeadline_ReportedAsTimeout(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	a.StageOpFn = func(ctx context.Context, _ *wire.StageOpRequest) (*wire.StageOpResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := newCluster(t, &fakeHandler{}, a)

	r := run(t, c)
	assert.True(t, errors.Is(r.Err, ErrStageRejected))
	assert.True(t, errors.Is(r.Err, ErrTimeout))
	assert.Equal(t, 1, a.Count("ClusterUnlock"))
	assert.Zero(t, a.Count("CommitOp"))
}

func TestDisconnectedParticipantFailsLock(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	c := newCluster(t, &fakeHandler{}, a)
	_, err := c.reg.Add("host-z", uuid.New(), peer.StateBefriended)
	require.NoError(t, err)

	r := run(t, c)
	assert.True(t, errors.Is(r.Err, ErrLockFailed))
	assert.True(t, errors.Is(r.Err, ErrNotConnected))
	assert.Equal(t, []string{"ClusterLock", "ClusterUnlock"}, a.Calls())
}

func TestBegin_RejectsUnknownOpAndBadBlob(t *testing.T) {
	c := newCluster(t, &fakeHandler{})

	_, err := c.m.Begin(context.Background(), wire.OpNone, nil)
	assert.True(t, errors.Is(err, ErrUnknownOp))
	assert.False(t, c.locks.IsLocked(c.m.self))

	ch, err := c.m.Begin(context.Background(), wire.OpCreateVolume, []byte{0xff, 0x01})
	require.NoError(t, err)
	r := await(t, ch)
	assert.True(t, errors.Is(r.Err, ErrStageRejected))
	assert.False(t, c.locks.IsLocked(c.m.self))
}

func participantCall(t *testing.T, m *Machine, typ EventType, requester uuid.UUID, blob []byte) Reply {
	t.Helper()
	ch := make(chan Reply, 1)
	require.NoError(t, m.Inject(context.Background(), Event{Type: typ, Ctx: Context{
		Requester: requester, Op: wire.OpCreateVolume, Blob: blob, Reply: ch,
	}}))
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatalf("no reply to %s", typ)
		return Reply{}
	}
}

func TestParticipant_LockStageCommitUnlock(t *testing.T) {
	h := &fakeHandler{}
	c := newCluster(t, h)
	owner, other := uuid.New(), uuid.New()
	blob := volumeBlob(t)

	assert.True(t, errors.Is(participantCall(t, c.m, EventStageOp, owner, blob).Err, ErrNotLockOwner))

	require.NoError(t, participantCall(t, c.m, EventLock, owner, nil).Err)
	assert.True(t, errors.Is(participantCall(t, c.m, EventLock, other, nil).Err, ErrLockFailed))

	assert.True(t, errors.Is(participantCall(t, c.m, EventStageOp, other, blob).Err, ErrNotLockOwner))

	r := participantCall(t, c.m, EventStageOp, owner, blob)
	require.NoError(t, r.Err)
	assert.Equal(t, wire.OpCreateVolume, r.Op)

	require.NoError(t, participantCall(t, c.m, EventCommitOp, owner, blob).Err)
	staged, committed := h.counts()
	assert.Equal(t, 1, staged)
	assert.Equal(t, 1, committed)

	// while a remote originator holds the lock this node cannot originate
	_, err := c.m.Begin(context.Background(), wire.OpCreateVolume, blob)
	assert.True(t, errors.Is(err, ErrAlreadyInProgress))

	assert.True(t, errors.Is(participantCall(t, c.m, EventUnlock, other, nil).Err, ErrNotLockOwner))
	require.NoError(t, participantCall(t, c.m, EventUnlock, owner, nil).Err)
	require.NoError(t, participantCall(t, c.m, EventUnlock, owner, nil).Err, "unlocking a free lock is a no-op")

	assert.False(t, c.locks.IsLocked(c.m.self))
}

func TestParticipant_HandlerRefusal(t *testing.T) {
	h := &fakeHandler{stageErr: errors.New("volume exists"), commitErr: errors.New("disk full")}
	c := newCluster(t, h)
	owner := uuid.New()
	blob := volumeBlob(t)

	require.NoError(t, participantCall(t, c.m, EventLock, owner, nil).Err)

	r := participantCall(t, c.m, EventStageOp, owner, blob)
	assert.True(t, errors.Is(r.Err, ErrStageRejected))
	assert.Contains(t, r.Err.Error(), "volume exists")

	r = participantCall(t, c.m, EventCommitOp, owner, blob)
	assert.True(t, errors.Is(r.Err, ErrCommitFailed))

	r = participantCall(t, c.m, EventStageOp, owner, []byte{0xff})
	assert.True(t, errors.Is(r.Err, ErrStageRejected))
}

func TestStop_FailsActiveTransaction(t *testing.T) {
	a := portstest.NewClient("host-a", uuid.New())
	a.ClusterLockFn = func(ctx context.Context, _ *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := newClusterTimeout(t, &fakeHandler{}, 10*time.Second, a)

	ch, err := c.m.Begin(context.Background(), wire.OpCreateVolume, volumeBlob(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.Count("ClusterLock") == 1 }, waitFor, 5*time.Millisecond)

	c.m.Stop()

	r := await(t, ch)
	assert.True(t, errors.Is(r.Err, ErrStopped))
	assert.False(t, c.locks.IsLocked(c.m.self))

	_, err = c.m.Begin(context.Background(), wire.OpCreateVolume, volumeBlob(t))
	assert.True(t, errors.Is(err, ErrStopped))
	assert.False(t, c.locks.IsLocked(c.m.self))
}

func TestLockTable(t *testing.T) {
	lt := NewLockTable()
	node, a, b := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, lt.Release(node, a))
	require.NoError(t, lt.Acquire(node, a))
	assert.True(t, errors.Is(lt.Acquire(node, b), ErrAlreadyLocked))
	assert.True(t, errors.Is(lt.Acquire(node, a), ErrAlreadyLocked))
	assert.True(t, errors.Is(lt.Release(node, b), ErrNotLockOwner))

	owner, ok := lt.Owner(node)
	require.True(t, ok)
	assert.Equal(t, a, owner)

	require.NoError(t, lt.Release(node, a))
	assert.False(t, lt.IsLocked(node))
}

func TestTransaction_Outcome(t *testing.T) {
	txn := newTransaction(wire.OpCreateVolume, nil, nil, nil, nil)
	assert.NoError(t, txn.outcome())

	txn.fail(PeerFailure{Hostname: "host-b", Phase: PhaseUnlock, Err: errors.New("gone")})
	assert.NoError(t, txn.outcome(), "unlock failures alone do not fail a transaction")

	txn.fail(PeerFailure{Hostname: "host-c", Phase: PhaseCommit, Err: ErrTimeout})
	err := txn.outcome()
	assert.True(t, errors.Is(err, ErrCommitFailed))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "host-c: commit")
}

func TestRefusal(t *testing.T) {
	tests := []struct {
		errno wire.Errno
		msg   string
		want  string
	}{
		{wire.ErrnoLockFailed, "", "lock failed"},
		{wire.ErrnoNone, "", "lock failed"},
		{wire.ErrnoBusy, "", "lock failed: another transaction is in progress"},
		{wire.ErrnoLockFailed, "held by host-c", "lock failed: held by host-c"},
	}
	for _, tt := range tests {
		err := refusal(ErrLockFailed, wire.ErrnoLockFailed, tt.errno, tt.msg)
		assert.True(t, errors.Is(err, ErrLockFailed))
		assert.Equal(t, tt.want, err.Error())
	}
}
