package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glusterd/internal/dict"
	"glusterd/internal/friend"
	"glusterd/internal/op"
	"glusterd/internal/peer"
	"glusterd/internal/ports/portstest"
	"glusterd/internal/volume"
	"glusterd/internal/wire"
)

type node struct {
	svc     *Service
	self    uuid.UUID
	reg     *peer.Registry
	dialer  *portstest.Dialer
	volumes *volume.Store
	friends *friend.Machine
	ops     *op.Machine
}

func newNode(t *testing.T, clients ...*portstest.Client) *node {
	t.Helper()

	self := uuid.New()
	reg := peer.NewRegistry()
	d := portstest.NewDialer(clients...)
	volumes := volume.NewStore()

	fm := friend.New(reg, d, friend.Config{Self: self, Hostname: "node-a", RPCTimeout: 200 * time.Millisecond, QueueSize: 16})
	om := op.New(reg, volumes, op.NewLockTable(), op.Config{Self: self, RPCTimeout: 200 * time.Millisecond, ReplyGrace: 50 * time.Millisecond, QueueSize: 16})
	fm.Start()
	om.Start()
	t.Cleanup(func() {
		om.Stop()
		fm.Stop()
	})

	return &node{
		svc:     NewService(self, "node-a", reg, fm, om),
		self:    self,
		reg:     reg,
		dialer:  d,
		volumes: volumes,
		friends: fm,
		ops:     om,
	}
}

func reqCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

func volumeRequest(t *testing.T, v volume.Volume) *wire.CLICreateVolumeRequest {
	t.Helper()
	buf, err := dict.Serialize(v.Params())
	require.NoError(t, err)
	return &wire.CLICreateVolumeRequest{Bricks: buf}
}

func TestProbeQuery_EchoesHostname(t *testing.T) {
	n := newNode(t)

	resp, err := n.svc.ProbeQuery(reqCtx(t), &wire.ProbeRequest{UUID: uuid.New(), Hostname: "node-a.example"})
	require.NoError(t, err)
	assert.Equal(t, n.self, resp.UUID)
	assert.Equal(t, "node-a.example", resp.Hostname)
	assert.Zero(t, resp.OpRet)
}

func TestFriendAdd(t *testing.T) {
	n := newNode(t)

	_, err := n.svc.FriendAdd(reqCtx(t), &wire.FriendRequest{Hostname: "host-b"})
	assert.True(t, errors.Is(err, ErrDecode))

	u := uuid.New()
	resp, err := n.svc.FriendAdd(reqCtx(t), &wire.FriendRequest{UUID: u, Hostname: "host-b"})
	require.NoError(t, err)
	assert.Zero(t, resp.OpRet)
	assert.Equal(t, n.self, resp.UUID)
	assert.Equal(t, "node-a", resp.Hostname)

	p, ok := n.reg.FindByUUID(u)
	require.True(t, ok)
	assert.Equal(t, peer.StateBefriended, p.State)

	resp, err = n.svc.FriendAdd(reqCtx(t), &wire.FriendRequest{UUID: n.self, Hostname: "mirror"})
	require.NoError(t, err)
	assert.Equal(t, int32(-1), resp.OpRet)
	assert.Equal(t, wire.ErrnoRejected, resp.OpErrno)
}

func TestFriendRemove_AlwaysAcks(t *testing.T) {
	n := newNode(t)

	_, err := n.svc.FriendRemove(reqCtx(t), &wire.FriendRequest{})
	assert.True(t, errors.Is(err, ErrDecode))

	resp, err := n.svc.FriendRemove(reqCtx(t), &wire.FriendRequest{UUID: uuid.New(), Hostname: "stranger"})
	require.NoError(t, err)
	assert.Zero(t, resp.OpRet)
	assert.Equal(t, n.self, resp.UUID)
}

func TestCLIProbeListDeprobe(t *testing.T) {
	b := portstest.NewClient("host-b", uuid.New())
	n := newNode(t, b)

	_, err := n.svc.CLIProbe(reqCtx(t), &wire.CLIProbeRequest{})
	assert.True(t, errors.Is(err, ErrDecode))

	resp, err := n.svc.CLIProbe(reqCtx(t), &wire.CLIProbeRequest{Hostname: "host-b"})
	require.NoError(t, err)
	assert.Zero(t, resp.OpRet, resp.Error)
	assert.Equal(t, "host-b", resp.Hostname)

	list, err := n.svc.CLIListPeers(reqCtx(t), &wire.CLIListPeersRequest{Flags: wire.ListAll})
	require.NoError(t, err)
	d, err := dict.Unserialize(list.Friends)
	require.NoError(t, err)

	count, err := d.Int32("count")
	require.NoError(t, err)
	assert.Equal(t, int32(1), count)
	host, _ := d.String("friend1.hostname")
	assert.Equal(t, "host-b", host)
	id, _ := d.String("friend1.uuid")
	assert.Equal(t, b.UUID.String(), id)
	state, err := d.Int32("friend1.state")
	require.NoError(t, err)
	assert.Equal(t, int32(peer.StateBefriended), state)

	bare, err := n.svc.CLIListPeers(reqCtx(t), &wire.CLIListPeersRequest{})
	require.NoError(t, err)
	assert.Zero(t, bare.OpRet)
	assert.Empty(t, bare.Friends, "details only with ListAll")

	dresp, err := n.svc.CLIDeprobe(reqCtx(t), &wire.CLIDeprobeRequest{Hostname: "host-b"})
	require.NoError(t, err)
	assert.Zero(t, dresp.OpRet, dresp.Error)
	assert.Equal(t, 1, b.Count("FriendRemove"))
	assert.Zero(t, n.reg.Len())

	dresp, err = n.svc.CLIDeprobe(reqCtx(t), &wire.CLIDeprobeRequest{Hostname: "host-b"})
	require.NoError(t, err)
	assert.Equal(t, int32(-1), dresp.OpRet)
	assert.Equal(t, wire.ErrnoPeerNotFound, dresp.OpErrno)
}

func TestCLIProbe_Unreachable(t *testing.T) {
	n := newNode(t)
	n.dialer.Refuse("host-x")

	resp, err := n.svc.CLIProbe(reqCtx(t), &wire.CLIProbeRequest{Hostname: "host-x"})
	require.NoError(t, err)
	assert.Equal(t, int32(-1), resp.OpRet)
	assert.Equal(t, wire.ErrnoUnreachable, resp.OpErrno)
	assert.NotEmpty(t, resp.Error)
}

func TestCLIListPeers_Empty(t *testing.T) {
	n := newNode(t)

	resp, err := n.svc.CLIListPeers(reqCtx(t), &wire.CLIListPeersRequest{Flags: wire.ListAll})
	require.NoError(t, err)
	assert.Zero(t, resp.OpRet)
	assert.Empty(t, resp.Friends)

	resp, err = n.svc.CLIListPeers(reqCtx(t), &wire.CLIListPeersRequest{Flags: 42})
	require.NoError(t, err)
	assert.Zero(t, resp.OpRet)
}

func TestClusterLockStageCommitUnlock(t *testing.T) {
	n := newNode(t)
	owner, other := uuid.New(), uuid.New()
	blob := volumeRequest(t, volume.Volume{Name: "vol0", Bricks: []string{"node-a:/b0"}}).Bricks

	_, err := n.svc.ClusterLock(reqCtx(t), &wire.ClusterLockRequest{})
	assert.True(t, errors.Is(err, ErrDecode))

	lock, err := n.svc.ClusterLock(reqCtx(t), &wire.ClusterLockRequest{UUID: owner})
	require.NoError(t, err)
	assert.Zero(t, lock.OpRet)
	assert.Equal(t, n.self, lock.UUID)

	lock, err = n.svc.ClusterLock(reqCtx(t), &wire.ClusterLockRequest{UUID: other})
	require.NoError(t, err)
	assert.Equal(t, wire.ErrnoLockFailed, lock.OpErrno)

	stage, err := n.svc.StageOp(reqCtx(t), &wire.StageOpRequest{UUID: other, Op: wire.OpCreateVolume, Buf: blob})
	require.NoError(t, err)
	assert.Equal(t, int32(-1), stage.OpRet)
	assert.Equal(t, wire.ErrnoNotLockOwner, stage.OpErrno)

	stage, err = n.svc.StageOp(reqCtx(t), &wire.StageOpRequest{UUID: owner, Op: wire.OpCreateVolume, Buf: blob})
	require.NoError(t, err)
	assert.Zero(t, stage.OpRet, stage.OpErrstr)
	assert.Equal(t, wire.OpCreateVolume, stage.Op)

	commit, err := n.svc.CommitOp(reqCtx(t), &wire.CommitOpRequest{UUID: owner, Op: wire.OpCreateVolume, Buf: blob})
	require.NoError(t, err)
	assert.Zero(t, commit.OpRet, commit.OpErrstr)
	_, ok := n.volumes.Get("vol0")
	assert.True(t, ok)

	stage, err = n.svc.StageOp(reqCtx(t), &wire.StageOpRequest{UUID: owner, Op: wire.OpCreateVolume, Buf: blob})
	require.NoError(t, err)
	assert.Equal(t, wire.ErrnoStageRejected, stage.OpErrno)
	assert.Contains(t, stage.OpErrstr, "already exists")

	unlock, err := n.svc.ClusterUnlock(reqCtx(t), &wire.ClusterUnlockRequest{UUID: other})
	require.NoError(t, err)
	assert.Equal(t, wire.ErrnoNotLockOwner, unlock.OpErrno)

	unlock, err = n.svc.ClusterUnlock(reqCtx(t), &wire.ClusterUnlockRequest{UUID: owner})
	require.NoError(t, err)
	assert.Zero(t, unlock.OpRet)
}

func TestCLICreateVolume(t *testing.T) {
	b := portstest.NewClient("host-b", uuid.New())
	n := newNode(t, b)

	_, err := n.svc.CLIProbe(reqCtx(t), &wire.CLIProbeRequest{Hostname: "host-b"})
	require.NoError(t, err)

	v := volume.Volume{Name: "vol0", Type: volume.TypeReplicate, Bricks: []string{"node-a:/b0", "host-b:/b0"}}
	resp, err := n.svc.CLICreateVolume(reqCtx(t), volumeRequest(t, v))
	require.NoError(t, err)
	assert.Zero(t, resp.OpRet, resp.Error)
	assert.Equal(t, "vol0", resp.Volname)
	assert.Empty(t, resp.FailedPeers)

	_, ok := n.volumes.Get("vol0")
	assert.True(t, ok)
	assert.Equal(t, []string{"ClusterLock", "StageOp", "CommitOp", "ClusterUnlock"}, callsAfterProbe(b))

	resp, err = n.svc.CLICreateVolume(reqCtx(t), volumeRequest(t, v))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), resp.OpRet)
	assert.Equal(t, wire.ErrnoStageRejected, resp.OpErrno)
	assert.Equal(t, []string{"node-a"}, resp.FailedPeers)
}

func TestCLICreateVolume_PeerFailureNamed(t *testing.T) {
	b := portstest.NewClient("host-b", uuid.New())
	b.ClusterLockFn = func(context.Context, *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
		return &wire.ClusterLockResponse{UUID: b.UUID, OpRet: -1, OpErrno: wire.ErrnoLockFailed}, nil
	}
	n := newNode(t, b)
	_, err := n.svc.CLIProbe(reqCtx(t), &wire.CLIProbeRequest{Hostname: "host-b"})
	require.NoError(t, err)

	resp, err := n.svc.CLICreateVolume(reqCtx(t), volumeRequest(t, volume.Volume{Name: "vol0", Bricks: []string{"node-a:/b0"}}))
	require.NoError(t, err)
	assert.Equal(t, wire.ErrnoLockFailed, resp.OpErrno)
	assert.Equal(t, []string{"host-b"}, resp.FailedPeers)
	assert.Zero(t, n.volumes.Len())
}

func TestCLICreateVolume_Malformed(t *testing.T) {
	n := newNode(t)

	_, err := n.svc.CLICreateVolume(reqCtx(t), &wire.CLICreateVolumeRequest{Bricks: []byte{0xff, 0x00}})
	assert.True(t, errors.Is(err, ErrDecode))

	d := dict.New()
	d.Set(volume.KeyName, "vol0")
	buf, err := dict.Serialize(d)
	require.NoError(t, err)
	_, err = n.svc.CLICreateVolume(reqCtx(t), &wire.CLICreateVolumeRequest{Bricks: buf})
	assert.True(t, errors.Is(err, ErrDecode))
	assert.True(t, errors.Is(err, dict.ErrKeyNotFound))
}

func TestStoppedMachinesFailRequests(t *testing.T) {
	n := newNode(t)
	n.ops.Stop()
	n.friends.Stop()

	_, err := n.svc.CLIProbe(reqCtx(t), &wire.CLIProbeRequest{Hostname: "host-b"})
	assert.True(t, errors.Is(err, friend.ErrStopped))

	_, err = n.svc.ClusterLock(reqCtx(t), &wire.ClusterLockRequest{UUID: uuid.New()})
	assert.True(t, errors.Is(err, op.ErrStopped))

	_, err = n.svc.CLICreateVolume(reqCtx(t), volumeRequest(t, volume.Volume{Name: "v", Bricks: []string{"h:/b"}}))
	assert.True(t, errors.Is(err, op.ErrStopped))
}

type fullFriendMachine struct {
	injected int
}

func (f *fullFriendMachine) Inject(context.Context, friend.Event) error {
	f.injected++
	return nil
}

func (f *fullFriendMachine) TryInject(friend.Event) error {
	return friend.ErrQueueFull
}

func TestPeerRequests_FullQueueFailsFast(t *testing.T) {
	n := newNode(t)
	fm := &fullFriendMachine{}
	svc := NewService(n.self, "node-a", n.reg, fm, n.ops)

	_, err := svc.FriendAdd(reqCtx(t), &wire.FriendRequest{UUID: uuid.New(), Hostname: "host-b"})
	assert.True(t, errors.Is(err, friend.ErrQueueFull))

	_, err = svc.FriendRemove(reqCtx(t), &wire.FriendRequest{UUID: uuid.New(), Hostname: "host-b"})
	assert.True(t, errors.Is(err, friend.ErrQueueFull))
	assert.Zero(t, fm.injected)
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want wire.Errno
	}{
		{nil, wire.ErrnoNone},
		{fmt.Errorf("%w: x", ErrDecode), wire.ErrnoDecode},
		{op.ErrAlreadyInProgress, wire.ErrnoBusy},
		{fmt.Errorf("%w: %w", op.ErrLockFailed, op.ErrTimeout), wire.ErrnoLockFailed},
		{op.ErrTimeout, wire.ErrnoTimeout},
		{friend.ErrPeerNotFound, wire.ErrnoPeerNotFound},
		{friend.ErrNotConnected, wire.ErrnoNotConnected},
		{friend.ErrPeerUnreachable, wire.ErrnoUnreachable},
		{fmt.Errorf("%w: nope", friend.ErrRejected), wire.ErrnoRejected},
		{context.DeadlineExceeded, wire.ErrnoTimeout},
		{errors.New("boom"), wire.ErrnoInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Errno(tt.err), "%v", tt.err)
	}
}

// callsAfterProbe drops the friend handshake calls.
func callsAfterProbe(c *portstest.Client) []string {
	var out []string
	for _, m := range c.Calls() {
		switch m {
		case "Probe", "FriendAdd":
			continue
		}
		out = append(out, m)
	}
	return out
}
