// Package intake turns decoded peer and operator requests into state
// machine events and formats the single response each one produces.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"glusterd/internal/dict"
	"glusterd/internal/friend"
	"glusterd/internal/op"
	"glusterd/internal/peer"
	"glusterd/internal/volume"
	"glusterd/internal/wire"
)

type FriendMachine interface {
	Inject(ctx context.Context, ev friend.Event) error
	TryInject(ev friend.Event) error
}

type OpMachine interface {
	Inject(ctx context.Context, ev op.Event) error
	Begin(ctx context.Context, kind wire.OpKind, blob []byte) (<-chan op.Result, error)
}

// Service answers every inbound management and CLI request. Errors it
// returns mean the request was not served: ErrDecode, a stopped machine, a
// full friend queue or the request context ending. Everything else travels
// in the response.
type Service struct {
	self     uuid.UUID
	hostname string

	registry *peer.Registry
	friends  FriendMachine
	ops      OpMachine
}

func NewService(self uuid.UUID, hostname string, registry *peer.Registry, friends FriendMachine, ops OpMachine) *Service {
	return &Service{
		self:     self,
		hostname: hostname,
		registry: registry,
		friends:  friends,
		ops:      ops,
	}
}

func (s *Service) ProbeQuery(_ context.Context, req *wire.ProbeRequest) (*wire.ProbeResponse, error) {
	slog.Debug("probe query", "from", req.UUID, "hostname", req.Hostname)
	return &wire.ProbeResponse{UUID: s.self, Hostname: req.Hostname}, nil
}

func (s *Service) FriendAdd(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	if req.UUID == uuid.Nil {
		return nil, fmt.Errorf("%w: friend request without uuid", ErrDecode)
	}

	res, err := s.injectFriend(ctx, friend.EventRcvdFriendReq, req.UUID, req.Hostname)
	if err != nil {
		return nil, err
	}
	ret, errno := status(res.Err)
	return &wire.FriendResponse{UUID: s.self, Hostname: s.hostname, OpRet: ret, OpErrno: errno}, nil
}

func (s *Service) FriendRemove(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	if req.UUID == uuid.Nil && req.Hostname == "" {
		return nil, fmt.Errorf("%w: unfriend request without uuid or hostname", ErrDecode)
	}

	res, err := s.injectFriend(ctx, friend.EventRemoveFriend, req.UUID, req.Hostname)
	if err != nil {
		return nil, err
	}
	ret, errno := status(res.Err)
	return &wire.FriendResponse{UUID: s.self, Hostname: s.hostname, OpRet: ret, OpErrno: errno}, nil
}

func (s *Service) ClusterLock(ctx context.Context, req *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
	if req.UUID == uuid.Nil {
		return nil, fmt.Errorf("%w: lock request without uuid", ErrDecode)
	}

	r, err := s.injectOp(ctx, op.EventLock, req.UUID, wire.OpNone, nil)
	if err != nil {
		return nil, err
	}
	ret, errno := status(r.Err)
	return &wire.ClusterLockResponse{UUID: s.self, OpRet: ret, OpErrno: errno}, nil
}

func (s *Service) ClusterUnlock(ctx context.Context, req *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error) {
	if req.UUID == uuid.Nil {
		return nil, fmt.Errorf("%w: unlock request without uuid", ErrDecode)
	}

	r, err := s.injectOp(ctx, op.EventUnlock, req.UUID, wire.OpNone, nil)
	if err != nil {
		return nil, err
	}
	ret, errno := status(r.Err)
	return &wire.ClusterUnlockResponse{UUID: s.self, OpRet: ret, OpErrno: errno}, nil
}

func (s *Service) StageOp(ctx context.Context, req *wire.StageOpRequest) (*wire.StageOpResponse, error) {
	if req.UUID == uuid.Nil {
		return nil, fmt.Errorf("%w: stage request without uuid", ErrDecode)
	}

	r, err := s.injectOp(ctx, op.EventStageOp, req.UUID, req.Op, req.Buf)
	if err != nil {
		return nil, err
	}
	ret, errno := status(r.Err)
	return &wire.StageOpResponse{UUID: s.self, Op: req.Op, OpRet: ret, OpErrno: errno, OpErrstr: errString(r.Err)}, nil
}

func (s *Service) CommitOp(ctx context.Context, req *wire.CommitOpRequest) (*wire.CommitOpResponse, error) {
	if req.UUID == uuid.Nil {
		return nil, fmt.Errorf("%w: commit request without uuid", ErrDecode)
	}

	r, err := s.injectOp(ctx, op.EventCommitOp, req.UUID, req.Op, req.Buf)
	if err != nil {
		return nil, err
	}
	ret, errno := status(r.Err)
	return &wire.CommitOpResponse{UUID: s.self, Op: req.Op, OpRet: ret, OpErrno: errno, OpErrstr: errString(r.Err)}, nil
}

func (s *Service) CLIProbe(ctx context.Context, req *wire.CLIProbeRequest) (*wire.CLIProbeResponse, error) {
	if req.Hostname == "" {
		return nil, fmt.Errorf("%w: probe without hostname", ErrDecode)
	}

	slog.Info("operator probe", "hostname", req.Hostname)
	res, err := s.injectFriend(ctx, friend.EventProbe, uuid.Nil, req.Hostname)
	if err != nil {
		return nil, err
	}
	ret, errno := status(res.Err)
	return &wire.CLIProbeResponse{OpRet: ret, OpErrno: errno, Hostname: req.Hostname, Error: errString(res.Err)}, nil
}

func (s *Service) CLIDeprobe(ctx context.Context, req *wire.CLIDeprobeRequest) (*wire.CLIDeprobeResponse, error) {
	if req.Hostname == "" {
		return nil, fmt.Errorf("%w: deprobe without hostname", ErrDecode)
	}

	slog.Info("operator deprobe", "hostname", req.Hostname)
	res, err := s.injectFriend(ctx, friend.EventInitRemoveFriend, uuid.Nil, req.Hostname)
	if err != nil {
		return nil, err
	}
	ret, errno := status(res.Err)
	return &wire.CLIDeprobeResponse{OpRet: ret, OpErrno: errno, Hostname: req.Hostname, Error: errString(res.Err)}, nil
}

// CLIListPeers answers with friend<N>.uuid, friend<N>.hostname and the
// int32 friend<N>.state for every known peer plus a count. Without ListAll
// the answer is a success with no details.
func (s *Service) CLIListPeers(_ context.Context, req *wire.CLIListPeersRequest) (*wire.CLIListPeersResponse, error) {
	peers := s.registry.List()
	if len(peers) == 0 || req.Flags != wire.ListAll {
		return &wire.CLIListPeersResponse{}, nil
	}

	d := dict.New()
	for i, p := range peers {
		n := i + 1
		d.Set(fmt.Sprintf("friend%d.uuid", n), p.UUID.String())
		d.Set(fmt.Sprintf("friend%d.hostname", n), p.Hostname)
		d.Set(fmt.Sprintf("friend%d.state", n), int32(p.State))
	}
	d.Set("count", int32(len(peers)))

	buf, err := dict.Serialize(d)
	if err != nil {
		slog.Error("serializing peer list", "error", err)
		return &wire.CLIListPeersResponse{OpRet: -1}, nil
	}
	return &wire.CLIListPeersResponse{Friends: buf}, nil
}

func (s *Service) CLICreateVolume(ctx context.Context, req *wire.CLICreateVolumeRequest) (*wire.CLICreateVolumeResponse, error) {
	params, err := dict.Unserialize(req.Bricks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	name, err := requireParams(params)
	if err != nil {
		return nil, err
	}

	slog.Info("operator create volume", "volume", name)

	ch, err := s.ops.Begin(ctx, wire.OpCreateVolume, req.Bricks)
	if err != nil {
		if errors.Is(err, op.ErrStopped) || ctx.Err() != nil {
			return nil, err
		}
		ret, errno := status(err)
		return &wire.CLICreateVolumeResponse{OpRet: ret, OpErrno: errno, Volname: name, Error: err.Error()}, nil
	}

	res, err := await(ctx, ch)
	if err != nil {
		return nil, err
	}
	if errors.Is(res.Err, op.ErrStopped) {
		return nil, res.Err
	}

	ret, errno := status(res.Err)
	return &wire.CLICreateVolumeResponse{
		OpRet:       ret,
		OpErrno:     errno,
		Volname:     name,
		Error:       errString(res.Err),
		FailedPeers: s.failedPeers(res.Failures),
	}, nil
}

func (s *Service) failedPeers(failures []op.PeerFailure) []string {
	var out []string
	for _, f := range failures {
		switch {
		case f.UUID == s.self:
			out = append(out, s.hostname)
		case f.Hostname != "":
			out = append(out, f.Hostname)
		default:
			out = append(out, f.UUID.String())
		}
	}
	return out
}

// requireParams checks the keys a create-volume blob must carry.
func requireParams(d dict.Dict) (string, error) {
	name, err := d.String(volume.KeyName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	for _, key := range []string{volume.KeyType, volume.KeyCount} {
		if _, err := d.Int32(key); err != nil {
			return "", fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}
	if _, err := d.String(volume.KeyBricks); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return name, nil
}

// injectFriend queues a friend event and waits for its result. Requests
// from peers do not wait for queue space and fail with friend.ErrQueueFull.
func (s *Service) injectFriend(ctx context.Context, typ friend.EventType, u uuid.UUID, hostname string) (friend.Result, error) {
	ch := make(chan friend.Result, 1)
	ev := friend.Event{Type: typ, Ctx: friend.Context{UUID: u, Hostname: hostname, Reply: ch}}

	var err error
	switch typ {
	case friend.EventRcvdFriendReq, friend.EventRemoveFriend:
		err = s.friends.TryInject(ev)
	default:
		err = s.friends.Inject(ctx, ev)
	}
	if err != nil {
		return friend.Result{}, err
	}
	res, err := await(ctx, ch)
	if err == nil && errors.Is(res.Err, friend.ErrStopped) {
		return res, res.Err
	}
	return res, err
}

func (s *Service) injectOp(ctx context.Context, typ op.EventType, requester uuid.UUID, kind wire.OpKind, blob []byte) (op.Reply, error) {
	ch := make(chan op.Reply, 1)
	ev := op.Event{Type: typ, Ctx: op.Context{Requester: requester, Op: kind, Blob: blob, Reply: ch}}
	if err := s.ops.Inject(ctx, ev); err != nil {
		return op.Reply{}, err
	}
	r, err := await(ctx, ch)
	if err == nil && errors.Is(r.Err, op.ErrStopped) {
		return r, r.Err
	}
	return r, err
}

func await[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
