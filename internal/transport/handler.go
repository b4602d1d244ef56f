package transport

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"glusterd/internal/friend"
	"glusterd/internal/intake"
	"glusterd/internal/op"
	"glusterd/internal/transport/mgmtrpc"
	"glusterd/internal/wire"
)

// Intake is the request surface both services delegate to.
type Intake interface {
	ProbeQuery(context.Context, *wire.ProbeRequest) (*wire.ProbeResponse, error)
	FriendAdd(context.Context, *wire.FriendRequest) (*wire.FriendResponse, error)
	FriendRemove(context.Context, *wire.FriendRequest) (*wire.FriendResponse, error)
	ClusterLock(context.Context, *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error)
	ClusterUnlock(context.Context, *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error)
	StageOp(context.Context, *wire.StageOpRequest) (*wire.StageOpResponse, error)
	CommitOp(context.Context, *wire.CommitOpRequest) (*wire.CommitOpResponse, error)
	CLIProbe(context.Context, *wire.CLIProbeRequest) (*wire.CLIProbeResponse, error)
	CLIDeprobe(context.Context, *wire.CLIDeprobeRequest) (*wire.CLIDeprobeResponse, error)
	CLIListPeers(context.Context, *wire.CLIListPeersRequest) (*wire.CLIListPeersResponse, error)
	CLICreateVolume(context.Context, *wire.CLICreateVolumeRequest) (*wire.CLICreateVolumeResponse, error)
}

type MgmtHandler struct {
	intake Intake
}

func NewMgmtHandler(i Intake) *MgmtHandler {
	return &MgmtHandler{intake: i}
}

func (h *MgmtHandler) Probe(ctx context.Context, req *wire.ProbeRequest) (*wire.ProbeResponse, error) {
	return serve(ctx, "Probe", req, h.intake.ProbeQuery)
}

func (h *MgmtHandler) FriendAdd(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	return serve(ctx, "FriendAdd", req, h.intake.FriendAdd)
}

func (h *MgmtHandler) FriendRemove(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	return serve(ctx, "FriendRemove", req, h.intake.FriendRemove)
}

func (h *MgmtHandler) ClusterLock(ctx context.Context, req *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
	return serve(ctx, "ClusterLock", req, h.intake.ClusterLock)
}

func (h *MgmtHandler) ClusterUnlock(ctx context.Context, req *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error) {
	return serve(ctx, "ClusterUnlock", req, h.intake.ClusterUnlock)
}

func (h *MgmtHandler) StageOp(ctx context.Context, req *wire.StageOpRequest) (*wire.StageOpResponse, error) {
	return serve(ctx, "StageOp", req, h.intake.StageOp)
}

func (h *MgmtHandler) CommitOp(ctx context.Context, req *wire.CommitOpRequest) (*wire.CommitOpResponse, error) {
	return serve(ctx, "CommitOp", req, h.intake.CommitOp)
}

type CLIHandler struct {
	intake Intake
}

func NewCLIHandler(i Intake) *CLIHandler {
	return &CLIHandler{intake: i}
}

func (h *CLIHandler) Probe(ctx context.Context, req *wire.CLIProbeRequest) (*wire.CLIProbeResponse, error) {
	return serve(ctx, "CLIProbe", req, h.intake.CLIProbe)
}

func (h *CLIHandler) Deprobe(ctx context.Context, req *wire.CLIDeprobeRequest) (*wire.CLIDeprobeResponse, error) {
	return serve(ctx, "CLIDeprobe", req, h.intake.CLIDeprobe)
}

func (h *CLIHandler) ListPeers(ctx context.Context, req *wire.CLIListPeersRequest) (*wire.CLIListPeersResponse, error) {
	return serve(ctx, "CLIListPeers", req, h.intake.CLIListPeers)
}

func (h *CLIHandler) CreateVolume(ctx context.Context, req *wire.CLICreateVolumeRequest) (*wire.CLICreateVolumeResponse, error) {
	return serve(ctx, "CLICreateVolume", req, h.intake.CLICreateVolume)
}

var (
	_ mgmtrpc.MgmtServer = (*MgmtHandler)(nil)
	_ mgmtrpc.CLIServer  = (*CLIHandler)(nil)
)

func serve[Req, Resp any](ctx context.Context, method string, req *Req, fn func(context.Context, *Req) (*Resp, error)) (*Resp, error) {
	resp, err := fn(ctx, req)
	if err != nil {
		slog.Warn("request not served", "method", method, "error", err)
		return nil, toGRPCError(err)
	}
	return resp, nil
}

func toGRPCError(err error) error {
	switch {
	case errors.Is(err, intake.ErrDecode):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, friend.ErrStopped), errors.Is(err, op.ErrStopped):
		return status.Error(codes.Unavailable, "glusterd is shutting down")
	case errors.Is(err, friend.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}
