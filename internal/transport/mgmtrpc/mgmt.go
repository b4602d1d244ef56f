package mgmtrpc

import (
	"context"

	"google.golang.org/grpc"

	"glusterd/internal/wire"
)

const MgmtServiceName = "glusterd.mgmt.v1.Mgmt"

// MgmtServer is the peer-to-peer management service.
type MgmtServer interface {
	Probe(context.Context, *wire.ProbeRequest) (*wire.ProbeResponse, error)
	FriendAdd(context.Context, *wire.FriendRequest) (*wire.FriendResponse, error)
	FriendRemove(context.Context, *wire.FriendRequest) (*wire.FriendResponse, error)
	ClusterLock(context.Context, *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error)
	ClusterUnlock(context.Context, *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error)
	StageOp(context.Context, *wire.StageOpRequest) (*wire.StageOpResponse, error)
	CommitOp(context.Context, *wire.CommitOpRequest) (*wire.CommitOpResponse, error)
}

var MgmtServiceDesc = grpc.ServiceDesc{
	ServiceName: MgmtServiceName,
	HandlerType: (*MgmtServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MgmtServiceName, "Probe", MgmtServer.Probe),
		unary(MgmtServiceName, "FriendAdd", MgmtServer.FriendAdd),
		unary(MgmtServiceName, "FriendRemove", MgmtServer.FriendRemove),
		unary(MgmtServiceName, "ClusterLock", MgmtServer.ClusterLock),
		unary(MgmtServiceName, "ClusterUnlock", MgmtServer.ClusterUnlock),
		unary(MgmtServiceName, "StageOp", MgmtServer.StageOp),
		unary(MgmtServiceName, "CommitOp", MgmtServer.CommitOp),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glusterd/mgmt",
}

func RegisterMgmtServer(s grpc.ServiceRegistrar, srv MgmtServer) {
	s.RegisterService(&MgmtServiceDesc, srv)
}

type MgmtClient struct {
	cc grpc.ClientConnInterface
}

func NewMgmtClient(cc grpc.ClientConnInterface) *MgmtClient {
	return &MgmtClient{cc: cc}
}

const mgmtPrefix = "/" + MgmtServiceName + "/"

func (c *MgmtClient) Probe(ctx context.Context, in *wire.ProbeRequest, opts ...grpc.CallOption) (*wire.ProbeResponse, error) {
	return invoke[wire.ProbeResponse](ctx, c.cc, mgmtPrefix+"Probe", in, opts)
}

func (c *MgmtClient) FriendAdd(ctx context.Context, in *wire.FriendRequest, opts ...grpc.CallOption) (*wire.FriendResponse, error) {
	return invoke[wire.FriendResponse](ctx, c.cc, mgmtPrefix+"FriendAdd", in, opts)
}

func (c *MgmtClient) FriendRemove(ctx context.Context, in *wire.FriendRequest, opts ...grpc.CallOption) (*wire.FriendResponse, error) {
	return invoke[wire.FriendResponse](ctx, c.cc, mgmtPrefix+"FriendRemove", in, opts)
}

func (c *MgmtClient) ClusterLock(ctx context.Context, in *wire.ClusterLockRequest, opts ...grpc.CallOption) (*wire.ClusterLockResponse, error) {
	return invoke[wire.ClusterLockResponse](ctx, c.cc, mgmtPrefix+"ClusterLock", in, opts)
}

func (c *MgmtClient) ClusterUnlock(ctx context.Context, in *wire.ClusterUnlockRequest, opts ...grpc.CallOption) (*wire.ClusterUnlockResponse, error) {
	return invoke[wire.ClusterUnlockResponse](ctx, c.cc, mgmtPrefix+"ClusterUnlock", in, opts)
}

func (c *MgmtClient) StageOp(ctx context.Context, in *wire.StageOpRequest, opts ...grpc.CallOption) (*wire.StageOpResponse, error) {
	return invoke[wire.StageOpResponse](ctx, c.cc, mgmtPrefix+"StageOp", in, opts)
}

func (c *MgmtClient) CommitOp(ctx context.Context, in *wire.CommitOpRequest, opts ...grpc.CallOption) (*wire.CommitOpResponse, error) {
	return invoke[wire.CommitOpResponse](ctx, c.cc, mgmtPrefix+"CommitOp", in, opts)
}
