package mgmtrpc

import (
	"context"

	"google.golang.org/grpc"

	"glusterd/internal/wire"
)

const CLIServiceName = "glusterd.cli.v1.CLI"

// CLIServer is the operator-facing service of the local daemon.
type CLIServer interface {
	Probe(context.Context, *wire.CLIProbeRequest) (*wire.CLIProbeResponse, error)
	Deprobe(context.Context, *wire.CLIDeprobeRequest) (*wire.CLIDeprobeResponse, error)
	ListPeers(context.Context, *wire.CLIListPeersRequest) (*wire.CLIListPeersResponse, error)
	CreateVolume(context.Context, *wire.CLICreateVolumeRequest) (*wire.CLICreateVolumeResponse, error)
}

var CLIServiceDesc = grpc.ServiceDesc{
	ServiceName: CLIServiceName,
	HandlerType: (*CLIServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(CLIServiceName, "Probe", CLIServer.Probe),
		unary(CLIServiceName, "Deprobe", CLIServer.Deprobe),
		unary(CLIServiceName, "ListPeers", CLIServer.ListPeers),
		unary(CLIServiceName, "CreateVolume", CLIServer.CreateVolume),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glusterd/cli",
}

func RegisterCLIServer(s grpc.ServiceRegistrar, srv CLIServer) {
	s.RegisterService(&CLIServiceDesc, srv)
}

type CLIClient struct {
	cc grpc.ClientConnInterface
}

func NewCLIClient(cc grpc.ClientConnInterface) *CLIClient {
	return &CLIClient{cc: cc}
}

const cliPrefix = "/" + CLIServiceName + "/"

func (c *CLIClient) Probe(ctx context.Context, in *wire.CLIProbeRequest, opts ...grpc.CallOption) (*wire.CLIProbeResponse, error) {
	return invoke[wire.CLIProbeResponse](ctx, c.cc, cliPrefix+"Probe", in, opts)
}

func (c *CLIClient) Deprobe(ctx context.Context, in *wire.CLIDeprobeRequest, opts ...grpc.CallOption) (*wire.CLIDeprobeResponse, error) {
	return invoke[wire.CLIDeprobeResponse](ctx, c.cc, cliPrefix+"Deprobe", in, opts)
}

func (c *CLIClient) ListPeers(ctx context.Context, in *wire.CLIListPeersRequest, opts ...grpc.CallOption) (*wire.CLIListPeersResponse, error) {
	return invoke[wire.CLIListPeersResponse](ctx, c.cc, cliPrefix+"ListPeers", in, opts)
}

func (c *CLIClient) CreateVolume(ctx context.Context, in *wire.CLICreateVolumeRequest, opts ...grpc.CallOption) (*wire.CLICreateVolumeResponse, error) {
	return invoke[wire.CLICreateVolumeResponse](ctx, c.cc, cliPrefix+"CreateVolume", in, opts)
}
