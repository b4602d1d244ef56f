package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"glusterd/internal/metrics"
	"glusterd/internal/ports"
	"glusterd/internal/transport/mgmtrpc"
	"glusterd/internal/wire"
)

// Dialer opens management connections to peers. A hostname without a port
// is dialed on peerPort.
type Dialer struct {
	peerPort string
}

func NewDialer(peerPort string) *Dialer {
	return &Dialer{peerPort: peerPort}
}

func (d *Dialer) target(hostname string) string {
	if _, _, err := net.SplitHostPort(hostname); err == nil {
		return hostname
	}
	return net.JoinHostPort(hostname, d.peerPort)
}

func (d *Dialer) Dial(hostname string, notify ports.ConnNotify) (ports.PeerClient, error) {
	target := d.target(hostname)

	conn, err := dialPeer(target)
	if err != nil {
		metrics.PeerDialsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	metrics.PeerDialsTotal.WithLabelValues("ok").Inc()

	ctx, cancel := context.WithCancel(context.Background())
	c := &peerClient{
		target: target,
		conn:   conn,
		mgmt:   mgmtrpc.NewMgmtClient(conn),
		cancel: cancel,
	}

	if notify != nil {
		c.wg.Add(1)
		go c.watch(ctx, notify)
	}

	slog.Debug("peer connection created", "hostname", hostname, "target", target)
	return c, nil
}

func dialPeer(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(mgmtrpc.CodecName)),
		grpc.WithUnaryInterceptor(metrics.UnaryClientInterceptor()),
	)
}

type peerClient struct {
	target string
	conn   *grpc.ClientConn
	mgmt   *mgmtrpc.MgmtClient

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// watch turns channel connectivity into connect and disconnect reports.
func (c *peerClient) watch(ctx context.Context, notify ports.ConnNotify) {
	defer c.wg.Done()

	c.conn.Connect()
	connected := false
	state := c.conn.GetState()

	for {
		switch state {
		case connectivity.Ready:
			if !connected {
				connected = true
				notify(ctx, true)
			}
		case connectivity.Idle, connectivity.TransientFailure:
			if connected {
				connected = false
				notify(ctx, false)
			}
			if state == connectivity.Idle {
				c.conn.Connect()
			}
		case connectivity.Shutdown:
			return
		}

		if !c.conn.WaitForStateChange(ctx, state) {
			return
		}
		state = c.conn.GetState()
	}
}

func (c *peerClient) Probe(ctx context.Context, req *wire.ProbeRequest) (*wire.ProbeResponse, error) {
	return c.mgmt.Probe(ctx, req)
}

func (c *peerClient) FriendAdd(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	return c.mgmt.FriendAdd(ctx, req)
}

func (c *peerClient) FriendRemove(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	return c.mgmt.FriendRemove(ctx, req)
}

func (c *peerClient) ClusterLock(ctx context.Context, req *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
	return c.mgmt.ClusterLock(ctx, req)
}

func (c *peerClient) ClusterUnlock(ctx context.Context, req *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error) {
	return c.mgmt.ClusterUnlock(ctx, req)
}

func (c *peerClient) StageOp(ctx context.Context, req *wire.StageOpRequest) (*wire.StageOpResponse, error) {
	return c.mgmt.StageOp(ctx, req)
}

func (c *peerClient) CommitOp(ctx context.Context, req *wire.CommitOpRequest) (*wire.CommitOpResponse, error) {
	return c.mgmt.CommitOp(ctx, req)
}

func (c *peerClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
		c.wg.Wait()
		slog.Debug("peer connection closed", "target", c.target)
	})
	return err
}

var (
	_ ports.Dialer     = (*Dialer)(nil)
	_ ports.PeerClient = (*peerClient)(nil)
)
