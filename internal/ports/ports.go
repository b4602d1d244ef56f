package ports

import (
	"context"

	"glusterd/internal/dict"
	"glusterd/internal/wire"
)

// PeerClient is an outbound management connection to one peer.
type PeerClient interface {
	Probe(ctx context.Context, req *wire.ProbeRequest) (*wire.ProbeResponse, error)
	FriendAdd(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error)
	FriendRemove(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error)
	ClusterLock(ctx context.Context, req *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error)
	ClusterUnlock(ctx context.Context, req *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error)
	StageOp(ctx context.Context, req *wire.StageOpRequest) (*wire.StageOpResponse, error)
	CommitOp(ctx context.Context, req *wire.CommitOpRequest) (*wire.CommitOpResponse, error)
	Close() error
}

// ConnNotify receives connectivity changes of a dialed peer. The context is
// cancelled when the connection is closed.
type ConnNotify func(ctx context.Context, connected bool)

type Dialer interface {
	Dial(hostname string, notify ConnNotify) (PeerClient, error)
}

// OpHandler performs the operation-specific work of a transaction.
type OpHandler interface {
	Stage(ctx context.Context, op wire.OpKind, params dict.Dict) error
	Commit(ctx context.Context, op wire.OpKind, params dict.Dict) error
}
