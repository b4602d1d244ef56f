package intake

import (
	"context"
	"errors"

	"glusterd/internal/friend"
	"glusterd/internal/op"
	"glusterd/internal/peer"
	"glusterd/internal/volume"
	"glusterd/internal/wire"
)

// Errno maps an operation error to the errno carried in responses.
func Errno(err error) wire.Errno {
	switch {
	case err == nil:
		return wire.ErrnoNone
	case errors.Is(err, ErrDecode):
		return wire.ErrnoDecode

	case errors.Is(err, op.ErrAlreadyInProgress):
		return wire.ErrnoBusy
	case errors.Is(err, op.ErrNotLockOwner):
		return wire.ErrnoNotLockOwner
	case errors.Is(err, op.ErrLockFailed):
		return wire.ErrnoLockFailed
	case errors.Is(err, op.ErrStageRejected):
		return wire.ErrnoStageRejected
	case errors.Is(err, op.ErrCommitFailed):
		return wire.ErrnoCommitFailed
	case errors.Is(err, volume.ErrExists):
		return wire.ErrnoStageRejected

	case errors.Is(err, friend.ErrPeerNotFound), errors.Is(err, peer.ErrNotFound):
		return wire.ErrnoPeerNotFound
	case errors.Is(err, friend.ErrNotConnected), errors.Is(err, op.ErrNotConnected):
		return wire.ErrnoNotConnected
	case errors.Is(err, friend.ErrPeerUnreachable):
		return wire.ErrnoUnreachable
	case errors.Is(err, friend.ErrRejected):
		return wire.ErrnoRejected

	case errors.Is(err, op.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return wire.ErrnoTimeout
	default:
		return wire.ErrnoInternal
	}
}

// status splits err into the op_ret/op_errno pair.
func status(err error) (int32, wire.Errno) {
	errno := Errno(err)
	return errno.OpRet(), errno
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
