package op

import "errors"

var (
	ErrAlreadyInProgress = errors.New("another transaction is in progress")

	ErrAlreadyLocked = errors.New("cluster lock already held")

	ErrNotLockOwner = errors.New("requester does not hold the cluster lock")

	ErrLockFailed = errors.New("lock failed")

	ErrStageRejected = errors.New("stage rejected")

	ErrCommitFailed = errors.New("commit failed")

	ErrUnlockFailed = errors.New("unlock failed")

	ErrTimeout = errors.New("peer reply timed out")

	ErrNotConnected = errors.New("peer not connected")

	ErrUnknownOp = errors.New("unknown operation")

	ErrStopped = errors.New("operation state machine stopped")
)
