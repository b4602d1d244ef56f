package friend

import "errors"

var (
	ErrPeerNotFound = errors.New("peer not found")

	ErrNotConnected = errors.New("peer not connected")

	ErrPeerUnreachable = errors.New("peer unreachable")

	ErrRejected = errors.New("friend request rejected")

	ErrStopped = errors.New("friend state machine stopped")

	ErrQueueFull = errors.New("friend event queue full")
)
