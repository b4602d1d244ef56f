package wire

// Errno is the error code carried next to op_ret in every response.
type Errno int32

const (
	ErrnoNone Errno = iota
	ErrnoDecode
	ErrnoPeerNotFound
	ErrnoNotConnected
	ErrnoUnreachable
	ErrnoTimeout
	ErrnoBusy
	ErrnoRejected
	ErrnoLockFailed
	ErrnoStageRejected
	ErrnoCommitFailed
	ErrnoNotLockOwner
	ErrnoInternal
)

var errnoNames = map[Errno]string{
	ErrnoNone:          "none",
	ErrnoDecode:        "decode error",
	ErrnoPeerNotFound:  "peer not found",
	ErrnoNotConnected:  "peer not connected",
	ErrnoUnreachable:   "peer unreachable",
	ErrnoTimeout:       "timeout",
	ErrnoBusy:          "another transaction is in progress",
	ErrnoRejected:      "rejected",
	ErrnoLockFailed:    "lock failed",
	ErrnoStageRejected: "stage rejected",
	ErrnoCommitFailed:  "commit failed",
	ErrnoNotLockOwner:  "requester does not hold the cluster lock",
	ErrnoInternal:      "internal error",
}

func (e Errno) String() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return "unknown"
}

// OpRet converts an errno to the op_ret value, 0 on success and -1 otherwise.
func (e Errno) OpRet() int32 {
	if e == ErrnoNone {
		return 0
	}
	return -1
}
