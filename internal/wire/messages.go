// Package wire holds the request and response shapes exchanged between
// management daemons and between the operator CLI and its local daemon.
package wire

import "github.com/google/uuid"

// OpKind identifies a cluster-wide administrative operation.
type OpKind int32

const (
	OpNone OpKind = iota
	OpCreateVolume
)

func (o OpKind) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpCreateVolume:
		return "create-volume"
	default:
		return "unknown"
	}
}

// Valid reports whether o names an operation a transaction can carry.
func (o OpKind) Valid() bool {
	return o == OpCreateVolume
}

// ListFlags selects what CLIListPeers returns.
type ListFlags int32

const (
	ListAll ListFlags = 1
)

type ProbeRequest struct {
	UUID     uuid.UUID `json:"uuid"`
	Hostname string    `json:"hostname"`
}

type ProbeResponse struct {
	UUID     uuid.UUID `json:"uuid"`
	Hostname string    `json:"hostname"`
	OpRet    int32     `json:"op_ret"`
}

// FriendRequest is used for both friend-add and friend-remove.
type FriendRequest struct {
	UUID     uuid.UUID `json:"uuid"`
	Hostname string    `json:"hostname"`
}

type FriendResponse struct {
	UUID     uuid.UUID `json:"uuid"`
	Hostname string    `json:"hostname"`
	OpRet    int32     `json:"op_ret"`
	OpErrno  Errno     `json:"op_errno"`
}

type ClusterLockRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

type ClusterLockResponse struct {
	UUID    uuid.UUID `json:"uuid"`
	OpRet   int32     `json:"op_ret"`
	OpErrno Errno     `json:"op_errno"`
}

type ClusterUnlockRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

type ClusterUnlockResponse struct {
	UUID    uuid.UUID `json:"uuid"`
	OpRet   int32     `json:"op_ret"`
	OpErrno Errno     `json:"op_errno"`
}

type StageOpRequest struct {
	UUID uuid.UUID `json:"uuid"`
	Op   OpKind    `json:"op"`
	Buf  []byte    `json:"buf"`
}

type StageOpResponse struct {
	UUID     uuid.UUID `json:"uuid"`
	Op       OpKind    `json:"op"`
	OpRet    int32     `json:"op_ret"`
	OpErrno  Errno     `json:"op_errno"`
	OpErrstr string    `json:"op_errstr,omitempty"`
}

type CommitOpRequest struct {
	UUID uuid.UUID `json:"uuid"`
	Op   OpKind    `json:"op"`
	Buf  []byte    `json:"buf"`
}

type CommitOpResponse struct {
	UUID     uuid.UUID `json:"uuid"`
	Op       OpKind    `json:"op"`
	OpRet    int32     `json:"op_ret"`
	OpErrno  Errno     `json:"op_errno"`
	OpErrstr string    `json:"op_errstr,omitempty"`
}

type CLIProbeRequest struct {
	Hostname string `json:"hostname"`
}

type CLIProbeResponse struct {
	OpRet    int32  `json:"op_ret"`
	OpErrno  Errno  `json:"op_errno"`
	Hostname string `json:"hostname"`
	Error    string `json:"error,omitempty"`
}

type CLIDeprobeRequest struct {
	Hostname string `json:"hostname"`
}

type CLIDeprobeResponse struct {
	OpRet    int32  `json:"op_ret"`
	OpErrno  Errno  `json:"op_errno"`
	Hostname string `json:"hostname"`
	Error    string `json:"error,omitempty"`
}

type CLIListPeersRequest struct {
	Flags ListFlags `json:"flags"`
	Dict  []byte    `json:"dict,omitempty"`
}

type CLIListPeersResponse struct {
	OpRet   int32  `json:"op_ret"`
	Friends []byte `json:"friends,omitempty"`
}

type CLICreateVolumeRequest struct {
	Bricks []byte `json:"bricks"`
}

type CLICreateVolumeResponse struct {
	OpRet       int32    `json:"op_ret"`
	OpErrno     Errno    `json:"op_errno"`
	Volname     string   `json:"volname"`
	Error       string   `json:"error,omitempty"`
	FailedPeers []string `json:"failed_peers,omitempty"`
}
