package peer

import "errors"

var (
	ErrNotFound = errors.New("peer not found")

	ErrExists = errors.New("peer already exists")

	ErrInvalidPeer = errors.New("peer needs a uuid or a hostname")

	ErrIdentityConflict = errors.New("peer identity conflict")
)
