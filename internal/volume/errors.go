package volume

import "errors"

var (
	ErrExists       = errors.New("volume already exists")
	ErrInvalidName  = errors.New("invalid volume name")
	ErrInvalidType  = errors.New("invalid volume type")
	ErrBrickCount   = errors.New("brick count mismatch")
	ErrDuplicate    = errors.New("duplicate brick")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrVolumeParams = errors.New("malformed volume parameters")
)
