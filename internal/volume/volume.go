// Package volume is the in-memory volume catalogue that cluster
// transactions stage against and commit into.
package volume

import (
	"fmt"
	"strings"

	"glusterd/internal/dict"
)

type Type int32

const (
	TypeNone Type = iota
	TypeReplicate
	TypeStripe
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeReplicate:
		return "replicate"
	case TypeStripe:
		return "stripe"
	default:
		return "unknown"
	}
}

func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "none", "distribute":
		return TypeNone, nil
	case "replica", "replicate":
		return TypeReplicate, nil
	case "stripe":
		return TypeStripe, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

type Volume struct {
	Name   string
	Type   Type
	Bricks []string
}

// Param keys of a create-volume blob.
const (
	KeyName   = "volname"
	KeyType   = "type"
	KeyCount  = "count"
	KeyBricks = "bricks"
)

// Params builds the create-volume blob for v.
func (v Volume) Params() dict.Dict {
	d := dict.New()
	d.Set(KeyName, v.Name)
	d.Set(KeyType, int32(v.Type))
	d.Set(KeyCount, int32(len(v.Bricks)))
	d.Set(KeyBricks, strings.Join(v.Bricks, " "))
	return d
}

// FromParams decodes and validates a create-volume blob.
func FromParams(d dict.Dict) (Volume, error) {
	name, err := d.String(KeyName)
	if err != nil {
		return Volume{}, fmt.Errorf("%w: %w", ErrVolumeParams, err)
	}
	typ, err := d.Int32(KeyType)
	if err != nil {
		return Volume{}, fmt.Errorf("%w: %w", ErrVolumeParams, err)
	}
	count, err := d.Int32(KeyCount)
	if err != nil {
		return Volume{}, fmt.Errorf("%w: %w", ErrVolumeParams, err)
	}
	bricks, err := d.String(KeyBricks)
	if err != nil {
		return Volume{}, fmt.Errorf("%w: %w", ErrVolumeParams, err)
	}

	v := Volume{Name: name, Type: Type(typ), Bricks: strings.Fields(bricks)}
	if err := v.validate(int(count)); err != nil {
		return Volume{}, err
	}
	return v, nil
}

func (v Volume) validate(count int) error {
	if v.Name == "" || strings.ContainsAny(v.Name, "/ \t") {
		return fmt.Errorf("%w: %q", ErrInvalidName, v.Name)
	}
	switch v.Type {
	case TypeNone:
	case TypeReplicate, TypeStripe:
		if count < 2 {
			return fmt.Errorf("%w: %s needs at least 2 bricks", ErrBrickCount, v.Type)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidType, int32(v.Type))
	}
	if count <= 0 || len(v.Bricks) != count {
		return fmt.Errorf("%w: count %d, %d bricks", ErrBrickCount, count, len(v.Bricks))
	}

	seen := make(map[string]struct{}, len(v.Bricks))
	for _, b := range v.Bricks {
		i := strings.Index(b, ":/")
		if i <= 0 {
			return fmt.Errorf("%w: brick %q is not host:/path", ErrVolumeParams, b)
		}
		if _, dup := seen[b]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, b)
		}
		seen[b] = struct{}{}
	}
	return nil
}
