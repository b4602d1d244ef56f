// Package dict serializes the key/value parameter blobs that travel with
// cluster operations and peer listings.
package dict

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrWrongType   = errors.New("wrong value type")
)

// Dict is an unserialized parameter blob.
type Dict map[string]any

func New() Dict {
	return Dict{}
}

func (d Dict) Set(key string, value any) {
	d[key] = value
}

func (d Dict) String(key string) (string, error) {
	v, ok := d[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T", ErrWrongType, key, v)
	}
	return s, nil
}

// Int32 reads a numeric value. Numbers come back from the wire as float64,
// so anything integral and in range is accepted.
func (d Dict) Int32(key string) (int32, error) {
	v, ok := d[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	switch n := v.(type) {
	case int:
		return int32(n), nil
	case int32:
		return n, nil
	case int64:
		return int32(n), nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w: %s=%v is not an int32", ErrWrongType, key, n)
		}
		return int32(n), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T", ErrWrongType, key, v)
	}
}

// Serialize encodes the dictionary. An empty dictionary encodes to nil.
func Serialize(d Dict) ([]byte, error) {
	if len(d) == 0 {
		return nil, nil
	}

	s, err := structpb.NewStruct(d)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}

	buf, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal struct: %w", err)
	}
	return buf, nil
}

func Unserialize(buf []byte) (Dict, error) {
	if len(buf) == 0 {
		return New(), nil
	}

	var s structpb.Struct
	if err := proto.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("unmarshal struct: %w", err)
	}
	return Dict(s.AsMap()), nil
}
