package volume

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"glusterd/internal/dict"
	"glusterd/internal/metrics"
	"glusterd/internal/wire"
)

// Store is both the volume catalogue and the handler the op state machine
// calls to stage and commit operations.
type Store struct {
	mu   sync.RWMutex
	data map[string]Volume
}

func NewStore() *Store {
	return &Store{
		data: make(map[string]Volume),
	}
}

func (s *Store) Get(name string) (Volume, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[name]
	return v, ok
}

func (s *Store) List() []Volume {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Volume, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) Stage(_ context.Context, op wire.OpKind, params dict.Dict) error {
	if op != wire.OpCreateVolume {
		return fmt.Errorf("%w: %s", ErrUnsupported, op)
	}

	v, err := FromParams(params)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[v.Name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, v.Name)
	}
	return nil
}

func (s *Store) Commit(_ context.Context, op wire.OpKind, params dict.Dict) error {
	if op != wire.OpCreateVolume {
		return fmt.Errorf("%w: %s", ErrUnsupported, op)
	}

	v, err := FromParams(params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.data[v.Name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, v.Name)
	}
	s.data[v.Name] = v
	n := len(s.data)
	s.mu.Unlock()

	metrics.VolumesTotal.Set(float64(n))
	slog.Info("volume created", "volume", v.Name, "type", v.Type, "bricks", len(v.Bricks))
	return nil
}
