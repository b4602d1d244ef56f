package peer

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"glusterd/internal/ports"
)

type record struct {
	Peer
	hosts []string
}

// Registry is the set of known peers. Records are addressed by ID and
// indexed by uuid and by every hostname the peer has been known under.
type Registry struct {
	mu      sync.RWMutex
	nextID  ID
	records map[ID]*record
	byUUID  map[uuid.UUID]ID
	byHost  map[string]ID
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[ID]*record),
		byUUID:  make(map[uuid.UUID]ID),
		byHost:  make(map[string]ID),
	}
}

func (r *Registry) Add(hostname string, id uuid.UUID, state State) (ID, error) {
	if hostname == "" && id == uuid.Nil {
		return 0, ErrInvalidPeer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if hostname != "" {
		if _, ok := r.byHost[hostname]; ok {
			return 0, fmt.Errorf("%w: hostname %s", ErrExists, hostname)
		}
	}
	if id != uuid.Nil {
		if _, ok := r.byUUID[id]; ok {
			return 0, fmt.Errorf("%w: uuid %s", ErrExists, id)
		}
	}

	r.nextID++
	rec := &record{Peer: Peer{ID: r.nextID, UUID: id, Hostname: hostname, State: state}}
	r.records[rec.ID] = rec

	if hostname != "" {
		rec.hosts = append(rec.hosts, hostname)
		r.byHost[hostname] = rec.ID
	}
	if id != uuid.Nil {
		r.byUUID[id] = rec.ID
	}

	return rec.ID, nil
}

func (r *Registry) Get(id ID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Peer{}, false
	}
	return rec.Peer, true
}

func (r *Registry) FindByUUID(id uuid.UUID) (Peer, bool) {
	if id == uuid.Nil {
		return Peer{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pid, ok := r.byUUID[id]
	if !ok {
		return Peer{}, false
	}
	return r.records[pid].Peer, true
}

func (r *Registry) FindByHostname(hostname string) (Peer, bool) {
	if hostname == "" {
		return Peer{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pid, ok := r.byHost[hostname]
	if !ok {
		return Peer{}, false
	}
	return r.records[pid].Peer, true
}

// Find looks a peer up by uuid first and falls back to the hostname.
func (r *Registry) Find(id uuid.UUID, hostname string) (Peer, bool) {
	if p, ok := r.FindByUUID(id); ok {
		return p, true
	}
	return r.FindByHostname(hostname)
}

func (r *Registry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Peer)
	}
	slices.SortFunc(out, func(a, b Peer) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

func (r *Registry) Befriended() []Peer {
	all := r.List()
	out := all[:0]
	for _, p := range all {
		if p.State == StateBefriended {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry) CountByState() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[State]int)
	for _, rec := range r.records {
		out[rec.State]++
	}
	return out
}

// Hostnames returns every hostname the record is indexed under, primary first.
func (r *Registry) Hostnames(id ID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	return slices.Clone(rec.hosts)
}

func (r *Registry) SetState(id ID, state State) error {
	return r.update(id, func(rec *record) { rec.State = state })
}

func (r *Registry) SetClient(id ID, client ports.PeerClient) error {
	return r.update(id, func(rec *record) { rec.Client = client })
}

func (r *Registry) SetConnected(id ID, connected bool) error {
	return r.update(id, func(rec *record) { rec.Connected = connected })
}

func (r *Registry) update(id ID, fn func(*record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	fn(rec)
	return nil
}

// Merge describes what Identify did to the registry.
type Merge struct {
	// Survivor is the record now standing for the peer.
	Survivor ID
	// Absorbed lists records folded into Survivor and deleted.
	Absorbed []ID
	// Displaced holds connections left without an owner. The caller closes them.
	Displaced []ports.PeerClient
}

// Identify attaches a uuid and hostname learned from the peer itself. When
// another record already stands for the same peer the two are merged.
func (r *Registry) Identify(id ID, u uuid.UUID, hostname string) (Merge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Merge{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	m := Merge{Survivor: id}

	if u != uuid.Nil {
		if rec.UUID != uuid.Nil && rec.UUID != u {
			return Merge{}, fmt.Errorf("%w: record %d is %s, peer claims %s", ErrIdentityConflict, id, rec.UUID, u)
		}

		if other, ok := r.byUUID[u]; ok && other != id {
			r.absorb(&m, other, id)
			rec = r.records[other]
		} else if rec.UUID == uuid.Nil {
			rec.UUID = u
			r.byUUID[u] = id
		}
	}

	if hostname != "" {
		owner, indexed := r.byHost[hostname]
		switch {
		case !indexed:
			r.byHost[hostname] = m.Survivor
			rec.hosts = append(rec.hosts, hostname)
			if rec.Hostname == "" {
				rec.Hostname = hostname
			}
		case owner != m.Survivor && r.records[owner].UUID == uuid.Nil:
			r.absorb(&m, m.Survivor, owner)
		}
	}

	return m, nil
}

func (r *Registry) absorb(m *Merge, dst, src ID) {
	if c := r.mergeInto(dst, src); c != nil {
		m.Displaced = append(m.Displaced, c)
	}
	m.Absorbed = append(m.Absorbed, src)
	m.Survivor = dst
}

// mergeInto folds record src into dst and deletes src. Callers hold r.mu.
func (r *Registry) mergeInto(dstID, srcID ID) ports.PeerClient {
	dst, src := r.records[dstID], r.records[srcID]

	for _, h := range src.hosts {
		r.byHost[h] = dstID
		if !slices.Contains(dst.hosts, h) {
			dst.hosts = append(dst.hosts, h)
		}
	}
	if dst.Hostname == "" {
		dst.Hostname = src.Hostname
	}

	switch {
	case dst.State == StateBefriended || src.State == StateBefriended:
		dst.State = StateBefriended
	case dst.State == StateNone:
		dst.State = src.State
	}

	var displaced ports.PeerClient
	if dst.Client == nil {
		dst.Client = src.Client
		dst.Connected = src.Connected
	} else {
		displaced = src.Client
	}

	if src.UUID != uuid.Nil && r.byUUID[src.UUID] == srcID {
		delete(r.byUUID, src.UUID)
	}
	delete(r.records, srcID)

	return displaced
}

func (r *Registry) Remove(id ID) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Peer{}, false
	}

	for _, h := range rec.hosts {
		if r.byHost[h] == id {
			delete(r.byHost, h)
		}
	}
	if rec.UUID != uuid.Nil && r.byUUID[rec.UUID] == id {
		delete(r.byUUID, rec.UUID)
	}
	delete(r.records, id)

	return rec.Peer, true
}
