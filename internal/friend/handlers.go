package friend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"glusterd/internal/metrics"
	"glusterd/internal/peer"
	"glusterd/internal/wire"
)

func (m *Machine) handleProbe(ev Event) {
	host := ev.Ctx.Hostname
	if host == "" {
		reply(ev.Ctx.Reply, Result{Err: fmt.Errorf("%w: empty hostname", ErrPeerNotFound)})
		return
	}
	if host == m.hostname {
		slog.Info("probe on localhost not needed", "hostname", host)
		reply(ev.Ctx.Reply, Result{UUID: m.self, Hostname: host})
		return
	}

	p, ok := m.registry.FindByHostname(host)
	if ok && p.State == peer.StateBefriended {
		reply(ev.Ctx.Reply, Result{UUID: p.UUID, Hostname: p.Hostname})
		return
	}
	if ok && len(m.probes[p.ID]) > 0 {
		m.probes[p.ID] = append(m.probes[p.ID], ev.Ctx.Reply)
		return
	}

	var id peer.ID
	if ok {
		id = p.ID
	} else {
		var err error
		id, err = m.registry.Add(host, uuid.Nil, peer.StateProbeSent)
		if err != nil {
			reply(ev.Ctx.Reply, Result{Err: err})
			return
		}
		slog.Info("peer record created", "peer", id, "hostname", host)
	}

	if !ok || p.Client == nil {
		if err := m.connect(id, host); err != nil {
			m.forget(id, nil)
			reply(ev.Ctx.Reply, Result{Err: fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, host, err)})
			return
		}
	}

	m.setState(id, peer.StateProbeSent)
	if ev.Ctx.Reply != nil {
		m.probes[id] = append(m.probes[id], ev.Ctx.Reply)
	}
	m.handleInitFriendReq(id)
}

func (m *Machine) handleInitFriendReq(id peer.ID) {
	p, ok := m.registry.Get(id)
	if !ok {
		return
	}
	if p.Client == nil {
		m.completeProbes(id, Result{Err: fmt.Errorf("%w: %s", ErrNotConnected, p.Name())})
		return
	}

	m.setState(id, peer.StateReqSent)

	client := p.Client
	req := &wire.FriendRequest{UUID: m.self, Hostname: m.hostname}
	m.dispatch(func(ctx context.Context) Event {
		resp, err := client.FriendAdd(ctx, req)
		switch {
		case err != nil:
			return Event{Type: EventRcvdReject, PeerID: id, Ctx: Context{Err: fmt.Errorf("%w: %v", ErrPeerUnreachable, err)}}
		case resp.OpRet != 0:
			return Event{Type: EventRcvdReject, PeerID: id, Ctx: Context{UUID: resp.UUID, Hostname: resp.Hostname, Err: fmt.Errorf("%w: %s", ErrRejected, resp.OpErrno)}}
		default:
			return Event{Type: EventRcvdAccept, PeerID: id, Ctx: Context{UUID: resp.UUID, Hostname: resp.Hostname}}
		}
	})
}

func (m *Machine) handleRcvdAccept(ev Event) {
	id := m.resolve(ev.PeerID)
	if _, ok := m.registry.Get(id); !ok {
		return
	}

	if ev.Ctx.UUID == m.self {
		slog.Warn("probed host is this node", "peer", id)
		m.completeProbes(id, Result{UUID: m.self, Hostname: m.hostname})
		m.forget(id, nil)
		return
	}

	id, err := m.identify(id, ev.Ctx.UUID, ev.Ctx.Hostname)
	if err != nil {
		slog.Warn("accept from peer with conflicting identity", "peer", id, "uuid", ev.Ctx.UUID, "error", err)
		m.completeProbes(id, Result{Err: fmt.Errorf("%w: %v", ErrRejected, err)})
		return
	}

	m.setState(id, peer.StateBefriended)
	// the accept came back over this connection
	_ = m.registry.SetConnected(id, true)

	p, _ := m.registry.Get(id)
	slog.Info("peer befriended", "peer", id, "uuid", p.UUID, "hostname", p.Hostname)
	m.completeProbes(id, Result{UUID: p.UUID, Hostname: p.Hostname})
}

func (m *Machine) handleRcvdReject(ev Event) {
	id := m.resolve(ev.PeerID)
	p, ok := m.registry.Get(id)
	if !ok {
		return
	}

	if errors.Is(ev.Ctx.Err, ErrRejected) {
		slog.Warn("friend request rejected", "peer", id, "hostname", p.Hostname, "error", ev.Ctx.Err)
		m.setState(id, peer.StateRejected)
		m.forget(id, ev.Ctx.Err)
		return
	}

	slog.Warn("friend request failed, waiting for reconnect", "peer", id, "hostname", p.Hostname, "error", ev.Ctx.Err)
	if p.State != peer.StateBefriended {
		m.setState(id, peer.StateNone)
	}
	m.completeProbes(id, Result{Err: ev.Ctx.Err})
}

func (m *Machine) handleRcvdFriendReq(ev Event) {
	u, host := ev.Ctx.UUID, ev.Ctx.Hostname
	ack := Result{UUID: m.self, Hostname: m.hostname}

	if u == uuid.Nil {
		reply(ev.Ctx.Reply, Result{Err: fmt.Errorf("%w: friend request without uuid", ErrRejected)})
		return
	}
	if u == m.self {
		reply(ev.Ctx.Reply, Result{Err: fmt.Errorf("%w: friend request carries this node's uuid", ErrRejected)})
		return
	}

	var id peer.ID
	if p, ok := m.registry.Find(u, host); ok {
		survivor, err := m.identify(p.ID, u, host)
		if err != nil {
			slog.Warn("friend request with conflicting identity", "uuid", u, "hostname", host, "error", err)
			reply(ev.Ctx.Reply, Result{Err: fmt.Errorf("%w: %v", ErrRejected, err)})
			return
		}
		id = survivor
	} else {
		var err error
		id, err = m.registry.Add(host, u, peer.StateNone)
		if err != nil {
			reply(ev.Ctx.Reply, Result{Err: err})
			return
		}
		slog.Info("peer record created from friend request", "peer", id, "uuid", u, "hostname", host)
	}

	m.setState(id, peer.StateBefriended)

	if p, _ := m.registry.Get(id); p.Client == nil && p.Hostname != "" {
		if err := m.connect(id, p.Hostname); err != nil {
			slog.Warn("cannot connect back to new friend", "peer", id, "hostname", p.Hostname, "error", err)
		}
	}

	reply(ev.Ctx.Reply, ack)
}

func (m *Machine) handleRemoveFriend(ev Event) {
	ack := Result{UUID: m.self, Hostname: m.hostname}

	p, ok := m.registry.Find(ev.Ctx.UUID, ev.Ctx.Hostname)
	if !ok {
		slog.Debug("remove for unknown peer acknowledged", "uuid", ev.Ctx.UUID, "hostname", ev.Ctx.Hostname)
		reply(ev.Ctx.Reply, ack)
		return
	}

	slog.Info("peer asked to be forgotten", "peer", p.ID, "uuid", p.UUID, "hostname", p.Hostname)
	m.forget(p.ID, fmt.Errorf("%w: peer removed itself", ErrRejected))
	reply(ev.Ctx.Reply, ack)
}

func (m *Machine) handleInitRemoveFriend(ev Event) {
	p, ok := m.registry.Find(ev.Ctx.UUID, ev.Ctx.Hostname)
	if !ok {
		reply(ev.Ctx.Reply, Result{Hostname: ev.Ctx.Hostname, Err: fmt.Errorf("%w: %s", ErrPeerNotFound, ev.Ctx.Hostname)})
		return
	}
	if p.Client == nil || !p.Connected {
		reply(ev.Ctx.Reply, Result{Hostname: p.Hostname, Err: fmt.Errorf("%w: %s", ErrNotConnected, p.Name())})
		return
	}

	pending := len(m.removes[p.ID]) > 0
	m.removes[p.ID] = append(m.removes[p.ID], ev.Ctx.Reply)
	if pending {
		return
	}

	id := p.ID
	client := p.Client
	req := &wire.FriendRequest{UUID: m.self, Hostname: m.hostname}
	m.dispatch(func(ctx context.Context) Event {
		resp, err := client.FriendRemove(ctx, req)
		switch {
		case err != nil:
			return Event{Type: EventRcvdRemoveAck, PeerID: id, Ctx: Context{Err: fmt.Errorf("%w: %v", ErrPeerUnreachable, err)}}
		case resp.OpRet != 0:
			return Event{Type: EventRcvdRemoveAck, PeerID: id, Ctx: Context{Err: fmt.Errorf("%w: %s", ErrRejected, resp.OpErrno)}}
		default:
			return Event{Type: EventRcvdRemoveAck, PeerID: id, Ctx: Context{UUID: resp.UUID}}
		}
	})
}

func (m *Machine) handleRcvdRemoveAck(ev Event) {
	id := m.resolve(ev.PeerID)
	p, ok := m.registry.Get(id)
	if !ok {
		// removed by the peer's own request while ours was in flight
		return
	}

	if ev.Ctx.Err != nil {
		slog.Warn("unfriend request failed", "peer", id, "hostname", p.Hostname, "error", ev.Ctx.Err)
		m.completeRemoves(id, Result{Hostname: p.Hostname, Err: ev.Ctx.Err})
		return
	}

	slog.Info("peer detached", "peer", id, "uuid", p.UUID, "hostname", p.Hostname)
	m.forget(id, nil)
}

func (m *Machine) handleConnect(ev Event) {
	l := ev.conn
	if l == nil || l.dead {
		return
	}
	p, ok := m.registry.Get(l.id)
	if !ok {
		return
	}

	_ = m.registry.SetConnected(p.ID, true)
	slog.Debug("peer connected", "peer", p.ID, "hostname", p.Hostname, "state", p.State)

	id := p.ID
	client := l.client
	req := &wire.ProbeRequest{UUID: m.self, Hostname: p.Hostname}
	m.dispatch(func(ctx context.Context) Event {
		resp, err := client.Probe(ctx, req)
		if err != nil {
			return Event{Type: EventRcvdProbeAck, PeerID: id, Ctx: Context{Err: err}}
		}
		return Event{Type: EventRcvdProbeAck, PeerID: id, Ctx: Context{UUID: resp.UUID}}
	})

	if p.State == peer.StateNone && len(m.probes[id]) == 0 {
		m.handleInitFriendReq(id)
	}
}

func (m *Machine) handleDisconnect(ev Event) {
	l := ev.conn
	if l == nil || l.dead {
		return
	}
	p, ok := m.registry.Get(l.id)
	if !ok {
		return
	}

	_ = m.registry.SetConnected(p.ID, false)
	slog.Info("peer disconnected", "peer", p.ID, "hostname", p.Hostname, "state", p.State)
}

func (m *Machine) handleRcvdProbeAck(ev Event) {
	id := m.resolve(ev.PeerID)
	if _, ok := m.registry.Get(id); !ok {
		return
	}
	if ev.Ctx.Err != nil {
		slog.Debug("handshake probe failed", "peer", id, "error", ev.Ctx.Err)
		return
	}
	_ = m.registry.SetConnected(id, true)
	if ev.Ctx.UUID == uuid.Nil || ev.Ctx.UUID == m.self {
		return
	}

	if _, err := m.identify(id, ev.Ctx.UUID, ""); err != nil {
		slog.Warn("handshake identity conflict", "peer", id, "uuid", ev.Ctx.UUID, "error", err)
	}
}

// connect dials hostname and attaches the connection to record id.
func (m *Machine) connect(id peer.ID, hostname string) error {
	l := &link{id: id}
	client, err := m.dialer.Dial(hostname, m.notifier(l))
	if err != nil {
		return err
	}
	l.client = client

	if old, ok := m.links[id]; ok {
		old.dead = true
	}
	m.links[id] = l
	return m.registry.SetClient(id, client)
}

// identify records a uuid learned from the peer and re-keys loop state when
// records were merged.
func (m *Machine) identify(id peer.ID, u uuid.UUID, hostname string) (peer.ID, error) {
	merge, err := m.registry.Identify(id, u, hostname)
	if err != nil {
		return id, err
	}

	for _, c := range merge.Displaced {
		for _, l := range m.links {
			if l.client == c {
				l.dead = true
			}
		}
		_ = c.Close()
	}

	if len(merge.Absorbed) == 0 {
		return merge.Survivor, nil
	}

	survivor, _ := m.registry.Get(merge.Survivor)
	for _, gone := range merge.Absorbed {
		m.merged[gone] = merge.Survivor

		if l, ok := m.links[gone]; ok {
			delete(m.links, gone)
			if !l.dead && l.client == survivor.Client {
				l.id = merge.Survivor
				m.links[merge.Survivor] = l
			} else {
				l.dead = true
			}
		}
		if ws, ok := m.probes[gone]; ok {
			m.probes[merge.Survivor] = append(m.probes[merge.Survivor], ws...)
			delete(m.probes, gone)
		}
		if ws, ok := m.removes[gone]; ok {
			m.removes[merge.Survivor] = append(m.removes[merge.Survivor], ws...)
			delete(m.removes, gone)
		}

		metrics.PeerMergesTotal.Inc()
		slog.Info("peer records merged", "survivor", merge.Survivor, "absorbed", gone, "uuid", survivor.UUID)
	}

	return merge.Survivor, nil
}

// forget deletes a record and closes the connection it owned. Pending probes
// fail with cause, pending removals succeed.
func (m *Machine) forget(id peer.ID, cause error) {
	p, ok := m.registry.Remove(id)
	if !ok {
		return
	}
	if l, ok := m.links[id]; ok {
		l.dead = true
		delete(m.links, id)
	}
	if p.Client != nil {
		if err := p.Client.Close(); err != nil {
			slog.Debug("closing peer connection", "peer", id, "error", err)
		}
	}
	if cause == nil {
		cause = fmt.Errorf("%w: %s", ErrPeerNotFound, p.Name())
	}
	m.completeProbes(id, Result{Err: cause})
	m.completeRemoves(id, Result{UUID: p.UUID, Hostname: p.Hostname})
}

func (m *Machine) setState(id peer.ID, to peer.State) {
	p, ok := m.registry.Get(id)
	if !ok || p.State == to {
		return
	}
	_ = m.registry.SetState(id, to)
	metrics.FriendTransitionsTotal.WithLabelValues(p.State.String(), to.String()).Inc()
	slog.Debug("peer state", "peer", id, "from", p.State, "to", to)
}

func (m *Machine) completeProbes(id peer.ID, r Result) {
	for _, ch := range m.probes[id] {
		reply(ch, r)
	}
	delete(m.probes, id)
}

func (m *Machine) completeRemoves(id peer.ID, r Result) {
	for _, ch := range m.removes[id] {
		reply(ch, r)
	}
	delete(m.removes, id)
}
