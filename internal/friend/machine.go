package friend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"glusterd/internal/configuration"
	"glusterd/internal/metrics"
	"glusterd/internal/peer"
	"glusterd/internal/ports"
)

// Machine runs the membership lifecycle of every peer. All registry
// mutations happen on the single loop goroutine.
type Machine struct {
	self     uuid.UUID
	hostname string

	registry *peer.Registry
	dialer   ports.Dialer

	rpcTimeout time.Duration

	inbox chan Event

	stopCh     chan struct{}
	stopOnce   sync.Once
	stoppedWg  sync.WaitGroup
	inFlight   sync.WaitGroup
	stopCtx    context.Context
	stopCancel context.CancelFunc

	// loop-owned
	links   map[peer.ID]*link
	merged  map[peer.ID]peer.ID
	probes  map[peer.ID][]chan<- Result
	removes map[peer.ID][]chan<- Result
}

type Config struct {
	Self       uuid.UUID
	Hostname   string
	RPCTimeout time.Duration
	QueueSize  int
}

func NewConfigFromProperties(cfg *configuration.ClusterConfigurationProperties, self uuid.UUID, hostname string) Config {
	return Config{
		Self:       self,
		Hostname:   hostname,
		RPCTimeout: cfg.RPCTimeoutDuration(),
		QueueSize:  cfg.EventQueueSize,
	}
}

func New(registry *peer.Registry, dialer ports.Dialer, cfg Config) *Machine {
	stopCtx, stopCancel := context.WithCancel(context.Background())

	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 5 * time.Second
	}

	m := &Machine{
		self:     cfg.Self,
		hostname: cfg.Hostname,

		registry: registry,
		dialer:   dialer,

		rpcTimeout: cfg.RPCTimeout,

		inbox: make(chan Event, cfg.QueueSize),

		stopCh:     make(chan struct{}),
		stopCtx:    stopCtx,
		stopCancel: stopCancel,

		links:   make(map[peer.ID]*link),
		merged:  make(map[peer.ID]peer.ID),
		probes:  make(map[peer.ID][]chan<- Result),
		removes: make(map[peer.ID][]chan<- Result),
	}

	slog.Info("friend state machine created", "uuid", cfg.Self, "hostname", cfg.Hostname, "rpcTimeout", cfg.RPCTimeout)

	return m
}

func (m *Machine) Start() {
	m.stoppedWg.Add(1)
	go func() {
		defer m.stoppedWg.Done()
		m.runLoop()
	}()
}

// Stop ends the loop, cancels outstanding RPCs and fails every waiter that
// has not been answered yet.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.stoppedWg.Wait()

		m.stopCancel()
		m.inFlight.Wait()

	drain:
		for {
			select {
			case ev := <-m.inbox:
				reply(ev.Ctx.Reply, Result{Err: ErrStopped})
			default:
				break drain
			}
		}

		for id := range m.probes {
			m.completeProbes(id, Result{Err: ErrStopped})
		}
		for id := range m.removes {
			m.completeRemoves(id, Result{Err: ErrStopped})
		}
		for id, l := range m.links {
			l.dead = true
			if l.client != nil {
				_ = l.client.Close()
			}
			delete(m.links, id)
		}

		slog.Info("friend state machine stopped", "uuid", m.self)
	})
}

// Inject queues an event, waiting for room until ctx ends or the machine stops.
func (m *Machine) Inject(ctx context.Context, ev Event) error {
	select {
	case <-m.stopCh:
		return ErrStopped
	default:
	}

	select {
	case m.inbox <- ev:
		return nil
	case <-m.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryInject queues an event without waiting.
func (m *Machine) TryInject(ev Event) error {
	select {
	case <-m.stopCh:
		return ErrStopped
	default:
	}

	select {
	case m.inbox <- ev:
		return nil
	default:
		metrics.FriendEventsDropped.Inc()
		return ErrQueueFull
	}
}

func (m *Machine) runLoop() {
	for {
		select {
		case <-m.stopCh:
			slog.Debug("friend loop stopping", "uuid", m.self)
			return

		case ev := <-m.inbox:
			m.handle(ev)
			metrics.FriendEventsTotal.WithLabelValues(ev.Type.String()).Inc()
			m.updateMetrics()
		}
	}
}

func (m *Machine) handle(ev Event) {
	slog.Debug("friend event", "event", ev.Type, "peer", ev.PeerID, "uuid", ev.Ctx.UUID, "hostname", ev.Ctx.Hostname)

	switch ev.Type {
	case EventProbe:
		m.handleProbe(ev)
	case EventInitFriendReq:
		m.handleInitFriendReq(m.resolve(ev.PeerID))
	case EventRcvdFriendReq:
		m.handleRcvdFriendReq(ev)
	case EventRcvdAccept:
		m.handleRcvdAccept(ev)
	case EventRcvdReject:
		m.handleRcvdReject(ev)
	case EventRemoveFriend:
		m.handleRemoveFriend(ev)
	case EventInitRemoveFriend:
		m.handleInitRemoveFriend(ev)
	case EventRcvdRemoveAck:
		m.handleRcvdRemoveAck(ev)
	case EventConnect:
		m.handleConnect(ev)
	case EventDisconnect:
		m.handleDisconnect(ev)
	case EventRcvdProbeAck:
		m.handleRcvdProbeAck(ev)
	default:
		slog.Warn("unknown friend event", "event", int(ev.Type))
		reply(ev.Ctx.Reply, Result{Err: ErrPeerNotFound})
	}
}

// dispatch runs an outbound RPC off the loop. The callback's event, if any,
// is fed back into the loop.
func (m *Machine) dispatch(call func(ctx context.Context) Event) {
	m.inFlight.Add(1)
	go func() {
		defer m.inFlight.Done()

		ctx, cancel := context.WithTimeout(m.stopCtx, m.rpcTimeout)
		ev := call(ctx)
		cancel()

		if ev.Type == EventNone {
			return
		}
		select {
		case m.inbox <- ev:
		case <-m.stopCh:
		}
	}()
}

func (m *Machine) notifier(l *link) ports.ConnNotify {
	return func(ctx context.Context, connected bool) {
		t := EventDisconnect
		if connected {
			t = EventConnect
		}
		if err := m.Inject(ctx, Event{Type: t, conn: l}); err != nil {
			slog.Debug("connectivity event not delivered", "event", t, "error", err)
		}
	}
}

// resolve follows merges so replies addressed to an absorbed record reach
// the survivor.
func (m *Machine) resolve(id peer.ID) peer.ID {
	for {
		next, ok := m.merged[id]
		if !ok {
			return id
		}
		id = next
	}
}

func (m *Machine) updateMetrics() {
	counts := m.registry.CountByState()
	for s := peer.StateNone; s <= peer.StateRejected; s++ {
		metrics.PeersByState.WithLabelValues(s.String()).Set(float64(counts[s]))
	}

	connected := 0
	for _, p := range m.registry.List() {
		if p.Connected {
			connected++
		}
	}
	metrics.PeersConnected.Set(float64(connected))
}

func reply(ch chan<- Result, r Result) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
		slog.Warn("friend reply dropped, channel full")
	}
}
