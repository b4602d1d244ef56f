package op

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"glusterd/internal/configuration"
	"glusterd/internal/metrics"
	"glusterd/internal/peer"
	"glusterd/internal/ports"
	"glusterd/internal/wire"
)

// Machine drives cluster transactions, both as originator and as
// participant. Transaction state is touched only by the loop goroutine.
type Machine struct {
	self uuid.UUID

	registry *peer.Registry
	handler  ports.OpHandler
	locks    *LockTable

	rpcTimeout time.Duration

	inbox   chan Event
	pending *pendingTable

	stopCh     chan struct{}
	stopOnce   sync.Once
	stoppedWg  sync.WaitGroup
	inFlight   sync.WaitGroup
	stopCtx    context.Context
	stopCancel context.CancelFunc

	state atomic.Int32
	txn   *Transaction
}

type Config struct {
	Self       uuid.UUID
	RPCTimeout time.Duration
	// ReplyGrace is added to RPCTimeout before a missing reply counts as a timeout.
	ReplyGrace time.Duration
	QueueSize  int
}

func NewConfigFromProperties(cfg *configuration.ClusterConfigurationProperties, self uuid.UUID) Config {
	return Config{
		Self:       self,
		RPCTimeout: cfg.RPCTimeoutDuration(),
		ReplyGrace: cfg.ReplyGraceDuration(),
		QueueSize:  cfg.EventQueueSize,
	}
}

func New(registry *peer.Registry, handler ports.OpHandler, locks *LockTable, cfg Config) *Machine {
	stopCtx, stopCancel := context.WithCancel(context.Background())

	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 5 * time.Second
	}
	if cfg.ReplyGrace <= 0 {
		cfg.ReplyGrace = time.Second
	}

	m := &Machine{
		self:     cfg.Self,
		registry: registry,
		handler:  handler,
		locks:    locks,

		rpcTimeout: cfg.RPCTimeout,

		inbox: make(chan Event, cfg.QueueSize),

		stopCh:     make(chan struct{}),
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
	}
	m.pending = newPendingTable(cfg.RPCTimeout+cfg.ReplyGrace, m.expired)

	slog.Info("op state machine created", "uuid", cfg.Self, "rpcTimeout", cfg.RPCTimeout, "replyGrace", cfg.ReplyGrace)

	return m
}

func (m *Machine) Start() {
	m.stoppedWg.Add(1)
	go func() {
		defer m.stoppedWg.Done()
		m.runLoop()
	}()
}

func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.stoppedWg.Wait()

		m.stopCancel()
		m.inFlight.Wait()
		m.pending.close()

	drain:
		for {
			select {
			case ev := <-m.inbox:
				m.reject(ev, ErrStopped)
			default:
				break drain
			}
		}

		if t := m.txn; t != nil {
			m.txn = nil
			_ = m.locks.Release(m.self, m.self)
			m.setState(StateIdle)
			metrics.OpInProgress.Set(0)
			sendResult(t.result, Result{TxnID: t.ID, Op: t.Op, Err: ErrStopped, Failures: t.failures})
		}

		slog.Info("op state machine stopped", "uuid", m.self)
	})
}

func (m *Machine) State() State {
	return State(m.state.Load())
}

func (m *Machine) setState(s State) {
	if old := State(m.state.Swap(int32(s))); old != s {
		slog.Debug("op state", "from", old, "to", s)
	}
}

// Begin starts a cluster transaction originated by this node. It fails with
// ErrAlreadyInProgress, before any peer is contacted, when this node's lock
// is held. The returned channel receives exactly one Result.
func (m *Machine) Begin(ctx context.Context, op wire.OpKind, blob []byte) (<-chan Result, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, op)
	}
	if err := m.locks.Acquire(m.self, m.self); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlreadyInProgress, err)
	}

	ch := make(chan Result, 1)
	ev := Event{Type: EventStartLock, Ctx: Context{Requester: m.self, Op: op, Blob: blob}, result: ch}
	if err := m.Inject(ctx, ev); err != nil {
		_ = m.locks.Release(m.self, m.self)
		return nil, err
	}
	return ch, nil
}

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

func (m *Machine) runLoop() {
	for {
		select {
		case <-m.stopCh:
			slog.Debug("op loop stopping", "uuid", m.self)
			return

		case ev := <-m.inbox:
			m.handle(ev)
		}
	}
}

func (m *Machine) handle(ev Event) {
	switch ev.Type {
	case EventStartLock:
		m.handleStartLock(ev)
	case EventLock:
		m.handleLock(ev)
	case EventStageOp:
		m.handleStage(ev)
	case EventCommitOp:
		m.handleCommit(ev)
	case EventUnlock:
		m.handleUnlock(ev)
	case EventRcvdReply:
		m.handleAnswer(ev.answer)
	default:
		slog.Warn("unknown op event", "event", int(ev.Type))
		answer(ev.Ctx.Reply, Reply{Op: ev.Ctx.Op, Err: ErrUnknownOp})
	}
}

// reject answers an event that will never be processed.
func (m *Machine) reject(ev Event, err error) {
	switch {
	case ev.Type == EventStartLock:
		_ = m.locks.Release(m.self, m.self)
		sendResult(ev.result, Result{Op: ev.Ctx.Op, Err: err})
	case ev.Ctx.Reply != nil:
		answer(ev.Ctx.Reply, Reply{Op: ev.Ctx.Op, Err: err})
	}
}

// expired runs on the cache's expiry goroutine, so it must not block it.
func (m *Machine) expired(a *peerAnswer) {
	metrics.OpReplyTimeouts.Inc()
	timeout := *a
	timeout.err = fmt.Errorf("%w after %s", ErrTimeout, m.rpcTimeout)
	go func() {
		select {
		case m.inbox <- Event{Type: EventRcvdReply, answer: &timeout}:
		case <-m.stopCh:
		}
	}()
}

func answer(ch chan<- Reply, r Reply) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
		slog.Warn("op reply dropped, channel full")
	}
}

func sendResult(ch chan<- Result, r Result) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
		slog.Warn("op result dropped, channel full")
	}
}
