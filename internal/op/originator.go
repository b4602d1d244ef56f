package op

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"glusterd/internal/dict"
	"glusterd/internal/metrics"
	"glusterd/internal/ports"
	"glusterd/internal/wire"
)

func (m *Machine) handleStartLock(ev Event) {
	if m.txn != nil {
		// Begin holds the local lock for the active transaction, so this
		// only happens if a caller bypassed Begin.
		sendResult(ev.result, Result{Op: ev.Ctx.Op, Err: ErrAlreadyInProgress})
		return
	}

	params, err := dict.Unserialize(ev.Ctx.Blob)
	if err != nil {
		_ = m.locks.Release(m.self, m.self)
		sendResult(ev.result, Result{Op: ev.Ctx.Op, Err: fmt.Errorf("%w: %v", ErrStageRejected, err)})
		return
	}

	t := newTransaction(ev.Ctx.Op, ev.Ctx.Blob, params, m.registry.Befriended(), ev.result)
	m.txn = t
	m.setState(StateLocked)
	metrics.OpInProgress.Set(1)

	slog.Info("transaction started", "txn", t.ID, "op", t.Op, "participants", len(t.participants))

	for i, p := range t.participants {
		if p.client == nil {
			t.fail(PeerFailure{UUID: p.uuid, Hostname: p.hostname, Phase: PhaseLock, Err: ErrNotConnected})
			continue
		}
		m.send(t, PhaseLock, i)
	}
	m.maybeAdvance(t)
}

func (m *Machine) handleAnswer(a *peerAnswer) {
	t := m.txn
	if a == nil || t == nil || a.txn != t.ID {
		return
	}
	if _, ok := t.waiting[a.key]; !ok {
		slog.Debug("duplicate peer reply ignored", "key", a.key)
		return
	}
	delete(t.waiting, a.key)
	m.pending.done(a.key)

	p := t.participants[a.index]
	if a.err != nil {
		slog.Warn("peer failed phase", "txn", t.ID, "phase", a.phase, "peer", p.hostname, "uuid", p.uuid, "error", a.err)
		t.fail(PeerFailure{UUID: p.uuid, Hostname: p.hostname, Phase: a.phase, Err: a.err})
		metrics.OpPhaseFailures.WithLabelValues(a.phase.String()).Inc()
	}
	if a.phase == PhaseLock && !a.refused {
		p.locked = true
	}

	m.maybeAdvance(t)
}

// maybeAdvance moves to the next phase once every reply of the current
// phase is in.
func (m *Machine) maybeAdvance(t *Transaction) {
	for len(t.waiting) == 0 && m.txn == t {
		switch t.phase {
		case PhaseLock:
			if t.failedIn(PhaseLock) {
				m.startUnlock(t)
				continue
			}
			m.startStage(t)
		case PhaseStage:
			if t.failedIn(PhaseStage) {
				m.startUnlock(t)
				continue
			}
			m.startCommit(t)
		case PhaseCommit:
			m.setState(StateCommitted)
			m.startUnlock(t)
		case PhaseUnlock:
			m.finish(t)
		}
	}
}

func (m *Machine) startStage(t *Transaction) {
	t.phase = PhaseStage

	if err := m.handler.Stage(m.stopCtx, t.Op, t.Params); err != nil {
		t.fail(PeerFailure{UUID: m.self, Phase: PhaseStage, Err: fmt.Errorf("%w: %v", ErrStageRejected, err)})
		metrics.OpPhaseFailures.WithLabelValues(PhaseStage.String()).Inc()
		return
	}
	for i := range t.participants {
		m.send(t, PhaseStage, i)
	}
	m.setState(StateStaged)
}

func (m *Machine) startCommit(t *Transaction) {
	t.phase = PhaseCommit

	if err := m.handler.Commit(m.stopCtx, t.Op, t.Params); err != nil {
		t.fail(PeerFailure{UUID: m.self, Phase: PhaseCommit, Err: fmt.Errorf("%w: %v", ErrCommitFailed, err)})
		metrics.OpPhaseFailures.WithLabelValues(PhaseCommit.String()).Inc()
	}
	for i := range t.participants {
		m.send(t, PhaseCommit, i)
	}
}

func (m *Machine) startUnlock(t *Transaction) {
	t.phase = PhaseUnlock
	for i, p := range t.participants {
		if p.locked {
			m.send(t, PhaseUnlock, i)
		}
	}
}

func (m *Machine) finish(t *Transaction) {
	m.txn = nil
	if err := m.locks.Release(m.self, m.self); err != nil {
		slog.Error("releasing local cluster lock", "txn", t.ID, "error", err)
	}
	m.setState(StateIdle)
	metrics.OpInProgress.Set(0)

	res := Result{TxnID: t.ID, Op: t.Op, Err: t.outcome(), Failures: t.failures}

	outcome := "success"
	if res.Err != nil {
		outcome = "failure"
	}
	metrics.OpTransactionsTotal.WithLabelValues(t.Op.String(), outcome).Inc()
	metrics.OpTransactionDuration.WithLabelValues(t.Op.String()).Observe(time.Since(t.started).Seconds())

	if res.Err != nil {
		slog.Warn("transaction failed", "txn", t.ID, "op", t.Op, "error", res.Err)
	} else {
		slog.Info("transaction committed", "txn", t.ID, "op", t.Op, "failures", len(t.failures))
	}

	sendResult(t.result, res)
}

// send issues one phase RPC to participant i off the loop and registers its
// correlation entry.
func (m *Machine) send(t *Transaction, phase Phase, i int) {
	p := t.participants[i]
	key := t.key(phase, i)
	base := peerAnswer{key: key, txn: t.ID, index: i, phase: phase}

	t.waiting[key] = struct{}{}
	m.pending.add(&base)

	client := p.client
	self := m.self
	op, blob := t.Op, t.Blob

	m.inFlight.Add(1)
	go func() {
		defer m.inFlight.Done()

		ctx, cancel := context.WithTimeout(m.stopCtx, m.rpcTimeout)
		defer cancel()

		a := base
		a.refused, a.err = m.call(ctx, client, phase, self, op, blob)

		select {
		case m.inbox <- Event{Type: EventRcvdReply, answer: &a}:
		case <-m.stopCh:
		}
	}()
}

// call issues one phase RPC. refused reports that the peer answered with a
// failure rather than not answering at all.
func (m *Machine) call(ctx context.Context, client ports.PeerClient, phase Phase, self uuid.UUID, op wire.OpKind, blob []byte) (bool, error) {
	switch phase {
	case PhaseLock:
		resp, err := client.ClusterLock(ctx, &wire.ClusterLockRequest{UUID: self})
		if err != nil {
			return false, rpcErr(ctx, ErrLockFailed, err)
		}
		if resp.OpRet != 0 {
			return true, refusal(ErrLockFailed, wire.ErrnoLockFailed, resp.OpErrno, "")
		}
	case PhaseStage:
		resp, err := client.StageOp(ctx, &wire.StageOpRequest{UUID: self, Op: op, Buf: blob})
		if err != nil {
			return false, rpcErr(ctx, ErrStageRejected, err)
		}
		if resp.OpRet != 0 {
			return true, refusal(ErrStageRejected, wire.ErrnoStageRejected, resp.OpErrno, resp.OpErrstr)
		}
	case PhaseCommit:
		resp, err := client.CommitOp(ctx, &wire.CommitOpRequest{UUID: self, Op: op, Buf: blob})
		if err != nil {
			return false, rpcErr(ctx, ErrCommitFailed, err)
		}
		if resp.OpRet != 0 {
			return true, refusal(ErrCommitFailed, wire.ErrnoCommitFailed, resp.OpErrno, resp.OpErrstr)
		}
	case PhaseUnlock:
		resp, err := client.ClusterUnlock(ctx, &wire.ClusterUnlockRequest{UUID: self})
		if err != nil {
			return false, rpcErr(ctx, ErrUnlockFailed, err)
		}
		if resp.OpRet != 0 {
			return true, refusal(ErrUnlockFailed, wire.ErrnoNone, resp.OpErrno, "")
		}
	}
	return false, nil
}

// rpcErr classifies a transport failure, reporting an expired deadline as
// ErrTimeout.
func rpcErr(ctx context.Context, sentinel, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", sentinel, ErrTimeout)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

// refusal wraps a peer's failure answer. An errno that only repeats the
// phase's own failure is left out.
func refusal(sentinel error, own, errno wire.Errno, msg string) error {
	switch {
	case msg != "":
		return fmt.Errorf("%w: %s", sentinel, msg)
	case errno != own && errno != wire.ErrnoNone:
		return fmt.Errorf("%w: %s", sentinel, errno)
	default:
		return sentinel
	}
}
