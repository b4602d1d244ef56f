package op

import (
	"context"
	"fmt"
	"log/slog"

	"glusterd/internal/dict"
)

func (m *Machine) handleLock(ev Event) {
	err := m.locks.Acquire(m.self, ev.Ctx.Requester)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrLockFailed, err)
		slog.Warn("cluster lock refused", "requester", ev.Ctx.Requester, "error", err)
	} else {
		slog.Debug("cluster lock granted", "requester", ev.Ctx.Requester)
	}
	answer(ev.Ctx.Reply, Reply{Op: ev.Ctx.Op, Err: err})
}

func (m *Machine) handleUnlock(ev Event) {
	err := m.locks.Release(m.self, ev.Ctx.Requester)
	if err != nil {
		slog.Warn("cluster unlock refused", "requester", ev.Ctx.Requester, "error", err)
	} else {
		slog.Debug("cluster lock released", "requester", ev.Ctx.Requester)
	}
	answer(ev.Ctx.Reply, Reply{Op: ev.Ctx.Op, Err: err})
}

func (m *Machine) handleStage(ev Event) {
	err := m.participate(ev, ErrStageRejected, func(ctx context.Context, params dict.Dict) error {
		return m.handler.Stage(ctx, ev.Ctx.Op, params)
	})
	answer(ev.Ctx.Reply, Reply{Op: ev.Ctx.Op, Err: err})
}

func (m *Machine) handleCommit(ev Event) {
	err := m.participate(ev, ErrCommitFailed, func(ctx context.Context, params dict.Dict) error {
		return m.handler.Commit(ctx, ev.Ctx.Op, params)
	})
	answer(ev.Ctx.Reply, Reply{Op: ev.Ctx.Op, Err: err})
}

// participate runs one phase for a remote originator, which must hold this
// node's lock.
func (m *Machine) participate(ev Event, sentinel error, run func(context.Context, dict.Dict) error) error {
	owner, locked := m.locks.Owner(m.self)
	if !locked || owner != ev.Ctx.Requester {
		return fmt.Errorf("%w: %s", ErrNotLockOwner, ev.Ctx.Requester)
	}
	if !ev.Ctx.Op.Valid() {
		return fmt.Errorf("%w: %w: %d", sentinel, ErrUnknownOp, ev.Ctx.Op)
	}

	params, err := dict.Unserialize(ev.Ctx.Blob)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}

	ctx, cancel := context.WithTimeout(m.stopCtx, m.rpcTimeout)
	defer cancel()

	if err := run(ctx, params); err != nil {
		slog.Warn("phase refused", "event", ev.Type, "op", ev.Ctx.Op, "requester", ev.Ctx.Requester, "error", err)
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return nil
}
