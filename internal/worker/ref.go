package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Ref is a handle to a live (or starting) worker. Refs are safe for
// concurrent use; all calls to the same Ref are serialized by the worker
// loop.
type Ref struct {
	partition string
	key       string
	handler   Handler

	mailbox chan call
	ready   chan struct{} // closed once init resolves
	done    chan struct{} // closed when the worker loop exits
	stopCh  chan struct{}

	initErr  error
	stopOnce sync.Once

	registry *Registry
	logger   *slog.Logger
}

// Partition returns the partition the worker was started under.
func (w *Ref) Partition() string { return w.partition }

// Key returns the identity key the worker was started under.
func (w *Ref) Key() string { return w.key }

// Alive reports whether the worker loop is still running.
func (w *Ref) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Call sends msg to the worker and waits for its reply. The worker handles
// calls strictly in order, one at a time. ctx bounds the wait only: if ctx
// expires while the worker is still busy, the caller gets ctx's error and the
// worker finishes the call without a recipient. A crashed or stopped worker
// yields ErrWorkerDown.
func (w *Ref) Call(ctx context.Context, msg any) (any, error) {
	if _, err := w.awaitReady(ctx); err != nil {
		return nil, err
	}
	env := call{ctx: ctx, msg: msg, reply: make(chan result, 1)}
	select {
	case w.mailbox <- env:
	case <-w.done:
		return nil, ErrWorkerDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-env.reply:
		return res.value, res.err
	case <-w.done:
		// Drain in case the reply raced the loop exit.
		select {
		case res := <-env.reply:
			return res.value, res.err
		default:
		}
		return nil, ErrWorkerDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// awaitReady blocks until init resolves and reports its outcome.
func (w *Ref) awaitReady(ctx context.Context) (*Ref, error) {
	select {
	case <-w.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if w.initErr != nil {
		return nil, w.initErr
	}
	return w, nil
}

func (w *Ref) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// run is the worker loop. Init runs first; on failure (error or panic) the
// worker is removed before ready is signalled so waiters observe the error
// and the slot frees up for a retry. A panic crashes only this worker: it is
// logged, the worker leaves the registry, and in-flight callers receive
// ErrWorkerDown.
func (w *Ref) run(initCtx context.Context) {
	defer close(w.done)
	defer w.registry.remove(w)
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("worker crashed", slog.Any("panic", rec))
		}
		select {
		case <-w.ready:
		default:
			// Init never resolved. Free the slot, then release the
			// waiters so none of them blocks forever.
			w.registry.remove(w)
			if w.initErr == nil {
				w.initErr = ErrWorkerDown
			}
			close(w.ready)
		}
	}()

	if err := w.handler.Init(initCtx, w.key); err != nil {
		w.initErr = fmt.Errorf("init worker %s/%s: %w", w.partition, w.key, err)
		w.registry.remove(w)
		close(w.ready)
		return
	}
	close(w.ready)
	w.logger.Debug("worker started")

	for {
		select {
		case <-w.stopCh:
			if t, ok := w.handler.(Terminator); ok {
				t.Terminate()
			}
			w.logger.Debug("worker stopped")
			return
		case env := <-w.mailbox:
			value, err := w.handler.HandleCall(env.ctx, env.msg)
			env.reply <- result{value: value, err: err}
		}
	}
}
