package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type getFlowMsg struct{}

type transitionMsg struct {
	Kind           Transition
	Metadata       map[string]any
	IdempotencyKey string
}

// flowWorker owns exactly one Flow while alive. All reads and writes of that
// flow go through its mailbox, so transitions on one onboarding id are
// strictly serialized.
type flowWorker struct {
	id           string
	store        Store
	startRequest map[string]any
	hasRequest   bool
	now          func() time.Time
	logger       *slog.Logger

	flow *Flow
}

// Init restores the persisted flow, or creates one when a start request was
// supplied. Absent both, the worker refuses to start.
func (w *flowWorker) Init(ctx context.Context, key string) error {
	flow, err := w.store.GetFlow(ctx, w.id)
	switch {
	case err == nil:
		w.flow = flow.Clone()
		return nil
	case errors.Is(err, ErrFlowNotFound):
		if !w.hasRequest {
			return fmt.Errorf("flow %s: %w", w.id, ErrFlowNotFound)
		}
		fresh := NewFlow(w.id, w.startRequest, w.now())
		if err := w.store.SaveFlow(ctx, fresh); err != nil {
			return fmt.Errorf("persist new flow %s: %w", w.id, err)
		}
		w.flow = fresh
		w.logger.Info("flow created", slog.String("onboarding_id", w.id))
		return nil
	default:
		return fmt.Errorf("restore flow %s: %w", w.id, err)
	}
}

func (w *flowWorker) HandleCall(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case getFlowMsg:
		return w.flow.Clone(), nil
	case transitionMsg:
		return w.transition(ctx, m)
	default:
		return nil, fmt.Errorf("unknown message %T", msg)
	}
}

func (w *flowWorker) transition(ctx context.Context, msg transitionMsg) (TransitionResult, error) {
	// Replays with a known idempotency key are pure reads.
	if msg.IdempotencyKey != "" {
		if cached, ok := w.flow.Idempotency[msg.IdempotencyKey]; ok {
			cached.Idempotent = true
			return cached, nil
		}
	}

	next, result, err := apply(w.flow, msg.Kind, msg.Metadata, msg.IdempotencyKey, w.now())
	if err != nil {
		return TransitionResult{}, err
	}

	// Persist before committing in memory. A failed save keeps the previous
	// state so memory and storage never diverge; a true no-op skips the
	// round trip entirely.
	if !flowsEqual(next, w.flow) {
		if err := w.store.SaveFlow(ctx, next); err != nil {
			return TransitionResult{}, fmt.Errorf("persist flow %s: %w", w.id, err)
		}
	}
	w.flow = next
	w.logger.Debug("flow transitioned",
		slog.String("onboarding_id", w.id),
		slog.String("transition", string(msg.Kind)),
		slog.String("from", string(result.PreviousStatus)),
		slog.String("to", string(result.Status)))
	return result, nil
}
