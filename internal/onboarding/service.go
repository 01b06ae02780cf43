package onboarding

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/worker"
)

// Partition is the worker-registry partition all flow workers live under.
const Partition = "onboarding"

// Service fronts the workflow engine: it routes each call to the single
// worker owning that onboarding id, starting one on demand.
type Service struct {
	workers *worker.Registry
	store   Store
	now     func() time.Time
	logger  *slog.Logger
}

// NewService wires the workflow engine onto a worker registry and a
// persistence adapter.
func NewService(workers *worker.Registry, store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		workers: workers,
		store:   store,
		now:     time.Now,
		logger:  log.With(slog.String("component", "onboarding")),
	}
}

// Start begins (or resumes) a flow. An empty id gets a generated one. When a
// flow already exists for the id, the existing flow is returned unchanged.
func (s *Service) Start(ctx context.Context, id string, request map[string]any) (*Flow, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = "ob_" + uuid.NewString()
	}
	if request == nil {
		request = map[string]any{}
	}
	ref, err := s.workers.GetOrStartWorker(ctx, Partition, id, &flowWorker{
		id:           id,
		store:        s.store,
		startRequest: request,
		hasRequest:   true,
		now:          s.now,
		logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}
	return s.getFlow(ctx, ref)
}

// GetFlow returns the current flow from worker memory, starting a restoring
// worker on a miss. A flow that exists nowhere yields ErrFlowNotFound.
func (s *Service) GetFlow(ctx context.Context, id string) (*Flow, error) {
	id = strings.TrimSpace(id)
	ref, err := s.workers.GetOrStartWorker(ctx, Partition, id, &flowWorker{
		id:     id,
		store:  s.store,
		now:    s.now,
		logger: s.logger,
	})
	if err != nil {
		return nil, err
	}
	return s.getFlow(ctx, ref)
}

// Transition applies one state-machine edge to the flow. Metadata is merged
// into the transition's target field; a non-empty idempotency key makes the
// call safely retryable.
func (s *Service) Transition(ctx context.Context, id string, kind Transition, metadata map[string]any, idempotencyKey string) (TransitionResult, error) {
	id = strings.TrimSpace(id)
	ref, err := s.workers.GetOrStartWorker(ctx, Partition, id, &flowWorker{
		id:     id,
		store:  s.store,
		now:    s.now,
		logger: s.logger,
	})
	if err != nil {
		return TransitionResult{}, err
	}
	reply, err := ref.Call(ctx, transitionMsg{
		Kind:           kind,
		Metadata:       metadata,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	})
	if err != nil {
		return TransitionResult{}, err
	}
	result, ok := reply.(TransitionResult)
	if !ok {
		return TransitionResult{}, errors.New("unexpected transition reply type")
	}
	return result, nil
}

// CountWorkers reports the number of live flow workers.
func (s *Service) CountWorkers() int {
	return s.workers.CountWorkers(Partition)
}

// StopWorker stops the worker for id, if any. The flow stays persisted and a
// later call restores it transparently.
func (s *Service) StopWorker(id string) error {
	return s.workers.StopWorker(Partition, strings.TrimSpace(id))
}

func (s *Service) getFlow(ctx context.Context, ref *worker.Ref) (*Flow, error) {
	reply, err := ref.Call(ctx, getFlowMsg{})
	if err != nil {
		return nil, err
	}
	flow, ok := reply.(*Flow)
	if !ok {
		return nil, errors.New("unexpected flow reply type")
	}
	return flow, nil
}
