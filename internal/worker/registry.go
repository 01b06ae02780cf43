// Package worker provides keyed worker supervision: at most one live worker
// per (partition, key), with idempotent start, registry lookup, and
// one-for-one crash isolation. Workers process their calls strictly one at
// a time; distinct workers run concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

var (
	// ErrNotFound indicates no live worker exists for the (partition, key).
	ErrNotFound = errors.New("worker not found")
	// ErrWorkerDown indicates the worker exited (crash or stop) before or
	// while serving the call.
	ErrWorkerDown = errors.New("worker down")
)

// Handler implements a worker's behavior. Init runs exactly once before the
// worker serves calls; a non-nil error fails the start and the worker is
// never registered as live. HandleCall is invoked serially, one call at a
// time.
type Handler interface {
	Init(ctx context.Context, key string) error
	HandleCall(ctx context.Context, msg any) (any, error)
}

// Terminator is an optional Handler extension invoked once when the worker
// stops cleanly.
type Terminator interface {
	Terminate()
}

const defaultMailboxSize = 64

type call struct {
	ctx   context.Context
	msg   any
	reply chan result
}

type result struct {
	value any
	err   error
}

// Registry supervises keyed workers. The zero value is not usable; create
// with NewRegistry.
type Registry struct {
	mu         sync.Mutex
	partitions map[string]map[string]*Ref
	logger     *slog.Logger
}

// NewRegistry creates an empty worker registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		partitions: map[string]map[string]*Ref{},
		logger:     log.With(slog.String("component", "worker_registry")),
	}
}

// StartWorker starts a worker for (partition, key), or returns the existing
// live worker's reference (idempotent start). Concurrent starts for the same
// key resolve to exactly one worker: the loser of the insert race waits for
// the winner's init and adopts its reference. ctx bounds only the init phase;
// the worker itself runs until stopped or crashed.
func (r *Registry) StartWorker(ctx context.Context, partition, key string, handler Handler) (*Ref, error) {
	partition = strings.TrimSpace(partition)
	key = strings.TrimSpace(key)
	if partition == "" || key == "" {
		return nil, fmt.Errorf("partition and key are required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	r.mu.Lock()
	if existing := r.lookupLocked(partition, key); existing != nil {
		r.mu.Unlock()
		return existing.awaitReady(ctx)
	}
	ref := &Ref{
		partition: partition,
		key:       key,
		handler:   handler,
		mailbox:   make(chan call, defaultMailboxSize),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		stopCh:    make(chan struct{}),
		registry:  r,
		logger:    r.logger.With(slog.String("partition", partition), slog.String("key", key)),
	}
	if r.partitions[partition] == nil {
		r.partitions[partition] = map[string]*Ref{}
	}
	r.partitions[partition][key] = ref
	r.mu.Unlock()

	go ref.run(ctx)
	return ref.awaitReady(ctx)
}

// GetOrStartWorker returns the live worker for (partition, key), starting one
// on a miss. It tolerates start races by falling through to StartWorker's
// idempotent semantics.
func (r *Registry) GetOrStartWorker(ctx context.Context, partition, key string, handler Handler) (*Ref, error) {
	if ref, ok := r.Whereis(partition, key); ok {
		return ref, nil
	}
	return r.StartWorker(ctx, partition, key, handler)
}

// Whereis looks up the live worker for (partition, key) without side effects.
func (r *Registry) Whereis(partition, key string) (*Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := r.lookupLocked(strings.TrimSpace(partition), strings.TrimSpace(key))
	if ref == nil {
		return nil, false
	}
	return ref, true
}

// StopWorker stops the worker for (partition, key). It returns ErrNotFound
// when no live worker exists.
func (r *Registry) StopWorker(partition, key string) error {
	ref, ok := r.Whereis(partition, key)
	if !ok {
		return ErrNotFound
	}
	ref.stop()
	return nil
}

// CountWorkers returns the number of live workers in partition.
func (r *Registry) CountWorkers(partition string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partitions[strings.TrimSpace(partition)])
}

// StopAll stops every live worker. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	refs := make([]*Ref, 0)
	for _, keyed := range r.partitions {
		for _, ref := range keyed {
			refs = append(refs, ref)
		}
	}
	r.mu.Unlock()
	for _, ref := range refs {
		ref.stop()
	}
}

func (r *Registry) lookupLocked(partition, key string) *Ref {
	keyed := r.partitions[partition]
	if keyed == nil {
		return nil
	}
	return keyed[key]
}

// remove drops ref from the registry if it is still the current occupant of
// its slot. A successor started after a crash is left untouched.
func (r *Registry) remove(ref *Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keyed := r.partitions[ref.partition]
	if keyed == nil || keyed[ref.key] != ref {
		return
	}
	delete(keyed, ref.key)
	if len(keyed) == 0 {
		delete(r.partitions, ref.partition)
	}
}
