// Package onboarding implements the persisted onboarding workflow: a
// deterministic state machine advanced by idempotent transitions, with one
// owning worker per flow identity.
package onboarding

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a Flow.
type Status string

const (
	StatusStarted           Status = "started"
	StatusDirectoryResolved Status = "directory_resolved"
	StatusPaired            Status = "paired"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// Transition names an edge in the flow state machine.
type Transition string

const (
	TransitionResolveDirectory Transition = "resolve_directory"
	TransitionPairIdentity     Transition = "pair_identity"
	TransitionComplete         Transition = "complete"
	TransitionCancel           Transition = "cancel"
)

// transitionTable maps each status to its allowed outgoing edges. Terminal
// statuses have no row.
var transitionTable = map[Status]map[Transition]Status{
	StatusStarted: {
		TransitionResolveDirectory: StatusDirectoryResolved,
		TransitionCancel:           StatusCancelled,
	},
	StatusDirectoryResolved: {
		TransitionPairIdentity: StatusPaired,
		TransitionCancel:       StatusCancelled,
	},
	StatusPaired: {
		TransitionComplete: StatusCompleted,
		TransitionCancel:   StatusCancelled,
	},
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitionTable[s]) == 0
}

// AllowedTransitions returns the outgoing edges for s in stable order.
func AllowedTransitions(s Status) []Transition {
	row := transitionTable[s]
	out := make([]Transition, 0, len(row))
	for t := range row {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseTransition validates a wire-level transition name.
func ParseTransition(s string) (Transition, error) {
	switch t := Transition(strings.TrimSpace(s)); t {
	case TransitionResolveDirectory, TransitionPairIdentity, TransitionComplete, TransitionCancel:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transition %q", s)
	}
}

// TransitionRecord is the append-only audit entry for one applied transition.
type TransitionRecord struct {
	Transition     Transition     `json:"transition"`
	From           Status         `json:"from"`
	To             Status         `json:"to"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	InsertedAt     time.Time      `json:"inserted_at"`
}

// SideEffectRecord correlates a cached idempotent result with the transition
// that produced it.
type SideEffectRecord struct {
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Effect         string    `json:"effect"`
	InsertedAt     time.Time `json:"inserted_at"`
}

const classificationOK = "ok"

// TransitionResult is the reply for a transition call. Replays of the same
// idempotency key return the cached result with Idempotent set.
type TransitionResult struct {
	OnboardingID       string         `json:"onboarding_id"`
	Transition         Transition     `json:"transition"`
	PreviousStatus     Status         `json:"previous_status"`
	Status             Status         `json:"status"`
	Idempotent         bool           `json:"idempotent"`
	Classification     string         `json:"classification"`
	CompletionMetadata map[string]any `json:"completion_metadata,omitempty"`
}

// Flow is the persisted onboarding record. It is mutated only by its owning
// worker; every write funnels through a transition call.
type Flow struct {
	ID                 string                      `json:"onboarding_id"`
	Status             Status                      `json:"status"`
	Request            map[string]any              `json:"request,omitempty"`
	DirectoryMatch     map[string]any              `json:"directory_match,omitempty"`
	Pairing            map[string]any              `json:"pairing,omitempty"`
	CompletionMetadata map[string]any              `json:"completion_metadata,omitempty"`
	Transitions        []TransitionRecord          `json:"transitions"`
	Idempotency        map[string]TransitionResult `json:"idempotency,omitempty"`
	SideEffects        []SideEffectRecord          `json:"side_effects"`
	InsertedAt         time.Time                   `json:"inserted_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

// NewFlow constructs a fresh Flow in started status.
func NewFlow(id string, request map[string]any, now time.Time) *Flow {
	return &Flow{
		ID:          id,
		Status:      StatusStarted,
		Request:     cloneMap(request),
		Transitions: []TransitionRecord{},
		Idempotency: map[string]TransitionResult{},
		SideEffects: []SideEffectRecord{},
		InsertedAt:  now,
		UpdatedAt:   now,
	}
}

// Clone deep-copies the flow so callers can never alias worker-owned state.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	out := *f
	out.Request = cloneMap(f.Request)
	out.DirectoryMatch = cloneMap(f.DirectoryMatch)
	out.Pairing = cloneMap(f.Pairing)
	out.CompletionMetadata = cloneMap(f.CompletionMetadata)
	out.Transitions = make([]TransitionRecord, len(f.Transitions))
	copy(out.Transitions, f.Transitions)
	out.SideEffects = make([]SideEffectRecord, len(f.SideEffects))
	copy(out.SideEffects, f.SideEffects)
	if f.Idempotency != nil {
		out.Idempotency = make(map[string]TransitionResult, len(f.Idempotency))
		for k, v := range f.Idempotency {
			out.Idempotency[k] = v
		}
	}
	return &out
}

// InvalidTransitionError reports a state-machine misuse. It fails the call,
// never the worker.
type InvalidTransitionError struct {
	Status     Status
	Transition Transition
	Allowed    []Transition
}

func (e *InvalidTransitionError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, t := range e.Allowed {
		names[i] = string(t)
	}
	return fmt.Sprintf("invalid transition %q from status %q (allowed: [%s])",
		e.Transition, e.Status, strings.Join(names, ", "))
}

// apply computes the flow resulting from one transition. It is pure: f is
// never mutated, the caller decides whether to persist and adopt the result.
func apply(f *Flow, kind Transition, metadata map[string]any, idempotencyKey string, now time.Time) (*Flow, TransitionResult, error) {
	next, ok := transitionTable[f.Status][kind]
	if !ok {
		return nil, TransitionResult{}, &InvalidTransitionError{
			Status:     f.Status,
			Transition: kind,
			Allowed:    AllowedTransitions(f.Status),
		}
	}

	out := f.Clone()
	switch kind {
	case TransitionResolveDirectory:
		out.DirectoryMatch = mergeMaps(out.DirectoryMatch, metadata)
	case TransitionPairIdentity:
		out.Pairing = mergeMaps(out.Pairing, metadata)
	case TransitionComplete:
		out.CompletionMetadata = mergeMaps(out.CompletionMetadata, metadata)
	case TransitionCancel:
		cancelled := mergeMaps(metadata, map[string]any{"cancelled": true})
		out.CompletionMetadata = mergeMaps(out.CompletionMetadata, cancelled)
	}

	out.Transitions = append(out.Transitions, TransitionRecord{
		Transition:     kind,
		From:           f.Status,
		To:             next,
		Metadata:       cloneMap(metadata),
		IdempotencyKey: idempotencyKey,
		InsertedAt:     now,
	})
	out.SideEffects = append(out.SideEffects, SideEffectRecord{
		IdempotencyKey: idempotencyKey,
		Effect:         string(kind),
		InsertedAt:     now,
	})
	out.Status = next
	out.UpdatedAt = now

	result := TransitionResult{
		OnboardingID:       f.ID,
		Transition:         kind,
		PreviousStatus:     f.Status,
		Status:             next,
		Idempotent:         false,
		Classification:     classificationOK,
		CompletionMetadata: cloneMap(out.CompletionMetadata),
	}
	if idempotencyKey != "" {
		if out.Idempotency == nil {
			out.Idempotency = map[string]TransitionResult{}
		}
		out.Idempotency[idempotencyKey] = result
	}
	return out, result, nil
}

func flowsEqual(a, b *Flow) bool {
	return reflect.DeepEqual(a, b)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeMaps shallow-merges src into a copy of dst; later keys win.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil && src == nil {
		return nil
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
