// Package directory resolves queries against the participant and room
// directory kept by the persistence adapter. Lookup never silently picks a
// match: more than one candidate is an explicit ambiguity error.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Target selects which directory a query runs against.
type Target string

const (
	TargetParticipant Target = "participant"
	TargetRoom        Target = "room"
)

// ErrNotFound indicates no directory entity matched the query.
var ErrNotFound = errors.New("directory entity not found")

// Query is an opaque structured match expression interpreted by the adapter.
type Query map[string]any

// Options tunes a lookup or search call.
type Options struct {
	Limit int
}

// Entry is one stored directory entity.
type Entry struct {
	ID          string         `json:"id"`
	Target      Target         `json:"target"`
	ExternalID  string         `json:"external_id"`
	Channel     string         `json:"channel,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AmbiguityError reports that a lookup matched more than one entity. The
// full candidate list is carried so the caller can disambiguate; the
// resolver never guesses.
type AmbiguityError struct {
	Target     Target
	Candidates []Entry
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous %s lookup: %d candidates", e.Target, len(e.Candidates))
}

// Adapter is the persistence-side directory contract.
type Adapter interface {
	// DirectoryLookup returns every entity matching the query under the
	// adapter's matching rules.
	DirectoryLookup(ctx context.Context, target Target, query Query, opts Options) ([]Entry, error)
	// DirectorySearch returns entities matching a broader search expression.
	DirectorySearch(ctx context.Context, target Target, query Query, opts Options) ([]Entry, error)
	// EnsureParticipant returns the participant with the given channel-scoped
	// external id, creating it when absent.
	EnsureParticipant(ctx context.Context, channelType, externalID, displayName string) (Entry, error)
}

// Resolver wraps an Adapter with the one/none/many contract.
type Resolver struct {
	adapter Adapter
	logger  *slog.Logger
}

// NewResolver creates a Resolver over the given adapter.
func NewResolver(log *slog.Logger, adapter Adapter) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		adapter: adapter,
		logger:  log.With(slog.String("component", "directory")),
	}
}

// Lookup resolves query to exactly one entity. Zero matches fail with
// ErrNotFound; more than one fails with *AmbiguityError carrying all
// candidates.
func (r *Resolver) Lookup(ctx context.Context, target Target, query Query, opts Options) (Entry, error) {
	if r.adapter == nil {
		return Entry{}, fmt.Errorf("directory adapter not configured")
	}
	if err := validTarget(target); err != nil {
		return Entry{}, err
	}
	matches, err := r.adapter.DirectoryLookup(ctx, target, query, opts)
	if err != nil {
		return Entry{}, fmt.Errorf("directory lookup: %w", err)
	}
	switch len(matches) {
	case 0:
		return Entry{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		r.logger.Debug("ambiguous lookup",
			slog.String("target", string(target)),
			slog.Int("candidates", len(matches)),
		)
		return Entry{}, &AmbiguityError{Target: target, Candidates: matches}
	}
}

// Search returns all entities matching query, possibly empty. Search never
// reports ambiguity.
func (r *Resolver) Search(ctx context.Context, target Target, query Query, opts Options) ([]Entry, error) {
	if r.adapter == nil {
		return nil, fmt.Errorf("directory adapter not configured")
	}
	if err := validTarget(target); err != nil {
		return nil, err
	}
	matches, err := r.adapter.DirectorySearch(ctx, target, query, opts)
	if err != nil {
		return nil, fmt.Errorf("directory search: %w", err)
	}
	if matches == nil {
		matches = []Entry{}
	}
	return matches, nil
}

// EnsureParticipant resolves or creates the participant identified by a
// channel-scoped external id. Used by ingest for create-on-miss.
func (r *Resolver) EnsureParticipant(ctx context.Context, channelType, externalID, displayName string) (Entry, error) {
	if r.adapter == nil {
		return Entry{}, fmt.Errorf("directory adapter not configured")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Entry{}, fmt.Errorf("external id is required")
	}
	entry, err := r.adapter.EnsureParticipant(ctx, channelType, externalID, displayName)
	if err != nil {
		return Entry{}, fmt.Errorf("ensure participant: %w", err)
	}
	return entry, nil
}

func validTarget(target Target) error {
	switch Target(strings.TrimSpace(string(target))) {
	case TargetParticipant, TargetRoom:
		return nil
	default:
		return fmt.Errorf("unsupported directory target: %s", target)
	}
}
