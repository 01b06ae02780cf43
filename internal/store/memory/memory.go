// Package memory is the in-process persistence adapter: flows, directory
// entries, and the inbound message log kept in maps under one mutex. It
// backs tests and single-node runs; the postgres adapter is the durable
// equivalent.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/directory"
	"github.com/courierhq/courier/internal/ingest"
	"github.com/courierhq/courier/internal/onboarding"
	"github.com/courierhq/courier/internal/security"
)

// Store implements onboarding.Store, directory.Adapter, and
// ingest.MessageWriter.
type Store struct {
	mu       sync.RWMutex
	flows    map[string]*onboarding.Flow
	entries  map[string]directory.Entry
	messages []*ingest.MessageRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		flows:   map[string]*onboarding.Flow{},
		entries: map[string]directory.Entry{},
	}
}

// SaveFlow stores a deep copy of the flow.
func (s *Store) SaveFlow(ctx context.Context, flow *onboarding.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = flow.Clone()
	return nil
}

// GetFlow returns a deep copy of the stored flow, or ErrFlowNotFound.
func (s *Store) GetFlow(ctx context.Context, id string) (*onboarding.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, onboarding.ErrFlowNotFound
	}
	return flow.Clone(), nil
}

// PutEntry inserts or replaces a directory entry, generating an id when
// absent. Returns the stored entry.
func (s *Store) PutEntry(entry directory.Entry) directory.Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return entry
}

// DirectoryLookup returns every entry of the target kind matching all query
// fields exactly.
func (s *Store) DirectoryLookup(ctx context.Context, target directory.Target, query directory.Query, opts directory.Options) ([]directory.Entry, error) {
	return s.match(target, query, opts.Limit), nil
}

// DirectorySearch matches like DirectoryLookup; the in-memory adapter has no
// broader search semantics.
func (s *Store) DirectorySearch(ctx context.Context, target directory.Target, query directory.Query, opts directory.Options) ([]directory.Entry, error) {
	return s.match(target, query, opts.Limit), nil
}

// EnsureParticipant finds the participant with (channel, external id),
// creating it when missing. Multiple stored matches return the first by
// insertion-independent id order to keep the call deterministic.
func (s *Store) EnsureParticipant(ctx context.Context, channelType, externalID, displayName string) (directory.Entry, error) {
	externalID = strings.TrimSpace(externalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *directory.Entry
	for id, entry := range s.entries {
		if entry.Target != directory.TargetParticipant {
			continue
		}
		if entry.ExternalID != externalID || entry.Channel != channelType {
			continue
		}
		if best == nil || id < best.ID {
			e := entry
			best = &e
		}
	}
	if best != nil {
		return *best, nil
	}
	entry := directory.Entry{
		ID:          uuid.NewString(),
		Target:      directory.TargetParticipant,
		ExternalID:  externalID,
		Channel:     channelType,
		DisplayName: displayName,
	}
	s.entries[entry.ID] = entry
	return entry, nil
}

// SaveInboundMessage appends to the message log. The record is copied in
// full so later mutations by the caller never reach the log.
func (s *Store) SaveInboundMessage(ctx context.Context, rec *ingest.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if len(rec.Mentions) > 0 {
		cp.Mentions = append([]channel.Mention(nil), rec.Mentions...)
	}
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	s.messages = append(s.messages, &cp)
	return nil
}

// Messages returns a snapshot of the message log.
func (s *Store) Messages() []*ingest.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ingest.MessageRecord, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) match(target directory.Target, query directory.Query, limit int) []directory.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := []directory.Entry{}
	for _, entry := range s.entries {
		if entry.Target != target {
			continue
		}
		if entryMatches(entry, query) {
			matches = append(matches, entry)
		}
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches
}

func entryMatches(entry directory.Entry, query directory.Query) bool {
	for key, want := range query {
		normalized := security.NormalizeIdentity(want)
		var got string
		switch key {
		case "id":
			got = entry.ID
		case "external_id":
			got = entry.ExternalID
		case "channel":
			got = entry.Channel
		case "display_name":
			got = entry.DisplayName
		default:
			got = security.NormalizeIdentity(entry.Metadata[key])
		}
		if got != normalized {
			return false
		}
	}
	return true
}
