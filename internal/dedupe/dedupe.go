// Package dedupe tracks recently-seen message keys so channel adapters can
// drop redelivered platform events before they reach the pipeline.
package dedupe

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL tells CheckAndMark to use the deduper's configured default TTL.
const DefaultTTL time.Duration = -1

type entry struct {
	expiresAt time.Time
}

// Deduper answers "has this key been seen within its TTL window" and marks
// atomically. Expired entries are logically absent before physical eviction;
// Sweep evicts them.
type Deduper struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Deduper. defaultTTL applies when CheckAndMark is called with
// DefaultTTL; zero means entries never expire unless an explicit TTL is given.
func New(log *slog.Logger, defaultTTL time.Duration) *Deduper {
	if log == nil {
		log = slog.Default()
	}
	return &Deduper{
		entries:    map[string]entry{},
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     log.With(slog.String("component", "dedupe")),
	}
}

// CheckAndMark atomically probes and marks key. It returns true when the key
// is new (this caller owns it for the TTL window) and false when it is a
// duplicate. Exactly one concurrent caller observes true for a given key.
// A ttl of DefaultTTL uses the configured default; zero or negative other
// than DefaultTTL means the entry never expires.
func (d *Deduper) CheckAndMark(key string, ttl time.Duration) bool {
	if key == "" {
		return false
	}
	if ttl == DefaultTTL {
		ttl = d.defaultTTL
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok && !expired(e, now) {
		return false
	}
	e := entry{}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	d.entries[key] = e
	return true
}

// Seen reports whether key is currently marked, without mutating the table.
func (d *Deduper) Seen(key string) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	return ok && !expired(e, now)
}

// Clear removes all entries. Administrative/test operation.
func (d *Deduper) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = map[string]entry{}
}

// Sweep evicts physically expired entries and returns the eviction count.
func (d *Deduper) Sweep() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	evicted := 0
	for key, e := range d.entries {
		if expired(e, now) {
			delete(d.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		d.logger.Debug("sweep", slog.Int("evicted", evicted), slog.Int("remaining", len(d.entries)))
	}
	return evicted
}

// Len returns the number of entries physically present, including expired
// entries not yet swept.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func expired(e entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
