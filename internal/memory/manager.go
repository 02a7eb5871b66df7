package memory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager fronts both memory tiers. Reads blend working and long-term
// results; synchronous writes go straight to SQLite while deferred
// writes queue in memory until Flush, so the run loop never waits on
// disk mid-turn.
type Manager struct {
	working  *Working
	longterm *LongTerm
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   []Entry
}

// NewManager wires the two tiers together.
func NewManager(working *Working, longterm *LongTerm, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		working:  working,
		longterm: longterm,
		logger:   logger.With("component", "memory"),
	}
}

// Working exposes the working tier for conversation bookkeeping.
func (m *Manager) Working() *Working { return m.working }

// Observe records an entry in working memory only.
func (m *Manager) Observe(category Category, content string, tags []string) Entry {
	e := NewEntry(category, content, tags, 0.5)
	m.working.Add(e)
	return e
}

// Remember persists an entry to long-term storage immediately and
// mirrors it into working memory so the current conversation can see
// it without a round trip.
func (m *Manager) Remember(category Category, content string, tags []string, importance float64) (Entry, error) {
	e := NewEntry(category, content, tags, importance)
	if err := m.longterm.Save(e); err != nil {
		return Entry{}, err
	}
	m.working.Add(e)
	m.logger.Debug("memory saved", "id", e.ID, "category", e.Category)
	return e, nil
}

// Defer queues an entry for long-term persistence without touching the
// database. Callers must Flush before declaring the surrounding work
// complete or the entry is lost on crash.
func (m *Manager) Defer(category Category, content string, tags []string, importance float64) Entry {
	e := NewEntry(category, content, tags, importance)
	m.working.Add(e)

	m.pendingMu.Lock()
	m.pending = append(m.pending, e)
	m.pendingMu.Unlock()

	return e
}

// Flush writes all queued entries to the long-term store. On error the
// unwritten remainder stays queued for a later retry.
func (m *Manager) Flush() error {
	m.pendingMu.Lock()
	queue := m.pending
	m.pending = nil
	m.pendingMu.Unlock()

	for i, e := range queue {
		if err := m.longterm.Save(e); err != nil {
			m.pendingMu.Lock()
			m.pending = append(queue[i:], m.pending...)
			m.pendingMu.Unlock()
			return fmt.Errorf("flush memory queue: %w", err)
		}
	}
	if len(queue) > 0 {
		m.logger.Debug("memory queue flushed", "count", len(queue))
	}
	return nil
}

// PendingCount reports how many deferred entries await Flush.
func (m *Manager) PendingCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

// SetImportance reweights a long-term entry.
func (m *Manager) SetImportance(id uuid.UUID, importance float64) error {
	return m.longterm.SetImportance(id, importance)
}

// Search queries both tiers and merges the results, best first. An
// entry present in both tiers appears once, with the working copy
// winning since it is at least as fresh.
func (m *Manager) Search(query string, limit int) ([]Entry, error) {
	now := time.Now().UTC()

	workingHits := m.working.Search(query, limit, now)
	longtermHits, err := m.longterm.Search(query, limit, now)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(workingHits))
	merged := make([]Entry, 0, len(workingHits)+len(longtermHits))
	for _, e := range workingHits {
		seen[e.ID] = true
		merged = append(merged, e)
	}
	for _, e := range longtermHits {
		if !seen[e.ID] {
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return scoreEntry(merged[i], query, now) > scoreEntry(merged[j], query, now)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Close releases the long-term store after a final flush attempt.
func (m *Manager) Close() error {
	if err := m.Flush(); err != nil {
		m.logger.Warn("flush on close failed", "error", err)
	}
	return m.longterm.Close()
}
