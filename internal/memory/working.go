package memory

import (
	"sync"
	"time"
)

// Working is the bounded in-process memory for the current
// conversation. When the capacity is reached the oldest entry is
// evicted; anything worth keeping longer belongs in the long-term
// store before then.
type Working struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// NewWorking creates a working memory with the given capacity.
// A capacity of zero or less falls back to 50.
func NewWorking(capacity int) *Working {
	if capacity <= 0 {
		capacity = 50
	}
	return &Working{capacity: capacity}
}

// Add appends an entry, evicting the oldest if full.
func (w *Working) Add(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) >= w.capacity {
		w.entries = w.entries[1:]
	}
	w.entries = append(w.entries, e)
}

// Len returns the current number of entries.
func (w *Working) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Recent returns up to n entries, newest last. n <= 0 returns all.
func (w *Working) Recent(n int) []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n <= 0 || n > len(w.entries) {
		n = len(w.entries)
	}
	out := make([]Entry, n)
	copy(out, w.entries[len(w.entries)-n:])
	return out
}

// Search returns entries relevant to the query, best first, capped at
// limit. Entries scoring zero are excluded.
func (w *Working) Search(query string, limit int, now time.Time) []Entry {
	w.mu.Lock()
	snapshot := make([]Entry, len(w.entries))
	copy(snapshot, w.entries)
	w.mu.Unlock()

	return rankEntries(snapshot, query, limit, now)
}

// Clear drops all entries. Used when a new conversation starts.
func (w *Working) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}
