package memory

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestLongTerm(t *testing.T) *LongTerm {
	t.Helper()
	s, err := NewLongTerm(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewLongTerm: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorkingEviction(t *testing.T) {
	w := NewWorking(3)
	for i := 0; i < 5; i++ {
		w.Add(NewEntry(CategoryConversationContext, fmt.Sprintf("note %d", i), nil, 0.5))
	}

	if got := w.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	recent := w.Recent(0)
	if recent[0].Content != "note 2" || recent[2].Content != "note 4" {
		t.Errorf("expected oldest entries evicted, got %q .. %q", recent[0].Content, recent[2].Content)
	}
}

func TestWorkingSearchExcludesUnrelated(t *testing.T) {
	w := NewWorking(10)
	w.Add(NewEntry(CategoryDomainKnowledge, "the database lives on port 5432", []string{"database"}, 0.5))
	w.Add(NewEntry(CategoryConversationContext, "weather was nice today", nil, 0.5))

	hits := w.Search("database port", 5, time.Now().UTC())
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Content != "the database lives on port 5432" {
		t.Errorf("unexpected hit: %q", hits[0].Content)
	}
}

func TestScoreEntryDeterministic(t *testing.T) {
	now := time.Now().UTC()
	e := NewEntry(CategoryUserPreference, "user prefers dark mode", []string{"ui", "dark"}, 0.8)

	first := scoreEntry(e, "dark mode preference", now)
	for i := 0; i < 50; i++ {
		if got := scoreEntry(e, "dark mode preference", now); got != first {
			t.Fatalf("score changed between calls: %v vs %v", got, first)
		}
	}
	if first <= 0 {
		t.Fatalf("expected positive score, got %v", first)
	}
}

func TestScoreRanksSubstringAboveWordOverlap(t *testing.T) {
	now := time.Now().UTC()
	exact := NewEntry(CategoryDomainKnowledge, "deploy with blue green rollout", nil, 0.5)
	partial := NewEntry(CategoryDomainKnowledge, "rollout notes from last green build", nil, 0.5)

	ranked := rankEntries([]Entry{partial, exact}, "blue green rollout", 0, now)
	if len(ranked) != 2 {
		t.Fatalf("got %d entries, want 2", len(ranked))
	}
	if ranked[0].ID != exact.ID {
		t.Errorf("expected exact substring match ranked first")
	}
}

func TestLongTermSaveAndSearch(t *testing.T) {
	s := newTestLongTerm(t)

	e := NewEntry(CategoryUserPreference, "user prefers metric units", []string{"units"}, 0.7)
	if err := s.Save(e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	hits, err := s.Search("metric units", 5, time.Now().UTC())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].ID != e.ID {
		t.Errorf("hit ID = %s, want %s", hits[0].ID, e.ID)
	}
	if hits[0].Tags[0] != "units" {
		t.Errorf("tags not round-tripped: %v", hits[0].Tags)
	}
}

func TestLongTermSetImportance(t *testing.T) {
	s := newTestLongTerm(t)

	e := NewEntry(CategoryTaskLearning, "retry transient failures twice", nil, 0.3)
	if err := s.Save(e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.SetImportance(e.ID, 1.5); err != nil {
		t.Fatalf("SetImportance: %v", err)
	}
	got, err := s.Get(e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Importance != 1.0 {
		t.Errorf("importance = %v, want clamped to 1.0", got.Importance)
	}

	if err := s.SetImportance(NewEntry(CategoryTaskLearning, "x", nil, 0).ID, 0.5); err == nil {
		t.Error("expected error for unknown ID")
	}
}

func TestLongTermWithExistingDB(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "shared.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewLongTermWithDB(db)
	if err != nil {
		t.Fatalf("NewLongTermWithDB: %v", err)
	}

	e := NewEntry(CategoryDomainKnowledge, "staging cluster is eu-west-1", []string{"infra"}, 0.5)
	if err := s.Save(e); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != e.Content {
		t.Errorf("content = %q, want %q", got.Content, e.Content)
	}
}

func TestManagerDeferredFlush(t *testing.T) {
	s := newTestLongTerm(t)
	m := NewManager(NewWorking(10), s, nil)

	e := m.Defer(CategoryTaskLearning, "user asked for concise answers", nil, 0.6)
	if m.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", m.PendingCount())
	}

	// Visible to the conversation before it hits disk.
	hits, err := m.Search("concise answers", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != e.ID {
		t.Fatalf("deferred entry not searchable from working tier")
	}

	// Not durable yet.
	if _, err := s.Get(e.ID); err == nil {
		t.Fatal("entry reached long-term store before Flush")
	}

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if m.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after flush, want 0", m.PendingCount())
	}
	if _, err := s.Get(e.ID); err != nil {
		t.Errorf("entry missing from long-term store after Flush: %v", err)
	}
}

func TestManagerSearchMergesTiers(t *testing.T) {
	s := newTestLongTerm(t)
	m := NewManager(NewWorking(10), s, nil)

	if _, err := m.Remember(CategoryUserPreference, "user prefers tabs over spaces", []string{"style"}, 0.9); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	old := NewEntry(CategoryUserPreference, "user prefers short variable names", []string{"style"}, 0.4)
	if err := s.Save(old); err != nil {
		t.Fatalf("Save: %v", err)
	}

	hits, err := m.Search("user prefers", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	seen := map[string]bool{}
	for _, h := range hits {
		seen[h.Content] = true
	}
	if !seen["user prefers tabs over spaces"] || !seen["user prefers short variable names"] {
		t.Errorf("merge missed a tier: %v", seen)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"user_preference", CategoryUserPreference, false},
		{"error_and_fix", CategoryErrorAndFix, false},
		{"feelings", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
