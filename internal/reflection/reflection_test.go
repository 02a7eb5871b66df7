package reflection

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterlabs/arbiter/internal/memory"
)

func TestParseAnalysis(t *testing.T) {
	raw := `Insights:
1. The user asked a multi-part question but only one part was answered.
2. The recall tool surfaced the right context on the first try.

Recommendations:
1. Break multi-part questions into explicit sub-answers. (priority: 0.8)
2. Keep recall queries short. (priority: 0.3)
3. Consider summarizing long tool output.
`

	a := ParseAnalysis(raw)
	if len(a.Insights) != 2 {
		t.Fatalf("got %d insights, want 2", len(a.Insights))
	}
	if len(a.Recommendations) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(a.Recommendations))
	}
	if a.Recommendations[0].Priority != 0.8 {
		t.Errorf("priority = %v, want 0.8", a.Recommendations[0].Priority)
	}
	if a.Recommendations[0].Text != "Break multi-part questions into explicit sub-answers." {
		t.Errorf("priority suffix not stripped: %q", a.Recommendations[0].Text)
	}
	if a.Recommendations[2].Priority != 0.5 {
		t.Errorf("default priority = %v, want 0.5", a.Recommendations[2].Priority)
	}
}

func TestParseAnalysisBareList(t *testing.T) {
	a := ParseAnalysis("1. Something noticed.\n2. Another thing.")
	if len(a.Insights) != 2 {
		t.Errorf("got %d insights, want 2", len(a.Insights))
	}
	if len(a.Recommendations) != 0 {
		t.Errorf("got %d recommendations, want 0", len(a.Recommendations))
	}
}

func TestParseAnalysisMalformed(t *testing.T) {
	a := ParseAnalysis("The run went fine, nothing to add.")
	if len(a.Insights) != 0 || len(a.Recommendations) != 0 {
		t.Errorf("expected empty analysis, got %+v", a)
	}
}

func TestSummarize(t *testing.T) {
	steps := []StepResult{
		{Description: "fetch data", Success: true, Duration: time.Second},
		{Description: "transform", Success: false, Duration: 2 * time.Second},
	}
	r := Summarize("nightly import", steps, time.Now().Add(-5*time.Second))
	if r.Success {
		t.Error("Success = true with a failed step")
	}
	if r.Task != "nightly import" {
		t.Errorf("Task = %q", r.Task)
	}
	if r.Duration < 5*time.Second {
		t.Errorf("Duration = %v, want >= 5s", r.Duration)
	}
}

func TestWriteBackThreshold(t *testing.T) {
	lt, err := memory.NewLongTerm(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewLongTerm: %v", err)
	}
	mem := memory.NewManager(memory.NewWorking(10), lt, nil)
	t.Cleanup(func() { mem.Close() })

	result := Summarize("tune the cache", nil, time.Now())
	a := Analysis{
		Recommendations: []Recommendation{
			{Text: "keep TTLs under a minute", Priority: 0.9},
			{Text: "maybe rename the config key", Priority: 0.2},
		},
	}

	queued := WriteBack(mem, result, a, 0.6, nil)
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}
	if mem.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", mem.PendingCount())
	}
	if err := mem.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries, err := lt.ByCategory(memory.CategoryTaskLearning)
	if err != nil {
		t.Fatalf("ByCategory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d persisted entries, want 1", len(entries))
	}
	if entries[0].Importance != 0.9 {
		t.Errorf("Importance = %v, want 0.9", entries[0].Importance)
	}
}
