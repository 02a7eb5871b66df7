// Package reflection turns a finished run into durable learning. The
// model's post-run analysis is parsed into insights and prioritized
// recommendations; recommendations above a threshold are written back
// into long-term memory for future runs.
package reflection

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arbiterlabs/arbiter/internal/memory"
)

// StepResult records the outcome of one plan step.
type StepResult struct {
	Description string
	Success     bool
	Duration    time.Duration
}

// ExecutionResult summarizes a run that reached a terminal state.
// Build one only via Summarize so partially executed plans cannot be
// analyzed as if they had finished.
type ExecutionResult struct {
	Task     string
	Steps    []StepResult
	Success  bool
	Duration time.Duration
}

// Summarize builds an ExecutionResult from the recorded step outcomes.
// Overall success requires every step to have succeeded.
func Summarize(task string, steps []StepResult, started time.Time) ExecutionResult {
	success := true
	for _, s := range steps {
		if !s.Success {
			success = false
			break
		}
	}
	return ExecutionResult{
		Task:     task,
		Steps:    steps,
		Success:  success,
		Duration: time.Since(started),
	}
}

// Describe renders the result for the reflection prompt.
func (r ExecutionResult) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nOutcome: ", r.Task)
	if r.Success {
		b.WriteString("succeeded")
	} else {
		b.WriteString("failed")
	}
	fmt.Fprintf(&b, " in %s\n", r.Duration.Round(time.Millisecond))
	for i, s := range r.Steps {
		status := "ok"
		if !s.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "Step %d (%s): %s\n", i+1, status, s.Description)
	}
	return b.String()
}

// Insight is a free-text observation about the run.
type Insight struct {
	Text string
}

// Recommendation is an actionable suggestion with a priority in [0,1].
type Recommendation struct {
	Text     string
	Priority float64
}

// Analysis is the parsed form of the model's reflection output.
type Analysis struct {
	Insights        []Insight
	Recommendations []Recommendation
}

var (
	numberedRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)
	priorityRe = regexp.MustCompile(`(?i)\s*\(priority:?\s*([0-9.]+)\)\s*$`)
)

// ParseAnalysis extracts numbered insights and recommendations from
// raw model output. It looks for "insights" and "recommendations"
// headings (case-insensitive); numbered items under each heading
// become entries. A recommendation may end with "(priority: N)"; items
// without one default to 0.5. Malformed output yields an empty
// Analysis, never an error.
func ParseAnalysis(raw string) Analysis {
	var a Analysis

	insightBlock, recBlock := splitSections(raw)

	for _, m := range numberedRe.FindAllStringSubmatch(insightBlock, -1) {
		if text := strings.TrimSpace(m[1]); text != "" {
			a.Insights = append(a.Insights, Insight{Text: text})
		}
	}
	for _, m := range numberedRe.FindAllStringSubmatch(recBlock, -1) {
		text := strings.TrimSpace(m[1])
		if text == "" {
			continue
		}
		priority := 0.5
		if pm := priorityRe.FindStringSubmatch(text); pm != nil {
			if v, err := strconv.ParseFloat(pm[1], 64); err == nil {
				priority = clamp01(v)
			}
			text = strings.TrimSpace(priorityRe.ReplaceAllString(text, ""))
		}
		a.Recommendations = append(a.Recommendations, Recommendation{Text: text, Priority: priority})
	}
	return a
}

// splitSections divides raw text at the insights and recommendations
// headings. Text before any heading counts as insights so a bare
// numbered list still parses.
func splitSections(raw string) (insights, recommendations string) {
	lower := strings.ToLower(raw)

	recIdx := strings.Index(lower, "recommendation")
	if recIdx == -1 {
		return raw, ""
	}
	return raw[:recIdx], raw[recIdx:]
}

// WriteBack persists recommendations at or above the threshold into
// long-term memory via the deferred queue. The caller flushes before
// reporting run completion. Returns how many were queued.
func WriteBack(mem *memory.Manager, result ExecutionResult, a Analysis, threshold float64, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}

	queued := 0
	for _, rec := range a.Recommendations {
		if rec.Priority < threshold {
			continue
		}
		content := fmt.Sprintf("While working on %q: %s", result.Task, rec.Text)
		mem.Defer(memory.CategoryTaskLearning, content, []string{"reflection"}, rec.Priority)
		queued++
	}
	if queued > 0 {
		logger.Debug("reflection write-back queued", "count", queued, "threshold", threshold)
	}
	return queued
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
