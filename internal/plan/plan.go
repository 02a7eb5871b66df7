// Package plan models optional task decomposition. Complex tasks get a
// structured plan the user approves before execution; simple tasks skip
// planning entirely.
package plan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arbiterlabs/arbiter/internal/parse"
)

// RiskLevel grades how much could go wrong executing a plan.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Step is one unit of a task plan.
type Step struct {
	Description     string        `json:"description"`
	RequiredTools   []string      `json:"required_tools,omitempty"`
	ExpectedOutcome string        `json:"expected_outcome,omitempty"`
	DependsOn       []int         `json:"depends_on,omitempty"` // indexes into the step list
	Estimated       time.Duration `json:"-"`
}

// TaskPlan is a structured decomposition of a task.
type TaskPlan struct {
	Task  string    `json:"task"`
	Steps []Step    `json:"steps"`
	Risk  RiskLevel `json:"risk"`
}

// Summary renders the plan for the approval prompt.
func (p *TaskPlan) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan (%s risk, %d steps):\n", p.Risk, len(p.Steps))
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Description)
		if len(s.RequiredTools) > 0 {
			fmt.Fprintf(&b, " [tools: %s]", strings.Join(s.RequiredTools, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// wirePlan is the JSON shape the planning prompt asks the model for.
type wirePlan struct {
	Task  string `json:"task"`
	Steps []struct {
		Description      string   `json:"description"`
		RequiredTools    []string `json:"required_tools"`
		ExpectedOutcome  string   `json:"expected_outcome"`
		DependsOn        []int    `json:"depends_on"`
		EstimatedSeconds float64  `json:"estimated_seconds"`
	} `json:"steps"`
	Risk string `json:"risk"`
}

// Parse extracts a plan from raw model output. It returns nil, with a
// debug log, on anything malformed: the caller treats that as a simple
// task and proceeds without a plan rather than failing the run.
func Parse(raw, task string, logger *slog.Logger) *TaskPlan {
	if logger == nil {
		logger = slog.Default()
	}

	candidate := parse.ExtractJSONObject(raw)
	if candidate == "" {
		logger.Debug("no plan object in model output")
		return nil
	}

	var wire wirePlan
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		logger.Debug("unparsable plan", "error", err)
		return nil
	}
	if len(wire.Steps) == 0 {
		logger.Debug("plan has no steps")
		return nil
	}

	p := &TaskPlan{
		Task: wire.Task,
		Risk: normalizeRisk(wire.Risk),
	}
	if p.Task == "" {
		p.Task = task
	}
	for i, ws := range wire.Steps {
		if strings.TrimSpace(ws.Description) == "" {
			logger.Debug("plan step missing description", "step", i)
			return nil
		}
		deps := ws.DependsOn
		for _, d := range deps {
			if d < 0 || d >= len(wire.Steps) {
				logger.Debug("plan step has out-of-range dependency", "step", i, "dep", d)
				return nil
			}
		}
		p.Steps = append(p.Steps, Step{
			Description:     ws.Description,
			RequiredTools:   ws.RequiredTools,
			ExpectedOutcome: ws.ExpectedOutcome,
			DependsOn:       deps,
			Estimated:       time.Duration(ws.EstimatedSeconds * float64(time.Second)),
		})
	}
	return p
}

func normalizeRisk(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	default:
		return RiskMedium
	}
}
