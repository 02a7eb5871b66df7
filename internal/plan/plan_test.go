package plan

import (
	"testing"
	"time"
)

func TestParseWellFormedPlan(t *testing.T) {
	raw := "Here's my plan:\n```json\n" + `{
		"task": "migrate the database",
		"steps": [
			{"description": "back up current data", "required_tools": ["backup"], "expected_outcome": "snapshot exists", "estimated_seconds": 120},
			{"description": "run migration", "depends_on": [0], "estimated_seconds": 300}
		],
		"risk": "high"
	}` + "\n```"

	p := Parse(raw, "migrate the database", nil)
	if p == nil {
		t.Fatal("Parse returned nil for valid plan")
	}
	if p.Risk != RiskHigh {
		t.Errorf("Risk = %q, want high", p.Risk)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(p.Steps))
	}
	if p.Steps[0].Estimated != 2*time.Minute {
		t.Errorf("Estimated = %v, want 2m", p.Steps[0].Estimated)
	}
	if len(p.Steps[1].DependsOn) != 1 || p.Steps[1].DependsOn[0] != 0 {
		t.Errorf("DependsOn = %v", p.Steps[1].DependsOn)
	}
}

func TestParseFailSoft(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no JSON at all", "I think we should just do it directly."},
		{"truncated object", `{"task": "x", "steps": [{"desc`},
		{"empty steps", `{"task": "x", "steps": [], "risk": "low"}`},
		{"step without description", `{"steps": [{"required_tools": ["a"]}]}`},
		{"dependency out of range", `{"steps": [{"description": "a", "depends_on": [5]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if p := Parse(tt.raw, "task", nil); p != nil {
				t.Errorf("Parse = %+v, want nil", p)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	p := Parse(`{"steps": [{"description": "do the thing"}], "risk": "apocalyptic"}`, "fallback task", nil)
	if p == nil {
		t.Fatal("Parse returned nil")
	}
	if p.Task != "fallback task" {
		t.Errorf("Task = %q, want fallback from caller", p.Task)
	}
	if p.Risk != RiskMedium {
		t.Errorf("Risk = %q, want medium default for unknown level", p.Risk)
	}
}

func TestSummary(t *testing.T) {
	p := &TaskPlan{
		Risk: RiskLow,
		Steps: []Step{
			{Description: "check status", RequiredTools: []string{"current_time"}},
			{Description: "report"},
		},
	}
	got := p.Summary()
	want := "Plan (low risk, 2 steps):\n1. check status [tools: current_time]\n2. report\n"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
