package prompts

import (
	"strings"
	"testing"
	"time"
)

func TestSystemPromptDefault(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	got := SystemPrompt("", []string{ToolLine("recall", "search memory")}, now)

	for _, want := range []string{
		"<reasoning>", "<critique>", "<response>",
		`"type": "tool_call"`,
		"- recall: search memory",
		now.Format(time.RFC1123),
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestSystemPromptCustomKeepsTools(t *testing.T) {
	got := SystemPrompt("You are a pirate.", []string{ToolLine("remember", "save a fact")}, time.Now())

	if !strings.Contains(got, "You are a pirate.") {
		t.Error("custom prompt text not used")
	}
	if !strings.Contains(got, "- remember: save a fact") {
		t.Error("custom prompt lost the tool list")
	}
}

func TestSystemPromptNoTools(t *testing.T) {
	got := SystemPrompt("", nil, time.Now())
	if !strings.Contains(got, "(none)") {
		t.Error("expected placeholder for empty tool list")
	}
}

func TestPlanPrompt(t *testing.T) {
	got := PlanPrompt("- backup: snapshot the database", "migrate the database")
	if !strings.Contains(got, "migrate the database") {
		t.Error("task missing from plan prompt")
	}
	if !strings.Contains(got, "- backup: snapshot the database") {
		t.Error("tool list missing from plan prompt")
	}
}

func TestReflectionPrompt(t *testing.T) {
	got := ReflectionPrompt("Task: x\nOutcome: succeeded")
	if !strings.Contains(got, "Task: x") {
		t.Error("summary missing from reflection prompt")
	}
	if !strings.Contains(got, "priority") {
		t.Error("priority instruction missing")
	}
}
