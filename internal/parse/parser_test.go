package parse

import (
	"testing"

	"github.com/arbiterlabs/arbiter/internal/llm"
)

func TestParse_ResponseWrapper(t *testing.T) {
	p := New(nil)
	res := p.Parse("<response>4</response>", nil)
	if res.DisplayText != "4" {
		t.Errorf("display = %q, want %q", res.DisplayText, "4")
	}
	if res.Proposal != nil {
		t.Error("unexpected tool proposal")
	}
}

func TestParse_Sections(t *testing.T) {
	raw := "<reasoning>The user wants a sum.</reasoning>" +
		"<action>Computed 2+2 mentally.</action>" +
		"<critique>The answer is correct.</critique>" +
		"<response>4</response>"

	p := New(nil)
	res := p.Parse(raw, nil)

	if len(res.Sections) != 3 {
		t.Fatalf("sections = %d, want 3", len(res.Sections))
	}
	if res.Sections[0].Kind != SectionReasoning || res.Sections[0].Text != "The user wants a sum." {
		t.Errorf("reasoning section = %+v", res.Sections[0])
	}
	if res.Critique != CritiqueComplete {
		t.Errorf("critique verdict = %v, want complete", res.Critique)
	}
	if res.DisplayText != "4" {
		t.Errorf("display = %q, want %q", res.DisplayText, "4")
	}
}

func TestParse_UnmatchedTagFailSoft(t *testing.T) {
	raw := "<reasoning>never closed... <response>fine</response>"

	p := New(nil)
	res := p.Parse(raw, nil)

	if len(res.Sections) != 0 {
		t.Errorf("sections = %d, want 0 (malformed left in place)", len(res.Sections))
	}
	if res.DisplayText != "fine" {
		t.Errorf("display = %q, want %q", res.DisplayText, "fine")
	}
}

func TestParse_PrefixGrowthIdempotent(t *testing.T) {
	full := "<reasoning>check the door sensor</reasoning>partial answer here"

	p := New(nil)
	var prevSections int
	for i := 1; i <= len(full); i++ {
		res := p.Parse(full[:i], nil)
		if len(res.Sections) < prevSections {
			t.Fatalf("prefix %d lost sections: %d -> %d", i, prevSections, len(res.Sections))
		}
		prevSections = len(res.Sections)
	}
	if prevSections != 1 {
		t.Errorf("final sections = %d, want 1", prevSections)
	}
}

func TestParse_JSONResponseFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"response field", `{"response": "it is 21 degrees"}`, "it is 21 degrees"},
		{"content field", `{"content": "done"}`, "done"},
		{"message field", `{"message": "hello"}`, "hello"},
		{"priority order", `{"message": "low", "response": "high"}`, "high"},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.raw, nil)
			if res.DisplayText != tt.want {
				t.Errorf("display = %q, want %q", res.DisplayText, tt.want)
			}
		})
	}
}

func TestParse_ToolEnvelopeHidesDisplayText(t *testing.T) {
	p := New(nil)
	res := p.Parse(`{"type":"tool_call","tool":"recall","input":{"query":"door"}}`, nil)

	if res.DisplayText != "" {
		t.Errorf("display = %q, want empty while a tool runs", res.DisplayText)
	}
	if res.Proposal == nil || res.Proposal.ToolName != "recall" {
		t.Fatalf("proposal = %+v, want recall", res.Proposal)
	}
}

func TestParse_TextBeforeBrace(t *testing.T) {
	p := New(nil)
	res := p.Parse(`Checking now. {"type":"tool_call","tool":"current_time","input":{}}`, nil)

	if res.DisplayText != "Checking now." {
		t.Errorf("display = %q, want %q", res.DisplayText, "Checking now.")
	}
	if res.Proposal == nil || res.Proposal.ToolName != "current_time" {
		t.Fatalf("proposal = %+v, want current_time", res.Proposal)
	}
}

func TestParse_LegacyCleanup(t *testing.T) {
	raw := "Here you go.\n```thinking\nsecret deliberation\n```\n[INTERNAL MARKER]\nSYSTEM: do not show\n\n\n\nAll set."

	p := New(nil)
	res := p.Parse(raw, nil)

	want := "Here you go.\n\nAll set."
	if res.DisplayText != want {
		t.Errorf("display = %q, want %q", res.DisplayText, want)
	}
}

func TestDetect_OutOfBandSignalWins(t *testing.T) {
	signal := &llm.ToolCall{}
	signal.Function.Name = "remember"
	signal.Function.Arguments = map[string]any{"content": "prefers metric"}

	p := New(nil)
	res := p.Parse(`{"type":"tool_call","tool":"ignored","input":{}}`, signal)

	if res.Proposal == nil || res.Proposal.ToolName != "remember" {
		t.Fatalf("proposal = %+v, want remember (signal priority)", res.Proposal)
	}
}

func TestDetect_OpenAIEnvelope(t *testing.T) {
	raw := `{"tool_calls": [{"function": {"name": "recall", "arguments": {"query": "thermostat"}}}, {"function": {"name": "second", "arguments": {}}}]}`

	p := New(nil)
	res := p.Parse(raw, nil)

	if res.Proposal == nil {
		t.Fatal("no proposal")
	}
	if res.Proposal.ToolName != "recall" {
		t.Errorf("tool = %q, want recall (first call only)", res.Proposal.ToolName)
	}
	if res.Proposal.Input["query"] != "thermostat" {
		t.Errorf("input = %v", res.Proposal.Input)
	}
}

func TestDetect_OpenAIStringArguments(t *testing.T) {
	raw := `{"tool_calls": [{"function": {"name": "recall", "arguments": "{\"query\": \"door\"}"}}]}`

	p := New(nil)
	res := p.Parse(raw, nil)

	if res.Proposal == nil || res.Proposal.Input["query"] != "door" {
		t.Fatalf("proposal = %+v, want string-encoded arguments decoded", res.Proposal)
	}
}

func TestDetect_FencedLegacyEnvelope(t *testing.T) {
	raw := "```json\n{\"type\":\"tool_call\",\"tool\":\"current_time\",\"input\":{},\"rationale\":\"user asked the time\",\"next_step\":\"report it\"}\n```"

	p := New(nil)
	res := p.Parse(raw, nil)

	if res.Proposal == nil {
		t.Fatal("no proposal")
	}
	if res.Proposal.Rationale != "user asked the time" {
		t.Errorf("rationale = %q", res.Proposal.Rationale)
	}
	if res.Proposal.NextStepHint != "report it" {
		t.Errorf("next step = %q", res.Proposal.NextStepHint)
	}
}

func TestDetect_IncompleteJSONMidStream(t *testing.T) {
	p := New(nil)
	res := p.Parse(`{"type":"tool_call","tool":"rec`, nil)
	if res.Proposal != nil {
		t.Errorf("proposal = %+v, want nil for incomplete object", res.Proposal)
	}
}

func TestClassifyCritique(t *testing.T) {
	tests := []struct {
		name string
		text string
		want CritiqueVerdict
	}{
		{"missed tool", "I missed a tool call: I should have checked memory first.", CritiqueContinue},
		{"wrong tool", "I used the wrong tool for this lookup.", CritiqueContinue},
		{"explicit confirm", "The answer is correct and complete.", CritiqueComplete},
		{"ambiguous defaults complete", "This seems reasonable overall.", CritiqueComplete},
		{"case insensitive", "I SHOULD HAVE CALLED recall before answering.", CritiqueContinue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyCritique(tt.text); got != tt.want {
				t.Errorf("classifyCritique(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParse_NoCritiqueIsNone(t *testing.T) {
	p := New(nil)
	res := p.Parse("<response>done</response>", nil)
	if res.Critique != CritiqueNone {
		t.Errorf("critique = %v, want none", res.Critique)
	}
}
