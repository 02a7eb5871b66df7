package parse

import (
	"encoding/json"
	"strings"

	"github.com/arbiterlabs/arbiter/internal/llm"
)

// detectToolCall recognizes three tool-call encodings, tried in order:
//
//  1. an explicit out-of-band signal delivered alongside the stream,
//  2. an OpenAI-style `tool_calls` array embedded in the text,
//  3. a legacy flat object tagged `"type":"tool_call"`, optionally
//     wrapped in a fenced code block.
//
// Only the first call found is returned; a response never carries more
// than one pending tool call.
func (p *Parser) detectToolCall(text string, signal *llm.ToolCall) *ToolProposal {
	if signal != nil {
		return &ToolProposal{
			ToolName: signal.Function.Name,
			Input:    signal.Function.Arguments,
		}
	}

	candidate := ExtractJSONObject(text)
	if candidate == "" {
		return nil
	}

	if prop := parseOpenAIEnvelope(candidate); prop != nil {
		return prop
	}
	return p.parseLegacyEnvelope(candidate)
}

// openAIEnvelope is the embedded-JSON variant of native tool calling.
type openAIEnvelope struct {
	ToolCalls []struct {
		Function struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func parseOpenAIEnvelope(candidate string) *ToolProposal {
	var env openAIEnvelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil {
		return nil
	}
	if len(env.ToolCalls) == 0 || env.ToolCalls[0].Function.Name == "" {
		return nil
	}

	first := env.ToolCalls[0]
	return &ToolProposal{
		ToolName: first.Function.Name,
		Input:    decodeArguments(first.Function.Arguments),
	}
}

// legacyEnvelope is the flat single-call format older prompts produce.
type legacyEnvelope struct {
	Type      string         `json:"type"`
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input"`
	Rationale string         `json:"rationale"`
	NextStep  string         `json:"next_step"`
}

func (p *Parser) parseLegacyEnvelope(candidate string) *ToolProposal {
	var env legacyEnvelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil {
		return nil
	}
	if env.Type != "tool_call" {
		return nil
	}
	if env.Tool == "" {
		p.log("tool_call envelope missing tool name")
		return nil
	}
	return &ToolProposal{
		ToolName:     env.Tool,
		Input:        env.Input,
		Rationale:    env.Rationale,
		NextStepHint: env.NextStep,
	}
}

// decodeArguments handles both encodings of OpenAI-style arguments:
// an object, or a string containing JSON.
func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return obj
		}
	}
	return nil
}

// ExtractJSONObject returns the first balanced top-level JSON object in
// text, after removing a surrounding code fence if present. Returns ""
// when no complete object exists (common mid-stream).
func ExtractJSONObject(text string) string {
	text = stripFence(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// fenceRe matches a fenced code block with an optional language tag.
var fenceRe = strings.NewReplacer("```json", "", "```", "")

// stripFence removes code-fence markers so a fenced envelope parses the
// same as a bare one.
func stripFence(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	return fenceRe.Replace(text)
}
