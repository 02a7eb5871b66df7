// Package parse turns raw model output into structured results: tagged
// reasoning/action/critique sections, a user-visible display text, and
// at most one tool-call proposal.
//
// Parse is re-runnable against the cumulative text on every streamed
// chunk. It never mutates its input and extracts sections purely from
// what is present, so parsing a growing prefix can only add sections,
// never lose them.
package parse

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/arbiterlabs/arbiter/internal/llm"
)

// SectionKind identifies a tagged section in model output.
type SectionKind string

const (
	SectionReasoning SectionKind = "reasoning"
	SectionAction    SectionKind = "action"
	SectionCritique  SectionKind = "critique"
)

// sectionTags lists the tag pairs extracted in step 1, in a fixed order
// so repeated parses of the same text yield sections in the same order.
var sectionTags = []SectionKind{SectionReasoning, SectionAction, SectionCritique}

// Section is one extracted tagged section.
type Section struct {
	Kind SectionKind
	Text string
}

// CritiqueVerdict classifies a self-critique section.
type CritiqueVerdict int

const (
	// CritiqueNone means no critique section was present.
	CritiqueNone CritiqueVerdict = iota
	// CritiqueComplete means the critique confirms the answer (or said
	// nothing recognizable — absence of a problem defaults to complete).
	CritiqueComplete
	// CritiqueContinue means the critique reports missed or incorrect
	// tool usage; the run loop should go around again.
	CritiqueContinue
)

// ToolProposal is a structured request, parsed from model output, to
// invoke one named tool. Transient: it exists only within one run-loop
// iteration.
type ToolProposal struct {
	ToolName     string
	Input        map[string]any
	Rationale    string
	NextStepHint string
}

// Result is the output of one parse pass over accumulated model text.
type Result struct {
	// DisplayText is the user-visible portion of the response.
	DisplayText string
	// Sections are the tagged sections extracted from the text, in tag
	// order then occurrence order.
	Sections []Section
	// Critique classifies the critique section, if any.
	Critique CritiqueVerdict
	// Proposal is the first tool call found, if any. A response never
	// carries more than one pending tool call.
	Proposal *ToolProposal
}

// Parser holds parse-time collaborators. The zero value is usable;
// a nil logger suppresses irregularity logging.
type Parser struct {
	logger *slog.Logger
}

// New creates a parser. Pass nil to suppress structural-irregularity
// logging.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse processes accumulated model text. signal, when non-nil, is an
// out-of-band native tool call delivered alongside the stream; it takes
// priority over any text-embedded encoding.
func (p *Parser) Parse(raw string, signal *llm.ToolCall) Result {
	var res Result

	remaining := p.extractSections(raw, &res)

	if c := findSection(res.Sections, SectionCritique); c != nil {
		res.Critique = classifyCritique(c.Text)
	}

	res.Proposal = p.detectToolCall(remaining, signal)
	res.DisplayText = p.displayText(remaining, res.Proposal != nil)

	return res
}

// extractSections removes well-formed tagged sections from raw and
// appends them to res.Sections. A start tag with no matching end tag
// (or vice versa) is logged and left in place — parsing continues.
func (p *Parser) extractSections(raw string, res *Result) string {
	remaining := raw
	for _, kind := range sectionTags {
		start := "<" + string(kind) + ">"
		end := "</" + string(kind) + ">"

		for {
			si := strings.Index(remaining, start)
			ei := strings.Index(remaining, end)

			if si == -1 && ei == -1 {
				break
			}
			if si == -1 || ei == -1 || ei < si {
				// Malformed pair. Leave the text as-is and move on;
				// a dangling start tag is expected mid-stream.
				p.log("unmatched section tag", "kind", string(kind))
				break
			}

			inner := strings.TrimSpace(remaining[si+len(start) : ei])
			if inner != "" {
				res.Sections = append(res.Sections, Section{Kind: kind, Text: inner})
			}
			remaining = remaining[:si] + remaining[ei+len(end):]
		}
	}
	return remaining
}

// responseRe matches the final-answer wrapper tag.
var responseRe = regexp.MustCompile(`(?s)<response>(.*?)</response>`)

// displayText derives the user-visible text from the section-stripped
// remainder, following the priority chain: wrapper tag, JSON field,
// text before the first brace, legacy cleanup.
func (p *Parser) displayText(remaining string, hasToolCall bool) string {
	// Step 3: final-answer wrapper wins outright.
	if m := responseRe.FindStringSubmatch(remaining); m != nil {
		return strings.TrimSpace(m[1])
	}

	trimmed := strings.TrimSpace(stripFence(remaining))

	// Step 4: a bare JSON object with a known text field.
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			for _, key := range []string{"response", "content", "message"} {
				if v, ok := obj[key].(string); ok {
					return strings.TrimSpace(v)
				}
			}
			if looksLikeToolEnvelope(obj) {
				// Nothing user-visible to show while a tool runs.
				return ""
			}
		}
	}

	// Step 5: text preceding the first brace.
	if i := strings.Index(remaining, "{"); i > 0 {
		if pre := strings.TrimSpace(remaining[:i]); pre != "" {
			return pre
		}
	}

	if hasToolCall && strings.TrimSpace(remaining) != "" && strings.HasPrefix(trimmed, "{") {
		// The whole remainder was a tool envelope with no preamble.
		return ""
	}

	// Step 6: legacy cleanup.
	return legacyCleanup(remaining)
}

// looksLikeToolEnvelope reports whether a decoded JSON object is a
// tool-call envelope rather than a plain response object.
func looksLikeToolEnvelope(obj map[string]any) bool {
	if _, ok := obj["tool_calls"]; ok {
		return true
	}
	if t, ok := obj["type"].(string); ok && t == "tool_call" {
		return true
	}
	return false
}

var (
	thinkingFenceRe = regexp.MustCompile("(?s)```thinking.*?```")
	bracketBlockRe  = regexp.MustCompile(`(?m)^\s*\[[^\]\n]*\]\s*$`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// internalPrefixes are line prefixes that mark leaked internal
// instructions; matching lines are dropped during legacy cleanup.
var internalPrefixes = []string{
	"SYSTEM:",
	"INSTRUCTION:",
	"INTERNAL:",
	"Thinking:",
}

// legacyCleanup strips artifacts older prompt formats leak into the
// visible text: fenced thinking blocks, bracketed internal markers,
// known instruction prefixes, and runs of blank lines.
func legacyCleanup(text string) string {
	text = thinkingFenceRe.ReplaceAllString(text, "")
	text = bracketBlockRe.ReplaceAllString(text, "")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		drop := false
		for _, prefix := range internalPrefixes {
			if strings.HasPrefix(strings.TrimSpace(line), prefix) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}
	text = strings.Join(kept, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func findSection(sections []Section, kind SectionKind) *Section {
	for i := range sections {
		if sections[i].Kind == kind {
			return &sections[i]
		}
	}
	return nil
}

func (p *Parser) log(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
