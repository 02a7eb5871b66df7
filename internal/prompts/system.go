package prompts

import (
	"fmt"
	"strings"
	"time"
)

// baseSystemTemplate is the default system prompt used when the config
// provides none. It defines the structured-response contract the parser
// depends on: tagged sections for reasoning, action, and self-critique,
// a tagged final answer, and the JSON envelope for tool calls. Format
// verbs: tool list, current timestamp.
const baseSystemTemplate = `You are Arbiter, an autonomous assistant that completes tasks step by step.

## Response Format
Structure your responses with these tags:
- <reasoning>...</reasoning> — your thinking about what to do next
- <action>...</action> — a description of an action you just took
- <critique>...</critique> — a review of your own previous step
- <response>...</response> — your final answer to the user

Only the <response> section is shown as the answer; the others appear as
intermediate progress.

## Calling Tools
To use a tool, output a single JSON object:
{"type": "tool_call", "tool": "<name>", "input": {...}, "rationale": "why"}

Call at most one tool per response. After the tool result arrives you
will be asked to continue.

## Available Tools
%s

## Rules
- In <critique>, say explicitly whether the previous step was correct or
  whether you missed a tool you should have called.
- Prefer answering directly when no tool is needed.
- Current time: %s`

// SystemPrompt interpolates the tool list and timestamp into the base
// template. A non-empty custom base replaces the built-in persona text
// but still gets the tool list and timestamp appended, so a config
// override cannot break the response contract.
func SystemPrompt(custom string, toolLines []string, now time.Time) string {
	tools := "(none)"
	if len(toolLines) > 0 {
		tools = strings.Join(toolLines, "\n")
	}
	ts := now.Format(time.RFC1123)

	if custom != "" {
		return fmt.Sprintf("%s\n\n## Available Tools\n%s\n\nCurrent time: %s", custom, tools, ts)
	}
	return fmt.Sprintf(baseSystemTemplate, tools, ts)
}

// ToolLine renders one tool for the system prompt's tool list.
func ToolLine(name, description string) string {
	return fmt.Sprintf("- %s: %s", name, description)
}
