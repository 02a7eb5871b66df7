package prompts

import "fmt"

// planTemplate asks the model to decompose a task into a structured
// plan. The format verbs are the tool list and the task text.
const planTemplate = `Break the following task into a step-by-step plan as JSON.
The JSON must have exactly this shape:

{
  "task": "restatement of the task",
  "steps": [
    {
      "description": "what this step does",
      "required_tools": ["tool names, if any"],
      "expected_outcome": "what success looks like",
      "depends_on": [0],
      "estimated_seconds": 60
    }
  ],
  "risk": "one of: low, medium, high, critical"
}

Use "depends_on" indexes into the steps array. Omit it for independent
steps. If the task is trivial and needs no plan, respond with plain text
instead of JSON.

Available tools:
%s

Task:
%s

JSON:`

// PlanPrompt returns the fully interpolated planning prompt.
func PlanPrompt(toolList, task string) string {
	return fmt.Sprintf(planTemplate, toolList, task)
}
