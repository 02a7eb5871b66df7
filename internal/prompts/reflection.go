package prompts

import "fmt"

// reflectionTemplate asks the model to analyze a finished execution.
// The single format verb is the execution summary.
const reflectionTemplate = `Review this completed execution and extract what can be learned.

%s

Respond in exactly this format:

Insights:
1. <observation about what happened>

Recommendations:
1. <actionable suggestion> (priority: 0.0-1.0)

Number each item. Give every recommendation a priority reflecting how
much it would improve future runs. Base everything on what actually
happened.`

// ReflectionPrompt returns the fully interpolated reflection prompt.
// The caller passes the rendered execution summary.
func ReflectionPrompt(summary string) string {
	return fmt.Sprintf(reflectionTemplate, summary)
}
