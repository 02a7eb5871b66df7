package parse

import "strings"

// Keyword heuristics for critique classification. These are a fallback:
// if the upstream prompt contract ever emits a structured verdict field,
// prefer that and keep these lists only for older models.
//
// continuePhrases indicate missed or incorrect tool usage — the run
// loop should issue another model call rather than finalize.
var continuePhrases = []string{
	"missed a tool",
	"missed tool",
	"should have called",
	"should have used",
	"forgot to call",
	"forgot to use",
	"wrong tool",
	"incorrect tool",
	"did not use the",
	"failed to call",
}

// completePhrases explicitly confirm the answer is correct and final.
var completePhrases = []string{
	"answer is correct",
	"answer is complete",
	"no further action",
	"no tool was needed",
	"no tools were needed",
	"nothing was missed",
	"confirmed correct",
}

// classifyCritique maps free-text self-critique to a verdict.
// An explicit mention of missed/incorrect tool usage means continue;
// an explicit confirmation means complete; anything else defaults to
// complete so an ambiguous critique can never loop the engine.
func classifyCritique(text string) CritiqueVerdict {
	lower := strings.ToLower(text)

	for _, phrase := range continuePhrases {
		if strings.Contains(lower, phrase) {
			return CritiqueContinue
		}
	}
	for _, phrase := range completePhrases {
		if strings.Contains(lower, phrase) {
			return CritiqueComplete
		}
	}
	return CritiqueComplete
}
