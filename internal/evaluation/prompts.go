package evaluation

import (
	"fmt"
	"strings"

	"github.com/pitch-perfect/backend/internal/criteria"
)

// promptVersion is part of the evaluation cache key. Bump it whenever any
// prompt text or response format in this file changes.
const promptVersion = "2"

const evaluatorSystemPrompt = `You are an experienced pitch evaluator who has sat on investment committees and judged startup competitions.
You give honest, specific and constructive feedback. You always follow the requested output format exactly.`

const synthesisSystemPrompt = `You are an experienced pitch coach. You write concise, encouraging but candid summaries of pitch evaluations.`

func buildCriterionPrompt(pitchText string, c criteria.Criterion) string {
	var aspects strings.Builder
	for _, aspect := range c.Aspects {
		fmt.Fprintf(&aspects, "- %s\n", aspect)
	}

	return fmt.Sprintf(`Evaluate the following pitch on the criterion "%s".

%s

Consider these aspects:
%s
Scoring guide:
- 1-3: Weak. Major gaps or missing entirely.
- 4-6: Adequate. Present but underdeveloped or unconvincing.
- 7-8: Strong. Clear and convincing with minor gaps.
- 9-10: Exceptional. Investor-ready with compelling evidence.

Pitch:
"""
%s
"""

Respond using exactly this format:

SCORE: <integer from 1 to 10>

STRENGTHS:
- <strength>
- <strength>
- <strength>

IMPROVEMENTS:
- <improvement>
- <improvement>
- <improvement>

ANALYSIS:
<one or two paragraphs explaining the score>`, c.Name, c.Description, aspects.String(), pitchText)
}

func buildSynthesisPrompt(results []Result) string {
	var b strings.Builder
	b.WriteString("Here are the per-criterion results of a startup pitch evaluation:\n\n")

	for _, r := range results {
		fmt.Fprintf(&b, "%s: %d/10\n", r.Criteria, r.Score)
		if len(r.Strengths) > 0 {
			b.WriteString("Strengths:\n")
			for _, s := range r.Strengths {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(`Write a single paragraph of overall feedback that covers:
1. An overall assessment of the pitch
2. The strengths that stand out across criteria
3. The most critical improvements
4. A concrete recommended next step

Do not use headings or bullet points.`)

	return b.String()
}
