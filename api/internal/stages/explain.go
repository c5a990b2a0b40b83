package stages

import (
	"context"
	"fmt"
	"strings"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/types"
)

type Explainer struct {
	gen    llm.Generator
	system string
}

func NewExplainer(gen llm.Generator, system string) *Explainer {
	return &Explainer{gen: gen, system: orDefault(system, defaultExplainerPrompt)}
}

func formatChecks(steps []types.VerifyStep) string {
	if len(steps) == 0 {
		return "none"
	}
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", s.Check, s.Result, s.Detail))
	}
	return strings.Join(lines, "\n")
}

// Explain без запасного варианта: пустой ответ или ошибка модели возвращаются как есть.
func (r *Explainer) Explain(ctx context.Context, p types.ParsedProblem, s types.Solution, v types.VerificationOutcome) (string, error) {
	user := fmt.Sprintf(`Problem: %s
Topic: %s

Solution:
Answer: %s
Steps:
%s
Method: %s
Alternative approaches: %s

Verification notes:
%s
Issues (if any): %s

Create a clear, student-friendly explanation of this solution.`,
		p.Text, p.Topic,
		s.Answer, FormatSteps(s.Steps), s.Method, listOrNone(s.Alternatives),
		formatChecks(v.StepsChecked), listOrNone(v.Issues),
	)
	text, err := r.gen.Generate(ctx, llm.Prompt{System: r.system, User: user}, explainOpts)
	if err != nil {
		return "", fmt.Errorf("%s: %w", r.gen.Name(), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty explanation", ErrUnparsable)
	}
	return text, nil
}
