package stages

import (
	"context"
	"fmt"
	"strings"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/types"
)

const verificationErrorReason = "verification system error"

type Verifier struct {
	gen    llm.Generator
	system string
}

func NewVerifier(gen llm.Generator, system string) *Verifier {
	return &Verifier{gen: gen, system: orDefault(system, defaultVerifierPrompt)}
}

// VerificationFailed: проверка не состоялась, ответ считаем неверным и зовём человека.
func VerificationFailed() types.VerificationOutcome {
	return types.VerificationOutcome{
		IsCorrect:     false,
		Confidence:    0,
		Issues:        []string{"Verification failed"},
		Corrections:   []string{},
		DomainCheck:   types.CheckNotApplicable,
		UnitsCheck:    types.CheckNotApplicable,
		EdgeCaseCheck: types.CheckNotApplicable,
		NeedsHITL:     true,
		HITLReason:    verificationErrorReason,
		StepsChecked:  []types.VerifyStep{},
	}
}

// ApplyVerifyPolicy: уверенность ниже порога всегда требует человека,
// даже если модель сама этого не попросила.
func ApplyVerifyPolicy(v *types.VerificationOutcome, threshold float64) {
	v.Confidence = types.Clamp01(v.Confidence)
	if v.Confidence >= threshold {
		return
	}
	v.NeedsHITL = true
	if strings.TrimSpace(v.HITLReason) == "" {
		v.HITLReason = fmt.Sprintf("low confidence: %.2f", v.Confidence)
	}
}

func (r *Verifier) Verify(ctx context.Context, p types.ParsedProblem, s types.Solution, refContext string) (types.VerificationOutcome, error) {
	user := fmt.Sprintf(`Problem: %s
Topic: %s
Constraints: %s

Solution to verify:
Answer: %s
Steps:
%s
Method: %s
Solver confidence: %.2f
Assumptions: %s

Relevant context:
%s

Verify this solution rigorously.`,
		p.Text, p.Topic, listOrNone(p.Constraints),
		s.Answer, FormatSteps(s.Steps), s.Method, s.Confidence, listOrNone(s.Assumptions),
		orDefault(refContext, "No specific context."),
	)

	var v types.VerificationOutcome
	if err := askJSON(ctx, r.gen, r.system, user, jsonOpts, &v); err != nil {
		return VerificationFailed(), err
	}
	v.Confidence = types.Clamp01(v.Confidence)
	v.Issues = types.UniqueStrings(v.Issues)
	v.Corrections = types.UniqueStrings(v.Corrections)
	v.DomainCheck = types.NormalizeCheck(string(v.DomainCheck))
	v.UnitsCheck = types.NormalizeCheck(string(v.UnitsCheck))
	v.EdgeCaseCheck = types.NormalizeCheck(string(v.EdgeCaseCheck))
	v.HITLReason = strings.TrimSpace(v.HITLReason)
	for i := range v.StepsChecked {
		v.StepsChecked[i].Result = strings.ToLower(strings.TrimSpace(v.StepsChecked[i].Result))
	}
	return v, nil
}
