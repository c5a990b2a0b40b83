package types

import "strings"

type Step struct {
	Index       int    `json:"step"`
	Description string `json:"description"`
	Computation string `json:"computation"`
	Result      string `json:"result"`
}

type Solution struct {
	Answer       string   `json:"answer"`
	AnswerLatex  string   `json:"answer_latex"`
	Steps        []Step   `json:"solution_steps"`
	Method       string   `json:"method_used"`
	Confidence   float64  `json:"confidence"`
	Assumptions  []string `json:"assumptions_made"`
	Alternatives []string `json:"alternative_approaches"`
}

type CheckStatus string

const (
	CheckPassed        CheckStatus = "passed"
	CheckFailed        CheckStatus = "failed"
	CheckNotApplicable CheckStatus = "not_applicable"
)

// NormalizeCheck: модель отвечает "passed|failed|N/A", прочее считаем неприменимым.
func NormalizeCheck(s string) CheckStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passed", "pass":
		return CheckPassed
	case "failed", "fail":
		return CheckFailed
	}
	return CheckNotApplicable
}

type VerifyStep struct {
	Check  string `json:"check"`
	Result string `json:"result"` // "pass" | "fail"
	Detail string `json:"detail"`
}

type VerificationOutcome struct {
	IsCorrect     bool         `json:"is_correct"`
	Confidence    float64      `json:"confidence"`
	Issues        []string     `json:"issues_found"`
	Corrections   []string     `json:"corrections"`
	DomainCheck   CheckStatus  `json:"domain_check"`
	UnitsCheck    CheckStatus  `json:"units_check"`
	EdgeCaseCheck CheckStatus  `json:"edge_case_check"`
	NeedsHITL     bool         `json:"needs_hitl"`
	HITLReason    string       `json:"hitl_reason"`
	StepsChecked  []VerifyStep `json:"verification_steps"`
}
