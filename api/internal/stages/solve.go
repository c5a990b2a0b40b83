package stages

import (
	"context"
	"fmt"
	"strings"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/types"
)

// MaxExamples: сколько похожих задач показываем решателю.
const MaxExamples = 2

// Example: прошлая задача для решателя, только условие и ответ.
type Example struct {
	Problem string `json:"problem"`
	Answer  string `json:"answer"`
}

type SolveInput struct {
	Parsed   types.ParsedProblem
	Route    types.RouteInfo
	Context  string
	Examples []Example
}

type Solver struct {
	gen    llm.Generator
	system string
}

func NewSolver(gen llm.Generator, system string) *Solver {
	return &Solver{gen: gen, system: orDefault(system, defaultSolverPrompt)}
}

func UnsolvedSolution() types.Solution {
	return types.Solution{
		Answer:       "Unable to solve",
		Steps:        []types.Step{},
		Method:       "N/A",
		Confidence:   0,
		Assumptions:  []string{},
		Alternatives: []string{},
	}
}

func solveUser(in SolveInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", in.Parsed.Text)
	fmt.Fprintf(&b, "Topic: %s\n", in.Parsed.Topic)
	fmt.Fprintf(&b, "Variables: %s\n", listOrNone(in.Parsed.Variables))
	fmt.Fprintf(&b, "Constraints: %s\n", listOrNone(in.Parsed.Constraints))
	fmt.Fprintf(&b, "Solution Strategy: %s\n", in.Route.SolutionStrategy)
	fmt.Fprintf(&b, "Special Considerations: %s\n\n", listOrNone(in.Route.SpecialConsiderations))
	b.WriteString("RELEVANT KNOWLEDGE BASE CONTEXT:\n")
	b.WriteString(orDefault(in.Context, "No specific context retrieved."))
	b.WriteString("\n")

	var ex []string
	for _, e := range in.Examples {
		if len(ex) == MaxExamples {
			break
		}
		if strings.TrimSpace(e.Problem) == "" || strings.TrimSpace(e.Answer) == "" {
			continue
		}
		ex = append(ex, fmt.Sprintf("Similar problem: %s\nAnswer: %s", e.Problem, e.Answer))
	}
	if len(ex) > 0 {
		b.WriteString("\nSIMILAR SOLVED PROBLEMS (for pattern reference):\n")
		b.WriteString(strings.Join(ex, "\n---\n"))
		b.WriteString("\n")
	}
	b.WriteString("\nSolve this problem step by step.")
	return b.String()
}

func (r *Solver) Solve(ctx context.Context, in SolveInput) (types.Solution, error) {
	var s types.Solution
	if err := askJSON(ctx, r.gen, r.system, solveUser(in), solveOpts, &s); err != nil {
		return UnsolvedSolution(), err
	}
	s.Answer = strings.TrimSpace(s.Answer)
	s.Method = strings.TrimSpace(s.Method)
	s.Confidence = types.Clamp01(s.Confidence)
	for i := range s.Steps {
		if s.Steps[i].Index <= 0 {
			s.Steps[i].Index = i + 1
		}
	}
	s.Assumptions = types.UniqueStrings(s.Assumptions)
	s.Alternatives = types.UniqueStrings(s.Alternatives)
	return s, nil
}

// FormatSteps: шаги решения строками для промптов и чатов.
func FormatSteps(steps []types.Step) string {
	if len(steps) == 0 {
		return "none"
	}
	lines := make([]string, 0, len(steps))
	for _, st := range steps {
		line := fmt.Sprintf("%d. %s", st.Index, st.Description)
		if st.Computation != "" {
			line += ": " + st.Computation
		}
		if st.Result != "" {
			line += " => " + st.Result
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
