// Package pipeline ведёт один прогон задачи по этапам: разбор, план, поиск
// справки и похожих задач, решение, проверка, объяснение, запись в память.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"math-mentor/api/internal/rag"
	"math-mentor/api/internal/stages"
	"math-mentor/api/internal/types"
	"math-mentor/api/internal/util"
)

const defaultConfidence = 0.5

type Interpreter interface {
	Interpret(ctx context.Context, raw string, kind types.InputKind, patterns []types.CorrectionPattern) (types.ParsedProblem, error)
}

type Planner interface {
	Plan(ctx context.Context, p types.ParsedProblem) (types.RouteInfo, error)
}

type Solver interface {
	Solve(ctx context.Context, in stages.SolveInput) (types.Solution, error)
}

type Verifier interface {
	Verify(ctx context.Context, p types.ParsedProblem, s types.Solution, refContext string) (types.VerificationOutcome, error)
}

type Explainer interface {
	Explain(ctx context.Context, p types.ParsedProblem, s types.Solution, v types.VerificationOutcome) (string, error)
}

type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]types.RetrievedChunk, error)
}

type Memory interface {
	Append(ctx context.Context, rec types.CaseRecord) (string, error)
	FindSimilar(query string, topic types.Topic, k int) []types.CaseRecord
	CorrectionPatterns(kind types.InputKind, limit int) []types.CorrectionPattern
}

// Roles: исполнители этапов; все обязательны.
type Roles struct {
	Interpreter Interpreter
	Planner     Planner
	Solver      Solver
	Verifier    Verifier
	Explainer   Explainer
}

type Config struct {
	TopK            int
	VerifyThreshold float64
	SimilarK        int
	PatternsLimit   int
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.VerifyThreshold <= 0 {
		c.VerifyThreshold = 0.75
	}
	if c.SimilarK <= 0 {
		c.SimilarK = 3
	}
	if c.PatternsLimit <= 0 {
		c.PatternsLimit = 10
	}
	return c
}

type Controller struct {
	roles Roles
	index Retriever
	mem   Memory
	cfg   Config
	log   *zap.Logger
}

func New(roles Roles, index Retriever, mem Memory, cfg Config, log *zap.Logger) (*Controller, error) {
	var missing []string
	if roles.Interpreter == nil {
		missing = append(missing, "interpreter")
	}
	if roles.Planner == nil {
		missing = append(missing, "planner")
	}
	if roles.Solver == nil {
		missing = append(missing, "solver")
	}
	if roles.Verifier == nil {
		missing = append(missing, "verifier")
	}
	if roles.Explainer == nil {
		missing = append(missing, "explainer")
	}
	if index == nil {
		missing = append(missing, "retrieval index")
	}
	if mem == nil {
		missing = append(missing, "case memory")
	}
	if len(missing) > 0 {
		return nil, errors.New("pipeline: missing " + strings.Join(missing, ", "))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{roles: roles, index: index, mem: mem, cfg: cfg.withDefaults(), log: log}, nil
}

// Request: вход одного прогона. Override заменяет разбор целиком (повторный
// заход после уточнения). Progress вызывается при входе в каждый этап.
type Request struct {
	RawInput  string               `json:"raw_input"`
	InputKind types.InputKind      `json:"input_kind"`
	Override  *types.ParsedProblem `json:"override,omitempty"`
	Progress  func(types.Stage)    `json:"-"`
}

type SimilarCase struct {
	ID      string      `json:"id"`
	Problem string      `json:"problem"`
	Topic   types.Topic `json:"topic"`
	Answer  string      `json:"answer"`
}

type Result struct {
	Stage        types.Stage               `json:"stage"`
	Parsed       types.ParsedProblem       `json:"parsed_problem"`
	Route        types.RouteInfo           `json:"route_info"`
	Chunks       []types.RetrievedChunk    `json:"retrieved_chunks"`
	Context      string                    `json:"context"`
	Similar      []SimilarCase             `json:"similar_problems"`
	Solution     types.Solution            `json:"solution"`
	Verification types.VerificationOutcome `json:"verification"`
	Explanation  string                    `json:"explanation"`
	FinalAnswer  string                    `json:"final_answer"`
	Confidence   float64                   `json:"confidence"`
	NeedsHITL    bool                      `json:"needs_hitl"`
	HITLReason   string                    `json:"hitl_reason"`
	RecordID     string                    `json:"record_id,omitempty"`
	Trace        []TraceEntry              `json:"trace"`
}

// Run проводит прогон. HALT_CLARIFY: обычный результат без ошибки;
// ошибка (*RunError) только если не удалось объяснение или запись в память.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	kind := req.InputKind
	if kind == "" {
		kind = types.InputText
	}
	override := req.Override != nil
	log := c.log.With(zap.String("input_kind", string(kind)), zap.Bool("override", override))

	var tr trace
	res := &Result{}
	enter := func(s types.Stage) time.Time {
		log.Debug("pipeline: stage", zap.String("stage", string(s)))
		if req.Progress != nil {
			req.Progress(s)
		}
		return time.Now()
	}
	leave := func(s types.Stage, start time.Time) {
		stageSeconds.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())
	}
	fallback := func(s types.Stage, err error) {
		stageFallbacksTotal.WithLabelValues(string(s)).Inc()
		log.Warn("pipeline: stage fallback", zap.String("stage", string(s)), zap.Error(err))
	}
	fail := func(s types.Stage, err error) (*Result, error) {
		runsTotal.WithLabelValues("error").Inc()
		log.Error("pipeline: run failed", zap.String("stage", string(s)), zap.Error(err))
		return nil, &RunError{Stage: s, Trace: tr.snapshot(), Err: err}
	}

	// INTERPRETING: шаблоны обновляются и при ручной правке
	start := enter(types.StageInterpreting)
	patterns := c.mem.CorrectionPatterns(kind, c.cfg.PatternsLimit)
	var parsed types.ParsedProblem
	if override {
		parsed = stages.NormalizeParsed(*req.Override, req.RawInput)
		parsed.NeedsClarification = false
		parsed.ClarificationReason = ""
		tr.add(types.StageInterpreting, StatusOverride, parsed,
			"Human override, topic: %s (%d correction patterns)", parsed.Topic, len(patterns))
	} else {
		p, err := c.roles.Interpreter.Interpret(ctx, req.RawInput, kind, patterns)
		if err != nil {
			fallback(types.StageInterpreting, err)
			p = stages.InterpretFallback(stages.ApplyCorrections(req.RawInput, patterns))
			tr.add(types.StageInterpreting, StatusFallback, p, "Interpretation failed: %v", err)
		} else {
			p = stages.NormalizeParsed(p, req.RawInput)
			tr.add(types.StageInterpreting, StatusOK, p,
				"Topic: %s, needs clarification: %t", p.Topic, p.NeedsClarification)
		}
		parsed = p
	}
	leave(types.StageInterpreting, start)
	res.Parsed = parsed

	if parsed.NeedsClarification && !override {
		reason := parsed.ClarificationReason
		if reason == "" {
			reason = "Ambiguous problem"
		}
		res.Stage = types.StageHaltClarify
		res.NeedsHITL = true
		res.HITLReason = "Parser: " + reason
		res.Confidence = finalConfidence(nil, nil)
		tr.add(types.StageHaltClarify, StatusHalted, nil, "%s", res.HITLReason)
		res.Trace = tr.snapshot()
		runsTotal.WithLabelValues("halt_clarify").Inc()
		hitlTotal.WithLabelValues("clarify").Inc()
		log.Info("pipeline: halted for clarification", zap.String("reason", reason))
		return res, nil
	}

	// PLANNING: никогда не останавливает прогон
	start = enter(types.StagePlanning)
	route, err := c.roles.Planner.Plan(ctx, parsed)
	if err != nil {
		fallback(types.StagePlanning, err)
		route = stages.DefaultRoute(parsed)
		tr.add(types.StagePlanning, StatusFallback, route, "Planning failed, using %q: %v", route.SolutionStrategy, err)
	} else {
		tr.add(types.StagePlanning, StatusOK, route, "Strategy: %s", util.Truncate(route.SolutionStrategy, 80))
	}
	leave(types.StagePlanning, start)
	res.Route = route

	start = enter(types.StageRetrieving)
	chunks, err := c.index.Search(ctx, parsed.Text, c.cfg.TopK)
	if err != nil {
		fallback(types.StageRetrieving, err)
		chunks = nil
		tr.add(types.StageRetrieving, StatusError, nil, "Retrieval failed: %v", err)
	} else {
		tr.add(types.StageRetrieving, StatusOK, map[string]any{"num_chunks": len(chunks), "sources": chunkSources(chunks)},
			"Retrieved %d relevant chunks", len(chunks))
	}
	leave(types.StageRetrieving, start)
	res.Chunks = chunks
	res.Context = rag.ContextString(chunks)

	start = enter(types.StageRecalling)
	similar := c.recall(parsed, &tr)
	leave(types.StageRecalling, start)
	res.Similar = similar

	start = enter(types.StageSolving)
	sol, err := c.roles.Solver.Solve(ctx, stages.SolveInput{
		Parsed:   parsed,
		Route:    route,
		Context:  res.Context,
		Examples: examples(similar),
	})
	if err != nil {
		fallback(types.StageSolving, err)
		sol = stages.UnsolvedSolution()
		tr.add(types.StageSolving, StatusFallback, sol, "Solver failed: %v", err)
	} else {
		tr.add(types.StageSolving, StatusOK, sol, "Answer: %s", util.Truncate(sol.Answer, 60))
	}
	leave(types.StageSolving, start)
	res.Solution = sol

	start = enter(types.StageVerifying)
	ver, err := c.roles.Verifier.Verify(ctx, parsed, sol, res.Context)
	if err != nil {
		fallback(types.StageVerifying, err)
		ver = stages.VerificationFailed()
	}
	stages.ApplyVerifyPolicy(&ver, c.cfg.VerifyThreshold)
	switch {
	case err != nil:
		tr.add(types.StageVerifying, StatusFallback, ver, "Verification failed: %v", err)
	case ver.IsCorrect:
		tr.add(types.StageVerifying, StatusOK, ver, "Correct: true, confidence: %.2f", ver.Confidence)
	default:
		tr.add(types.StageVerifying, StatusOK, ver, "Correct: false, confidence: %.2f, issues: %d", ver.Confidence, len(ver.Issues))
	}
	leave(types.StageVerifying, start)
	res.Verification = ver

	// HALT_REVIEW только помечает результат; вычисления продолжаются
	if ver.NeedsHITL && !override {
		res.NeedsHITL = true
		res.HITLReason = ver.HITLReason
		tr.add(types.StageHaltReview, StatusAdvisory, nil, "%s", ver.HITLReason)
		hitlTotal.WithLabelValues("review").Inc()
		log.Info("pipeline: flagged for review", zap.String("reason", ver.HITLReason), zap.Float64("confidence", ver.Confidence))
	}

	start = enter(types.StageExplaining)
	explanation, err := c.roles.Explainer.Explain(ctx, parsed, sol, ver)
	leave(types.StageExplaining, start)
	if err != nil {
		tr.add(types.StageExplaining, StatusError, nil, "Explanation failed: %v", err)
		return fail(types.StageExplaining, err)
	}
	tr.add(types.StageExplaining, StatusOK, nil, "Explanation generated (%d chars)", len([]rune(explanation)))
	res.Explanation = explanation
	res.FinalAnswer = sol.Answer
	res.Confidence = finalConfidence(&ver, &sol)

	start = enter(types.StagePersisting)
	id, err := c.mem.Append(ctx, types.CaseRecord{
		InputKind:        kind,
		RawInput:         req.RawInput,
		Parsed:           parsed,
		RetrievedContext: chunks,
		Answer:           sol.Answer,
		Explanation:      explanation,
		Verification:     ver,
	})
	leave(types.StagePersisting, start)
	if err != nil {
		tr.add(types.StagePersisting, StatusError, nil, "Saving failed: %v", err)
		return fail(types.StagePersisting, err)
	}
	tr.add(types.StagePersisting, StatusOK, map[string]string{"record_id": id}, "Saved as %s", id)
	res.RecordID = id

	enter(types.StageDone)
	res.Stage = types.StageDone
	res.Trace = tr.snapshot()
	outcome := "done"
	if res.NeedsHITL {
		outcome = "halt_review"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	log.Info("pipeline: run complete",
		zap.String("record_id", id),
		zap.String("topic", string(parsed.Topic)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("needs_hitl", res.NeedsHITL),
	)
	return res, nil
}

// recall: все найденные похожие задачи попадают в результат и журнал.
func (c *Controller) recall(p types.ParsedProblem, tr *trace) []SimilarCase {
	recs := c.mem.FindSimilar(p.Text, p.Topic, c.cfg.SimilarK)
	out := make([]SimilarCase, 0, len(recs))
	for _, r := range recs {
		out = append(out, SimilarCase{ID: r.ID, Problem: r.Parsed.Text, Topic: r.Parsed.Topic, Answer: r.Answer})
	}
	if len(out) == 0 {
		tr.add(types.StageRecalling, StatusNone, nil, "No similar problems found in memory")
		return out
	}
	tr.add(types.StageRecalling, StatusOK, out, "Found %d similar solved problems", len(out))
	return out
}

// examples: не больше stages.MaxExamples задач с ответом.
func examples(similar []SimilarCase) []stages.Example {
	var out []stages.Example
	for _, s := range similar {
		if len(out) == stages.MaxExamples {
			break
		}
		if strings.TrimSpace(s.Problem) == "" || strings.TrimSpace(s.Answer) == "" {
			continue
		}
		out = append(out, stages.Example{Problem: s.Problem, Answer: s.Answer})
	}
	return out
}

func chunkSources(chunks []types.RetrievedChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.SourceID)
	}
	return types.UniqueStrings(out)
}

// finalConfidence: nil означает, что этап не выполнялся. Проверка идёт после
// решения, поэтому остановка на уточнении даёт nil, nil и значение по умолчанию.
func finalConfidence(v *types.VerificationOutcome, s *types.Solution) float64 {
	switch {
	case v != nil:
		return types.Clamp01(v.Confidence)
	case s != nil:
		return types.Clamp01(s.Confidence)
	}
	return defaultConfidence
}
