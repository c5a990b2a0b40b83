package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-mentor/api/internal/llm/llmtest"
	"math-mentor/api/internal/memory"
	"math-mentor/api/internal/rag"
	"math-mentor/api/internal/stages"
	"math-mentor/api/internal/types"
)

const (
	parserKey    = "math problem parser"
	routerKey    = "intent router"
	solverKey    = "mathematics solver"
	verifierKey  = "strict verifier"
	explainerKey = "math tutor"

	parsedQuadratic = `{"problem_text":"Solve x^2 - 5x + 6 = 0","topic":"algebra","subtopic":"quadratic",
		"variables":["x"],"asked":"roots","needs_clarification":false,"confidence":0.95}`
	routeQuadratic = `{"topic":"algebra","solution_strategy":"factor the quadratic","difficulty":"easy","estimated_steps":3}`
	solvedQuadratic = `{"answer":"x = 2 or x = 3","confidence":0.9,"method_used":"factoring",
		"solution_steps":[{"step":1,"description":"factor","computation":"(x-2)(x-3)=0","result":"x=2,3"}]}`
	verifiedOK  = `{"is_correct":true,"confidence":0.95,"domain_check":"passed","units_check":"N/A","edge_case_check":"passed"}`
	explanation = "Factor the quadratic into (x-2)(x-3) and read off the roots."
)

type memStore struct {
	mu   sync.Mutex
	recs []types.CaseRecord
	err  error
}

func (s *memStore) Load(context.Context) ([]types.CaseRecord, error) { return nil, nil }

func (s *memStore) Save(_ context.Context, recs []types.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = recs
	return nil
}

type failingRetriever struct{ err error }

func (f failingRetriever) Search(context.Context, string, int) ([]types.RetrievedChunk, error) {
	return nil, f.err
}

type env struct {
	ctl   *Controller
	mem   *memory.Memory
	store *memStore
	gen   *llmtest.Generator
}

func happyGenerator() *llmtest.Generator {
	return llmtest.NewGenerator().
		On(parserKey, parsedQuadratic).
		On(routerKey, routeQuadratic).
		On(solverKey, solvedQuadratic).
		On(verifierKey, verifiedOK).
		On(explainerKey, explanation)
}

func newEnv(t *testing.T, gen *llmtest.Generator, index Retriever) *env {
	t.Helper()
	ctx := context.Background()
	if index == nil {
		dir := t.TempDir()
		_, err := rag.SeedKnowledgeBase(dir)
		require.NoError(t, err)
		ix, err := rag.New(&llmtest.HashEmbedder{Dim: 256}, nil, rag.Options{CorpusDir: dir}, nil)
		require.NoError(t, err)
		require.NoError(t, ix.Rebuild(ctx))
		index = ix
	}
	st := &memStore{}
	mem, err := memory.New(ctx, st, nil)
	require.NoError(t, err)

	ctl, err := New(Roles{
		Interpreter: stages.NewInterpreter(gen, ""),
		Planner:     stages.NewPlanner(gen, ""),
		Solver:      stages.NewSolver(gen, ""),
		Verifier:    stages.NewVerifier(gen, ""),
		Explainer:   stages.NewExplainer(gen, ""),
	}, index, mem, Config{TopK: 5, VerifyThreshold: 0.75}, nil)
	require.NoError(t, err)
	return &env{ctl: ctl, mem: mem, store: st, gen: gen}
}

func entry(t *testing.T, tr []TraceEntry, s types.Stage) TraceEntry {
	t.Helper()
	for _, e := range tr {
		if e.Stage == s {
			return e
		}
	}
	t.Fatalf("no trace entry for %s", s)
	return TraceEntry{}
}

func stagesOf(tr []TraceEntry) []types.Stage {
	out := make([]types.Stage, len(tr))
	for i, e := range tr {
		out[i] = e.Stage
	}
	return out
}

func callsTo(gen *llmtest.Generator, key string) int {
	n := 0
	for _, c := range gen.Calls() {
		if strings.Contains(c.System, key) {
			n++
		}
	}
	return n
}

func TestRun_EndToEndWithSolverFailure(t *testing.T) {
	gen := llmtest.NewGenerator().
		On(parserKey, parsedQuadratic).
		On(routerKey, routeQuadratic).
		Fail(solverKey, errors.New("solver backend down")).
		On(verifierKey, `{"is_correct":false,"confidence":0}`).
		On(explainerKey, "We could not solve this one automatically.")
	e := newEnv(t, gen, nil)
	before := e.mem.Stats()

	res, err := e.ctl.Run(context.Background(), Request{RawInput: "Solve x^2 - 5x + 6 = 0"})
	require.NoError(t, err)

	assert.Equal(t, types.TopicAlgebra, res.Parsed.Topic)
	assert.False(t, res.Parsed.NeedsClarification)
	assert.NotEmpty(t, res.Route.SolutionStrategy)

	require.NotEmpty(t, res.Chunks)
	var algebra bool
	for _, c := range res.Chunks {
		algebra = algebra || strings.Contains(c.SourceID, "algebra")
	}
	assert.True(t, algebra, "quadratic query retrieves the algebra reference")
	assert.Contains(t, res.Context, "[Source: ")

	assert.Equal(t, "Unable to solve", res.Solution.Answer)
	assert.Equal(t, 0.0, res.Solution.Confidence)
	assert.Equal(t, StatusFallback, entry(t, res.Trace, types.StageSolving).Status)

	assert.True(t, res.Verification.NeedsHITL)
	assert.True(t, res.NeedsHITL)
	assert.Equal(t, "low confidence: 0.00", res.HITLReason)
	assert.Equal(t, StatusAdvisory, entry(t, res.Trace, types.StageHaltReview).Status)

	require.NotEmpty(t, res.RecordID)
	rec, ok := e.mem.Get(res.RecordID)
	require.True(t, ok)
	assert.Nil(t, rec.Feedback)
	assert.Equal(t, "Unable to solve", rec.Answer)

	after := e.mem.Stats()
	assert.Equal(t, before.Total+1, after.Total)
	assert.Equal(t, before.Pending+1, after.Pending)
	assert.Equal(t, types.StageDone, res.Stage)
}

func TestRun_HappyPath(t *testing.T) {
	e := newEnv(t, happyGenerator(), nil)
	var seen []types.Stage
	res, err := e.ctl.Run(context.Background(), Request{
		RawInput: "Solve x^2 - 5x + 6 = 0",
		Progress: func(s types.Stage) { seen = append(seen, s) },
	})
	require.NoError(t, err)

	assert.False(t, res.NeedsHITL)
	assert.Equal(t, "x = 2 or x = 3", res.FinalAnswer)
	assert.Equal(t, explanation, res.Explanation)
	assert.Equal(t, 0.95, res.Confidence, "final confidence comes from verification")
	assert.Equal(t, []types.Stage{
		types.StageInterpreting, types.StagePlanning, types.StageRetrieving, types.StageRecalling,
		types.StageSolving, types.StageVerifying, types.StageExplaining, types.StagePersisting, types.StageDone,
	}, seen)
	assert.Equal(t, []types.Stage{
		types.StageInterpreting, types.StagePlanning, types.StageRetrieving, types.StageRecalling,
		types.StageSolving, types.StageVerifying, types.StageExplaining, types.StagePersisting,
	}, stagesOf(res.Trace))
	assert.Equal(t, StatusNone, entry(t, res.Trace, types.StageRecalling).Status)

	rec, ok := e.mem.Get(res.RecordID)
	require.True(t, ok)
	assert.Equal(t, types.InputText, rec.InputKind)
	assert.Equal(t, res.Chunks, rec.RetrievedContext)
}

func TestRun_HaltsForClarification(t *testing.T) {
	gen := llmtest.NewGenerator().On(parserKey,
		`{"problem_text":"find it","topic":"other","needs_clarification":true,"clarification_reason":"unknown quantity","confidence":0.4}`)
	e := newEnv(t, gen, nil)

	res, err := e.ctl.Run(context.Background(), Request{RawInput: "find it", InputKind: types.InputAudio})
	require.NoError(t, err)

	assert.Equal(t, types.StageHaltClarify, res.Stage)
	assert.True(t, res.NeedsHITL)
	assert.Equal(t, "Parser: unknown quantity", res.HITLReason)
	assert.Equal(t, types.Solution{}, res.Solution)
	assert.Equal(t, 0.5, res.Confidence, "nothing was solved or verified")
	assert.Empty(t, res.RecordID)
	assert.Equal(t, 0, e.mem.Stats().Total)
	assert.Len(t, gen.Calls(), 1, "no stage after interpretation runs")
	assert.Equal(t, []types.Stage{types.StageInterpreting, types.StageHaltClarify}, stagesOf(res.Trace))
}

func TestRun_UnparsableInterpretationHalts(t *testing.T) {
	gen := llmtest.NewGenerator().On(parserKey, "I think this is about triangles")
	e := newEnv(t, gen, nil)

	res, err := e.ctl.Run(context.Background(), Request{RawInput: "abc"})
	require.NoError(t, err)
	assert.Equal(t, types.StageHaltClarify, res.Stage)
	assert.Equal(t, "Parser: Failed to parse structure", res.HITLReason)
	assert.Equal(t, StatusFallback, entry(t, res.Trace, types.StageInterpreting).Status)
}

func TestRun_OverrideSkipsInterpretationAndReview(t *testing.T) {
	gen := llmtest.NewGenerator().
		On(parserKey, parsedQuadratic).
		On(routerKey, routeQuadratic).
		On(solverKey, solvedQuadratic).
		On(verifierKey, `{"is_correct":true,"confidence":0.4}`).
		On(explainerKey, explanation)
	e := newEnv(t, gen, nil)

	override := &types.ParsedProblem{
		Text:                "Solve x^2 - 5x + 6 = 0",
		Topic:               "Algebra",
		NeedsClarification:  true,
		ClarificationReason: "left over from the first run",
		Confidence:          1,
	}
	res, err := e.ctl.Run(context.Background(), Request{RawInput: "Solve x^2 - 5x + 6 = 0", Override: override})
	require.NoError(t, err)

	assert.Equal(t, 0, callsTo(gen, parserKey))
	assert.False(t, res.Parsed.NeedsClarification)
	assert.Equal(t, types.TopicAlgebra, res.Parsed.Topic)
	assert.Equal(t, StatusOverride, entry(t, res.Trace, types.StageInterpreting).Status)

	assert.True(t, res.Verification.NeedsHITL, "verification still records the low confidence")
	assert.False(t, res.NeedsHITL, "no review halt with an override in play")
	assert.NotContains(t, stagesOf(res.Trace), types.StageHaltReview)
	assert.NotEmpty(t, res.RecordID)
}

func TestRun_OverrideStillRefreshesCorrectionPatterns(t *testing.T) {
	e := newEnv(t, happyGenerator(), nil)
	ctx := context.Background()

	id, err := e.mem.Append(ctx, types.CaseRecord{InputKind: types.InputImage, RawInput: "x2", Parsed: types.ParsedProblem{Text: "x2"}})
	require.NoError(t, err)
	_, err = e.mem.SetFeedback(ctx, id, types.FeedbackIncorrect, "x^2")
	require.NoError(t, err)

	res, err := e.ctl.Run(ctx, Request{
		RawInput:  "x2 = 4",
		InputKind: types.InputImage,
		Override:  &types.ParsedProblem{Text: "x^2 = 4", Topic: types.TopicAlgebra},
	})
	require.NoError(t, err)
	assert.Contains(t, entry(t, res.Trace, types.StageInterpreting).Summary, "1 correction patterns")

	// без правки шаблон уходит в разбор
	_, err = e.ctl.Run(ctx, Request{RawInput: "x2 = 9", InputKind: types.InputImage})
	require.NoError(t, err)
	calls := e.gen.Calls()
	var parserUser string
	for _, c := range calls {
		if strings.Contains(c.System, parserKey) {
			parserUser = c.User
		}
	}
	assert.Contains(t, parserUser, "x^2 = 9")
}

func TestRun_LowVerifierConfidenceForcesReview(t *testing.T) {
	gen := llmtest.NewGenerator().
		On(parserKey, parsedQuadratic).
		On(routerKey, routeQuadratic).
		On(solverKey, solvedQuadratic).
		On(verifierKey, `{"is_correct":true,"confidence":0.5,"needs_hitl":false}`).
		On(explainerKey, explanation)
	e := newEnv(t, gen, nil)

	res, err := e.ctl.Run(context.Background(), Request{RawInput: "Solve x^2 - 5x + 6 = 0"})
	require.NoError(t, err)
	assert.True(t, res.NeedsHITL)
	assert.True(t, res.Verification.NeedsHITL)
	assert.Equal(t, "low confidence: 0.50", res.HITLReason)
	assert.Equal(t, explanation, res.Explanation, "review halt is advisory")
	assert.NotEmpty(t, res.RecordID)
}

func TestRun_StageFallbacks(t *testing.T) {
	gen := llmtest.NewGenerator().
		On(parserKey, parsedQuadratic).
		On(routerKey, "no idea").
		On(solverKey, solvedQuadratic).
		Fail(verifierKey, errors.New("timeout")).
		On(explainerKey, explanation)
	e := newEnv(t, gen, failingRetriever{err: errors.New("embedding service unreachable")})

	res, err := e.ctl.Run(context.Background(), Request{RawInput: "Solve x^2 - 5x + 6 = 0"})
	require.NoError(t, err)

	assert.Equal(t, stages.DefaultRoute(res.Parsed), res.Route)
	assert.Equal(t, StatusFallback, entry(t, res.Trace, types.StagePlanning).Status)

	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Context)
	assert.Equal(t, StatusError, entry(t, res.Trace, types.StageRetrieving).Status)
	assert.Contains(t, e.gen.Calls()[2].User, "No specific context retrieved.")

	assert.False(t, res.Verification.IsCorrect)
	assert.Equal(t, "verification system error", res.HITLReason)
	assert.Equal(t, 0.0, res.Confidence)
	assert.NotEmpty(t, res.RecordID)
}

func TestRun_RecallExposesTwoExamples(t *testing.T) {
	e := newEnv(t, happyGenerator(), nil)
	ctx := context.Background()
	for _, ans := range []string{"2, 3", "2 and 3", "x=2,x=3"} {
		_, err := e.mem.Append(ctx, types.CaseRecord{
			InputKind: types.InputText,
			Parsed:    types.ParsedProblem{Text: "Solve x^2 - 5x + 6 = 0", Topic: types.TopicAlgebra},
			Answer:    ans,
		})
		require.NoError(t, err)
	}

	res, err := e.ctl.Run(ctx, Request{RawInput: "Solve x^2 - 5x + 6 = 0"})
	require.NoError(t, err)
	require.Len(t, res.Similar, 3)
	rec := entry(t, res.Trace, types.StageRecalling)
	assert.Equal(t, StatusOK, rec.Status)
	assert.Len(t, rec.Payload, 3)

	var solverUser string
	for _, c := range e.gen.Calls() {
		if strings.Contains(c.System, solverKey) {
			solverUser = c.User
		}
	}
	assert.Equal(t, 2, strings.Count(solverUser, "Similar problem:"))
	assert.NotContains(t, solverUser, "x=2,x=3")
}

func TestRun_FatalStages(t *testing.T) {
	t.Run("explanation failure", func(t *testing.T) {
		gen := llmtest.NewGenerator().
			On(parserKey, parsedQuadratic).
			On(routerKey, routeQuadratic).
			On(solverKey, solvedQuadratic).
			On(verifierKey, verifiedOK).
			Fail(explainerKey, errors.New("quota exceeded"))
		e := newEnv(t, gen, nil)

		res, err := e.ctl.Run(context.Background(), Request{RawInput: "Solve x^2 - 5x + 6 = 0"})
		assert.Nil(t, res)
		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, types.StageExplaining, runErr.Stage)
		assert.ErrorContains(t, err, "quota exceeded")
		assert.Equal(t, StatusError, runErr.Trace[len(runErr.Trace)-1].Status)
		assert.Contains(t, stagesOf(runErr.Trace), types.StageVerifying)
		assert.Equal(t, 0, e.mem.Stats().Total)
	})

	t.Run("persistence failure", func(t *testing.T) {
		e := newEnv(t, happyGenerator(), nil)
		e.store.err = errors.New("read-only filesystem")

		_, err := e.ctl.Run(context.Background(), Request{RawInput: "Solve x^2 - 5x + 6 = 0"})
		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, types.StagePersisting, runErr.Stage)
		assert.ErrorContains(t, err, "read-only filesystem")
		assert.Equal(t, 0, e.mem.Stats().Total)
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Roles{}, nil, nil, Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interpreter")
	assert.Contains(t, err.Error(), "case memory")
}

func TestFinalConfidence(t *testing.T) {
	assert.Equal(t, 0.8, finalConfidence(&types.VerificationOutcome{Confidence: 0.8}, &types.Solution{Confidence: 0.3}))
	assert.Equal(t, 0.3, finalConfidence(nil, &types.Solution{Confidence: 0.3}))
	assert.Equal(t, 0.5, finalConfidence(nil, nil))
}
