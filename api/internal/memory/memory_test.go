package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-mentor/api/internal/types"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []types.CaseRecord
	saves int
	err   error
}

func (s *fakeStore) Load(context.Context) ([]types.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.CaseRecord(nil), s.saved...), nil
}

func (s *fakeStore) Save(_ context.Context, recs []types.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.saved = append([]types.CaseRecord(nil), recs...)
	return nil
}

func newMemory(t *testing.T, st Store) *Memory {
	t.Helper()
	n := 0
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3*3600))
	m, err := New(context.Background(), st,
		nil,
		WithIDs(func() string { n++; return fmt.Sprintf("case-%d", n) }),
		WithClock(func() time.Time { return base.Add(time.Duration(n) * time.Minute) }),
	)
	require.NoError(t, err)
	return m
}

func caseOf(text string, topic types.Topic) types.CaseRecord {
	return types.CaseRecord{
		InputKind: types.InputText,
		RawInput:  text,
		Parsed:    types.ParsedProblem{Text: text, Topic: topic},
		Answer:    "42",
	}
}

func mustAppend(t *testing.T, m *Memory, rec types.CaseRecord) string {
	t.Helper()
	id, err := m.Append(context.Background(), rec)
	require.NoError(t, err)
	return id
}

func TestAppend_AssignsIDAndPersists(t *testing.T) {
	st := &fakeStore{}
	m := newMemory(t, st)

	rec := caseOf("find roots of x^2 - 5x + 6 = 0", types.TopicAlgebra)
	fb := types.FeedbackCorrect
	rec.ID, rec.Feedback = "ignored", &fb

	id := mustAppend(t, m, rec)
	assert.Equal(t, "case-1", id)

	got, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.Nil(t, got.Feedback, "new cases start without feedback")
	assert.Equal(t, types.FeedbackPending, got.FeedbackState())

	require.Len(t, st.saved, 1)
	assert.Equal(t, id, st.saved[0].ID)

	reloaded := newMemory(t, st)
	assert.Equal(t, m.Recent(0), reloaded.Recent(0))
}

func TestAppend_PersistFailureLeavesMemoryUnchanged(t *testing.T) {
	st := &fakeStore{}
	m := newMemory(t, st)
	mustAppend(t, m, caseOf("first", types.TopicAlgebra))

	st.err = errors.New("disk full")
	_, err := m.Append(context.Background(), caseOf("second", types.TopicAlgebra))
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, m.Stats().Total)

	ok, err := m.SetFeedback(context.Background(), "case-1", types.FeedbackCorrect, "")
	require.Error(t, err)
	assert.False(t, ok)
	got, _ := m.Get("case-1")
	assert.Nil(t, got.Feedback)
}

func TestSetFeedback(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t, &fakeStore{})
	id := mustAppend(t, m, caseOf("integrate x dx", types.TopicCalculus))

	t.Run("unknown id", func(t *testing.T) {
		ok, err := m.SetFeedback(ctx, "nope", types.FeedbackCorrect, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("pending is not a target", func(t *testing.T) {
		_, err := m.SetFeedback(ctx, id, types.FeedbackPending, "")
		assert.ErrorIs(t, err, ErrInvalidFeedback)
		_, err = m.SetFeedback(ctx, id, types.Feedback("maybe"), "")
		assert.ErrorIs(t, err, ErrInvalidFeedback)
	})

	t.Run("last write wins", func(t *testing.T) {
		ok, err := m.SetFeedback(ctx, id, types.FeedbackCorrect, "")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = m.SetFeedback(ctx, id, types.FeedbackIncorrect, "answer is x^2/2 + C")
		require.NoError(t, err)
		require.True(t, ok)

		got, _ := m.Get(id)
		assert.Equal(t, types.FeedbackIncorrect, got.FeedbackState())
		assert.Equal(t, "answer is x^2/2 + C", got.Comment())
	})
}

func TestFindSimilar(t *testing.T) {
	ctx := context.Background()

	t.Run("close wording ranks above unrelated same-topic case", func(t *testing.T) {
		m := newMemory(t, &fakeStore{})
		unrelated := mustAppend(t, m, caseOf("compute determinant quickly", types.TopicAlgebra))
		near := mustAppend(t, m, caseOf("find roots of x^2 - 5x + 6 = 0", types.TopicAlgebra))

		got := m.FindSimilar("find the roots of x^2-5x+6=0", types.TopicAlgebra, 3)
		require.Len(t, got, 2, "topic bonus alone clears the cutoff")
		assert.Equal(t, near, got[0].ID)
		assert.Equal(t, unrelated, got[1].ID)
	})

	t.Run("incorrect cases are excluded", func(t *testing.T) {
		m := newMemory(t, &fakeStore{})
		good := mustAppend(t, m, caseOf("find roots of x^2 - 5x + 6 = 0", types.TopicAlgebra))
		bad := mustAppend(t, m, caseOf("find roots of x^2 - 5x + 6 = 0", types.TopicAlgebra))
		_, err := m.SetFeedback(ctx, bad, types.FeedbackIncorrect, "")
		require.NoError(t, err)

		got := m.FindSimilar("find roots of x^2 - 5x + 6 = 0", types.TopicAlgebra, 3)
		require.Len(t, got, 1)
		assert.Equal(t, good, got[0].ID)
	})

	t.Run("cutoff and empty texts", func(t *testing.T) {
		m := newMemory(t, &fakeStore{})
		mustAppend(t, m, caseOf("", types.TopicAlgebra))
		mustAppend(t, m, caseOf("probability of two heads", types.TopicProbability))

		assert.Empty(t, m.FindSimilar("solve the quadratic", types.TopicAlgebra, 3))
	})

	t.Run("ties keep insertion order and k bounds", func(t *testing.T) {
		m := newMemory(t, &fakeStore{})
		var ids []string
		for i := 0; i < 5; i++ {
			ids = append(ids, mustAppend(t, m, caseOf("limit of sin x over x", types.TopicCalculus)))
		}
		got := m.FindSimilar("limit of sin x over x", types.TopicCalculus, 0)
		require.Len(t, got, DefaultSimilarK)
		for i, r := range got {
			assert.Equal(t, ids[i], r.ID)
		}
	})
}

func TestCorrectionPatterns(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t, &fakeStore{})

	var withComments []string
	for i := 0; i < 12; i++ {
		rec := caseOf(fmt.Sprintf("x^%d + 1", i), types.TopicAlgebra)
		rec.InputKind = types.InputImage
		id := mustAppend(t, m, rec)
		_, err := m.SetFeedback(ctx, id, types.FeedbackIncorrect, fmt.Sprintf("x^%d - 1", i))
		require.NoError(t, err)
		withComments = append(withComments, rec.RawInput)
	}
	noComment := caseOf("2x = 4", types.TopicAlgebra)
	noComment.InputKind = types.InputImage
	id := mustAppend(t, m, noComment)
	_, err := m.SetFeedback(ctx, id, types.FeedbackCorrect, "")
	require.NoError(t, err)

	textRec := mustAppend(t, m, caseOf("typed", types.TopicAlgebra))
	_, err = m.SetFeedback(ctx, textRec, types.FeedbackIncorrect, "fixed")
	require.NoError(t, err)

	got := m.CorrectionPatterns(types.InputImage, 0)
	require.Len(t, got, DefaultPatternsLimit)
	assert.Equal(t, withComments[2], got[0].Original, "oldest of the ten most recent first")
	assert.Equal(t, withComments[11], got[9].Original)
	assert.Equal(t, "x^11 - 1", got[9].Correction)
	assert.Equal(t, withComments[11], got[9].DerivedFrom.Text)

	assert.Len(t, m.CorrectionPatterns(types.InputText, 5), 1)
	assert.Empty(t, m.CorrectionPatterns(types.InputAudio, 5))
}

func TestStatsAndRecent(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t, &fakeStore{})
	a := mustAppend(t, m, caseOf("a", types.TopicAlgebra))
	b := mustAppend(t, m, caseOf("b", types.TopicAlgebra))
	c := mustAppend(t, m, caseOf("c", types.TopicAlgebra))

	_, err := m.SetFeedback(ctx, a, types.FeedbackCorrect, "")
	require.NoError(t, err)
	_, err = m.SetFeedback(ctx, b, types.FeedbackIncorrect, "")
	require.NoError(t, err)

	assert.Equal(t, types.Stats{Total: 3, Correct: 1, Incorrect: 1, Pending: 1}, m.Stats())

	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, c, recent[0].ID)
	assert.Equal(t, b, recent[1].ID)
}

func TestConcurrentAppendAndFeedback(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m, err := New(ctx, st, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Append(ctx, caseOf(fmt.Sprintf("problem %d", i), types.TopicOther))
			assert.NoError(t, err)
			_, err = m.SetFeedback(ctx, id, types.FeedbackCorrect, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, types.Stats{Total: 16, Correct: 16}, m.Stats())
	assert.Len(t, st.saved, 16)
	assert.Equal(t, 32, st.saves)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoStore)
}

// putStore пишет по одной записи и падает, если его просят переписать всё.
type putStore struct {
	fakeStore
	puts []int
}

func (s *putStore) Put(_ context.Context, pos int, rec types.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.puts = append(s.puts, pos)
	if pos == len(s.saved) {
		s.saved = append(s.saved, rec)
	} else {
		s.saved[pos] = rec
	}
	return nil
}

func (s *putStore) Save(context.Context, []types.CaseRecord) error {
	return errors.New("full rewrite is not expected")
}

func TestRecordWriter_WritesOnlyChangedRecord(t *testing.T) {
	ctx := context.Background()
	st := &putStore{}
	m := newMemory(t, st)

	mustAppend(t, m, caseOf("solve x + 1 = 2", types.TopicAlgebra))
	id := mustAppend(t, m, caseOf("solve x + 2 = 3", types.TopicAlgebra))
	ok, err := m.SetFeedback(ctx, id, types.FeedbackIncorrect, "x = 1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []int{0, 1, 1}, st.puts)
	require.Len(t, st.saved, 2)
	assert.Equal(t, types.FeedbackIncorrect, st.saved[1].FeedbackState())

	st.err = errors.New("disk full")
	_, err = m.Append(ctx, caseOf("solve x = 5", types.TopicAlgebra))
	require.Error(t, err)
	assert.Equal(t, 2, m.Stats().Total)
}
