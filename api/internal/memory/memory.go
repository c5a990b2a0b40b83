// Package memory хранит журнал решённых задач: поиск похожих, отзывы, шаблоны исправлений.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"math-mentor/api/internal/types"
)

const (
	DefaultSimilarK      = 3
	DefaultPatternsLimit = 10

	topicBonus   = 0.2
	similarFloor = 0.15
)

var (
	// ErrInvalidFeedback: отзыв можно выставить только в correct или incorrect.
	ErrInvalidFeedback = errors.New("memory: feedback must be correct or incorrect")
	ErrNoStore         = errors.New("memory: store is not configured")
)

// Store хранит весь журнал целиком. Save обязан заменить содержимое атомарно:
// либо новая версия, либо старая остаётся нетронутой.
type Store interface {
	Load(ctx context.Context) ([]types.CaseRecord, error)
	Save(ctx context.Context, recs []types.CaseRecord) error
}

// RecordWriter: хранилище, которое умеет атомарно записать одну запись по её
// номеру в журнале. Тогда добавление и отзыв не переписывают журнал целиком.
type RecordWriter interface {
	Put(ctx context.Context, pos int, rec types.CaseRecord) error
}

type Memory struct {
	mu    sync.RWMutex
	recs  []types.CaseRecord
	store Store
	log   *zap.Logger

	now   func() time.Time
	newID func() string
}

// Option меняет часы и генератор id (нужно тестам).
type Option func(*Memory)

func WithClock(now func() time.Time) Option { return func(m *Memory) { m.now = now } }
func WithIDs(gen func() string) Option      { return func(m *Memory) { m.newID = gen } }

// New поднимает журнал из store; пустое хранилище: пустой журнал.
func New(ctx context.Context, store Store, log *zap.Logger, opts ...Option) (*Memory, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Memory{
		store: store,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(m)
	}
	recs, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cases: %w", err)
	}
	m.recs = recs
	casesStored.Set(float64(len(recs)))
	log.Info("memory: loaded", zap.Int("cases", len(recs)))
	return m, nil
}

// Append присваивает id и время, сохраняет журнал и только потом публикует запись.
// При ошибке сохранения журнал в памяти не меняется.
func (m *Memory) Append(ctx context.Context, rec types.CaseRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.ID = m.newID()
	rec.CreatedAt = m.now().UTC()
	rec.Feedback = nil
	rec.ReviewerComment = nil

	next := make([]types.CaseRecord, len(m.recs), len(m.recs)+1)
	copy(next, m.recs)
	next = append(next, rec)
	if err := m.persist(ctx, next, len(next)-1); err != nil {
		appendsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("persist case: %w", err)
	}
	m.recs = next
	appendsTotal.WithLabelValues("ok").Inc()
	casesStored.Set(float64(len(next)))
	m.log.Debug("memory: case appended", zap.String("id", rec.ID), zap.String("topic", string(rec.Parsed.Topic)))
	return rec.ID, nil
}

// SetFeedback: false, если id не найден. Последняя запись побеждает; вернуть pending нельзя.
func (m *Memory) SetFeedback(ctx context.Context, id string, fb types.Feedback, comment string) (bool, error) {
	if fb != types.FeedbackCorrect && fb != types.FeedbackIncorrect {
		return false, ErrInvalidFeedback
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return false, nil
	}
	next := make([]types.CaseRecord, len(m.recs))
	copy(next, m.recs)
	next[idx].Feedback = &fb
	next[idx].ReviewerComment = &comment

	if err := m.persist(ctx, next, idx); err != nil {
		return false, fmt.Errorf("persist feedback: %w", err)
	}
	m.recs = next
	feedbackTotal.WithLabelValues(string(fb)).Inc()
	m.log.Info("memory: feedback stored", zap.String("id", id), zap.String("feedback", string(fb)))
	return true, nil
}

// persist сохраняет изменённую запись pos; без RecordWriter переписывает весь журнал.
func (m *Memory) persist(ctx context.Context, next []types.CaseRecord, pos int) error {
	if w, ok := m.store.(RecordWriter); ok {
		return w.Put(ctx, pos, next[pos])
	}
	return m.store.Save(ctx, next)
}

func (m *Memory) indexOf(id string) int {
	for i := range m.recs {
		if m.recs[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) Get(id string) (types.CaseRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 {
		return m.recs[i], true
	}
	return types.CaseRecord{}, false
}

// Recent: последние n записей, новые первыми.
func (m *Memory) Recent(n int) []types.CaseRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.recs) {
		n = len(m.recs)
	}
	out := make([]types.CaseRecord, 0, n)
	for i := len(m.recs) - 1; i >= len(m.recs)-n; i-- {
		out = append(out, m.recs[i])
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// FindSimilar ищет прошлые задачи по пересечению слов с бонусом за ту же тему.
// Записи с отзывом incorrect и без слов не участвуют.
func (m *Memory) FindSimilar(query string, topic types.Topic, k int) []types.CaseRecord {
	if k <= 0 {
		k = DefaultSimilarK
	}
	q := wordSet(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		rec   types.CaseRecord
		score float64
	}
	var hits []scored
	for _, r := range m.recs {
		if r.FeedbackState() == types.FeedbackIncorrect {
			continue
		}
		words := wordSet(r.Parsed.Text)
		if len(words) == 0 {
			continue
		}
		score := jaccard(q, words)
		if r.Parsed.Topic == topic {
			score += topicBonus
		}
		if score > similarFloor {
			hits = append(hits, scored{rec: r, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]types.CaseRecord, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

// CorrectionPatterns: правки ревьюеров для данного типа ввода, не больше limit
// самых свежих, в хронологическом порядке.
func (m *Memory) CorrectionPatterns(kind types.InputKind, limit int) []types.CorrectionPattern {
	if limit <= 0 {
		limit = DefaultPatternsLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.CorrectionPattern
	for _, r := range m.recs {
		if r.InputKind != kind || strings.TrimSpace(r.Comment()) == "" {
			continue
		}
		out = append(out, types.CorrectionPattern{
			Original:    r.RawInput,
			Correction:  r.Comment(),
			DerivedFrom: r.Parsed,
		})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (m *Memory) Stats() types.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := types.Stats{Total: len(m.recs)}
	for _, r := range m.recs {
		switch r.FeedbackState() {
		case types.FeedbackCorrect:
			st.Correct++
		case types.FeedbackIncorrect:
			st.Incorrect++
		default:
			st.Pending++
		}
	}
	return st
}
