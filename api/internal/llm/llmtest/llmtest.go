// Package llmtest: детерминированные заглушки возможностей для тестов.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"math-mentor/api/internal/llm"
)

var ErrNoRule = errors.New("llmtest: no scripted reply")

type rule struct {
	contains string
	text     string
	err      error
}

// Generator отвечает по первому правилу, чья подстрока есть в system-промпте.
type Generator struct {
	mu    sync.Mutex
	rules []rule
	calls []llm.Prompt
}

func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) On(systemContains, text string) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule{contains: systemContains, text: text})
	return g
}

func (g *Generator) Fail(systemContains string, err error) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule{contains: systemContains, err: err})
	return g
}

func (g *Generator) Name() string { return "scripted" }

func (g *Generator) Generate(_ context.Context, p llm.Prompt, _ llm.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, p)
	for _, r := range g.rules {
		if strings.Contains(p.System, r.contains) {
			return r.text, r.err
		}
	}
	return "", ErrNoRule
}

// Calls возвращает копию всех полученных промптов.
func (g *Generator) Calls() []llm.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Prompt(nil), g.calls...)
}

// HashEmbedder: мешок слов, захешированный в Dim корзин и нормированный.
type HashEmbedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

func (e *HashEmbedder) Name() string { return "hash" }

func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim <= 0 {
		dim = 64
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%uint32(dim)]++
		}
		var n float64
		for _, x := range v {
			n += float64(x) * float64(x)
		}
		if n > 0 {
			n = math.Sqrt(n)
			for j := range v {
				v[j] = float32(float64(v[j]) / n)
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
