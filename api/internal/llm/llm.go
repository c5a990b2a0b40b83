// Package llm описывает внешние возможности: генерацию текста и эмбеддинги.
// Конкретные провайдеры живут в подпакетах и выбираются один раз при старте.
package llm

import (
	"context"
	"errors"
)

var ErrNoAPIKey = errors.New("api key is empty")

type Prompt struct {
	System string
	User   string
}

type Options struct {
	Temperature float32
	MaxTokens   int
	JSON        bool // просить у провайдера строго JSON-ответ
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, p Prompt, opt Options) (string, error)
}

// Embedder переводит тексты в векторы фиксированной длины.
// Результат должен быть стабилен в пределах жизни одного индекса.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
