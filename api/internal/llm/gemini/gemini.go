// Package gemini: генерация и эмбеддинги через Google Generative AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"math-mentor/api/internal/llm"
)

type Engine struct {
	Model string
	cl    *genai.Client
}

// New создаёт клиента один раз; закрывать через Close.
func New(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Engine, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", llm.ErrNoAPIKey)
	}
	cl, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Engine{Model: strings.TrimSpace(model), cl: cl}, nil
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }
func (e *Engine) Close() error     { return e.cl.Close() }

// Client отдаёт SDK-клиента для соседних возможностей (vision OCR).
func (e *Engine) Client() *genai.Client { return e.cl }

func (e *Engine) Generate(ctx context.Context, p llm.Prompt, opt llm.Options) (string, error) {
	m := e.cl.GenerativeModel(e.Model)
	if m == nil {
		return "", errors.New("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(opt.Temperature),
	}
	if opt.MaxTokens > 0 {
		n := int32(opt.MaxTokens)
		m.GenerationConfig.MaxOutputTokens = &n
	}
	if opt.JSON {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if strings.TrimSpace(p.System) != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	txt := FirstText(resp)
	if txt == "" {
		return "", errors.New("gemini generate: empty response")
	}
	return strings.TrimSpace(txt), nil
}

// Embedder: батчевые эмбеддинги (text-embedding-004 и т.п.).
type Embedder struct {
	Model string
	cl    *genai.Client
}

func NewEmbedder(e *Engine, model string) *Embedder {
	return &Embedder{Model: strings.TrimSpace(model), cl: e.cl}
}

func (e *Embedder) Name() string { return "gemini-embed" }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := e.cl.EmbeddingModel(e.Model)
	b := em.NewBatch()
	for _, t := range texts {
		b.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d vectors for %d texts", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, ce := range res.Embeddings {
		if ce == nil {
			return nil, fmt.Errorf("gemini embed: nil vector at %d", i)
		}
		out[i] = ce.Values
	}
	return out, nil
}

func FirstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
