// Package gemini: распознавание фото задачи мультимодальной моделью Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	llmgemini "math-mentor/api/internal/llm/gemini"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/util"
)

type Recognizer struct {
	Model    string
	Attempts int
	cl       *genai.Client
}

func New(e *llmgemini.Engine, model string) *Recognizer {
	if strings.TrimSpace(model) == "" {
		model = e.GetModel()
	}
	return &Recognizer{Model: model, Attempts: 3, cl: e.Client()}
}

func (r *Recognizer) Name() string { return "gemini" }

func (r *Recognizer) Recognize(ctx context.Context, image []byte, mime string) (ocr.Result, error) {
	if len(image) == 0 {
		return ocr.Result{}, ocr.ErrEmptyImage
	}
	m := r.cl.GenerativeModel(r.Model)
	if m == nil {
		return ocr.Result{}, errors.New("gemini ocr: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptr(float32(0)),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(ocr.VisionPrompt)}}

	parts := []genai.Part{
		genai.Text(ocr.VisionUser),
		&genai.Blob{MIMEType: util.PickMIME(mime, "", image), Data: image},
	}

	// ретраи на случай 5xx/транзиентных сбоев
	attempts := max(r.Attempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ocr.Result{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := llmgemini.FirstText(resp)
		if txt == "" {
			return ocr.Result{}, errors.New("gemini ocr: empty response")
		}
		return ocr.ParseVisionReply(r.Name(), txt), nil
	}
	return ocr.Result{}, fmt.Errorf("gemini ocr: %w", lastErr)
}

func ptr[T any](v T) *T { return &v }
