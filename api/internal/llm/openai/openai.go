// Package openai: клиент OpenAI-совместимого Chat Completions API (openai, groq, deepseek).
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"math-mentor/api/internal/llm"
)

const (
	BaseOpenAI   = "https://api.openai.com/v1"
	BaseGroq     = "https://api.groq.com/openai/v1"
	BaseDeepseek = "https://api.deepseek.com/v1"
)

type Engine struct {
	APIKey  string
	Model   string
	BaseURL string
	name    string
	httpc   *http.Client
}

func New(name, key, model, baseURL string) *Engine {
	return &Engine{
		APIKey:  strings.TrimSpace(key),
		Model:   strings.TrimSpace(model),
		BaseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		httpc:   &http.Client{Timeout: 120 * time.Second},
	}
}

// WithHTTPClient подменяет http-клиент (тесты, прокси).
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	e.httpc = c
	return e
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) GetModel() string { return e.Model }

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (e *Engine) Generate(ctx context.Context, p llm.Prompt, opt llm.Options) (string, error) {
	if e.APIKey == "" {
		return "", fmt.Errorf("%s: %w", e.name, llm.ErrNoAPIKey)
	}
	body := map[string]any{
		"model": e.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": p.System},
			map[string]any{"role": "user", "content": p.User},
		},
		"temperature": opt.Temperature,
	}
	if opt.MaxTokens > 0 {
		body["max_tokens"] = opt.MaxTokens
	}
	if opt.JSON {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	out, status, errBody, err := e.post(ctx, body)
	if err != nil {
		return "", err
	}
	// часть провайдеров/моделей не знает json_object: повторяем один раз без него
	if status == http.StatusBadRequest && opt.JSON && rejectsJSONMode(errBody) {
		delete(body, "response_format")
		out, status, errBody, err = e.post(ctx, body)
		if err != nil {
			return "", err
		}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%s generate %d: %s", e.name, status, strings.TrimSpace(errBody))
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s generate: empty response", e.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Vision: один запрос с картинкой (data:URI); JSON-режим как в Generate.
func (e *Engine) Vision(ctx context.Context, system, user string, image []byte, mime string) (string, error) {
	if e.APIKey == "" {
		return "", fmt.Errorf("%s: %w", e.name, llm.ErrNoAPIKey)
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
	body := map[string]any{
		"model": e.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": system},
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": user},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "high"}},
				},
			},
		},
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
	}
	out, status, errBody, err := e.post(ctx, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%s vision %d: %s", e.name, status, strings.TrimSpace(errBody))
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s vision: empty response", e.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (e *Engine) post(ctx context.Context, body map[string]any) (chatResponse, int, string, error) {
	var out chatResponse
	payload, err := json.Marshal(body)
	if err != nil {
		return out, 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return out, 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return out, 0, "", fmt.Errorf("%s generate: %w", e.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return out, resp.StatusCode, string(x), nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, resp.StatusCode, "", fmt.Errorf("%s generate: bad response: %w", e.name, err)
	}
	return out, resp.StatusCode, "", nil
}

func rejectsJSONMode(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "response_format") || strings.Contains(b, "json_object")
}
