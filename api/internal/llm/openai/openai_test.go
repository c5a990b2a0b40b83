package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-mentor/api/internal/llm"
)

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
}

func TestGenerate_SendsPromptAndOptions(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(w, "  {\"ok\":true}  ")
	}))
	defer srv.Close()

	e := New("groq", "k", "llama", srv.URL)
	out, err := e.Generate(context.Background(), llm.Prompt{System: "sys", User: "usr"},
		llm.Options{Temperature: 0.1, MaxTokens: 3000, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "llama", got["model"])
	assert.EqualValues(t, 3000, got["max_tokens"])
	assert.Contains(t, got, "response_format")
}

func TestGenerate_RetriesWithoutJSONMode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if calls.Add(1) == 1 {
			assert.Contains(t, body, "response_format")
			http.Error(w, `{"error":{"message":"response_format json_object is not supported"}}`, http.StatusBadRequest)
			return
		}
		assert.NotContains(t, body, "response_format")
		reply(w, "{}")
	}))
	defer srv.Close()

	out, err := New("deepseek", "k", "m", srv.URL).Generate(context.Background(), llm.Prompt{}, llm.Options{JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerate_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New("groq", "k", "m", srv.URL).Generate(context.Background(), llm.Prompt{}, llm.Options{})
	assert.ErrorContains(t, err, "groq generate 429")

	_, err = New("groq", "", "m", srv.URL).Generate(context.Background(), llm.Prompt{}, llm.Options{})
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{
			map[string]any{"index": 1, "embedding": []float32{0, 1}},
			map[string]any{"index": 0, "embedding": []float32{1, 0}},
		}})
	}))
	defer srv.Close()

	vecs, err := NewEmbedder("k", "text-embedding-3-small", srv.URL).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}
