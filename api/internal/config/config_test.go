package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_PROVIDER", "TOP_K", "CHUNK_SIZE", "VERIFIER_CONFIDENCE_THRESHOLD",
		"DATABASE_URL", "POSTGRES_PASSWORD", "PGHOST", "MEMORY_BACKEND", "EMBEDDING_PROVIDER", "OCR_PROVIDER", "OCR_OPENAI_MODEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "groq", cfg.LLM.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.GroqModel)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 500, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 3, cfg.Retrieval.ChunkOverlap)
	assert.InDelta(t, 0.75, cfg.Thresholds.Verifier, 1e-9)
	assert.InDelta(t, 0.6, cfg.Thresholds.OCR, 1e-9)
	assert.InDelta(t, 0.7, cfg.Thresholds.ASR, 1e-9)
	assert.Equal(t, "./memory/memory.json", cfg.Memory.Path)
	assert.Empty(t, cfg.Memory.DatabaseURL)
	assert.Equal(t, "gemini", cfg.OCR.Provider)
	assert.Equal(t, "gpt-4o", cfg.OCR.OpenAIModel)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: deepseek
retrieval:
  top_k: 8
thresholds:
  verifier: 0.9
`), 0o644))

	t.Setenv("TOP_K", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Retrieval.TopK, "env wins over file")
	assert.InDelta(t, 0.9, cfg.Thresholds.Verifier, 1e-9)
	assert.Equal(t, "deepseek-chat", cfg.LLM.DeepseekModel, "untouched defaults survive")
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"provider":  {"LLM_PROVIDER": "anthropic"},
		"threshold": {"VERIFIER_CONFIDENCE_THRESHOLD": "1.5"},
		"not a num": {"TOP_K": "five"},
		"backend":   {"MEMORY_BACKEND": "sqlite"},
		"ocr":       {"OCR_PROVIDER": "tesseract"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestResolveDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("PGHOST", "pg")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://mentor:s3cret@pg:5432/mentor?sslmode=disable", cfg.Memory.DatabaseURL)
	assert.Equal(t, "host=pg port=5432 db=mentor user=mentor", SafeDSNSummary(cfg.Memory.DatabaseURL))
}

func TestKeys(t *testing.T) {
	cfg := Default()
	cfg.LLM.GroqAPIKey = "g"
	cfg.LLM.OpenAIAPIKey = "o"
	assert.Equal(t, "g", cfg.LLMKey())
	assert.Equal(t, "g", cfg.ASRKey())
	cfg.ASR.APIKey = "a"
	assert.Equal(t, "a", cfg.ASRKey())
}
