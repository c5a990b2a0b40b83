package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/config"
	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/llm/llmtest"
	"math-mentor/api/internal/memory"
	"math-mentor/api/internal/llm/ollama"
	"math-mentor/api/internal/llm/openai"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/ocr/yandex"
	"math-mentor/api/internal/pipeline"
	"math-mentor/api/internal/stages"
	"math-mentor/api/internal/store"
	"math-mentor/api/internal/types"
)

func testProviders(cfg *config.Config) *providers {
	return &providers{cfg: cfg, log: zap.NewNop()}
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		provider string
		setKey   func(c *config.Config)
		wantName string
	}{
		{"groq", func(c *config.Config) { c.LLM.GroqAPIKey = "k" }, "groq"},
		{"deepseek", func(c *config.Config) { c.LLM.DeepseekAPIKey = "k" }, "deepseek"},
		{"openai", func(c *config.Config) { c.LLM.OpenAIAPIKey = "k" }, "openai"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := config.Default()
			cfg.LLM.Provider = tt.provider
			tt.setKey(cfg)

			gen, err := testProviders(cfg).NewGenerator(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, gen.Name())
			assert.IsType(t, &openai.Engine{}, gen)
		})

		t.Run(tt.provider+" without key", func(t *testing.T) {
			cfg := config.Default()
			cfg.LLM.Provider = tt.provider
			_, err := testProviders(cfg).NewGenerator(context.Background())
			assert.ErrorIs(t, err, llm.ErrNoAPIKey)
		})
	}

	t.Run("gemini without key", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.Provider = "gemini"
		_, err := testProviders(cfg).NewGenerator(context.Background())
		assert.ErrorIs(t, err, llm.ErrNoAPIKey)
	})
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.Default()
	emb, err := testProviders(cfg).NewEmbedder(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &ollama.Embedder{}, emb)

	cfg.Embeddings.Provider = "openai"
	_, err = testProviders(cfg).NewEmbedder(context.Background())
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
}

func TestNewRecognizer(t *testing.T) {
	t.Run("no credentials disables ocr", func(t *testing.T) {
		cfg := config.Default()
		rec, err := testProviders(cfg).NewRecognizer(context.Background())
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("chain degrades to yandex", func(t *testing.T) {
		cfg := config.Default()
		cfg.OCR.Provider = "chain"
		cfg.OCR.YCOAuth, cfg.OCR.YCFolderID = "oauth", "folder"
		rec, err := testProviders(cfg).NewRecognizer(context.Background())
		require.NoError(t, err)
		assert.IsType(t, &yandex.Engine{}, rec)
	})

	t.Run("chain falls back to gpt vision", func(t *testing.T) {
		cfg := config.Default()
		cfg.OCR.Provider = "chain"
		cfg.OCR.YCOAuth, cfg.OCR.YCFolderID = "oauth", "folder"
		cfg.LLM.OpenAIAPIKey = "k"
		rec, err := testProviders(cfg).NewRecognizer(context.Background())
		require.NoError(t, err)
		chain, ok := rec.(*ocr.Chain)
		require.True(t, ok)
		assert.Equal(t, "yandex+gpt", chain.Name())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := config.Default()
		cfg.OCR.Provider = "tesseract"
		_, err := testProviders(cfg).NewRecognizer(context.Background())
		assert.Error(t, err)
	})
}

func TestNewTranscriber(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, testProviders(cfg).NewTranscriber())

	cfg.LLM.GroqAPIKey = "k"
	tr := testProviders(cfg).NewTranscriber()
	require.NotNil(t, tr)
	assert.IsType(t, &asr.Whisper{}, tr)
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	t.Run("file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Memory.Path = filepath.Join(dir, "memory.json")
		p := testProviders(cfg)
		st, err := p.NewStore(context.Background())
		require.NoError(t, err)
		assert.IsType(t, &store.FileStore{}, st)
	})

	t.Run("badger", func(t *testing.T) {
		cfg := config.Default()
		cfg.Memory.Backend = "badger"
		cfg.Memory.Path = filepath.Join(dir, "cases.json")
		p := testProviders(cfg)
		st, err := p.NewStore(context.Background())
		require.NoError(t, err)
		assert.IsType(t, &store.BadgerStore{}, st)
		_, err = os.Stat(filepath.Join(dir, "cases"))
		assert.NoError(t, err)
		require.Len(t, p.closers, 1)
		assert.NoError(t, p.closers[0]())
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := config.Default()
		cfg.Memory.Backend = "postgres"
		cfg.Memory.DatabaseURL = ""
		_, err := testProviders(cfg).NewStore(context.Background())
		assert.ErrorContains(t, err, "DSN is empty")
	})
}

// Полная сборка конвейера на фейковом генераторе и файловом журнале.
func TestRolesEndToEnd(t *testing.T) {
	gen := llmtest.NewGenerator().
		On("math problem parser", `{"problem_text":"2x = 6","topic":"algebra","confidence":0.9}`).
		On("intent router", `{"topic":"algebra","solution_strategy":"isolate x","difficulty":"easy","estimated_steps":1}`).
		On("mathematics solver", `{"answer":"x = 3","solution_steps":[{"step":1,"description":"divide","computation":"6/2","result":"3"}],"confidence":0.9}`).
		On("strict verifier", `{"is_correct":true,"confidence":0.95}`).
		On("math tutor", "Divide both sides by 2.")

	cfg := config.Default()
	cfg.Memory.Path = filepath.Join(t.TempDir(), "memory.json")
	p := testProviders(cfg)
	st, err := p.NewStore(context.Background())
	require.NoError(t, err)

	mem, err := memory.New(context.Background(), st, nil)
	require.NoError(t, err)

	ctrl, err := pipeline.New(Roles(gen, stages.DefaultPrompts()), emptyRetriever{}, mem, pipeline.Config{}, nil)
	require.NoError(t, err)

	res, err := ctrl.Run(context.Background(), pipeline.Request{RawInput: "2x = 6", InputKind: types.InputText})
	require.NoError(t, err)
	assert.Equal(t, "x = 3", res.FinalAnswer)
	assert.Equal(t, 1, mem.Stats().Total)

	_, err = os.Stat(cfg.Memory.Path)
	assert.NoError(t, err, "case must be persisted to the file store")
}

type emptyRetriever struct{}

func (emptyRetriever) Search(context.Context, string, int) ([]types.RetrievedChunk, error) {
	return nil, nil
}
