package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"go.uber.org/zap"

	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/config"
	"math-mentor/api/internal/llm"
	llmgemini "math-mentor/api/internal/llm/gemini"
	"math-mentor/api/internal/llm/ollama"
	"math-mentor/api/internal/llm/openai"
	"math-mentor/api/internal/memory"
	"math-mentor/api/internal/ocr"
	ocrgemini "math-mentor/api/internal/ocr/gemini"
	ocropenai "math-mentor/api/internal/ocr/openai"
	"math-mentor/api/internal/ocr/yandex"
	"math-mentor/api/internal/store"
)

// providers создаёт клиентов один раз; Gemini-клиент общий для генерации,
// эмбеддингов и распознавания фото.
type providers struct {
	cfg     *config.Config
	log     *zap.Logger
	gemini  *llmgemini.Engine
	closers []func() error
}

func (p *providers) geminiEngine(ctx context.Context) (*llmgemini.Engine, error) {
	if p.gemini != nil {
		return p.gemini, nil
	}
	if p.cfg.LLM.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY: %w", llm.ErrNoAPIKey)
	}
	e, err := llmgemini.New(ctx, p.cfg.LLM.GeminiAPIKey, p.cfg.LLM.GeminiModel)
	if err != nil {
		return nil, err
	}
	p.gemini = e
	p.closers = append(p.closers, e.Close)
	return e, nil
}

// NewGenerator выбирает LLM-провайдера по LLM_PROVIDER.
func (p *providers) NewGenerator(ctx context.Context) (llm.Generator, error) {
	c := p.cfg.LLM
	switch c.Provider {
	case "groq":
		return openAICompatible("groq", c.GroqAPIKey, c.GroqModel, openai.BaseGroq)
	case "deepseek":
		return openAICompatible("deepseek", c.DeepseekAPIKey, c.DeepseekModel, openai.BaseDeepseek)
	case "openai":
		return openAICompatible("openai", c.OpenAIAPIKey, c.OpenAIModel, openai.BaseOpenAI)
	case "gemini":
		e, err := p.geminiEngine(ctx)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", c.Provider)
}

func openAICompatible(name, key, model, base string) (llm.Generator, error) {
	if key == "" {
		return nil, fmt.Errorf("%s: %w", name, llm.ErrNoAPIKey)
	}
	return openai.New(name, key, model, base), nil
}

func (p *providers) NewEmbedder(ctx context.Context) (llm.Embedder, error) {
	c := p.cfg.Embeddings
	switch c.Provider {
	case "ollama":
		return ollama.New(c.OllamaURL, c.Model), nil
	case "openai":
		if p.cfg.LLM.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings: %w", llm.ErrNoAPIKey)
		}
		return openai.NewEmbedder(p.cfg.LLM.OpenAIAPIKey, c.Model, openai.BaseOpenAI), nil
	case "gemini":
		e, err := p.geminiEngine(ctx)
		if err != nil {
			return nil, err
		}
		return llmgemini.NewEmbedder(e, c.Model), nil
	}
	return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Provider)
}

// NewRecognizer: nil без ошибки, если для выбранного OCR нет ключей.
func (p *providers) NewRecognizer(ctx context.Context) (ocr.Recognizer, error) {
	c := p.cfg.OCR
	var ya, gm, gp ocr.Recognizer
	if c.YCOAuth != "" && c.YCFolderID != "" {
		ya = yandex.New(c.YCOAuth, c.YCFolderID)
	}
	if key := p.cfg.LLM.OpenAIAPIKey; key != "" {
		gp = ocropenai.New(openai.New("openai", key, c.OpenAIModel, openai.BaseOpenAI))
	}
	if p.cfg.LLM.GeminiAPIKey != "" {
		e, err := p.geminiEngine(ctx)
		if err != nil {
			return nil, err
		}
		gm = ocrgemini.New(e, c.GeminiModel)
	}

	var rec ocr.Recognizer
	switch c.Provider {
	case "gemini":
		rec = gm
	case "openai":
		rec = gp
	case "yandex":
		rec = ya
	case "chain":
		// yandex основной, мультимодальная модель: запасная
		vision := gm
		if vision == nil {
			vision = gp
		}
		switch {
		case ya != nil && vision != nil:
			rec = &ocr.Chain{Primary: ya, Secondary: vision, FallbackBelow: ocr.DefaultFallbackBelow, Log: p.log}
		case ya != nil:
			rec = ya
		default:
			rec = vision
		}
	default:
		return nil, fmt.Errorf("unknown OCR_PROVIDER %q", c.Provider)
	}
	if rec == nil {
		p.log.Warn("ocr: credentials missing, photo input disabled", zap.String("provider", c.Provider))
	}
	return rec, nil
}

func (p *providers) NewTranscriber() asr.Transcriber {
	key := p.cfg.ASRKey()
	if key == "" {
		p.log.Warn("asr: no api key, voice input disabled")
		return nil
	}
	return asr.NewWhisper(key, p.cfg.ASR.Model, p.cfg.ASR.BaseURL)
}

// NewStore открывает хранилище журнала по MEMORY_BACKEND.
func (p *providers) NewStore(ctx context.Context) (memory.Store, error) {
	c := p.cfg.Memory
	switch c.Backend {
	case "file":
		return store.NewFileStore(c.Path), nil
	case "badger":
		dir := c.Path
		if filepath.Ext(dir) == ".json" {
			dir = dir[:len(dir)-len(".json")]
		}
		s, err := store.OpenBadgerStore(dir)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, s.Close)
		return s, nil
	case "postgres":
		db, err := openPostgres(ctx, c.DatabaseURL, p.log)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, db.Close)
		s := store.NewPostgresStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown MEMORY_BACKEND %q", c.Backend)
}

func openPostgres(ctx context.Context, dsn string, log *zap.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty: set DATABASE_URL or POSTGRES_* env vars")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	log.Info("db connected", zap.String("dsn", config.SafeDSNSummary(dsn)))
	return db, nil
}
