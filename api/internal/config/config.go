package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             string `yaml:"port"`
	WebhookURL       string `yaml:"webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	PromptDir        string `yaml:"prompt_dir"`

	LLM        LLM        `yaml:"llm"`
	Embeddings Embeddings `yaml:"embeddings"`
	OCR        OCR        `yaml:"ocr"`
	ASR        ASR        `yaml:"asr"`
	Thresholds Thresholds `yaml:"thresholds"`
	Retrieval  Retrieval  `yaml:"retrieval"`
	Memory     Memory     `yaml:"memory"`
}

type LLM struct {
	Provider       string `yaml:"provider"` // groq | deepseek | openai | gemini
	GroqAPIKey     string `yaml:"groq_api_key"`
	GroqModel      string `yaml:"groq_model"`
	DeepseekAPIKey string `yaml:"deepseek_api_key"`
	DeepseekModel  string `yaml:"deepseek_model"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIModel    string `yaml:"openai_model"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	GeminiModel    string `yaml:"gemini_model"`
}

type Embeddings struct {
	Provider  string `yaml:"provider"` // ollama | openai | gemini
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
}

type OCR struct {
	Provider    string `yaml:"provider"` // gemini | openai | yandex | chain
	YCOAuth     string `yaml:"yc_oauth_token"`
	YCFolderID  string `yaml:"yc_folder_id"`
	GeminiModel string `yaml:"gemini_model"`
	OpenAIModel string `yaml:"openai_model"`
}

type ASR struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type Thresholds struct {
	OCR      float64 `yaml:"ocr"`
	ASR      float64 `yaml:"asr"`
	Verifier float64 `yaml:"verifier"`
}

type Retrieval struct {
	TopK              int    `yaml:"top_k"`
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      int    `yaml:"chunk_overlap"`
	KnowledgeBasePath string `yaml:"knowledge_base_path"`
	VectorStorePath   string `yaml:"vector_store_path"`
}

type Memory struct {
	Backend     string `yaml:"backend"` // file | badger | postgres
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

// Default: значения по умолчанию, совпадающие с исходным поведением сервиса.
func Default() *Config {
	return &Config{
		Port: "8000",
		LLM: LLM{
			Provider:      "groq",
			GroqModel:     "llama-3.3-70b-versatile",
			DeepseekModel: "deepseek-chat",
			OpenAIModel:   "gpt-4o-mini",
			GeminiModel:   "gemini-2.5-flash",
		},
		Embeddings: Embeddings{
			Provider:  "ollama",
			Model:     "all-minilm",
			OllamaURL: "http://localhost:11434",
		},
		OCR: OCR{
			Provider:    "gemini",
			GeminiModel: "gemini-2.5-flash",
			OpenAIModel: "gpt-4o",
		},
		ASR: ASR{
			Model:   "whisper-large-v3",
			BaseURL: "https://api.groq.com/openai/v1",
		},
		Thresholds: Thresholds{OCR: 0.6, ASR: 0.7, Verifier: 0.75},
		Retrieval: Retrieval{
			TopK:              5,
			ChunkSize:         500,
			ChunkOverlap:      3,
			KnowledgeBasePath: "./knowledge_base",
			VectorStorePath:   "./rag/vector_store",
		},
		Memory: Memory{
			Backend: "file",
			Path:    "./memory/memory.json",
		},
	}
}

// Load читает необязательный YAML-файл, затем накладывает переменные окружения (env важнее).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setStr(&c.Port, "PORT")
	setStr(&c.WebhookURL, "WEBHOOK_URL")
	setStr(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setStr(&c.PromptDir, "PROMPT_DIR")

	setStr(&c.LLM.Provider, "LLM_PROVIDER")
	setStr(&c.LLM.GroqAPIKey, "GROQ_API_KEY")
	setStr(&c.LLM.GroqModel, "GROQ_MODEL")
	setStr(&c.LLM.DeepseekAPIKey, "DEEPSEEK_API_KEY")
	setStr(&c.LLM.DeepseekModel, "DEEPSEEK_MODEL")
	setStr(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setStr(&c.LLM.OpenAIModel, "OPENAI_MODEL")
	setStr(&c.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	setStr(&c.LLM.GeminiModel, "GEMINI_MODEL")

	setStr(&c.Embeddings.Provider, "EMBEDDING_PROVIDER")
	setStr(&c.Embeddings.Model, "EMBEDDING_MODEL")
	setStr(&c.Embeddings.OllamaURL, "OLLAMA_URL")

	setStr(&c.OCR.Provider, "OCR_PROVIDER")
	setStr(&c.OCR.YCOAuth, "YC_OAUTH_TOKEN")
	setStr(&c.OCR.YCFolderID, "YC_FOLDER_ID")
	setStr(&c.OCR.GeminiModel, "OCR_GEMINI_MODEL")
	setStr(&c.OCR.OpenAIModel, "OCR_OPENAI_MODEL")

	setStr(&c.ASR.Model, "WHISPER_MODEL")
	setStr(&c.ASR.BaseURL, "ASR_BASE_URL")
	setStr(&c.ASR.APIKey, "ASR_API_KEY")

	setStr(&c.Retrieval.KnowledgeBasePath, "KNOWLEDGE_BASE_PATH")
	setStr(&c.Retrieval.VectorStorePath, "VECTOR_STORE_PATH")
	setStr(&c.Memory.Backend, "MEMORY_BACKEND")
	setStr(&c.Memory.Path, "MEMORY_DB_PATH")

	var errs []error
	errs = append(errs,
		setFloat(&c.Thresholds.OCR, "OCR_CONFIDENCE_THRESHOLD"),
		setFloat(&c.Thresholds.ASR, "ASR_CONFIDENCE_THRESHOLD"),
		setFloat(&c.Thresholds.Verifier, "VERIFIER_CONFIDENCE_THRESHOLD"),
		setInt(&c.Retrieval.TopK, "TOP_K"),
		setInt(&c.Retrieval.ChunkSize, "CHUNK_SIZE"),
		setInt(&c.Retrieval.ChunkOverlap, "CHUNK_OVERLAP"),
	)

	if c.Memory.DatabaseURL == "" || os.Getenv("DATABASE_URL") != "" {
		c.Memory.DatabaseURL = resolveDSN()
	}
	return errors.Join(errs...)
}

// Validate проверяет то, без чего сервис заведомо не поднимется.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "groq", "deepseek", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q: use groq | deepseek | openai | gemini", c.LLM.Provider))
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q: use ollama | openai | gemini", c.Embeddings.Provider))
	}
	switch c.OCR.Provider {
	case "gemini", "openai", "yandex", "chain":
	default:
		errs = append(errs, fmt.Errorf("unknown OCR_PROVIDER %q: use gemini | openai | yandex | chain", c.OCR.Provider))
	}
	switch c.Memory.Backend {
	case "file", "badger", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown MEMORY_BACKEND %q: use file | badger | postgres", c.Memory.Backend))
	}
	for name, v := range map[string]float64{
		"ocr":      c.Thresholds.OCR,
		"asr":      c.Thresholds.ASR,
		"verifier": c.Thresholds.Verifier,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("threshold %s must be in [0,1], got %v", name, v))
		}
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.ChunkSize <= 0 || c.Retrieval.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("bad chunking %d/%d", c.Retrieval.ChunkSize, c.Retrieval.ChunkOverlap))
	}
	return errors.Join(errs...)
}

// LLMKey возвращает ключ выбранного провайдера.
func (c *Config) LLMKey() string {
	switch c.LLM.Provider {
	case "groq":
		return c.LLM.GroqAPIKey
	case "deepseek":
		return c.LLM.DeepseekAPIKey
	case "openai":
		return c.LLM.OpenAIAPIKey
	case "gemini":
		return c.LLM.GeminiAPIKey
	}
	return ""
}

// ASRKey: отдельный ключ, иначе ключ groq (по умолчанию Whisper берём у groq), иначе openai.
func (c *Config) ASRKey() string {
	for _, k := range []string{c.ASR.APIKey, c.LLM.GroqAPIKey, c.LLM.OpenAIAPIKey} {
		if k != "" {
			return k
		}
	}
	return ""
}

func setStr(dst *string, k string) {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, k string) error {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("env %s: %w", k, err)
	}
	*dst = f
	return nil
}

func setInt(dst *int, k string) error {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", k, err)
	}
	*dst = n
	return nil
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// resolveDSN: DATABASE_URL, иначе собираем из POSTGRES_* / PG*.
// Пустая строка, если не задан ни один из способов.
func resolveDSN() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	if os.Getenv("POSTGRES_PASSWORD") == "" && os.Getenv("PGHOST") == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "mentor"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(getEnv("PGHOST", "db"), getEnv("PGPORT", "5432")),
		Path:     "/" + getEnv("POSTGRES_DB", "mentor"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SafeDSNSummary: DSN без пароля, для логов.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, u.User.Username())
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, u.User.Username())
}
