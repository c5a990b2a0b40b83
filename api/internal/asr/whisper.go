package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/types"
	"math-mentor/api/internal/util"
)

// Whisper: OpenAI-совместимый /audio/transcriptions (groq, openai).
type Whisper struct {
	APIKey  string
	Model   string
	BaseURL string
	httpc   *http.Client
}

func NewWhisper(key, model, baseURL string) *Whisper {
	return &Whisper{
		APIKey:  strings.TrimSpace(key),
		Model:   strings.TrimSpace(model),
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (w *Whisper) Name() string { return "whisper" }

type verboseJSON struct {
	Text     string `json:"text"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (w *Whisper) Transcribe(ctx context.Context, audio []byte, filename string) (Result, error) {
	if w.APIKey == "" {
		return Result{}, fmt.Errorf("whisper: %w", llm.ErrNoAPIKey)
	}
	if len(audio) == 0 {
		return Result{}, ErrEmptyAudio
	}
	if strings.TrimSpace(filename) == "" {
		filename = "voice" + util.AudioExt(audio)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, err
	}
	if _, err := fw.Write(audio); err != nil {
		return Result{}, err
	}
	_ = mw.WriteField("model", w.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("temperature", "0")
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+w.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("whisper %d: %s", resp.StatusCode, util.Truncate(strings.TrimSpace(string(raw)), 300))
	}

	var out verboseJSON
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("whisper: decode: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	return Result{Text: text, Confidence: confidence(text, out)}, nil
}

// confidence: средний avg_logprob по сегментам + 1, в [0,1]; без сегментов 0.6 за непустой текст.
func confidence(text string, v verboseJSON) float64 {
	if len(v.Segments) == 0 {
		if text == "" {
			return 0
		}
		return 0.6
	}
	var sum float64
	for _, s := range v.Segments {
		sum += s.AvgLogprob
	}
	return types.Clamp01(sum/float64(len(v.Segments)) + 1)
}
