// Package yandex: Yandex Vision OCR (recognizeText) с IAM-токеном по OAuth.
package yandex

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

	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/util"
)

const (
	defaultEndpoint = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"

	// API не отдаёт уверенность по тексту; непустой результат получает это значение.
	DefaultConfidence = 0.8
)

type Engine struct {
	Endpoint   string
	Model      string   // "page" | "handwritten"
	Langs      []string // ["en","ru"]
	Confidence float64

	iamc     *IamClient
	folderID string
	httpc    *http.Client
}

func New(oauthToken, folderID string) *Engine {
	return &Engine{
		Endpoint:   defaultEndpoint,
		Model:      "page",
		Langs:      []string{"en", "ru"},
		Confidence: DefaultConfidence,
		iamc:       NewIamClient(oauthToken),
		folderID:   folderID,
		httpc:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *Engine) Name() string { return "yandex" }

type request struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType,omitempty"`
	LanguageCodes []string `json:"languageCodes,omitempty"`
	Model         string   `json:"model,omitempty"`
}

type textAnnotation struct {
	FullText string `json:"fullText,omitempty"`
	Blocks   []struct {
		Lines []struct {
			Text string `json:"text,omitempty"`
		} `json:"lines,omitempty"`
	} `json:"blocks,omitempty"`
}

type response struct {
	Result *struct {
		TextAnnotation *textAnnotation `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

func (r *response) annotation() *textAnnotation {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.TextAnnotation
}

func (e *Engine) Recognize(ctx context.Context, image []byte, _ string) (ocr.Result, error) {
	if len(image) == 0 {
		return ocr.Result{}, ocr.ErrEmptyImage
	}
	payload, _ := json.Marshal(request{
		Content:       base64.StdEncoding.EncodeToString(image),
		MimeType:      util.SniffMimeForOCR(image),
		LanguageCodes: e.Langs,
		Model:         e.Model,
	})

	resp, err := e.do(ctx, payload, false)
	if err != nil {
		return ocr.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		// токен могли отозвать раньше срока: один ретрай со свежим
		if resp, err = e.do(ctx, payload, true); err != nil {
			return ocr.Result{}, err
		}
		defer resp.Body.Close()
	}
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return ocr.Result{}, fmt.Errorf("yandex ocr %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ocr.Result{}, fmt.Errorf("yandex ocr: decode: %w", err)
	}
	text := extractText(out.annotation())
	conf := 0.0
	if text != "" {
		conf = e.Confidence
	}
	return ocr.Result{Text: text, Confidence: conf, Engine: e.Name()}, nil
}

func (e *Engine) do(ctx context.Context, payload []byte, refresh bool) (*http.Response, error) {
	if refresh {
		e.iamc.Invalidate()
	}
	iamToken, err := e.iamc.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+iamToken)
	req.Header.Set("x-folder-id", e.folderID)
	return e.httpc.Do(req)
}

// extractText: сначала fullText, иначе склеиваем строки блоков.
func extractText(ta *textAnnotation) string {
	if ta == nil {
		return ""
	}
	if t := strings.TrimSpace(ta.FullText); t != "" {
		return t
	}
	var lines []string
	for _, b := range ta.Blocks {
		for _, l := range b.Lines {
			if s := strings.TrimSpace(l.Text); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n")
}
