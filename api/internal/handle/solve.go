package handle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/pipeline"
	"math-mentor/api/internal/types"
	"math-mentor/api/internal/util"
)

type SolveRequest struct {
	Text      string               `json:"text"`
	InputKind string               `json:"input_kind"`
	Override  *types.ParsedProblem `json:"override,omitempty"`
}

// runError: тело ответа при сорванном прогоне (этап и накопленный журнал).
type runError struct {
	Error string                `json:"error"`
	Stage types.Stage           `json:"stage,omitempty"`
	Trace []pipeline.TraceEntry `json:"trace,omitempty"`
}

func (h *Handle) Solve(w http.ResponseWriter, r *http.Request) {
	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	kind, ok := types.ParseInputKind(req.InputKind)
	if !ok {
		http.Error(w, "bad input_kind", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.Override == nil {
		http.Error(w, "text is empty", http.StatusBadRequest)
		return
	}
	res, err := h.run(r.Context(), pipeline.Request{RawInput: req.Text, InputKind: kind, Override: req.Override})
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handle) run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.deps.Runner.Run(ctx, req)
}

func (h *Handle) writeRunError(w http.ResponseWriter, err error) {
	var runErr *pipeline.RunError
	if errors.As(err, &runErr) {
		h.log.Warn("solve failed", zap.String("stage", string(runErr.Stage)), zap.Error(runErr.Err))
		writeJSON(w, http.StatusBadGateway, runError{Error: "solve error: " + runErr.Err.Error(), Stage: runErr.Stage, Trace: runErr.Trace})
		return
	}
	h.log.Error("solve failed", zap.Error(err))
	http.Error(w, "solve error: "+err.Error(), http.StatusInternalServerError)
}

// CaptureRequest: фото или запись в base64 (можно data:URI).
// Force запускает решение даже при низкой уверенности распознавания.
type CaptureRequest struct {
	DataB64  string `json:"data_b64"`
	MIME     string `json:"mime,omitempty"`
	Filename string `json:"filename,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

type Capture struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
}

// CaptureResponse: при NeedsReview прогон не запускается, клиент показывает
// текст на правку и шлёт его в /v1/solve с тем же input_kind.
type CaptureResponse struct {
	Input       Capture          `json:"input"`
	NeedsReview bool             `json:"needs_input_review"`
	Result      *pipeline.Result `json:"result,omitempty"`
}

func decodeCapture(w http.ResponseWriter, r *http.Request) (CaptureRequest, []byte, string, bool) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return req, nil, "", false
	}
	data, hint, err := util.DecodeBase64MaybeDataURL(req.DataB64)
	if err != nil || len(data) == 0 {
		http.Error(w, "bad data_b64", http.StatusBadRequest)
		return req, nil, "", false
	}
	return req, data, hint, true
}

func (h *Handle) SolveImage(w http.ResponseWriter, r *http.Request) {
	if h.deps.OCR == nil {
		http.Error(w, "ocr is not configured", http.StatusNotImplemented)
		return
	}
	req, img, hint, ok := decodeCapture(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.deps.OCR.Recognize(ctx, img, util.PickMIME(req.MIME, hint, img))
	if err != nil {
		http.Error(w, "ocr error: "+err.Error(), http.StatusBadGateway)
		return
	}
	capture := Capture{Text: rec.Text, Confidence: rec.Confidence, Engine: rec.Engine}
	h.finishCapture(w, r, capture, types.InputImage, req.Force, ocr.NeedsReview(rec, h.deps.OCRThreshold))
}

func (h *Handle) SolveAudio(w http.ResponseWriter, r *http.Request) {
	if h.deps.ASR == nil {
		http.Error(w, "asr is not configured", http.StatusNotImplemented)
		return
	}
	req, audio, _, ok := decodeCapture(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tr, err := h.deps.ASR.Transcribe(ctx, audio, req.Filename)
	if err != nil {
		http.Error(w, "asr error: "+err.Error(), http.StatusBadGateway)
		return
	}
	review := asr.NeedsReview(tr, h.deps.ASRThreshold)
	capture := Capture{Text: asr.NormalizeMathSpeech(tr.Text), Confidence: tr.Confidence, Engine: h.deps.ASR.Name()}
	h.finishCapture(w, r, capture, types.InputAudio, req.Force, review)
}

func (h *Handle) finishCapture(w http.ResponseWriter, r *http.Request, c Capture, kind types.InputKind, force, review bool) {
	if strings.TrimSpace(c.Text) == "" || (review && !force) {
		writeJSON(w, http.StatusOK, CaptureResponse{Input: c, NeedsReview: true})
		return
	}
	res, err := h.run(r.Context(), pipeline.Request{RawInput: c.Text, InputKind: kind})
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CaptureResponse{Input: c, NeedsReview: review, Result: res})
}
