// Package handle: HTTP API поверх конвейера и журнала задач.
package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/pipeline"
	"math-mentor/api/internal/types"
)

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type Cases interface {
	Get(id string) (types.CaseRecord, bool)
	Recent(n int) []types.CaseRecord
	SetFeedback(ctx context.Context, id string, fb types.Feedback, comment string) (bool, error)
	Stats() types.Stats
}

type Indexer interface {
	Rebuild(ctx context.Context) error
	Len() int
}

// Deps: зависимости API. OCR и ASR необязательны, без них соответствующие
// маршруты отвечают 501.
type Deps struct {
	Runner       Runner
	Cases        Cases
	Index        Indexer
	OCR          ocr.Recognizer
	ASR          asr.Transcriber
	OCRThreshold float64
	ASRThreshold float64
}

type Handle struct {
	deps    Deps
	log     *zap.Logger
	timeout time.Duration
}

func New(deps Deps, log *zap.Logger) *Handle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handle{deps: deps, log: log, timeout: 180 * time.Second}
}

// Router собирает все маршруты, включая /healthz и /metrics.
func (h *Handle) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/solve", h.Solve).Methods(http.MethodPost)
	v1.HandleFunc("/solve/image", h.SolveImage).Methods(http.MethodPost)
	v1.HandleFunc("/solve/audio", h.SolveAudio).Methods(http.MethodPost)
	v1.HandleFunc("/cases", h.ListCases).Methods(http.MethodGet)
	v1.HandleFunc("/cases/stats", h.CaseStats).Methods(http.MethodGet)
	v1.HandleFunc("/cases/{id}", h.GetCase).Methods(http.MethodGet)
	v1.HandleFunc("/cases/{id}/feedback", h.Feedback).Methods(http.MethodPost)
	v1.HandleFunc("/index/rebuild", h.RebuildIndex).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
