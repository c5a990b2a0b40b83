package handle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"math-mentor/api/internal/memory"
	"math-mentor/api/internal/types"
)

const maxListLimit = 200

func (h *Handle) ListCases(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}
	recs := h.deps.Cases.Recent(limit)
	if recs == nil {
		recs = []types.CaseRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handle) CaseStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Cases.Stats())
}

func (h *Handle) GetCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := h.deps.Cases.Get(id)
	if !ok {
		http.Error(w, "case not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type FeedbackRequest struct {
	Feedback string `json:"feedback"`
	Comment  string `json:"comment"`
}

func (h *Handle) Feedback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	fb, _ := types.ParseFeedback(req.Feedback)
	ok, err := h.deps.Cases.SetFeedback(r.Context(), id, fb, req.Comment)
	switch {
	case errors.Is(err, memory.ErrInvalidFeedback):
		http.Error(w, "feedback must be correct or incorrect", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error("feedback failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "feedback error: "+err.Error(), http.StatusInternalServerError)
		return
	case !ok:
		http.Error(w, "case not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "feedback": fb})
}

func (h *Handle) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Index.Rebuild(r.Context()); err != nil {
		http.Error(w, "rebuild error: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"chunks": h.deps.Index.Len()})
}
