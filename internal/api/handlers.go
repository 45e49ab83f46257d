package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/petsync"
)

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func clientID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.svc.HealthCheck(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Sync handles POST /api/sync/{source}. The source "all" runs every
// configured source.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	if name == "all" {
		reports, err := h.svc.SyncAll(r.Context())
		if err != nil && len(reports) == 0 {
			writeError(w, r, err)
			return
		}
		body := map[string]any{"reports": reports}
		if err != nil {
			body["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	source, err := petsync.ParseSource(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.svc.Sync(r.Context(), source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Submissions handles GET /api/clients/{id}/submissions.
func (h *Handler) Submissions(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid client id"))
		return
	}
	items, err := h.svc.Submissions(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []petsync.PayloadInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": items})
}

// Reconcile handles GET /api/clients/{id}/reconcile?path=.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid client id"))
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.Reconcile(r.Context(), id, path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Apply handles POST /api/clients/{id}/apply.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid client id"))
		return
	}
	var req petsync.ApplyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	req.ClientID = id
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.Apply(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Rules handles GET /api/rules.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": h.svc.Rules()})
}
