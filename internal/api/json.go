package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/petsync"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps err onto a status code and a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *petsync.ValidationError
		pe *petsync.ParseError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, petsync.ErrNotFound), errors.Is(err, petsync.ErrPayloadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, petsync.ErrNoSource),
		errors.Is(err, petsync.ErrUnknownField),
		errors.As(err, &ve),
		errors.As(err, &pe):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, errorBody(err.Error()))
}
