package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-sync/internal/api"
	"github.com/capitalize-ai/support-sync/internal/engine"
	"github.com/capitalize-ai/support-sync/internal/middleware"
	"github.com/capitalize-ai/support-sync/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeEngineError maps an engine or server error to a response.
func writeEngineError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	switch {
	case errors.Is(err, engine.ErrThreadNotCached):
		writeError(w, http.StatusNotFound, "thread not open")
	case errors.Is(err, engine.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, engine.ErrMessagePending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr) && api.IsRejected(err):
		writeError(w, apiErr.Status, apiErr.Message)
	default:
		writeError(w, http.StatusBadGateway, "support server unavailable")
	}
}

func validateKeyParam(r *http.Request) (model.ThreadKey, error) {
	return middleware.ValidateThreadKey(chi.URLParam(r, "key"))
}
