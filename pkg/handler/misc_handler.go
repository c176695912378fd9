// Handler for miscellaneous endpoints such as health check

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/db"
	"github.com/yumyai/edna/pkg/middle"
)

type HealthResponse struct {
	Health    string    `json:"health"`
	Sequences int       `json:"sequences"`
	Timestamp time.Time `json:"timestamp"`
}

func (app *AppContext) HealthCheck(w http.ResponseWriter, r *http.Request) {
	n, err := app.Service.DB().CountSequences(r.Context())
	if err != nil {
		app.writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Health:    "ok",
		Sequences: n,
		Timestamp: time.Now(),
	})
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError logs server-side failures; client errors are only returned.
func (app *AppContext) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		middle.LoggerFrom(r.Context(), app.Log).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: middle.RequestID(r.Context())})
}

// statusFor maps lookup misses to 404 and everything else to 500.
func statusFor(err error) int {
	if errors.Is(err, db.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// wantsHTML is true for ?format=html or a browser Accept header.
func wantsHTML(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "html":
		return true
	case "json":
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
