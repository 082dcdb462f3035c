package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/repodeck/internal/domain"
	"github.com/Strob0t/repodeck/internal/inflight"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
	"github.com/Strob0t/repodeck/internal/resilience"
)

const bodyLimit = 1 << 20

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit. An empty body
// decodes to the zero value.
func readJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if strings.TrimSpace(value) == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps sentinel errors to status codes. Backend failures
// carry their own message; fallbackMsg is used when they do not.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, trimSentinel(err, domain.ErrNotFound))
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, trimSentinel(err, domain.ErrValidation))
	case errors.Is(err, domain.ErrNotConfirmed):
		writeError(w, http.StatusBadRequest, "rollback must be confirmed")
	case errors.Is(err, domain.ErrNoRepository):
		writeError(w, http.StatusConflict, "no repository is open")
	case errors.Is(err, domain.ErrNoChanges):
		writeError(w, http.StatusConflict, "there are no pending changes")
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusConflict, "another operation is already running")
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "git backend unavailable")
	case errors.Is(err, inflight.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session closed")
	default:
		if msg := gitbackend.MessageOf(err); msg != "" {
			writeError(w, http.StatusBadGateway, msg)
			return
		}
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusBadGateway, fallbackMsg)
	}
}

// trimSentinel strips "<sentinel>: " from a wrapped error message.
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()+": "); i >= 0 {
		return msg[i+len(sentinel.Error())+2:]
	}
	return msg
}
