// Package middleware provides HTTP middleware for repodeck.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/repodeck/internal/logger"
)

// HeaderRequestID is the header carrying the correlation ID, inbound and
// when forwarding to the git backend.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
