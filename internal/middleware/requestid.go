// Package middleware provides HTTP middleware for the buildnotify API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/buildnotify/internal/logger"
)

const headerRequestID = "X-Request-ID"

// maxRequestIDLen bounds a caller supplied request ID.
const maxRequestIDLen = 128

// RequestID is HTTP middleware that takes X-Request-ID from the request or
// generates a UUID. The ID is stored in the context and echoed on the
// response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
