package main

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// logRequests tags each request with an id and logs it once it completes.
func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		m := httpsnoop.CaptureMetrics(next, w, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration,
		)
	})
}
