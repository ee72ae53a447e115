package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/entrhq/capture/pkg/logging"
)

// RequestIDHeader carries the per-request id in responses.
const RequestIDHeader = "X-Request-Id"

type loggerKey struct{}

// requestLogger tags every request with a fresh id, echoes it in the
// response, and logs one line when the request completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		log := s.log.With("request_id", id)
		w.Header().Set(RequestIDHeader, id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Infof("%s %s -> %d (%d bytes, %s, %s)",
				r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
				time.Since(start).Round(time.Millisecond), r.RemoteAddr)
		}()

		ctx := context.WithValue(r.Context(), loggerKey{}, log)
		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

// requestLog returns the request-scoped logger.
func (s *Server) requestLog(r *http.Request) *logging.Logger {
	if log, ok := r.Context().Value(loggerKey{}).(*logging.Logger); ok {
		return log
	}
	return s.log
}

// requireToken enforces the bearer token when one is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	want := []byte(s.cfg.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
