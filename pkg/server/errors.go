package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/entrhq/capture/pkg/audit"
	"github.com/entrhq/capture/pkg/capture"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/navigate"
	"github.com/entrhq/capture/pkg/request"
	"github.com/entrhq/capture/pkg/session"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a pipeline failure to an HTTP status.
//
// Input, navigation, capture and audit failures are the caller's problem
// and stay 400. A missing engine, a full context pool or a request that
// ended before it got a context is 503.
func statusFor(err error) int {
	var (
		validation *request.ValidationError
		navTimeout *navigate.TimeoutError
		navErr     *navigate.Error
		capErr     *capture.Error
		auditErr   *audit.Error
		threshold  *audit.ThresholdError
		engErr     *engine.Error
		tooLarge   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCapacity), errors.As(err, &engErr),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &navTimeout), errors.As(err, &navErr),
		errors.As(err, &capErr), errors.As(err, &auditErr), errors.As(err, &threshold):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail logs err and writes its mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := s.requestLog(r)
	switch {
	case errors.Is(err, context.Canceled):
		log.Warnf("request abandoned: %v", err)
	case status >= http.StatusInternalServerError:
		log.Errorf("request failed: %v", err)
	default:
		log.Warnf("request rejected: %v", err)
	}
	writeError(w, status, err.Error())
}
