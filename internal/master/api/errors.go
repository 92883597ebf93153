package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"androcompute/internal/master/coordinator"
	"androcompute/internal/master/scheduler"
	"androcompute/pkg/model"
	"androcompute/pkg/store"
)

// Envelope codes.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeNoActiveNodes     = "NO_ACTIVE_NODES"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeJobNotOwned       = "JOB_NOT_OWNED"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeInternal          = "INTERNAL_ERROR"
)

// errBadRequest marks request decoding and validation failures.
var errBadRequest = errors.New("bad request")

// statusFor maps a domain error to its HTTP status and envelope code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, coordinator.ErrInvalidNodeID),
		errors.Is(err, coordinator.ErrInvalidJobID):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, scheduler.ErrNoNodes),
		errors.Is(err, scheduler.ErrNoActiveNodes):
		return http.StatusBadRequest, CodeNoActiveNodes
	case errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound, CodeJobNotFound
	case errors.Is(err, coordinator.ErrJobNotOwned):
		return http.StatusConflict, CodeJobNotOwned
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	writeJSON(w, status, model.ErrorResponse{Error: model.ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
		Details:   details,
	}})
}

// respondError writes the envelope for err. Internal errors do not leak
// their message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, details map[string]any) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zapRequestID(r),
			zapPath(r),
			zap.Error(err))
		msg = http.StatusText(status)
	}
	writeError(w, r, status, code, msg, details)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, CodeNotFound, "route "+r.URL.Path+" not found", nil)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
		"method "+r.Method+" not allowed on "+r.URL.Path, nil)
}
