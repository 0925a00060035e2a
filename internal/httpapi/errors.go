package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/spigell/hirebot/internal/ai"
	"github.com/spigell/hirebot/internal/logger"
	"github.com/spigell/hirebot/internal/screening"
	"go.uber.org/zap"
)

const defaultRetryAfter = 5 * time.Second

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMapping struct {
	status  int
	code    string
	message string
}

func mapError(err error) errorMapping {
	switch screening.KindOf(err) {
	case screening.ErrValidation:
		return errorMapping{http.StatusBadRequest, "validation_error", "invalid request"}
	case screening.ErrPreconditionFailed:
		return errorMapping{http.StatusBadRequest, "precondition_failed", "step not available yet"}
	case screening.ErrIncompleteInput:
		return errorMapping{http.StatusBadRequest, "incomplete_input", "answers are incomplete"}
	case screening.ErrNotFound:
		return errorMapping{http.StatusNotFound, "not_found", "session not found"}
	case screening.ErrInvalidState:
		return errorMapping{http.StatusConflict, "invalid_state", "session is completed"}
	case screening.ErrUpstreamFormat:
		return errorMapping{http.StatusBadGateway, "upstream_format", "language model returned an unexpected answer"}
	case screening.ErrTransientUpstream:
		return errorMapping{http.StatusServiceUnavailable, "upstream_unavailable", "upstream service is temporarily unavailable"}
	case screening.ErrBusy:
		return errorMapping{http.StatusServiceUnavailable, "busy", "server is busy"}
	default:
		return errorMapping{http.StatusInternalServerError, "internal_error", "internal server error"}
	}
}

// retryAfter prefers the delay requested by the model provider.
func retryAfter(err error) time.Duration {
	var transient *ai.TransientError
	if errors.As(err, &transient) && transient.RetryAfter > 0 {
		return transient.RetryAfter
	}
	return defaultRetryAfter
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	m := mapError(err)

	if m.status == http.StatusServiceUnavailable {
		seconds := int(math.Ceil(retryAfter(err).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	detail := err.Error()
	if m.status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String(logger.FieldRequestID, requestID(r.Context())),
			zap.Error(err),
		)
		detail = ""
	}

	writeError(w, r, m.status, m.code, m.message, detail)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message, detail string) {
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   message,
		Detail:    detail,
		RequestID: requestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
