package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error kind to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, simpleasset.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, simpleasset.ErrSecurityViolation):
		return http.StatusForbidden, "security_violation"
	case errors.Is(err, simpleasset.ErrUndecodable):
		return http.StatusUnprocessableEntity, "undecodable"
	case errors.Is(err, simpleasset.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, simpleasset.ErrObjectNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, simpleasset.ErrTransientIO):
		return http.StatusServiceUnavailable, "transient_io"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	requestID := RequestIDFrom(r.Context())

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "request_id", requestID, "path", r.URL.Path, "err", err)
		message = "An internal server error occurred"
	} else {
		h.logger.DebugContext(r.Context(), "request rejected", "request_id", requestID, "path", r.URL.Path, "status", status, "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		Retryable: simpleasset.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded),
		RequestID: requestID,
	}})
}
