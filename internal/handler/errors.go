package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/devrev/promptsource/internal/service"
	"github.com/devrev/promptsource/internal/store"
	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeTenantNotFound   ErrorCode = "TENANT_NOT_FOUND"
	ErrorCodeVersionConflict  ErrorCode = "VERSION_CONFLICT"
	ErrorCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorWriter writes JSON error responses
type ErrorWriter struct {
	logger *zap.Logger
}

// NewErrorWriter creates a new error writer
func NewErrorWriter(logger *zap.Logger) *ErrorWriter {
	return &ErrorWriter{logger: logger}
}

// HandleError maps a service error onto a status code and writes it.
func (e *ErrorWriter) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	switch {
	case stderrors.Is(err, service.ErrInvalidConfig):
		e.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, err.Error(), requestID)
	case stderrors.Is(err, store.ErrNotFound):
		e.WriteErrorResponse(w, http.StatusNotFound, ErrorCodeTenantNotFound, "tenant repository config not found", requestID)
	case stderrors.Is(err, store.ErrVersionConflict):
		e.WriteErrorResponse(w, http.StatusConflict, ErrorCodeVersionConflict, "tenant repository config was modified concurrently", requestID)
	default:
		e.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
		e.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error", requestID)
	}
}

// WriteErrorResponse writes a formatted error response.
func (e *ErrorWriter) WriteErrorResponse(w http.ResponseWriter, statusCode int, code ErrorCode, message, requestID string) {
	e.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(code)),
		zap.String("message", message),
		zap.String("request_id", requestID))

	writeJSON(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: requestID,
	})
}

// WriteValidationError writes a 400 response.
func (e *ErrorWriter) WriteValidationError(w http.ResponseWriter, message, requestID string) {
	e.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
