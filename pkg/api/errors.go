package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier
type ErrorCode string

const (
	ErrorCodeInternalServerError ErrorCode = "internal_server_error"
	ErrorCodeBadRequest          ErrorCode = "bad_request"
	ErrorCodeNotFound            ErrorCode = "not_found"
	ErrorCodeValidationFailed    ErrorCode = "validation_failed"
	ErrorCodeMissingParameter    ErrorCode = "missing_parameter"
	ErrorCodeInvalidFormat       ErrorCode = "invalid_format"
	ErrorCodeResourceNotFound    ErrorCode = "resource_not_found"
)

// APIError is the JSON body of every error response
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	StatusCode int       `json:"-"`
}

// Error makes APIError implement the error interface.
func (e APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewAPIError is a constructor for APIError.
func NewAPIError(code ErrorCode, message string, details any, statusCode int) APIError {
	return APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// respondWithError writes apiErr as JSON with its status code
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, apiErr APIError) {
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.String("error", apiErr.Message))
	}
	s.respondWithJSON(w, apiErr.StatusCode, apiErr)
}

// respondWithJSON writes payload as JSON with the given status code
func (s *Server) respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", slog.Any("error", err))
	}
}
