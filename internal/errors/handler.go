// Package errors provides the assistant's error taxonomy and secure HTTP
// error handling utilities.
package errors

import (
	"encoding/json"
	"log"
	"net/http"

	"policy-rag-assistant/internal/config"
)

// Taxonomy codes. These are the only error identifiers that ever reach a
// caller or an audit entry.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeOrganizationMismatch = "ORGANIZATION_MISMATCH"
	CodeRoleNotAuthorized    = "ROLE_NOT_AUTHORIZED"
	CodeSystemError          = "SYSTEM_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeAlreadyDecided       = "ALREADY_DECIDED"
	CodeCancelled            = "CANCELLED"
)

// StandardError represents a standard application error.
type StandardError struct {
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StandardError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *StandardError) Unwrap() error {
	return e.Cause
}

// WithCause adds a cause to the error.
func (e *StandardError) WithCause(cause error) *StandardError {
	return &StandardError{
		Type:    e.Type,
		Message: e.Message,
		Cause:   cause,
	}
}

// Predefined errors for the assistant's failure modes.

var ErrInvalidRequest = &StandardError{
	Type:    CodeInvalidRequest,
	Message: "Request is malformed",
}

var ErrOrganizationMismatch = &StandardError{
	Type:    CodeOrganizationMismatch,
	Message: "Request targets an organization the user does not belong to",
}

var ErrRoleNotAuthorized = &StandardError{
	Type:    CodeRoleNotAuthorized,
	Message: "No role held by the user permits this intent",
}

var ErrNotFound = &StandardError{
	Type:    CodeNotFound,
	Message: "Suggestion not found",
}

var ErrAlreadyDecided = &StandardError{
	Type:    CodeAlreadyDecided,
	Message: "A decision was already recorded for this suggestion",
}

var ErrSystemError = &StandardError{
	Type:    CodeSystemError,
	Message: "Internal error",
}

// Code extracts the taxonomy code from an error, defaulting to SYSTEM_ERROR
// for anything outside the taxonomy.
func Code(err error) string {
	if se, ok := err.(*StandardError); ok {
		return se.Type
	}
	return CodeSystemError
}

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
	// RequestID is included in development/staging for debugging
	RequestID string `json:"request_id,omitempty"`
	// Details are only included in development mode
	Details string `json:"details,omitempty"`
}

// ErrorHandler provides secure error handling based on configuration.
type ErrorHandler struct {
	config *config.Config
}

// NewErrorHandler creates a new error handler with the given configuration.
func NewErrorHandler(cfg *config.Config) *ErrorHandler {
	return &ErrorHandler{config: cfg}
}

// HandleAuthError handles authentication-related errors with consistent responses.
func (h *ErrorHandler) HandleAuthError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	var response ErrorResponse

	if h.secure() {
		// Minimal information to prevent user enumeration.
		response = ErrorResponse{
			Code:      http.StatusUnauthorized,
			Status:    "Unauthorized",
			Message:   "Authentication required",
			RequestID: h.getRequestID(requestID),
		}
	} else {
		response = ErrorResponse{
			Code:      http.StatusUnauthorized,
			Status:    "Unauthorized",
			Message:   "Authentication failed",
			RequestID: requestID,
			Details:   err.Error(),
		}
	}

	h.logError("AUTH_ERROR", err, requestID, r)
	h.writeJSONError(w, response)
}

// HandleAuthorizationError handles authorization/permission errors.
func (h *ErrorHandler) HandleAuthorizationError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	var response ErrorResponse

	if h.secure() {
		response = ErrorResponse{
			Code:      http.StatusForbidden,
			Status:    "Forbidden",
			Message:   "Access denied",
			RequestID: h.getRequestID(requestID),
		}
	} else {
		response = ErrorResponse{
			Code:      http.StatusForbidden,
			Status:    "Forbidden",
			Message:   "Permission denied",
			RequestID: requestID,
			Details:   err.Error(),
		}
	}

	h.logError("AUTHZ_ERROR", err, requestID, r)
	h.writeJSONError(w, response)
}

// HandleValidationError handles input validation errors.
func (h *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	var response ErrorResponse

	if h.secure() {
		response = ErrorResponse{
			Code:      http.StatusBadRequest,
			Status:    "Bad Request",
			Message:   "Invalid request",
			RequestID: h.getRequestID(requestID),
		}
	} else {
		response = ErrorResponse{
			Code:      http.StatusBadRequest,
			Status:    "Bad Request",
			Message:   "Invalid request parameters",
			RequestID: requestID,
			Details:   err.Error(),
		}
	}

	h.logError("VALIDATION_ERROR", err, requestID, r)
	h.writeJSONError(w, response)
}

// HandleInternalError handles internal server errors. Internal diagnostics
// are never exposed outside development.
func (h *ErrorHandler) HandleInternalError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	response := ErrorResponse{
		Code:      http.StatusInternalServerError,
		Status:    "Internal Server Error",
		Message:   "An internal error occurred",
		RequestID: h.getRequestID(requestID),
	}

	if h.config.IsDevelopment() && h.config.Security.ErrorMode != "secure" {
		response.Details = err.Error()
	}

	h.logError("INTERNAL_ERROR", err, requestID, r)
	h.writeJSONError(w, response)
}

// HandleNotFoundError handles resource not found errors.
func (h *ErrorHandler) HandleNotFoundError(w http.ResponseWriter, r *http.Request, resource string, requestID string) {
	var response ErrorResponse

	if h.secure() {
		response = ErrorResponse{
			Code:      http.StatusNotFound,
			Status:    "Not Found",
			Message:   "Resource not found",
			RequestID: h.getRequestID(requestID),
		}
	} else {
		response = ErrorResponse{
			Code:      http.StatusNotFound,
			Status:    "Not Found",
			Message:   "Resource not found: " + resource,
			RequestID: requestID,
		}
	}

	h.logError("NOT_FOUND", nil, requestID, r)
	h.writeJSONError(w, response)
}

// HandleConflictError handles one-shot violations such as a second decision
// on the same suggestion.
func (h *ErrorHandler) HandleConflictError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	response := ErrorResponse{
		Code:      http.StatusConflict,
		Status:    "Conflict",
		Message:   "Operation conflicts with recorded state",
		RequestID: h.getRequestID(requestID),
	}

	if !h.secure() {
		response.Details = err.Error()
	}

	h.logError("CONFLICT", err, requestID, r)
	h.writeJSONError(w, response)
}

func (h *ErrorHandler) secure() bool {
	return h.config.Security.ErrorMode == "secure" || h.config.IsProduction()
}

// writeJSONError writes an error response as JSON.
func (h *ErrorHandler) writeJSONError(w http.ResponseWriter, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.Code)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding error response: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// logError logs errors with request context.
func (h *ErrorHandler) logError(errorType string, err error, requestID string, r *http.Request) {
	logData := map[string]interface{}{
		"type":       errorType,
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
		"user_agent": r.Header.Get("User-Agent"),
		"remote_ip":  getClientIP(r),
	}

	if err != nil {
		logData["error"] = err.Error()
	}

	if h.config.App.LogFormat == "json" {
		if jsonLog, jsonErr := json.Marshal(logData); jsonErr == nil {
			log.Printf("ERROR: %s", string(jsonLog))
		} else {
			log.Printf("ERROR: %s - %v", errorType, err)
		}
	} else {
		log.Printf("ERROR [%s] %s %s: %v (request_id: %s)",
			errorType, r.Method, r.URL.Path, err, requestID)
	}
}

// getRequestID returns request ID for logging, only outside secure mode.
func (h *ErrorHandler) getRequestID(requestID string) string {
	if h.config.IsProduction() && h.config.Security.ErrorMode == "secure" {
		return ""
	}
	return requestID
}

// getClientIP extracts the real client IP from request headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
