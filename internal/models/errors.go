package models

import (
	"errors"
	"fmt"
	"strings"
)

// Application-wide standard errors
var (
	ErrNotFound        = errors.New("resource not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSummaryNotFound = errors.New("story summary not found")
	ErrConfigNotFound  = errors.New("config entry not found")

	// Engine lifecycle errors
	ErrWrongPhase      = errors.New("operation not allowed in current game phase")
	ErrNoActionToRetry = errors.New("no failed action to retry")
	ErrEmptyChoice     = errors.New("choice text is empty")

	// Import/export errors
	ErrInvalidImport = errors.New("import payload is missing required history")

	ErrInternalServer = errors.New("internal server error")
)

// ErrorType is the taxonomy tag attached to classified generator failures.
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeServer     ErrorType = "server_error"
	ErrorTypeParse      ErrorType = "parse_error"
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Suggested remedial actions surfaced with a classification.
const (
	ActionRetry         = "retry"
	ActionCheckEndpoint = "check_endpoint"
	ActionCheckBackend  = "check_backend"
	ActionReport        = "report"
)

// ErrorClassification is the engine-facing view of a generator failure:
// a taxonomy tag, a user-facing message, whether a retry is worthwhile
// and what the player should try next.
type ErrorClassification struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Action    string    `json:"action"`
}

// ResponseValidationError reports required fields absent from a generator
// response after all repair attempts. Partial carries whatever object was
// recovered so the caller can reconstruct a last-resort response.
type ResponseValidationError struct {
	Missing []string
	Partial map[string]any
}

func (e *ResponseValidationError) Error() string {
	return fmt.Sprintf("response missing required fields: %s", strings.Join(e.Missing, ", "))
}
