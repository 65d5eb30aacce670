package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")
)

// Error kinds raised by the invoice pipeline. The first three are converted
// into an ERROR outcome for the single file they hit.
var (
	// ErrTextExtraction means the source document was unreadable or corrupt.
	ErrTextExtraction = errors.New("text extraction failed")
	// ErrSchemaViolation means extractor output could not be coerced into an Invoice.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrUpstreamService means an external call failed or timed out.
	ErrUpstreamService = errors.New("upstream service error")
	// ErrPersistence means the ledger store could not be read or written.
	ErrPersistence = errors.New("persistence error")
	// ErrConfig is the only kind that stops a run before any file is processed.
	ErrConfig = errors.New("configuration error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// KindOf returns a stable label for the error kind, used in review reasons and metric labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTextExtraction):
		return "text_extraction"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrUpstreamService):
		return "upstream_service"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrConfig):
		return "config"
	default:
		return "internal"
	}
}
