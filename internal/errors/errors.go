package errors

import (
	"errors"
	"fmt"
)

// RAGError is the structured error type for gitingest.
// It carries enough context for logging, HTTP mapping and CLI presentation.
type RAGError struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a RAGError with the same code.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RAGError) WithDetail(key, value string) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RAGError) WithSuggestion(suggestion string) *RAGError {
	e.Suggestion = suggestion
	return e
}

// New creates a RAGError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *RAGError {
	return &RAGError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RAGError whose message is err's message.
func Wrap(code string, err error) *RAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrConfiguration     = &RAGError{Code: ErrCodeConfigInvalid}
	ErrUnreadableFile    = &RAGError{Code: ErrCodeUnreadableFile}
	ErrModelUnavailable  = &RAGError{Code: ErrCodeModelUnavailable}
	ErrDimensionMismatch = &RAGError{Code: ErrCodeDimensionMismatch}
	ErrInvalidInput      = &RAGError{Code: ErrCodeInvalidInput}
)

// ConfigError creates a configuration error. Configuration errors are fatal.
func ConfigError(message string, cause error) *RAGError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// UnreadableFile reports a corpus file that could not be read or decoded.
func UnreadableFile(path string, cause error) *RAGError {
	return New(ErrCodeUnreadableFile, "unreadable file: "+path, cause).
		WithDetail("path", path)
}

// ModelUnavailable reports that the embedding model could not be reached
// or failed to produce vectors.
func ModelUnavailable(model string, cause error) *RAGError {
	msg := "embedding model unavailable"
	if model != "" {
		msg += ": " + model
	}
	return New(ErrCodeModelUnavailable, msg, cause).
		WithDetail("model", model).
		WithSuggestion("Check that the embedding backend is running, or use provider \"static\"")
}

// DimensionMismatch reports a vector whose length differs from the store's.
func DimensionMismatch(expected, got int) *RAGError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got)).
		WithSuggestion("Re-ingest the corpus into a new store after changing the embedding model")
}

// IOError creates an I/O error.
func IOError(message string, cause error) *RAGError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network error. Network errors are retryable.
func NetworkError(message string, cause error) *RAGError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *RAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RAGError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first RAGError in err's chain.
func As(err error) (*RAGError, bool) {
	var re *RAGError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable RAGError.
func IsRetryable(err error) bool {
	if re, ok := As(err); ok {
		return re.Retryable
	}
	return false
}

// IsFatal reports whether err carries a fatal RAGError.
func IsFatal(err error) bool {
	if re, ok := As(err); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" when err is not a RAGError.
func GetCode(err error) string {
	if re, ok := As(err); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category, or "" when err is not a RAGError.
func GetCategory(err error) Category {
	if re, ok := As(err); ok {
		return re.Category
	}
	return ""
}
