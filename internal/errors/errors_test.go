package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAGError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an underlying error
	cause := errors.New("connection refused")

	// When: wrapping it as ModelUnavailable
	err := ModelUnavailable("nomic-embed-text", cause)

	// Then: the cause stays reachable
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestRAGError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeConfigInvalid, "overlap too large", "[ERR_102_CONFIG_INVALID] overlap too large"},
		{"io", ErrCodeUnreadableFile, "unreadable", "[ERR_204_UNREADABLE_FILE] unreadable"},
		{"network", ErrCodeModelUnavailable, "down", "[ERR_303_MODEL_UNAVAILABLE] down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestRAGError_Is_MatchesSentinelThroughWrapping(t *testing.T) {
	// Given: a taxonomy error wrapped by fmt.Errorf
	err := fmt.Errorf("put batch: %w", DimensionMismatch(4, 3))

	// Then: the sentinel matches by code, other sentinels do not
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, ErrCodeDimensionMismatch, GetCode(err))
	assert.Equal(t, CategoryValidation, GetCategory(err))
}

func TestNew_DerivesCategorySeverityRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{ErrCodeUnreadableFile, CategoryIO, SeverityWarning, false},
		{ErrCodeModelUnavailable, CategoryNetwork, SeverityWarning, true},
		{ErrCodeDimensionMismatch, CategoryValidation, SeverityError, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
		{"bad", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestHelpers_ClassifyErrors(t *testing.T) {
	assert.True(t, IsRetryable(ModelUnavailable("m", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsFatal(ConfigError("bad overlap", nil)))
	assert.False(t, IsFatal(UnreadableFile("a.txt", nil)))
	assert.False(t, IsFatal(nil))

	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestDimensionMismatch_CarriesDetails(t *testing.T) {
	err := DimensionMismatch(768, 256)

	assert.Contains(t, err.Message, "expected 768, got 256")
	assert.Equal(t, "768", err.Details["expected"])
	assert.Equal(t, "256", err.Details["got"])
	assert.NotEmpty(t, err.Suggestion)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	out := FormatForCLI(ModelUnavailable("nomic", errors.New("dial tcp: refused")))

	assert.Contains(t, out, "Error: embedding model unavailable: nomic")
	assert.Contains(t, out, "Cause: dial tcp: refused")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, "Code: ERR_303_MODEL_UNAVAILABLE")

	assert.Contains(t, FormatForCLI(errors.New("boom")), "ERR_501_INTERNAL")
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatForLog_FlattensDetails(t *testing.T) {
	fields := FormatForLog(UnreadableFile("docs/a.md", errors.New("permission denied")))

	assert.Equal(t, ErrCodeUnreadableFile, fields["error_code"])
	assert.Equal(t, "docs/a.md", fields["detail_path"])
	assert.Equal(t, "permission denied", fields["cause"])

	assert.Equal(t, map[string]any{"error": "x"}, FormatForLog(errors.New("x")))
	assert.Nil(t, FormatForLog(nil))
}
