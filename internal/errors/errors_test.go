package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	searchErr := New(ErrCodeFileNotFound, "file not found: test.txt", originalErr)

	require.NotNil(t, searchErr)
	assert.Equal(t, originalErr, errors.Unwrap(searchErr))
	assert.True(t, errors.Is(searchErr, originalErr))
}

func TestSearchError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		component string
		expected  string
	}{
		{
			name:     "without component",
			code:     ErrCodeConfigInvalid,
			message:  "config file not found",
			expected: "[ERR_102_CONFIG_INVALID] config file not found",
		},
		{
			name:      "with component",
			code:      ErrCodeFileNotFound,
			message:   "transcript.body not found",
			component: "corpus",
			expected:  "[ERR_201_FILE_NOT_FOUND] corpus: transcript.body not found",
		},
		{
			name:     "transient error",
			code:     ErrCodeSourceUnavailable,
			message:  "request timed out",
			expected: "[ERR_301_SOURCE_UNAVAILABLE] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			if tt.component != "" {
				err = err.WithComponent(tt.component)
			}
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestSearchError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "recording A not found", nil)
	err2 := New(ErrCodeFileNotFound, "recording B not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestSearchError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "not found", nil)
	err2 := New(ErrCodeConfigInvalid, "bad config", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestSearchError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeFileNotFound, "not found", nil)

	err = err.WithDetail("path", "2026/01/15/abc123.body")
	err = err.WithDetail("size", "1024")

	assert.Equal(t, "2026/01/15/abc123.body", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestSearchError_WithComponent_SetsComponent(t *testing.T) {
	err := New(ErrCodeSourceUnavailable, "connection refused", nil)

	err = err.WithComponent("syncpipe.download")

	assert.Equal(t, "syncpipe.download", err.Component)
}

func TestSearchError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeDimensionMismatch, CategoryConfiguration},
		{ErrCodeConfigInvalid, CategoryConfiguration},
		{ErrCodeFileNotFound, CategoryCorrupt},
		{ErrCodeCorruptRecord, CategoryCorrupt},
		{ErrCodeDuplicateID, CategoryInvariant},
		{ErrCodeSourceUnavailable, CategoryTransient},
		{ErrCodeEncoderUnavailable, CategoryTransient},
		{ErrCodeReasonerUnavailable, CategoryTransient},
		{ErrCodeStrategyTimeout, CategoryPartial},
		{ErrCodeInvalidInput, CategoryPartial},
		{ErrCodeInternal, CategoryPartial},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestSearchError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeDuplicateID, SeverityFatal},
		{ErrCodeReasonerUnavailable, SeverityFatal},
		{ErrCodeFileNotFound, SeverityWarning},
		{ErrCodeSourceUnavailable, SeverityWarning},
		{ErrCodeStrategyTimeout, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestSearchError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeSourceUnavailable, true},
		{ErrCodeEncoderUnavailable, true},
		{ErrCodeStrategyTimeout, true},
		{ErrCodeFileNotFound, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeDuplicateID, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesSearchErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	wrapped := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrCodeInternal, wrapped.Code)
	assert.Equal(t, "something went wrong", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Cause)
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestDimensionMismatch_CreatesFatalConfigurationError(t *testing.T) {
	err := DimensionMismatch(384, 768)

	assert.Equal(t, CategoryConfiguration, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.Equal(t, "384", err.Details["expected"])
	assert.Equal(t, "768", err.Details["got"])
}

func TestCorruptRecord_CreatesCorruptCategoryError(t *testing.T) {
	err := CorruptRecord("abc123", "meta file missing")

	assert.Equal(t, CategoryCorrupt, err.Category)
	assert.Equal(t, "abc123", err.Details["id"])
}

func TestDuplicateID_CreatesInvariantError(t *testing.T) {
	err := DuplicateID("abc123")

	assert.Equal(t, CategoryInvariant, err.Category)
	assert.True(t, err.Severity == SeverityFatal)
}

func TestSourceUnavailable_CreatesRetryableTransientError(t *testing.T) {
	err := SourceUnavailable(errors.New("connection refused"))

	assert.Equal(t, CategoryTransient, err.Category)
	assert.True(t, err.Retryable)
}

func TestReasonerUnavailable_IsTerminalAndNotRetryable(t *testing.T) {
	err := ReasonerUnavailable(errors.New("503 service unavailable"))

	assert.False(t, err.Retryable)
	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable SearchError",
			err:      New(ErrCodeSourceUnavailable, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable SearchError",
			err:      New(ErrCodeFileNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeSourceUnavailable, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(ErrCodeDuplicateID, "divergent hash", nil),
			expected: true,
		},
		{
			name:     "reasoner unavailable",
			err:      ReasonerUnavailable(errors.New("down")),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeFileNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestGetCode_ExtractsCodeFromSearchError(t *testing.T) {
	err := New(ErrCodeFileNotFound, "not found", nil)
	assert.Equal(t, ErrCodeFileNotFound, GetCode(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestGetCategory_ExtractsCategoryFromSearchError(t *testing.T) {
	err := New(ErrCodeDuplicateID, "dup", nil)
	assert.Equal(t, CategoryInvariant, GetCategory(err))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
