package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_BasicError(t *testing.T) {
	err := New(ErrCodeFileNotFound, "recording 'abc123.body' not found", nil)

	result := FormatForUser(err)

	assert.Contains(t, result, "recording 'abc123.body' not found")
	assert.Contains(t, result, "[ERR_201_FILE_NOT_FOUND]")
}

func TestFormatForUser_WithComponent(t *testing.T) {
	err := New(ErrCodeSourceUnavailable, "connection refused", nil).
		WithComponent("syncpipe.download")

	result := FormatForUser(err)

	assert.Contains(t, result, "(in syncpipe.download)")
}

func TestFormatForUser_StandardError(t *testing.T) {
	err := errors.New("something went wrong")

	result := FormatForUser(err)

	assert.Contains(t, result, "something went wrong")
}

func TestFormatForUser_NilError(t *testing.T) {
	result := FormatForUser(nil)

	assert.Empty(t, result)
}

func TestFormatJSON_BasicError(t *testing.T) {
	err := New(ErrCodeFileNotFound, "not found", nil).
		WithDetail("path", "/corpus/2026/01/15/abc123.body").
		WithComponent("corpus")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, ErrCodeFileNotFound, result["code"])
	assert.Equal(t, "not found", result["message"])
	assert.Equal(t, string(CategoryCorrupt), result["category"])
	assert.Equal(t, string(SeverityWarning), result["severity"])
	assert.Equal(t, "corpus", result["component"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/corpus/2026/01/15/abc123.body", details["path"])
}

func TestFormatJSON_StandardError(t *testing.T) {
	err := errors.New("generic error")

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, ErrCodeInternal, result["code"])
	assert.Equal(t, "generic error", result["message"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)

	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatJSON_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(ErrCodeInternal, "operation failed", cause)

	data, jsonErr := FormatJSON(err)

	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "underlying error", result["cause"])
}

func TestFormatForLog_IncludesComponentAndDetails(t *testing.T) {
	err := New(ErrCodeDuplicateID, "divergent hash", nil).
		WithComponent("corpus").
		WithDetail("id", "abc123")

	result := FormatForLog(err)

	assert.Equal(t, ErrCodeDuplicateID, result["error_code"])
	assert.Equal(t, "corpus", result["component"])
	assert.Equal(t, "abc123", result["detail_id"])
}

func TestFormatForLog_NilError(t *testing.T) {
	assert.Nil(t, FormatForLog(nil))
}

func TestFormatForLog_StandardError(t *testing.T) {
	result := FormatForLog(errors.New("plain"))

	assert.Equal(t, "plain", result["error"])
}
