package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser returns a user-visible error message: a short reason, the
// phase/component, and a stable error code (spec §7).
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	se, ok := err.(*SearchError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(se.Message)
	if se.Component != "" {
		sb.WriteString(fmt.Sprintf(" (in %s)", se.Component))
	}
	sb.WriteString(fmt.Sprintf(" [%s]", se.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Severity  string            `json:"severity"`
	Component string            `json:"component,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Retryable bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error, suitable for
// machine consumption and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	se, ok := err.(*SearchError)
	if !ok {
		se = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:      se.Code,
		Message:   se.Message,
		Category:  string(se.Category),
		Severity:  string(se.Severity),
		Component: se.Component,
		Details:   se.Details,
		Retryable: se.Retryable,
	}

	if se.Cause != nil {
		je.Cause = se.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging via log/slog.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	se, ok := err.(*SearchError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": se.Code,
		"message":    se.Message,
		"category":   string(se.Category),
		"severity":   string(se.Severity),
		"retryable":  se.Retryable,
	}

	if se.Component != "" {
		result["component"] = se.Component
	}
	if se.Cause != nil {
		result["cause"] = se.Cause.Error()
	}
	for k, v := range se.Details {
		result["detail_"+k] = v
	}

	return result
}
