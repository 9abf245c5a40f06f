package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessStartError_Unwrap(t *testing.T) {
	cause := errors.New("executable not found")
	err := &ProcessStartError{Server: "acme", Stage: "start", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "acme")
	assert.Contains(t, err.Error(), "start")
}

func TestValidationError_ListsAllViolations(t *testing.T) {
	err := &ValidationError{
		Account:    "acme-co",
		StartDate:  "2026-01-01",
		EndDate:    "2026-01-31",
		Violations: []string{"no segments", "no campaigns or flows"},
		Warnings:   []string{"no flows"},
	}

	msg := err.Error()
	assert.Contains(t, msg, "acme-co")
	assert.Contains(t, msg, "2026-01-01 to 2026-01-31")
	assert.Contains(t, msg, "no segments")
	assert.Contains(t, msg, "no campaigns or flows")
	assert.Contains(t, msg, "no flows")
}

func TestValidationError_NoDateRange(t *testing.T) {
	err := &ValidationError{Account: "acme-co", Violations: []string{"no segments"}}

	assert.NotContains(t, err.Error(), "(")
	assert.Contains(t, err.Error(), "no segments")
}

func TestSentinels_WrapCorrectly(t *testing.T) {
	tests := []struct {
		name     string
		sentinel error
	}{
		{"no server config", ErrNoServerConfig},
		{"server not found", ErrServerNotFound},
		{"ambiguous server", ErrAmbiguousServer},
		{"server not ready", ErrServerNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.sentinel)
			require.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestToolCallError_Message(t *testing.T) {
	err := &ToolCallError{Server: "Acme Klaviyo", Tool: "klaviyo_get_segments", Message: "rate limited"}

	assert.Contains(t, err.Error(), "klaviyo_get_segments")
	assert.Contains(t, err.Error(), "Acme Klaviyo")
	assert.Contains(t, err.Error(), "rate limited")
}
