package table

import (
	"testing"

	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/stretchr/testify/assert"
)

func TestColorHelper_FormatStatus(t *testing.T) {
	t.Parallel()

	helper := newColorHelper(false)

	tests := []struct {
		status   result.Status
		expected string
	}{
		{result.StatusSuccess, "✓ SUCCESS"},
		{result.StatusFailed, "✗ FAILED"},
		{result.StatusPanic, "✗ PANIC"},
		{result.StatusTimeout, "✗ TIMEOUT"},
		{result.StatusError, "✗ ERROR"},
		{result.StatusDisabled, "- DISABLED"},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, helper.FormatStatus(tt.status))
		})
	}
}

func TestColorHelper_FormatPercentage(t *testing.T) {
	t.Parallel()

	helper := newColorHelper(false)

	tests := []struct {
		name     string
		value    float64
		expected string
	}{
		{
			name:     "100%",
			value:    100.0,
			expected: "100.0%",
		},
		{
			name:     "90%",
			value:    90.0,
			expected: "90.0%",
		},
		{
			name:     "0%",
			value:    0.0,
			expected: "0.0%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, helper.FormatPercentage(tt.value))
		})
	}
}

func TestColorHelper_ColorsEnabled(t *testing.T) {
	t.Parallel()

	plain := newColorHelper(false)
	assert.Equal(t, "test", plain.Success("test"))
	assert.Equal(t, "test", plain.Failure("test"))
	assert.Equal(t, "3", plain.FormatCount(3))
}
