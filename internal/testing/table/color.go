package table

import (
	"fmt"

	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/fatih/color"
)

// ColorHelper provides utilities for coloring test output
type ColorHelper struct {
	enabled bool
}

// NewColorHelper creates a new color helper
// Colors are enabled only when outputting to a terminal
func NewColorHelper() *ColorHelper {
	return newColorHelper(!color.NoColor)
}

func newColorHelper(enabled bool) *ColorHelper {
	return &ColorHelper{enabled: enabled}
}

func (c *ColorHelper) paint(text string, attrs ...color.Attribute) string {
	if !c.enabled {
		return text
	}

	return color.New(attrs...).Sprint(text)
}

// Success returns green colored text
func (c *ColorHelper) Success(text string) string {
	return c.paint(text, color.FgGreen)
}

// Failure returns red colored text
func (c *ColorHelper) Failure(text string) string {
	return c.paint(text, color.FgRed)
}

// Warning returns yellow colored text
func (c *ColorHelper) Warning(text string) string {
	return c.paint(text, color.FgYellow)
}

// Muted returns gray colored text
func (c *ColorHelper) Muted(text string) string {
	return c.paint(text, color.FgHiBlack)
}

// Bold returns bold text
func (c *ColorHelper) Bold(text string) string {
	return c.paint(text, color.Bold)
}

// Header returns bold cyan text for section headers
func (c *ColorHelper) Header(text string) string {
	return c.paint(text, color.FgCyan, color.Bold)
}

// FormatStatus colors a verdict status: green for SUCCESS, gray for DISABLED,
// yellow for TIMEOUT and red for everything else.
func (c *ColorHelper) FormatStatus(status result.Status) string {
	text := status.String()

	switch status {
	case result.StatusSuccess:
		return c.Success("✓ " + text)
	case result.StatusDisabled:
		return c.Muted("- " + text)
	case result.StatusTimeout:
		return c.Warning("✗ " + text)
	default:
		return c.Failure("✗ " + text)
	}
}

// FormatPercentage returns colored percentage based on value
func (c *ColorHelper) FormatPercentage(value float64) string {
	text := fmt.Sprintf("%.1f%%", value)

	switch {
	case value == 100.0:
		return c.Success(text)
	case value >= 90.0:
		return c.Warning(text)
	default:
		return c.Failure(text)
	}
}

// FormatCount colors a problem count red unless it is zero.
func (c *ColorHelper) FormatCount(n int) string {
	text := fmt.Sprintf("%d", n)
	if n == 0 {
		return c.Success(text)
	}

	return c.Failure(text)
}
