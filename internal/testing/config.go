// Package testing runs SWEB userspace tests inside emulated machines. This
// file defines how tests execute (polling, delays, retries) rather than which
// tests run (see testdef.Spec).
package testing

import (
	"time"
)

// TestConfig holds test execution operational parameters.
type TestConfig struct {
	// Interrupt monitoring
	PollInterval    time.Duration
	QuiescencePolls int

	// Guest interaction
	KeystrokeDelay  time.Duration
	BootSettleDelay time.Duration
	SettleDelay     time.Duration
	ShutdownTimeout time.Duration

	// Timeouts from the tortillas config, before scaling
	BootupTimeout      time.Duration
	DefaultTestTimeout time.Duration
	TimeoutFactor      float64

	// Retry bound per test
	MaxRetries int

	// LogDir receives one debug log per test attempt. Empty disables them.
	LogDir string
}

// DefaultTestConfig returns a TestConfig with default values for all test
// execution parameters.
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		// Interrupt monitoring
		PollInterval:    500 * time.Millisecond,
		QuiescencePolls: 10,

		// Guest interaction
		KeystrokeDelay:  200 * time.Millisecond,
		BootSettleDelay: 100 * time.Millisecond,
		SettleDelay:     time.Second,
		ShutdownTimeout: 10 * time.Second,

		// Timeouts
		BootupTimeout:      60 * time.Second,
		DefaultTestTimeout: 30 * time.Second,
		TimeoutFactor:      1,

		MaxRetries: 3,
	}
}

// Scale applies the timeout factor to d.
func (c *TestConfig) Scale(d time.Duration) time.Duration {
	if c.TimeoutFactor <= 0 {
		return d
	}

	return time.Duration(float64(d) * c.TimeoutFactor)
}
