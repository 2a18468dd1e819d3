// Package machine runs SWEB inside emulated machines.
package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrSpawn is returned when the emulator process cannot be started.
	ErrSpawn = errors.New("spawning machine")
	// ErrExited is returned when a machine process is no longer running.
	ErrExited = errors.New("machine exited")
	// ErrUnsupportedArch is returned for architectures without an emulator.
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// Machine is one running emulator process.
type Machine interface {
	// Name identifies the machine in logs.
	Name() string
	// InterruptTrace streams the interrupt trace. Reads return io.EOF when no
	// new data is available yet.
	InterruptTrace() io.Reader
	// DebugLog streams the guest debug console with the same read semantics.
	DebugLog() io.Reader
	// DebugLogPath is the on-disk location of the debug console output.
	DebugLogPath() string
	// SendGuestInput types input into the guest shell.
	SendGuestInput(ctx context.Context, input string) error
	// Snapshot saves the running state and stops the machine. The returned
	// snapshot owns the disk image.
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns why the process exited, or nil while it runs.
	Err() error
	// Terminate kills the process and releases every resource it holds. It is
	// safe to call more than once.
	Terminate() error
}

// Launcher starts machines.
type Launcher interface {
	// Boot starts a fresh machine from the build image.
	Boot(ctx context.Context, name string) (Machine, error)
	// RestoreFrom starts a machine from a private copy of snap.
	RestoreFrom(ctx context.Context, snap *Snapshot, name string) (Machine, error)
}

// Snapshot is a saved machine state. The image is shared read-only; every
// restore works on its own clone.
type Snapshot struct {
	Image string
	Tag   string
}

// Release removes the snapshot image.
func (s *Snapshot) Release() error {
	if s == nil || s.Image == "" {
		return nil
	}

	if err := os.Remove(s.Image); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot image: %w", err)
	}

	return nil
}

// Alive reports whether m is still running.
func Alive(m Machine) bool {
	select {
	case <-m.Done():
		return false
	default:
		return true
	}
}
