package testing

import "errors"

var (
	// ErrBootFailure is returned when the base machine never signals bootup.
	// It aborts the whole run.
	ErrBootFailure = errors.New("base machine failed to boot")
	// ErrSnapshotFailure is returned when the booted base cannot be saved.
	ErrSnapshotFailure = errors.New("creating base snapshot failed")
)
