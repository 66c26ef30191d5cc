package backend

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a transport- or auth-level failure. It is fatal to
// the turn; no retries happen inside the core.
var ErrUnavailable = errors.New("backend: unavailable")

// ErrUnknownBackend reports a selection of a name no adapter registered.
var ErrUnknownBackend = errors.New("backend: unknown backend")

// ErrDuplicateBackend reports a second registration under an existing name.
var ErrDuplicateBackend = errors.New("backend: duplicate backend")

// ErrModelLoadFailed reports that a local model could not be made resident.
// Residency rolls back to unloaded so the next call retries cleanly.
var ErrModelLoadFailed = errors.New("backend: model load failed")

// Unavailable wraps a transport error into ErrUnavailable, preserving the
// cause for errors.Is/As inspection.
func Unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
}
