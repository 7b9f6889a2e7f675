package sim

import (
	"errors"
	"fmt"
)

// ErrBackendPanic wraps a panic recovered from an adapter call.
var ErrBackendPanic = errors.New("backend panicked")

// Guard runs one adapter call and converts a panic into an error, so a single
// backend quirk degrades the affected operation instead of the session.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBackendPanic, r)
		}
	}()
	return fn()
}
