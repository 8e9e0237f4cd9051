package registry

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("registry: globalID not found")
	ErrGIDMismatch = errors.New("registry: globalID mismatch")
	ErrOverlay     = errors.New("registry: overlay failure")
)

// StoredRecordError - An envelope held by the overlay failed verification. Unlike a
// verification failure on submitted input this is a fault of the network, not of
// the caller.
type StoredRecordError struct {
	GID string
	Err error
}

func (e *StoredRecordError) Error() string {
	return fmt.Sprintf("registry: stored record for %q is corrupt: %v", e.GID, e.Err)
}

func (e *StoredRecordError) Unwrap() error {
	return e.Err
}

// IsStoredRecordError reports whether err carries a *StoredRecordError.
func IsStoredRecordError(err error) bool {
	var se *StoredRecordError
	return errors.As(err, &se)
}
