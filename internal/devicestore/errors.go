package devicestore

import "errors"

// ErrNotFound is returned when a device ID has no row in the store.
var ErrNotFound = errors.New("device not found in store")
