package projection

import "errors"

// ErrProjectionNotFound is returned when an operation references a
// projection name that was never registered.
var ErrProjectionNotFound = errors.New("projection not found")

// ErrLockNotAcquired is returned when a rebuild lock is requested while
// another holder already has it. The caller decides whether to retry;
// there is no built-in waiting.
var ErrLockNotAcquired = errors.New("projection lock not acquired")
