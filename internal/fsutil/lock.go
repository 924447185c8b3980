package fsutil

import "errors"

// ErrLocked is returned when another process (or another open handle in this
// process) already holds the lock.
var ErrLocked = errors.New("lock is held by another instance")
