package domain

import "errors"

// ErrLockTimeout is returned by a Locker when the key stayed held until ctx ended.
var ErrLockTimeout = errors.New("timed out waiting for slot lock")
