// Package guard provides admission control for expensive operations:
// threshold checks, a bounded concurrency limiter, an emergency
// shutdown latch, and the watchdog that clears it after cooldown.
package guard

import (
	"errors"
	"fmt"
	"time"
)

// ErrTooManyOperations is returned when the concurrency cap is reached.
// It is a hard cap, not a queue: callers retry after a release.
var ErrTooManyOperations = errors.New("too many concurrent operations")

// DeniedError reports a guard denial with the observed reason and a
// suggested retry delay. It is recoverable; callers should back off
// and retry or abandon the operation.
type DeniedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("operation denied: %s (retry in %s)", e.Reason, e.RetryAfter)
}

// IsDenied reports whether err is a guard denial and returns it.
func IsDenied(err error) (*DeniedError, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}
