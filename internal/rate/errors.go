package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is returned (wrapped in *LimitError) once a window budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps store failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LimitError reports when the current window ends.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return ErrRateLimited }
