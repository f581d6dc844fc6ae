package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded matches every *RateLimitError through errors.Is.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitError is an admission rejection. RetryAfter is the time until the
// actor's oldest request leaves the window.
type RateLimitError struct {
	ActorID    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.ActorID, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }
