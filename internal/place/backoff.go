package place

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetrySchedule models the fetcher's backoff as a pure attempt -> delay
// function so the retry loop can be unit-tested without a network.
type RetrySchedule struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetrySchedule matches the upstream provider's tolerance: five
// attempts, 7s before the second, doubling each time.
func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{MaxAttempts: 5, BaseDelay: 7 * time.Second}
}

// Delay returns the wait before retrying after the given failed attempt
// (1-based). Attempts outside the schedule yield zero.
func (s RetrySchedule) Delay(attempt int) time.Duration {
	if attempt < 1 || attempt >= s.MaxAttempts {
		return 0
	}
	return s.BaseDelay << (attempt - 1)
}

// Retryable classifies an error per the failure taxonomy: transport
// failures, timeouts, 429 and 5xx are transient; other upstream statuses
// and malformed payloads are permanent; a canceled context is final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMalformedPayload) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode == http.StatusTooManyRequests || ue.StatusCode >= 500
	}
	// Transport-level failure (connection refused, reset, deadline).
	return true
}
