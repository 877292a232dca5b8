package shopify

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// UpstreamError reports a failed exchange with the platform. Status is 0 for transport failures.
type UpstreamError struct {
	Method    string
	Path      string
	Status    int
	Body      string
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("shopify %s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("shopify %s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("shopify %s %s: %d %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimitExceeded is returned when every attempt of a call was answered with 429.
type RateLimitExceeded struct {
	Method     string
	Path       string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("shopify %s %s: rate limit exceeded after %d attempts", e.Method, e.Path, e.Attempts)
}

// IsRetryable reports whether err is a transient upstream failure worth retrying later.
func IsRetryable(err error) bool {
	var rle *RateLimitExceeded
	if errors.As(err, &rle) {
		return true
	}
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Retryable
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var rle *RateLimitExceeded
	if errors.As(err, &rle) {
		return http.StatusTooManyRequests
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}
