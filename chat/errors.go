package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass represents whether a failed send should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure (network, rate limit, 5xx).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates retrying cannot help (chat gone, auth rejected, canceled).
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	if ec == ErrorClassFatal {
		return "fatal"
	}
	return "retryable"
}

// ClassifySendError classifies an outbound send error.
//
// Rate limiting is checked before auth patterns because YouTube reports
// rateLimitExceeded with HTTP 403. Unknown errors are retryable.
func ClassifySendError(err error) ErrorClass {
	if err == nil {
		return ErrorClassRetryable
	}
	if errors.Is(err, ErrSessionEnded) || errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}
	lower := strings.ToLower(err.Error())
	for _, p := range []string{"ratelimitexceeded", "rate limit", "429", "too many requests", "quota"} {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}
	for _, p := range []string{"401", "unauthorized", "invalid_grant", "forbidden", "403", "banned", "no youtube token"} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

// IsRetryableError reports whether a send error is worth another attempt.
func IsRetryableError(err error) bool { return ClassifySendError(err) == ErrorClassRetryable }
