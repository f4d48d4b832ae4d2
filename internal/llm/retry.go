package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
)

// retryableError marks a failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// statusPattern matches the status code in langchaingo provider errors,
// e.g. "API returned unexpected status code: 429".
var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// isRetryableError reports rate limiting, server errors and timeouts.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code == 429 || code >= 500
	}
	return false
}
