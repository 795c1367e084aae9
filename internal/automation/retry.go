package automation

import (
	"strings"
	"time"
)

// RetryPolicy controls how failed deliveries are rescheduled.
type RetryPolicy struct {
	// MaxRetries is the retry budget per job; once retry_count reaches it,
	// the next failure is terminal.
	MaxRetries int
	// BaseDelay is the backoff unit.
	BaseDelay time.Duration
}

// backoffFactorCap bounds the linear backoff growth.
const backoffFactorCap = 8

// NextDelay returns the backoff for the given attempt number (1-based):
// BaseDelay x min(8, attempt).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := attempt
	if factor > backoffFactorCap {
		factor = backoffFactorCap
	}
	return p.BaseDelay * time.Duration(factor)
}

// Budget reports whether another retry may be scheduled given the number of
// retries already consumed.
func (p RetryPolicy) Budget(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// nonRetryableTerms mark configuration, auth and template problems that
// require operator intervention rather than backoff. Matching is a
// lowercase substring scan over the error text, kept as a fallback for
// errors that do not carry an explicit retryability.
var nonRetryableTerms = []string{
	"not configured",
	"não configurado",
	"nao configurado",
	"unauthorized",
	"verify token",
	"token",
	"template",
}

// IsRetryable classifies a delivery error. Errors produced by the provider
// client and the context builder carry a typed answer via IsRetryable();
// anything else falls back to the keyword scan, defaulting to retryable.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, term := range nonRetryableTerms {
		if strings.Contains(msg, term) {
			return false
		}
	}
	return true
}

// RetryableError wraps an error with an explicit retryability decided at the
// throw site.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
