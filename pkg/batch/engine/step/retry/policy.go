// Package retry decides whether a failed chunk commit is attempted again.
package retry

import (
	"errors"
	"time"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// RetryPolicy defines chunk commit retry.
type RetryPolicy interface {
	// ShouldRetry reports whether err may be retried after attempt failed attempts.
	ShouldRetry(err error, attempt int) bool
	// BackoffInterval returns the wait before the retry following attempt failed attempts (attempt >= 1).
	BackoffInterval(attempt int) time.Duration
	// MaxAttempts returns the number of retries allowed; 0 disables retry.
	MaxAttempts() int
}

// Settings configures NewRetryPolicy.
type Settings struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Factor          float64
	RetryableErrors []string
}

type defaultRetryPolicy struct {
	settings Settings
}

// NewRetryPolicy creates an exponential backoff RetryPolicy.
func NewRetryPolicy(settings Settings) (RetryPolicy, error) {
	if settings.MaxAttempts < 0 {
		return nil, exception.NewBatchErrorf("retry", "max attempts must not be negative, got %d", settings.MaxAttempts)
	}
	for _, name := range settings.RetryableErrors {
		if !exception.IsErrorTypeRegistered(name) {
			return nil, exception.NewBatchErrorf("retry", "unknown retryable error type '%s'", name)
		}
	}
	if settings.Factor < 1 {
		settings.Factor = 1
	}
	return &defaultRetryPolicy{settings: settings}, nil
}

// NoRetry returns the policy that never retries.
func NoRetry() RetryPolicy {
	return &defaultRetryPolicy{settings: Settings{Factor: 1}}
}

// MaxAttempts implements RetryPolicy.
func (p *defaultRetryPolicy) MaxAttempts() int {
	return p.settings.MaxAttempts
}

// ShouldRetry retries retryable BatchErrors, transient errors and configured types.
// Validation failures are never retried.
func (p *defaultRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt > p.settings.MaxAttempts || errors.Is(err, exception.ErrValidation) {
		return false
	}
	if exception.IsRetryable(err) || exception.IsTemporary(err) {
		return true
	}
	for _, typeName := range p.settings.RetryableErrors {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// BackoffInterval implements RetryPolicy.
func (p *defaultRetryPolicy) BackoffInterval(attempt int) time.Duration {
	interval := float64(p.settings.InitialInterval)
	for i := 1; i < attempt; i++ {
		interval *= p.settings.Factor
	}
	d := time.Duration(interval)
	if p.settings.MaxInterval > 0 && d > p.settings.MaxInterval {
		return p.settings.MaxInterval
	}
	return d
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
