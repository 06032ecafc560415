// Package skip decides whether a rejected record may be skipped.
package skip

import (
	"errors"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// SkipPolicy decides whether a record error is tolerated.
// Policies are stateless: the caller passes the skip count of the uncommitted progress,
// so rolled back chunks and restarts are accounted for correctly.
type SkipPolicy interface {
	// ShouldSkip reports whether err may be skipped given that skipCount records were skipped so far.
	ShouldSkip(err error, skipCount int) bool
	// SkipLimit returns the maximum number of skips; 0 means fail-fast.
	SkipLimit() int
}

// defaultSkipPolicy skips errors that match a configured type name or are skippable
// BatchErrors, up to skipLimit.
type defaultSkipPolicy struct {
	skipLimit         int
	skippableErrors []string
}

// NewSkipPolicy creates a SkipPolicy. Every name in skippableErrors must be registered
// with exception.RegisterErrorType.
func NewSkipPolicy(skipLimit int, skippableErrors []string) (SkipPolicy, error) {
	if skipLimit < 0 {
		return nil, exception.NewBatchErrorf("skip", "skip limit must not be negative, got %d", skipLimit)
	}
	for _, name := range skippableErrors {
		if !exception.IsErrorTypeRegistered(name) {
			return nil, exception.NewBatchErrorf("skip", "unknown skippable error type '%s'", name)
		}
	}
	return &defaultSkipPolicy{skipLimit: skipLimit, skippableErrors: skippableErrors}, nil
}

// NewFailFastPolicy returns the policy that never skips.
func NewFailFastPolicy() SkipPolicy {
	return &defaultSkipPolicy{}
}

// ShouldSkip implements SkipPolicy.
func (p *defaultSkipPolicy) ShouldSkip(err error, skipCount int) bool {
	if err == nil || p.skipLimit == 0 || skipCount >= p.skipLimit {
		return false
	}

	var be *exception.BatchError
	if errors.As(err, &be) && be.IsSkippable() {
		return true
	}
	for _, typeName := range p.skippableErrors {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// SkipLimit implements SkipPolicy.
func (p *defaultSkipPolicy) SkipLimit() int {
	return p.skipLimit
}

var _ SkipPolicy = (*defaultSkipPolicy)(nil)
