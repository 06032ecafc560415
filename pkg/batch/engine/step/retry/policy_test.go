package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

func TestNoRetry(t *testing.T) {
	p := NoRetry()
	assert.False(t, p.ShouldRetry(exception.NewBatchError("writer", "lost connection", nil, false, true), 1))
}

func TestRetryPolicy(t *testing.T) {
	p, err := NewRetryPolicy(Settings{
		MaxAttempts:     2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
		Factor:          2,
		RetryableErrors: []string{"SinkError"},
	})
	require.NoError(t, err)

	sinkErr := &exception.SinkError{FirstPosition: 1, LastPosition: 10, RecordPosition: -1, Cause: errors.New("deadlock")}
	assert.True(t, p.ShouldRetry(sinkErr, 1))
	assert.True(t, p.ShouldRetry(sinkErr, 2))
	assert.False(t, p.ShouldRetry(sinkErr, 3))
	assert.False(t, p.ShouldRetry(&exception.ValidationError{Field: "name", Message: "bad"}, 1))
	assert.False(t, p.ShouldRetry(errors.New("constraint"), 1))

	assert.Equal(t, 100*time.Millisecond, p.BackoffInterval(1))
	assert.Equal(t, 200*time.Millisecond, p.BackoffInterval(2))
	assert.Equal(t, 250*time.Millisecond, p.BackoffInterval(3))
}

func TestNewRetryPolicyRejectsUnknownNames(t *testing.T) {
	_, err := NewRetryPolicy(Settings{MaxAttempts: 1, RetryableErrors: []string{"Nope"}})
	assert.Error(t, err)
}
