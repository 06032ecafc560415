package skip

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

func TestFailFastNeverSkips(t *testing.T) {
	p := NewFailFastPolicy()
	assert.False(t, p.ShouldSkip(&exception.ValidationError{Field: "name", Message: "bad"}, 0))
	assert.Equal(t, 0, p.SkipLimit())
}

func TestSkipPolicyHonoursLimitAndTypes(t *testing.T) {
	p, err := NewSkipPolicy(2, []string{"ValidationError"})
	require.NoError(t, err)

	verr := fmt.Errorf("process: %w", &exception.ValidationError{Field: "nation", Message: "must not be empty"})
	assert.True(t, p.ShouldSkip(verr, 0))
	assert.True(t, p.ShouldSkip(verr, 1))
	assert.False(t, p.ShouldSkip(verr, 2), "limit reached")
	assert.False(t, p.ShouldSkip(errors.New("database unreachable"), 0), "unlisted errors are fatal")
	assert.False(t, p.ShouldSkip(nil, 0))

	skippable := exception.NewBatchError("processor", "soft failure", nil, true, false)
	assert.True(t, p.ShouldSkip(skippable, 0))
}

func TestNewSkipPolicyRejectsUnknownNames(t *testing.T) {
	_, err := NewSkipPolicy(1, []string{"NoSuchError"})
	assert.Error(t, err)
	_, err = NewSkipPolicy(-1, nil)
	assert.Error(t, err)
}
