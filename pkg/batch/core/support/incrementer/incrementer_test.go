package incrementer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

func TestRunIDIncrementer(t *testing.T) {
	inc := NewRunIDIncrementer("")
	base := model.NewJobParametersBuilder().AddString("input.file.name", "people.csv").ToJobParameters()

	first := inc.GetNext(base)
	id, ok := first.GetLong(DefaultRunIDKey)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	second := inc.GetNext(first)
	id, _ = second.GetLong(DefaultRunIDKey)
	assert.Equal(t, int64(2), id)
	assert.NotEqual(t, first.Hash(), second.Hash())

	_, ok = base.GetLong(DefaultRunIDKey)
	assert.False(t, ok, "input parameters must not be mutated")
}

func TestUIDIncrementer(t *testing.T) {
	inc := NewUIDIncrementer("")
	inc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	base := model.NewJobParameters()

	a := inc.GetNext(base)
	b := inc.GetNext(base)
	uidA, ok := a.GetString(DefaultUIDKey)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(uidA, "@1700000000000"))
	assert.NotEqual(t, a.Hash(), b.Hash())
}
