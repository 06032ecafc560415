package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

func TestJobParametersHashIsOrderIndependent(t *testing.T) {
	ab := model.NewJobParametersBuilder().AddLong("a", 1).AddLong("b", 2).ToJobParameters()
	ba := model.NewJobParametersBuilder().AddLong("b", 2).AddLong("a", 1).ToJobParameters()

	assert.Equal(t, ab.Hash(), ba.Hash())
	assert.True(t, ab.Equal(ba))
	assert.Equal(t, []string{"a", "b"}, ab.Keys())
	assert.Equal(t, []string{"b", "a"}, ba.Keys())
}

func TestJobParametersDistinctWithExtraKey(t *testing.T) {
	plain := model.NewJobParametersBuilder().AddString("input", "a.csv").ToJobParameters()
	withUID := model.NewJobParametersBuilder().AddString("input", "a.csv").AddString("uid", "x").ToJobParameters()

	assert.NotEqual(t, plain.Hash(), withUID.Hash())
	assert.False(t, plain.Equal(withUID))
}

func TestJobParametersTypeTakesPartInIdentity(t *testing.T) {
	asLong := model.NewJobParametersBuilder().AddLong("n", 1).ToJobParameters()
	asString := model.NewJobParametersBuilder().AddString("n", "1").ToJobParameters()

	assert.NotEqual(t, asLong.Hash(), asString.Hash())
}

func TestTransientParametersAreIgnoredForIdentity(t *testing.T) {
	base := model.NewJobParametersBuilder().AddString("input", "a.csv").ToJobParameters()
	withTransient := base.With("requested.by", model.StringParam("ops").Transient())

	assert.Equal(t, base.Hash(), withTransient.Hash())
	assert.True(t, base.Equal(withTransient))
	assert.Equal(t, 1, base.Len(), "With must not modify the receiver")
	assert.Equal(t, 2, withTransient.Len())
}

func TestJobParametersJSONRoundTripKeepsTypes(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	params := model.NewJobParametersBuilder().
		AddString("input.file.name", "people.csv").
		AddLong("run.id", 3).
		AddDouble("ratio", 0.5).
		AddDate("as_of", when).
		AddBool("dry_run", true).
		Add("note", model.StringParam("x").Transient()).
		ToJobParameters()

	data, err := json.Marshal(params)
	require.NoError(t, err)

	var decoded model.JobParameters
	require.NoError(t, json.Unmarshal(data, &decoded))

	runID, ok := decoded.GetLong("run.id")
	assert.True(t, ok)
	assert.Equal(t, int64(3), runID)
	asOf, ok := decoded.GetDate("as_of")
	assert.True(t, ok)
	assert.True(t, when.Equal(asOf))
	note, _ := decoded.Get("note")
	assert.False(t, note.Identifying)
	assert.Equal(t, params.Hash(), decoded.Hash())
	assert.Equal(t, params.Keys(), decoded.Keys())
}

func TestJobParametersScan(t *testing.T) {
	params := model.NewJobParametersBuilder().AddString("k", "v").ToJobParameters()
	value, err := params.Value()
	require.NoError(t, err)

	var scanned model.JobParameters
	require.NoError(t, scanned.Scan([]byte(value.(string))))
	assert.True(t, params.Equal(scanned))

	require.NoError(t, scanned.Scan(nil))
	assert.Equal(t, 0, scanned.Len())
	assert.Error(t, scanned.Scan(42))
}

func TestParseJobParameters(t *testing.T) {
	params, err := model.ParseJobParameters([]string{
		"input.file.name=people.csv",
		"run.id(long)=7",
		"ratio(double)=1.5",
		"dry_run(bool)=false",
		"as_of(date)=2024-03-01T00:00:00Z",
		"-requested.by=ops",
	})
	require.NoError(t, err)

	name, _ := params.GetString("input.file.name")
	assert.Equal(t, "people.csv", name)
	runID, _ := params.GetLong("run.id")
	assert.Equal(t, int64(7), runID)
	ratio, _ := params.GetDouble("ratio")
	assert.Equal(t, 1.5, ratio)
	dryRun, ok := params.GetBool("dry_run")
	assert.True(t, ok)
	assert.False(t, dryRun)
	requestedBy, _ := params.Get("requested.by")
	assert.False(t, requestedBy.Identifying)

	_, err = model.ParseJobParameters([]string{"novalue"})
	assert.Error(t, err)
	_, err = model.ParseJobParameters([]string{"n(long)=abc"})
	assert.Error(t, err)
	_, err = model.ParseJobParameters([]string{"n(blob)=abc"})
	assert.Error(t, err)
}
