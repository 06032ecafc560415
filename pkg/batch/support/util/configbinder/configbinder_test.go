package configbinder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleProps struct {
	Path      string        `yaml:"path"`
	HasHeader bool          `yaml:"has_header"`
	Fields    []string      `yaml:"fields"`
	Timeout   time.Duration `yaml:"timeout"`
	Count     int           `yaml:"count"`
}

func TestBindPropertiesWeaklyTyped(t *testing.T) {
	var props sampleProps
	err := BindProperties(map[string]interface{}{
		"path":       "people.csv",
		"has_header": "true",
		"fields":     "name,age,nation,address",
		"timeout":    "5s",
		"count":      "12",
	}, &props)
	require.NoError(t, err)

	assert.Equal(t, "people.csv", props.Path)
	assert.True(t, props.HasHeader)
	assert.Equal(t, []string{"name", "age", "nation", "address"}, props.Fields)
	assert.Equal(t, 5*time.Second, props.Timeout)
	assert.Equal(t, 12, props.Count)
}

func TestBindStringPropertiesReportsTarget(t *testing.T) {
	var props sampleProps
	err := BindStringProperties(map[string]string{"count": "many"}, &props)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampleProps")
}

func TestBindPropertiesEmptyIsNoop(t *testing.T) {
	props := sampleProps{Path: "keep"}
	require.NoError(t, BindProperties(nil, &props))
	assert.Equal(t, "keep", props.Path)
}
