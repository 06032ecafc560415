package processor_test

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchimport/pkg/batch/component/step/processor"
	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

type row struct {
	Name, Age, Nation string
}

type entity struct {
	Name   string
	Age    int
	Nation string
}

func newProcessor(opts ...processor.Option[row, entity]) *processor.RulesProcessor[row, entity] {
	opts = append(opts, processor.WithRules[row, entity](
		processor.RuneLength("name", func(r row) string { return r.Name }, 2, 4),
		processor.Required("nation", func(r row) string { return r.Nation }),
		processor.IntRange("age", func(r row) string { return r.Age }, 0, 150),
	))
	return processor.NewRulesProcessor(func(r row) (entity, error) {
		age, err := strconv.Atoi(r.Age)
		if err != nil {
			return entity{}, err
		}
		return entity{Name: r.Name, Age: age, Nation: r.Nation}, nil
	}, opts...)
}

func TestRulesProcessorAcceptsAndTransforms(t *testing.T) {
	out, err := newProcessor().Process(context.Background(), row{Name: "张三", Age: "21", Nation: "汉族"})
	require.NoError(t, err)
	assert.Equal(t, entity{Name: "张三", Age: 21, Nation: "汉族"}, out)
}

func TestRulesProcessorReportsSingleViolation(t *testing.T) {
	_, err := newProcessor().Process(context.Background(), row{Name: "张", Age: "21", Nation: "汉族"})
	require.Error(t, err)

	var ve *exception.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "name", ve.Field)
	assert.Contains(t, ve.Message, "between 2 and 4")
	assert.ErrorIs(t, err, exception.ErrValidation)
}

func TestRulesProcessorReportsAllViolations(t *testing.T) {
	_, err := newProcessor().Process(context.Background(), row{Name: "张三李四王五", Age: "abc", Nation: " "})
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrValidation)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 3)

	exception.StampPosition(err, 42)
	fields := make([]string, 0, 3)
	for _, e := range merr.Errors {
		var ve *exception.ValidationError
		require.True(t, errors.As(e, &ve))
		assert.Equal(t, int64(42), ve.Position)
		fields = append(fields, ve.Field)
	}
	assert.Equal(t, []string{"name", "nation", "age"}, fields)
}

func TestRulesProcessorWrapsTransformFailure(t *testing.T) {
	p := processor.NewRulesProcessor(func(r row) (entity, error) {
		return entity{}, errors.New("unmappable")
	})
	_, err := p.Process(context.Background(), row{})
	var ve *exception.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "unmappable", ve.Message)
}

func TestRulesProcessorFilter(t *testing.T) {
	p := newProcessor(processor.WithFilter[row, entity](func(r row) bool { return r.Name == "#" }))
	_, err := p.Process(context.Background(), row{Name: "#"})
	assert.ErrorIs(t, err, port.ErrFilterRecord)
}

func TestIntRangeTreatsBlankAsEmpty(t *testing.T) {
	age := processor.IntRange("age", func(s string) string { return s }, 0, 150)
	assert.Nil(t, age.Check(""))
	assert.Nil(t, age.Check("   "))
	assert.Nil(t, age.Check(" 42 "))
	assert.NotNil(t, age.Check("151"))
	assert.NotNil(t, age.Check(" x "))
}

func TestMatchesAndOneOf(t *testing.T) {
	digits := processor.Matches("code", func(s string) string { return s }, regexp.MustCompile(`^\d{2}$`))
	assert.Nil(t, digits.Check("01"))
	assert.NotNil(t, digits.Check("1x"))

	nation := processor.OneOf("nation", func(s string) string { return s }, "01", "02")
	assert.Nil(t, nation.Check("02"))
	ve := nation.Check("03")
	require.NotNil(t, ve)
	assert.Contains(t, ve.Error(), "field 'nation'")
}
