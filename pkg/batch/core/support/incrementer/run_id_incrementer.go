// Package incrementer provides JobParametersIncrementer implementations.
package incrementer

import (
	"fmt"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// DefaultRunIDKey is the parameter RunIDIncrementer maintains by default.
const DefaultRunIDKey = "run.id"

// RunIDIncrementer sets a LONG parameter to 1, or to its previous value plus one.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a RunIDIncrementer for the parameter name; empty means "run.id".
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	if name == "" {
		name = DefaultRunIDKey
	}
	return &RunIDIncrementer{name: name}
}

// GetNext implements port.JobParametersIncrementer.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	current, ok := params.GetLong(i.name)
	if !ok {
		logger.Debugf("JobParametersIncrementer '%s': '%s' not found, setting to 1.", i, i.name)
		return params.With(i.name, model.LongParam(1))
	}
	logger.Debugf("JobParametersIncrementer '%s': Incrementing '%s' from %d to %d.", i, i.name, current, current+1)
	return params.With(i.name, model.LongParam(current+1))
}

// String returns the string representation of RunIDIncrementer.
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)
