package incrementer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// DefaultUIDKey is the parameter UIDIncrementer maintains by default.
const DefaultUIDKey = "uid"

// UIDIncrementer sets a STRING parameter to "<uuid>@<unix millis>" so every launch is a new instance.
type UIDIncrementer struct {
	name string
	now  func() time.Time
}

// NewUIDIncrementer creates a UIDIncrementer for the parameter name; empty means "uid".
func NewUIDIncrementer(name string) *UIDIncrementer {
	if name == "" {
		name = DefaultUIDKey
	}
	return &UIDIncrementer{name: name, now: time.Now}
}

// GetNext implements port.JobParametersIncrementer.
func (i *UIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	uid := fmt.Sprintf("%s@%d", uuid.NewString(), i.now().UnixMilli())
	logger.Debugf("JobParametersIncrementer '%s': Setting '%s' to %s.", i, i.name, uid)
	return params.With(i.name, model.StringParam(uid))
}

// String returns the string representation of UIDIncrementer.
func (i *UIDIncrementer) String() string {
	return fmt.Sprintf("UIDIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*UIDIncrementer)(nil)
