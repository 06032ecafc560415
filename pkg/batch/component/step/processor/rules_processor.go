package processor

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// Transformer maps an accepted record to the sink type. A returned error rejects the
// record; errors other than ValidationError are reported as record-level violations.
type Transformer[I, O any] func(record I) (O, error)

// RulesProcessor is a port.ItemProcessor that validates with a rule list and then transforms.
type RulesProcessor[I, O any] struct {
	rules     []Rule[I]
	transform Transformer[I, O]
	filter    func(I) bool
}

// Option configures a RulesProcessor.
type Option[I, O any] func(*RulesProcessor[I, O])

// WithFilter drops records for which drop returns true before validation. Dropped records
// are counted as filtered, not skipped.
func WithFilter[I, O any](drop func(I) bool) Option[I, O] {
	return func(p *RulesProcessor[I, O]) { p.filter = drop }
}

// WithRules appends rules.
func WithRules[I, O any](rules ...Rule[I]) Option[I, O] {
	return func(p *RulesProcessor[I, O]) { p.rules = append(p.rules, rules...) }
}

// NewRulesProcessor creates a RulesProcessor.
func NewRulesProcessor[I, O any](transform Transformer[I, O], opts ...Option[I, O]) *RulesProcessor[I, O] {
	p := &RulesProcessor[I, O]{transform: transform}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements port.ItemProcessor. Every rule is evaluated; a single violation is
// returned as is, several as a multierror of ValidationErrors.
func (p *RulesProcessor[I, O]) Process(ctx context.Context, record I) (O, error) {
	var zero O
	if p.filter != nil && p.filter(record) {
		return zero, port.ErrFilterRecord
	}

	var violations *multierror.Error
	for _, rule := range p.rules {
		if ve := rule.Check(record); ve != nil {
			violations = multierror.Append(violations, ve)
		}
	}
	if violations != nil {
		if len(violations.Errors) == 1 {
			return zero, violations.Errors[0]
		}
		return zero, violations
	}

	out, err := p.transform(record)
	if err != nil {
		if errors.Is(err, exception.ErrValidation) || errors.Is(err, port.ErrFilterRecord) {
			return zero, err
		}
		return zero, &exception.ValidationError{Message: err.Error()}
	}
	return out, nil
}

var _ port.ItemProcessor[string, string] = (*RulesProcessor[string, string])(nil)
