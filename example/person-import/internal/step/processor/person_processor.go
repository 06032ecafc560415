// Package processor validates person rows and converts them to persons.
package processor

import (
	"fmt"
	"strconv"
	"strings"

	batchprocessor "github.com/tigerroll/batchimport/pkg/batch/component/step/processor"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"

	"github.com/tigerroll/batchimport/example/person-import/internal/domain"
)

// Nation codes stored for a person.
const (
	HanNation    = "汉族"
	HanCode      = "01"
	MinorityCode = "02"
)

// Bounds of the name length, in characters.
const (
	MinNameLength = 2
	MaxNameLength = 4
)

// MaxAge is the largest accepted age.
const MaxAge = 150

// NewPersonProcessor returns the processor of the person import step. A row is rejected
// when its name is not 2 to 4 characters long, its nation is empty or its age is not a
// number; every broken rule is reported.
func NewPersonProcessor() *batchprocessor.RulesProcessor[domain.PersonRecord, domain.Person] {
	return batchprocessor.NewRulesProcessor[domain.PersonRecord, domain.Person](
		toPerson,
		batchprocessor.WithRules[domain.PersonRecord, domain.Person](
			batchprocessor.RuneLength("name", func(r domain.PersonRecord) string { return r.Name }, MinNameLength, MaxNameLength),
			batchprocessor.Required("nation", func(r domain.PersonRecord) string { return r.Nation }),
			batchprocessor.IntRange("age", func(r domain.PersonRecord) string { return r.Age }, 0, MaxAge),
		),
	)
}

func toPerson(r domain.PersonRecord) (domain.Person, error) {
	age, err := parseAge(r.Age)
	if err != nil {
		return domain.Person{}, &exception.ValidationError{Field: "age", Message: err.Error()}
	}
	return domain.Person{
		Name:    r.Name,
		Age:     age,
		Nation:  NationCode(r.Nation),
		Address: r.Address,
	}, nil
}

func parseAge(v string) (int32, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid age %q", v)
	}
	return int32(n), nil
}

// NationCode maps 汉族 to 01 and any other nation to 02.
func NationCode(nation string) string {
	if nation == HanNation {
		return HanCode
	}
	return MinorityCode
}
