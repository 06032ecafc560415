// Package processor provides the rule-list Validator/Transformer: a record is checked
// against every rule, all violations are reported together, and accepted records are
// transformed into the sink type.
package processor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// Rule checks one constraint of a record. It returns nil when the record satisfies it.
type Rule[T any] interface {
	Check(record T) *exception.ValidationError
}

// RuleFunc adapts a function to Rule.
type RuleFunc[T any] func(record T) *exception.ValidationError

// Check implements Rule.
func (f RuleFunc[T]) Check(record T) *exception.ValidationError {
	return f(record)
}

// FieldRule builds a rule on one field: ok reports whether the extracted value is valid and
// describe renders the violation.
func FieldRule[T, V any](field string, get func(T) V, ok func(V) bool, describe func(V) string) Rule[T] {
	return RuleFunc[T](func(record T) *exception.ValidationError {
		v := get(record)
		if ok(v) {
			return nil
		}
		return &exception.ValidationError{Field: field, Message: describe(v)}
	})
}

// Required rejects empty or blank values.
func Required[T any](field string, get func(T) string) Rule[T] {
	return FieldRule(field, get, func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, func(string) string { return "is required" })
}

// RuneLength rejects values whose length in characters is outside [min, max].
func RuneLength[T any](field string, get func(T) string, min, max int) Rule[T] {
	return FieldRule(field, get, func(v string) bool {
		n := utf8.RuneCountInString(v)
		return n >= min && n <= max
	}, func(v string) string {
		return fmt.Sprintf("length must be between %d and %d, got %q", min, max, v)
	})
}

// Matches rejects values that do not match pattern.
func Matches[T any](field string, get func(T) string, pattern *regexp.Regexp) Rule[T] {
	return FieldRule(field, get, pattern.MatchString, func(v string) string {
		return fmt.Sprintf("must match %s, got %q", pattern, v)
	})
}

// OneOf rejects values outside allowed.
func OneOf[T any](field string, get func(T) string, allowed ...string) Rule[T] {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return FieldRule(field, get, func(v string) bool {
		_, ok := set[v]
		return ok
	}, func(v string) string {
		return fmt.Sprintf("must be one of %v, got %q", allowed, v)
	})
}

// IntRange rejects values that are not integers within [min, max]. Empty or blank values
// pass; combine with Required to reject them.
func IntRange[T any](field string, get func(T) string, min, max int64) Rule[T] {
	return FieldRule(field, get, func(v string) bool {
		v = strings.TrimSpace(v)
		if v == "" {
			return true
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return err == nil && n >= min && n <= max
	}, func(v string) string {
		return fmt.Sprintf("must be an integer between %d and %d, got %q", min, max, v)
	})
}
