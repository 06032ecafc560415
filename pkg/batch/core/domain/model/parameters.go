package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/serialization"
)

// ParameterType is the scalar type of a job parameter.
type ParameterType string

const (
	ParameterTypeString ParameterType = "STRING"
	ParameterTypeLong   ParameterType = "LONG"
	ParameterTypeDouble ParameterType = "DOUBLE"
	ParameterTypeDate   ParameterType = "DATE"
	ParameterTypeBool   ParameterType = "BOOL"
)

// JobParameter is one typed scalar value. Non-identifying parameters are carried
// along with the execution but do not take part in instance identity.
type JobParameter struct {
	Type        ParameterType
	Value       interface{}
	Identifying bool
}

// StringParam creates an identifying string parameter.
func StringParam(v string) JobParameter {
	return JobParameter{Type: ParameterTypeString, Value: v, Identifying: true}
}

// LongParam creates an identifying integer parameter.
func LongParam(v int64) JobParameter {
	return JobParameter{Type: ParameterTypeLong, Value: v, Identifying: true}
}

// DoubleParam creates an identifying floating point parameter.
func DoubleParam(v float64) JobParameter {
	return JobParameter{Type: ParameterTypeDouble, Value: v, Identifying: true}
}

// DateParam creates an identifying timestamp parameter. The value is normalized to UTC.
func DateParam(v time.Time) JobParameter {
	return JobParameter{Type: ParameterTypeDate, Value: v.UTC(), Identifying: true}
}

// BoolParam creates an identifying boolean parameter.
func BoolParam(v bool) JobParameter {
	return JobParameter{Type: ParameterTypeBool, Value: v, Identifying: true}
}

// Transient returns a non-identifying copy of p.
func (p JobParameter) Transient() JobParameter {
	p.Identifying = false
	return p
}

// canonical renders the value in a stable, type-tagged form used for hashing and equality.
func (p JobParameter) canonical() string {
	var s string
	switch v := p.Value.(type) {
	case string:
		s = v
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		s = v.UTC().Format(time.RFC3339Nano)
	case bool:
		s = strconv.FormatBool(v)
	default:
		s = fmt.Sprintf("%v", v)
	}
	return string(p.Type) + ":" + s
}

// JobParameters is an ordered, immutable mapping from name to typed parameter.
// Two JobParameters are equivalent when their identifying entries are equal, regardless of order.
type JobParameters struct {
	keys   []string
	params map[string]JobParameter
}

// NewJobParameters returns empty parameters.
func NewJobParameters() JobParameters {
	return JobParameters{params: map[string]JobParameter{}}
}

// Get returns the parameter stored under key.
func (jp JobParameters) Get(key string) (JobParameter, bool) {
	p, ok := jp.params[key]
	return p, ok
}

// GetString returns the string value of key.
func (jp JobParameters) GetString(key string) (string, bool) {
	p, ok := jp.params[key]
	if !ok {
		return "", false
	}
	s, ok := p.Value.(string)
	return s, ok
}

// GetLong returns the integer value of key.
func (jp JobParameters) GetLong(key string) (int64, bool) {
	p, ok := jp.params[key]
	if !ok {
		return 0, false
	}
	v, ok := p.Value.(int64)
	return v, ok
}

// GetDouble returns the floating point value of key.
func (jp JobParameters) GetDouble(key string) (float64, bool) {
	p, ok := jp.params[key]
	if !ok {
		return 0, false
	}
	v, ok := p.Value.(float64)
	return v, ok
}

// GetDate returns the timestamp value of key.
func (jp JobParameters) GetDate(key string) (time.Time, bool) {
	p, ok := jp.params[key]
	if !ok {
		return time.Time{}, false
	}
	v, ok := p.Value.(time.Time)
	return v, ok
}

// GetBool returns the boolean value of key.
func (jp JobParameters) GetBool(key string) (bool, bool) {
	p, ok := jp.params[key]
	if !ok {
		return false, false
	}
	v, ok := p.Value.(bool)
	return v, ok
}

// Keys returns the parameter names in insertion order.
func (jp JobParameters) Keys() []string {
	out := make([]string, len(jp.keys))
	copy(out, jp.keys)
	return out
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.keys)
}

// With returns a copy of jp with key set to p. An existing key keeps its position.
func (jp JobParameters) With(key string, p JobParameter) JobParameters {
	b := NewJobParametersBuilderFrom(jp)
	b.Add(key, p)
	return b.ToJobParameters()
}

// Values returns the raw values keyed by name, for display.
func (jp JobParameters) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(jp.params))
	for k, p := range jp.params {
		if t, ok := p.Value.(time.Time); ok {
			out[k] = t.Format(time.RFC3339Nano)
			continue
		}
		out[k] = p.Value
	}
	return out
}

// identifyingKeys returns the identifying keys sorted by name.
func (jp JobParameters) identifyingKeys() []string {
	keys := make([]string, 0, len(jp.params))
	for k, p := range jp.params {
		if p.Identifying {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether the identifying entries of jp and other are equal.
func (jp JobParameters) Equal(other JobParameters) bool {
	a, b := jp.identifyingKeys(), other.identifyingKeys()
	if len(a) != len(b) {
		return false
	}
	for i, k := range a {
		if k != b[i] || jp.params[k].canonical() != other.params[k].canonical() {
			return false
		}
	}
	return true
}

// Hash returns the hex sha256 of the canonical form of the identifying entries.
func (jp JobParameters) Hash() string {
	var sb strings.Builder
	for _, k := range jp.identifyingKeys() {
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(jp.params[k].canonical()))
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// String returns a JSON rendering of the parameters with sensitive values masked.
func (jp JobParameters) String() string {
	data, err := serialization.MarshalMaskedJSON(jp.Values())
	if err != nil {
		return fmt.Sprintf("{[ERROR: %v]}", err)
	}
	return string(data)
}

type wireParameter struct {
	Key         string          `json:"key"`
	Type        ParameterType   `json:"type"`
	Value       json.RawMessage `json:"value"`
	Identifying bool            `json:"identifying"`
}

// MarshalJSON encodes the parameters as an ordered list.
func (jp JobParameters) MarshalJSON() ([]byte, error) {
	wire := make([]wireParameter, 0, len(jp.keys))
	for _, k := range jp.keys {
		p := jp.params[k]
		var raw []byte
		var err error
		if t, ok := p.Value.(time.Time); ok {
			raw, err = json.Marshal(t.Format(time.RFC3339Nano))
		} else {
			raw, err = json.Marshal(p.Value)
		}
		if err != nil {
			return nil, err
		}
		wire = append(wire, wireParameter{Key: k, Type: p.Type, Value: raw, Identifying: p.Identifying})
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the ordered list written by MarshalJSON.
func (jp *JobParameters) UnmarshalJSON(data []byte) error {
	var wire []wireParameter
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	b := NewJobParametersBuilder()
	for _, w := range wire {
		p := JobParameter{Type: w.Type, Identifying: w.Identifying}
		var err error
		switch w.Type {
		case ParameterTypeString:
			var v string
			err = json.Unmarshal(w.Value, &v)
			p.Value = v
		case ParameterTypeLong:
			var v int64
			err = json.Unmarshal(w.Value, &v)
			p.Value = v
		case ParameterTypeDouble:
			var v float64
			err = json.Unmarshal(w.Value, &v)
			p.Value = v
		case ParameterTypeDate:
			var s string
			if err = json.Unmarshal(w.Value, &s); err == nil {
				var t time.Time
				t, err = time.Parse(time.RFC3339Nano, s)
				p.Value = t.UTC()
			}
		case ParameterTypeBool:
			var v bool
			err = json.Unmarshal(w.Value, &v)
			p.Value = v
		default:
			err = fmt.Errorf("unknown parameter type %q", w.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to decode job parameter '%s': %w", w.Key, err)
		}
		b.Add(w.Key, p)
	}
	*jp = b.ToJobParameters()
	return nil
}

// Value implements driver.Valuer.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := jp.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*jp = NewJobParameters()
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
	if len(b) == 0 {
		*jp = NewJobParameters()
		return nil
	}
	return jp.UnmarshalJSON(b)
}

// JobParametersBuilder accumulates parameters; ToJobParameters returns an immutable snapshot.
type JobParametersBuilder struct {
	keys   []string
	params map[string]JobParameter
}

// NewJobParametersBuilder creates an empty builder.
func NewJobParametersBuilder() *JobParametersBuilder {
	return &JobParametersBuilder{params: map[string]JobParameter{}}
}

// NewJobParametersBuilderFrom creates a builder seeded with jp.
func NewJobParametersBuilderFrom(jp JobParameters) *JobParametersBuilder {
	b := NewJobParametersBuilder()
	for _, k := range jp.keys {
		b.Add(k, jp.params[k])
	}
	return b
}

// Add sets key to p.
func (b *JobParametersBuilder) Add(key string, p JobParameter) *JobParametersBuilder {
	if _, exists := b.params[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.params[key] = p
	return b
}

// AddString adds an identifying string parameter.
func (b *JobParametersBuilder) AddString(key, v string) *JobParametersBuilder {
	return b.Add(key, StringParam(v))
}

// AddLong adds an identifying integer parameter.
func (b *JobParametersBuilder) AddLong(key string, v int64) *JobParametersBuilder {
	return b.Add(key, LongParam(v))
}

// AddDouble adds an identifying floating point parameter.
func (b *JobParametersBuilder) AddDouble(key string, v float64) *JobParametersBuilder {
	return b.Add(key, DoubleParam(v))
}

// AddDate adds an identifying timestamp parameter.
func (b *JobParametersBuilder) AddDate(key string, v time.Time) *JobParametersBuilder {
	return b.Add(key, DateParam(v))
}

// AddBool adds an identifying boolean parameter.
func (b *JobParametersBuilder) AddBool(key string, v bool) *JobParametersBuilder {
	return b.Add(key, BoolParam(v))
}

// AddTransientString adds a non-identifying string parameter.
func (b *JobParametersBuilder) AddTransientString(key, v string) *JobParametersBuilder {
	return b.Add(key, StringParam(v).Transient())
}

// AddTransientLong adds a non-identifying integer parameter.
func (b *JobParametersBuilder) AddTransientLong(key string, v int64) *JobParametersBuilder {
	return b.Add(key, LongParam(v).Transient())
}

// ToJobParameters returns an immutable copy of the accumulated parameters.
func (b *JobParametersBuilder) ToJobParameters() JobParameters {
	jp := JobParameters{
		keys:   make([]string, len(b.keys)),
		params: make(map[string]JobParameter, len(b.params)),
	}
	copy(jp.keys, b.keys)
	for k, v := range b.params {
		jp.params[k] = v
	}
	return jp
}

// ParseJobParameters builds parameters from "key=value" arguments.
// The key may carry a type suffix, "key(long)=1"; supported types are string, long,
// double, date (RFC3339) and bool. A leading '-' marks the parameter non-identifying.
func ParseJobParameters(args []string) (JobParameters, error) {
	b := NewJobParametersBuilder()
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return JobParameters{}, exception.NewBatchErrorf("job_parameters", "invalid parameter '%s', expected key=value", arg)
		}
		identifying := true
		if strings.HasPrefix(key, "-") {
			identifying = false
			key = key[1:]
		}
		typ := "string"
		if open := strings.Index(key, "("); open > 0 && strings.HasSuffix(key, ")") {
			typ = strings.ToLower(key[open+1 : len(key)-1])
			key = key[:open]
		}

		var p JobParameter
		switch typ {
		case "string":
			p = StringParam(raw)
		case "long":
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return JobParameters{}, exception.NewBatchErrorf("job_parameters", "invalid long value for '%s': %v", key, err)
			}
			p = LongParam(v)
		case "double":
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return JobParameters{}, exception.NewBatchErrorf("job_parameters", "invalid double value for '%s': %v", key, err)
			}
			p = DoubleParam(v)
		case "date":
			v, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return JobParameters{}, exception.NewBatchErrorf("job_parameters", "invalid date value for '%s': %v", key, err)
			}
			p = DateParam(v)
		case "bool":
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return JobParameters{}, exception.NewBatchErrorf("job_parameters", "invalid bool value for '%s': %v", key, err)
			}
			p = BoolParam(v)
		default:
			return JobParameters{}, exception.NewBatchErrorf("job_parameters", "unknown parameter type '%s' for '%s'", typ, key)
		}
		if !identifying {
			p = p.Transient()
		}
		b.Add(key, p)
	}
	return b.ToJobParameters(), nil
}
