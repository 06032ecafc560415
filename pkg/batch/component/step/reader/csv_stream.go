// Package reader provides RecordStream implementations.
package reader

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage"
	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

const moduleName = "reader"

// CSVConfig configures a CSVStream. It is bound from the reader properties.
type CSVConfig struct {
	// Locator names the source: a local path, file://, gs:// or ftp:// URL.
	Locator string `yaml:"locator"`
	// Fields are the column names in order. Required unless HasHeader is set.
	Fields []string `yaml:"fields"`
	// Delimiter is a single character, "," by default. "\t" is accepted for tabs.
	Delimiter string `yaml:"delimiter"`
	// HasHeader skips the first row. Without Fields the header supplies the names.
	HasHeader bool `yaml:"has_header"`
	// TrimSpace trims surrounding white space from every value.
	TrimSpace bool `yaml:"trim_space"`
	// Comment, when set, marks lines starting with it as comments.
	Comment string `yaml:"comment"`
}

// RowMapper converts one row, keyed by field name, into a record.
type RowMapper[T any] func(row map[string]string) (T, error)

// BindRow returns a RowMapper that binds the row onto T by its yaml tags.
func BindRow[T any]() RowMapper[T] {
	return func(row map[string]string) (T, error) {
		var out T
		err := configbinder.BindStringProperties(row, &out)
		return out, err
	}
}

// CSVStream is a RecordStream over a delimited text source. The position is the number
// of data rows consumed; the header row is not counted.
type CSVStream[T any] struct {
	name   string
	opener storage.Opener
	config CSVConfig
	mapper RowMapper[T]
	comma  rune

	source io.ReadCloser
	csv    *csv.Reader
	fields []string
	pos    int64
}

// NewCSVStream creates a CSVStream from loosely typed properties.
func NewCSVStream[T any](name string, opener storage.Opener, properties map[string]interface{}, mapper RowMapper[T]) (*CSVStream[T], error) {
	var cfg CSVConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("invalid properties for CSV stream '%s'", name), err, false, false)
	}
	return NewCSVStreamWithConfig(name, opener, cfg, mapper)
}

// NewCSVStreamWithConfig creates a CSVStream. A nil mapper binds rows with BindRow.
func NewCSVStreamWithConfig[T any](name string, opener storage.Opener, cfg CSVConfig, mapper RowMapper[T]) (*CSVStream[T], error) {
	if cfg.Locator == "" {
		return nil, exception.NewBatchErrorf(moduleName, "CSV stream '%s': locator is required", name)
	}
	if len(cfg.Fields) == 0 && !cfg.HasHeader {
		return nil, exception.NewBatchErrorf(moduleName, "CSV stream '%s': fields are required when the source has no header", name)
	}
	comma, err := parseDelimiter(cfg.Delimiter)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("CSV stream '%s'", name), err, false, false)
	}
	if mapper == nil {
		mapper = BindRow[T]()
	}
	return &CSVStream[T]{
		name:   name,
		opener: opener,
		config: cfg,
		mapper: mapper,
		comma:  comma,
	}, nil
}

func parseDelimiter(d string) (rune, error) {
	switch d {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(d) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	r, _ := utf8.DecodeRuneInString(d)
	return r, nil
}

// Open implements port.RecordStream.
func (s *CSVStream[T]) Open(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	logger.Infof("CSV stream '%s' opened %s (fields %v).", s.name, s.config.Locator, s.fields)
	return nil
}

func (s *CSVStream[T]) open(ctx context.Context) error {
	source, err := s.opener.Open(ctx, s.config.Locator)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("CSV stream '%s': failed to open %s", s.name, s.config.Locator), err, false, true)
	}

	r := csv.NewReader(skipBOM(source))
	r.Comma = s.comma
	r.ReuseRecord = true
	r.TrimLeadingSpace = s.config.TrimSpace
	if s.config.Comment != "" {
		r.Comment, _ = utf8.DecodeRuneInString(s.config.Comment)
	}
	r.FieldsPerRecord = len(s.config.Fields)
	if s.config.HasHeader {
		r.FieldsPerRecord = -1
	}

	s.source, s.csv, s.pos = source, r, 0
	s.fields = s.config.Fields

	if s.config.HasHeader {
		header, err := r.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			_ = s.closeSource()
			return exception.NewBatchError(moduleName, fmt.Sprintf("CSV stream '%s': failed to read header", s.name), err, false, false)
		}
		if len(s.fields) == 0 {
			s.fields = make([]string, len(header))
			for i, h := range header {
				s.fields[i] = strings.TrimSpace(h)
			}
		}
		r.FieldsPerRecord = len(s.fields)
	}
	return nil
}

// skipBOM drops a leading UTF-8 byte order mark.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}

// Next implements port.RecordStream.
func (s *CSVStream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if s.csv == nil {
		return zero, exception.NewBatchErrorf(moduleName, "CSV stream '%s' is not open", s.name)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	record, err := s.csv.Read()
	if errors.Is(err, io.EOF) {
		return zero, port.ErrEndOfStream
	}
	if err != nil {
		return zero, exception.NewBatchError(moduleName, fmt.Sprintf("CSV stream '%s': malformed row after position %d", s.name, s.pos), err, false, false)
	}
	s.pos++

	row := make(map[string]string, len(s.fields))
	for i, f := range s.fields {
		v := record[i]
		if s.config.TrimSpace {
			v = strings.TrimSpace(v)
		}
		row[f] = v
	}
	out, err := s.mapper(row)
	if err != nil {
		return zero, exception.NewBatchError(moduleName, fmt.Sprintf("CSV stream '%s': failed to map row %d", s.name, s.pos), err, false, false)
	}
	return out, nil
}

// CurrentPosition implements port.RecordStream.
func (s *CSVStream[T]) CurrentPosition() int64 {
	return s.pos
}

// Seek implements port.RecordStream. The source is reopened and position rows are discarded.
func (s *CSVStream[T]) Seek(ctx context.Context, position int64) error {
	if position < 0 {
		return exception.NewBatchErrorf(moduleName, "CSV stream '%s': negative position %d", s.name, position)
	}
	if err := s.closeSource(); err != nil {
		logger.Warnf("CSV stream '%s': failed to close source before seek: %v", s.name, err)
	}
	if err := s.open(ctx); err != nil {
		return err
	}
	for s.pos < position {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return exception.NewBatchErrorf(moduleName, "CSV stream '%s': position %d is beyond the end of the source (%d rows)", s.name, position, s.pos)
			}
			return exception.NewBatchError(moduleName, fmt.Sprintf("CSV stream '%s': failed to skip row %d", s.name, s.pos+1), err, false, false)
		}
		s.pos++
	}
	logger.Debugf("CSV stream '%s' positioned after row %d.", s.name, position)
	return nil
}

// Close implements port.RecordStream.
func (s *CSVStream[T]) Close(ctx context.Context) error {
	if err := s.closeSource(); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("CSV stream '%s': failed to close source", s.name), err, false, false)
	}
	return nil
}

func (s *CSVStream[T]) closeSource() error {
	if s.source == nil {
		return nil
	}
	err := s.source.Close()
	s.source, s.csv = nil, nil
	return err
}

var _ port.RecordStream[map[string]string] = (*CSVStream[map[string]string])(nil)
