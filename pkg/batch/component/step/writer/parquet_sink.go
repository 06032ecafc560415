package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// ParquetSinkConfig holds the configuration of a ParquetSink.
type ParquetSinkConfig struct {
	// Directory receives the chunk files. It is created on Open.
	Directory string `yaml:"directory"`
	// Prefix starts every file name, "chunk" by default.
	Prefix string `yaml:"prefix"`
	// CompressionType is SNAPPY (default), GZIP or NONE.
	CompressionType string `yaml:"compression_type"`
	// Parallelism is the number of marshalling goroutines of the parquet writer.
	Parallelism int64 `yaml:"parallelism"`
}

// ParquetSink writes each batch to <directory>/<prefix>-<first>-<last>.parquet. T must carry
// parquet struct tags.
//
// The file is first written under a temporary name. Inside a transaction it is renamed
// once the transaction committed, so a rolled back chunk leaves no visible file; the rename
// itself happens after the progress commit, which makes the sink at-least-once.
type ParquetSink[T any] struct {
	name   string
	config ParquetSinkConfig
	codec  parquet.CompressionCodec

	mu      sync.Mutex
	pending map[string]struct{} // temporary files not yet published
}

// NewParquetSink creates a ParquetSink from loosely typed properties.
func NewParquetSink[T any](name string, properties map[string]interface{}) (*ParquetSink[T], error) {
	var cfg ParquetSinkConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("invalid properties for Parquet sink '%s'", name), err, false, false)
	}
	return NewParquetSinkWithConfig[T](name, cfg)
}

// NewParquetSinkWithConfig creates a ParquetSink.
func NewParquetSinkWithConfig[T any](name string, cfg ParquetSinkConfig) (*ParquetSink[T], error) {
	if cfg.Directory == "" {
		return nil, exception.NewBatchErrorf(moduleName, "Parquet sink '%s': directory is required", name)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "chunk"
	}
	if cfg.CompressionType == "" {
		cfg.CompressionType = "SNAPPY"
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	codec, err := getCompressionCodec(cfg.CompressionType)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("Parquet sink '%s'", name), err, false, false)
	}
	return &ParquetSink[T]{
		name:    name,
		config:  cfg,
		codec:   codec,
		pending: make(map[string]struct{}),
	}, nil
}

// FileName returns the published file name of the batch covering [first..last].
func (s *ParquetSink[T]) FileName(first, last int64) string {
	return filepath.Join(s.config.Directory, fmt.Sprintf("%s-%d-%d.parquet", s.config.Prefix, first, last))
}

// Open implements port.BatchSink.
func (s *ParquetSink[T]) Open(ctx context.Context) error {
	if err := os.MkdirAll(s.config.Directory, 0o755); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("Parquet sink '%s': failed to create %s", s.name, s.config.Directory), err, false, false)
	}
	logger.Infof("Parquet sink '%s' writing to %s (compression %s).", s.name, s.config.Directory, s.config.CompressionType)
	return nil
}

// Commit implements port.BatchSink.
func (s *ParquetSink[T]) Commit(ctx context.Context, batch port.Batch[T]) error {
	if batch.Len() == 0 {
		return nil
	}
	target := s.FileName(batch.FirstPosition(), batch.LastPosition())
	temp := target + ".tmp"

	if err := s.writeFile(temp, batch.Records); err != nil {
		_ = os.Remove(temp)
		return &exception.SinkError{
			FirstPosition:  batch.FirstPosition(),
			LastPosition:   batch.LastPosition(),
			RecordPosition: -1,
			Cause:          exception.NewBatchError(moduleName, fmt.Sprintf("Parquet sink '%s' failed to write %s", s.name, temp), err, false, false),
		}
	}

	t, inTx := tx.FromContext(ctx)
	if !inTx {
		if err := s.publish(temp, target); err != nil {
			return &exception.SinkError{
				FirstPosition:  batch.FirstPosition(),
				LastPosition:   batch.LastPosition(),
				RecordPosition: -1,
				Cause:          exception.NewBatchError(moduleName, fmt.Sprintf("Parquet sink '%s' failed to publish %s", s.name, target), err, false, false),
			}
		}
		return nil
	}

	s.mu.Lock()
	s.pending[temp] = struct{}{}
	s.mu.Unlock()
	t.AfterCommit(func() {
		if err := s.publish(temp, target); err != nil {
			logger.Errorf("Parquet sink '%s': chunk [%d..%d] committed but %s could not be published: %v", s.name, batch.FirstPosition(), batch.LastPosition(), target, err)
		}
	})
	return nil
}

func (s *ParquetSink[T]) writeFile(path string, records []T) (err error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(T), s.config.Parallelism)
	if err != nil {
		return err
	}
	pw.CompressionType = s.codec
	pw.RowGroupSize = 128 * 1024 * 1024

	for _, r := range records {
		if err := pw.Write(r); err != nil {
			return err
		}
	}

	// WriteStop panics on some schema mismatches.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	return pw.WriteStop()
}

func (s *ParquetSink[T]) publish(temp, target string) error {
	s.mu.Lock()
	delete(s.pending, temp)
	s.mu.Unlock()
	if err := os.Rename(temp, target); err != nil {
		return err
	}
	logger.Debugf("Parquet sink '%s' published %s.", s.name, target)
	return nil
}

// Close implements port.BatchSink. Temporary files of rolled back chunks are removed.
func (s *ParquetSink[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result *multierror.Error
	for temp := range s.pending {
		if err := os.Remove(temp); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
		delete(s.pending, temp)
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("Parquet sink '%s' failed to remove temporary files", s.name), err, false, false)
	}
	return nil
}

// getCompressionCodec returns the Parquet compression codec from a string.
func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

var _ port.BatchSink[struct{}] = (*ParquetSink[struct{}])(nil)
