// Package writer provides BatchSink implementations: a GORM sink that inserts each chunk
// inside the chunk transaction and a Parquet sink that writes one file per chunk.
package writer

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

const moduleName = "writer"

// DefaultInsertBatchSize is the number of rows per INSERT statement.
const DefaultInsertBatchSize = 1000

// GormSinkConfig holds the configuration of a GormSink.
type GormSinkConfig struct {
	// Table overrides the table derived from the record type.
	Table string `yaml:"table"`
	// BatchSize is the number of rows per INSERT statement.
	BatchSize int `yaml:"batch_size"`
	// ConflictColumns turns the insert into an upsert on these columns.
	ConflictColumns []string `yaml:"conflict_columns"`
	// UpdateColumns are updated on conflict. Empty means DO NOTHING.
	UpdateColumns []string `yaml:"update_columns"`
}

// GormSink inserts each batch through the tx.TxExecutor of the chunk transaction carried
// by the context. Without a database transaction, each Commit runs in one of its own.
type GormSink[T any] struct {
	name      string
	config    GormSinkConfig
	txManager *gormadapter.GormTransactionManager
}

// NewGormSink creates a GormSink from loosely typed properties.
func NewGormSink[T any](name string, db *gorm.DB, properties map[string]interface{}) (*GormSink[T], error) {
	var cfg GormSinkConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("invalid properties for GORM sink '%s'", name), err, false, false)
	}
	return NewGormSinkWithConfig[T](name, db, cfg)
}

// NewGormSinkWithConfig creates a GormSink.
func NewGormSinkWithConfig[T any](name string, db *gorm.DB, cfg GormSinkConfig) (*GormSink[T], error) {
	if db == nil {
		return nil, exception.NewBatchErrorf(moduleName, "GORM sink '%s': database connection is required", name)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultInsertBatchSize
	}
	if len(cfg.UpdateColumns) > 0 && len(cfg.ConflictColumns) == 0 {
		return nil, exception.NewBatchErrorf(moduleName, "GORM sink '%s': update_columns require conflict_columns", name)
	}
	return &GormSink[T]{name: name, config: cfg, txManager: gormadapter.NewGormTransactionManager(db)}, nil
}

// Open implements port.BatchSink.
func (s *GormSink[T]) Open(ctx context.Context) error {
	logger.Infof("GORM sink '%s' opened (table '%s', insert batch size %d).", s.name, s.config.Table, s.config.BatchSize)
	return nil
}

// Commit implements port.BatchSink.
func (s *GormSink[T]) Commit(ctx context.Context, batch port.Batch[T]) error {
	if batch.Len() == 0 {
		return nil
	}

	var err error
	if ex, ok := tx.ExecutorFrom(ctx); ok {
		err = s.write(ctx, ex, batch.Records)
	} else {
		err = s.writeInOwnTransaction(ctx, batch.Records)
	}
	if err != nil {
		return &exception.SinkError{
			FirstPosition:  batch.FirstPosition(),
			LastPosition:   batch.LastPosition(),
			RecordPosition: -1,
			Cause: exception.NewBatchError(moduleName,
				fmt.Sprintf("GORM sink '%s' failed to insert %d records", s.name, batch.Len()),
				err, false, exception.IsTemporary(err) && !gormadapter.IsDuplicateKeyError(err)),
		}
	}
	logger.Debugf("GORM sink '%s' inserted records [%d..%d].", s.name, batch.FirstPosition(), batch.LastPosition())
	return nil
}

// Close implements port.BatchSink.
func (s *GormSink[T]) Close(ctx context.Context) error {
	return nil
}

func (s *GormSink[T]) write(ctx context.Context, ex tx.TxExecutor, records []T) error {
	var err error
	if len(s.config.ConflictColumns) == 0 {
		_, err = ex.ExecuteInsert(ctx, records, s.config.Table, s.config.BatchSize)
	} else {
		_, err = ex.ExecuteUpsert(ctx, records, s.config.Table, s.config.ConflictColumns, s.config.UpdateColumns, s.config.BatchSize)
	}
	return err
}

func (s *GormSink[T]) writeInOwnTransaction(ctx context.Context, records []T) error {
	t, err := s.txManager.Begin(ctx)
	if err != nil {
		return err
	}
	ex, ok := t.(tx.TxExecutor)
	if !ok {
		_ = s.txManager.Rollback(t)
		return fmt.Errorf("transaction %T cannot execute inserts", t)
	}
	if err := s.write(ctx, ex, records); err != nil {
		if rbErr := s.txManager.Rollback(t); rbErr != nil {
			logger.Warnf("GORM sink '%s': rollback failed: %v", s.name, rbErr)
		}
		return err
	}
	return s.txManager.Commit(t)
}

var _ port.BatchSink[struct{}] = (*GormSink[struct{}])(nil)
