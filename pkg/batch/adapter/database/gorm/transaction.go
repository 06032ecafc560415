package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// GormTx implements tx.Tx over a GORM transaction.
type GormTx struct {
	tx.Hooks
	db *gorm.DB
}

// DB returns the transaction handle.
func (t *GormTx) DB() *gorm.DB {
	return t.db
}

// ExecuteInsert implements tx.TxExecutor.
func (t *GormTx) ExecuteInsert(ctx context.Context, records interface{}, tableName string, batchSize int) (int64, error) {
	return executeInsert(t.statement(ctx, tableName), records, batchSize)
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTx) ExecuteUpsert(ctx context.Context, records interface{}, tableName string, conflictColumns []string, updateColumns []string, batchSize int) (int64, error) {
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("upsert into %q requires conflict columns", tableName)
	}
	db := t.statement(ctx, tableName).Clauses(onConflict(conflictColumns, updateColumns))
	return executeInsert(db, records, batchSize)
}

// statement binds the transaction to ctx and tableName. Multi-statement inserts run in
// the transaction itself, without nested savepoints.
func (t *GormTx) statement(ctx context.Context, tableName string) *gorm.DB {
	db := t.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	if tableName != "" {
		db = db.Table(tableName)
	}
	return db
}

// executeInsert writes records in statements of batchSize rows; batchSize <= 0 means one statement.
func executeInsert(db *gorm.DB, records interface{}, batchSize int) (int64, error) {
	var result *gorm.DB
	if batchSize > 0 {
		result = db.CreateInBatches(records, batchSize)
	} else {
		result = db.Create(records)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func onConflict(conflictColumns, updateColumns []string) clause.OnConflict {
	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	oc := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		oc.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		oc.DoNothing = true
	}
	return oc
}

// GormTransactionManager implements tx.TransactionManager on one connection pool.
type GormTransactionManager struct {
	db *gorm.DB
}

// NewGormTransactionManager creates a GormTransactionManager for db.
func NewGormTransactionManager(db *gorm.DB) *GormTransactionManager {
	return &GormTransactionManager{db: db}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil {
		txOpts = opts[0]
	}
	gormTx := m.db.WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, exception.NewBatchError(moduleName, "failed to begin transaction", gormTx.Error, false, true)
	}
	return &GormTx{db: gormTx}, nil
}

// Commit implements tx.TransactionManager. AfterCommit hooks run once the commit succeeded.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gt, ok := t.(*GormTx)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTx, got %T", t)
	}
	if err := gt.db.Commit().Error; err != nil {
		gt.DiscardHooks()
		return err
	}
	gt.RunHooks()
	return nil
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gt, ok := t.(*GormTx)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTx, got %T", t)
	}
	gt.DiscardHooks()
	err := gt.db.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) || errors.Is(err, gorm.ErrInvalidTransaction) {
		return nil
	}
	return err
}

// DBFromContext returns the GORM transaction carried by ctx, or fallback bound to ctx.
func DBFromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if gt, ok := t.(*GormTx); ok {
			return gt.db.WithContext(ctx)
		}
	}
	return fallback.WithContext(ctx)
}

var _ tx.Tx = (*GormTx)(nil)
var _ tx.TxExecutor = (*GormTx)(nil)
var _ tx.TransactionManager = (*GormTransactionManager)(nil)
