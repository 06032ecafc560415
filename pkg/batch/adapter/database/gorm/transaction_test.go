package gorm_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/sqlite"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
)

type widget struct {
	ID   uint   `gorm:"primaryKey"`
	Code string `gorm:"uniqueIndex"`
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gormadapter.Open(dbconfig.DatabaseConfig{
		Type:     "sqlite",
		DSN:      fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		LogLevel: "silent",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1},
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))
	t.Cleanup(func() { _ = gormadapter.Close(db) })
	return db
}

func count(t *testing.T, db *gorm.DB) int64 {
	var n int64
	require.NoError(t, db.Model(&widget{}).Count(&n).Error)
	return n
}

func TestGormTransactionManagerCommitRunsHooks(t *testing.T) {
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)
	ctx := context.Background()

	tr, err := tm.Begin(ctx)
	require.NoError(t, err)
	hookRan := false
	tr.AfterCommit(func() { hookRan = true })

	txCtx := tx.WithTx(ctx, tr)
	require.NoError(t, gormadapter.DBFromContext(txCtx, db).Create(&widget{Code: "a"}).Error)
	ex, ok := tx.ExecutorFrom(txCtx)
	require.True(t, ok)
	n, err := ex.ExecuteInsert(txCtx, []widget{{Code: "b"}, {Code: "c"}, {Code: "d"}}, "", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, tm.Commit(tr))
	assert.True(t, hookRan)
	assert.Equal(t, int64(4), count(t, db))
}

func TestGormTransactionManagerRollbackDiscardsWork(t *testing.T) {
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)
	ctx := context.Background()

	tr, err := tm.Begin(ctx)
	require.NoError(t, err)
	hookRan := false
	tr.AfterCommit(func() { hookRan = true })
	require.NoError(t, gormadapter.DBFromContext(tx.WithTx(ctx, tr), db).Create(&widget{Code: "a"}).Error)

	require.NoError(t, tm.Rollback(tr))
	assert.False(t, hookRan)
	assert.Equal(t, int64(0), count(t, db))
}

func TestIsDuplicateKeyErrorClassifiesSQLiteViolation(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, db.Create(&widget{Code: "dup"}).Error)
	err := db.Create(&widget{Code: "dup"}).Error
	require.Error(t, err)

	assert.True(t, gormadapter.IsDuplicateKeyError(err))
	assert.True(t, gormadapter.IsDuplicateKeyError(fmt.Errorf("insert: %w", err)))
	assert.False(t, gormadapter.IsDuplicateKeyError(errors.New("connection refused")))
	assert.True(t, gormadapter.IsDuplicateKeyError(gorm.ErrDuplicatedKey))
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := gormadapter.Open(dbconfig.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestUpsertDoesNothingOnConflict(t *testing.T) {
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&widget{Code: "x"}).Error)

	tr, err := tm.Begin(ctx)
	require.NoError(t, err)
	ex := tr.(tx.TxExecutor)
	n, err := ex.ExecuteUpsert(ctx, []widget{{Code: "x"}, {Code: "y"}}, "", []string{"code"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tm.Commit(tr))
	assert.Equal(t, int64(2), count(t, db))
}

func TestUpsertRequiresConflictColumns(t *testing.T) {
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)

	tr, err := tm.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tm.Rollback(tr) }()
	_, err = tr.(tx.TxExecutor).ExecuteUpsert(context.Background(), []widget{{Code: "z"}}, "", nil, []string{"code"}, 10)
	assert.Error(t, err)
}
