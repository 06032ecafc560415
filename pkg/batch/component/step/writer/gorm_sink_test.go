package writer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/batchimport/pkg/batch/component/step/writer"
	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	batchtest "github.com/tigerroll/batchimport/pkg/batch/test"
)

type person struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"uniqueIndex"`
	Age     int
	Nation  string
	Address string
}

func (person) TableName() string { return "person" }

func batchOf(first int64, names ...string) port.Batch[person] {
	b := port.Batch[person]{}
	for i, n := range names {
		b.Records = append(b.Records, person{Name: n, Age: 20 + i, Nation: "01", Address: "北京"})
		b.Positions = append(b.Positions, first+int64(i))
	}
	return b
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
	require.NoError(t, db.AutoMigrate(&person{}))
	t.Cleanup(func() { _ = gormadapter.Close(db) })
	return db
}

func countPeople(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&person{}).Count(&n).Error)
	return n
}

func TestGormSinkJoinsChunkTransaction(t *testing.T) {
	db := openSQLite(t)
	sink, err := writer.NewGormSink[person]("personSink", db, map[string]interface{}{"batch_size": 2})
	require.NoError(t, err)
	tm := gormadapter.NewGormTransactionManager(db)
	ctx := context.Background()
	require.NoError(t, sink.Open(ctx))

	rolledBack, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sink.Commit(tx.WithTx(ctx, rolledBack), batchOf(1, "张三", "李四", "王五")))
	require.NoError(t, tm.Rollback(rolledBack))
	assert.Zero(t, countPeople(t, db))

	committed, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sink.Commit(tx.WithTx(ctx, committed), batchOf(1, "张三", "李四", "王五")))
	require.NoError(t, tm.Commit(committed))
	assert.Equal(t, int64(3), countPeople(t, db))
	require.NoError(t, sink.Close(ctx))
}

func TestGormSinkWritesThroughTransactionExecutor(t *testing.T) {
	db := openSQLite(t)
	inserts, err := writer.NewGormSinkWithConfig[person]("personSink", db, writer.GormSinkConfig{})
	require.NoError(t, err)
	upserts, err := writer.NewGormSinkWithConfig[person]("personSink", db, writer.GormSinkConfig{
		Table:           "person_import",
		BatchSize:       2,
		ConflictColumns: []string{"name"},
		UpdateColumns:   []string{"age"},
	})
	require.NoError(t, err)

	mockTx := new(batchtest.MockTx)
	ctx := tx.WithTx(context.Background(), mockTx)
	first := batchOf(1, "张三", "李四")
	mockTx.On("ExecuteInsert", ctx, first.Records, "", writer.DefaultInsertBatchSize).Return(int64(2), nil).Once()
	mockTx.On("ExecuteUpsert", ctx, mock.Anything, "person_import", []string{"name"}, []string{"age"}, 2).
		Return(int64(0), errors.New("Error 1213: Deadlock found")).Once()

	require.NoError(t, inserts.Commit(ctx, first))
	err = upserts.Commit(ctx, batchOf(3, "王五"))
	var se *exception.SinkError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(3), se.FirstPosition)
	assert.Equal(t, int64(3), se.LastPosition)

	mockTx.AssertExpectations(t)
	assert.Zero(t, countPeople(t, db), "rows are written through the chunk transaction only")
}

func TestGormSinkRejectsWholeBatchOnConstraintViolation(t *testing.T) {
	db := openSQLite(t)
	sink, err := writer.NewGormSinkWithConfig[person]("personSink", db, writer.GormSinkConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sink.Commit(ctx, batchOf(1, "张三")))

	err = sink.Commit(ctx, batchOf(2, "李四", "张三", "王五"))
	require.Error(t, err)
	var se *exception.SinkError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int64(2), se.FirstPosition)
	assert.Equal(t, int64(4), se.LastPosition)
	assert.ErrorIs(t, err, exception.ErrSinkCommit)
	assert.False(t, exception.IsRetryable(err), "constraint violations are not retried")
	assert.Equal(t, int64(1), countPeople(t, db), "nothing of the rejected batch is visible")
}

func TestGormSinkUpsertDoesNothingOnConflict(t *testing.T) {
	db := openSQLite(t)
	sink, err := writer.NewGormSink[person]("personSink", db, map[string]interface{}{
		"conflict_columns": "name",
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sink.Commit(ctx, batchOf(1, "张三")))
	require.NoError(t, sink.Commit(ctx, batchOf(2, "张三", "李四")))
	assert.Equal(t, int64(2), countPeople(t, db))
}

func TestGormSinkConfigValidation(t *testing.T) {
	_, err := writer.NewGormSinkWithConfig[person]("personSink", nil, writer.GormSinkConfig{})
	assert.Error(t, err)

	db := openSQLite(t)
	_, err = writer.NewGormSinkWithConfig[person]("personSink", db, writer.GormSinkConfig{UpdateColumns: []string{"age"}})
	assert.Error(t, err)
}

func TestGormSinkStatementsWithSqlmock(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gormadapter.OpenDialector(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), dbconfig.DatabaseConfig{LogLevel: "silent"})
	require.NoError(t, err)

	sink, err := writer.NewGormSinkWithConfig[person]("personSink", db, writer.GormSinkConfig{Table: "person_import", BatchSize: 2})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `person_import` \\(`name`,`age`,`nation`,`address`\\) VALUES \\(\\?,\\?,\\?,\\?\\),\\(\\?,\\?,\\?,\\?\\)").
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectExec("INSERT INTO `person_import`").
		WillReturnError(errors.New("Error 1406: Data too long for column 'address'"))
	mock.ExpectRollback()

	err = sink.Commit(context.Background(), batchOf(7, "张三", "李四", "王五"))
	require.Error(t, err)
	var se *exception.SinkError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int64(7), se.FirstPosition)
	assert.Equal(t, int64(9), se.LastPosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
