// Package test provides doubles and factories shared by the package tests.
package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
)

// MockTx is a mock implementation of tx.Tx. AfterCommit hooks are collected and run
// by RunHooks.
type MockTx struct {
	mock.Mock
	tx.Hooks
}

// ExecuteInsert mocks tx.TxExecutor.ExecuteInsert.
func (m *MockTx) ExecuteInsert(ctx context.Context, records interface{}, tableName string, batchSize int) (rowsAffected int64, err error) {
	args := m.Called(ctx, records, tableName, batchSize)
	return args.Get(0).(int64), args.Error(1)
}

// ExecuteUpsert mocks tx.TxExecutor.ExecuteUpsert.
func (m *MockTx) ExecuteUpsert(ctx context.Context, records interface{}, tableName string, conflictColumns []string, updateColumns []string, batchSize int) (rowsAffected int64, err error) {
	args := m.Called(ctx, records, tableName, conflictColumns, updateColumns, batchSize)
	return args.Get(0).(int64), args.Error(1)
}

// MockTxManager is a mock implementation of tx.TransactionManager.
type MockTxManager struct {
	mock.Mock
}

// Begin mocks tx.TransactionManager.Begin.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

// Commit mocks tx.TransactionManager.Commit.
func (m *MockTxManager) Commit(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

// Rollback mocks tx.TransactionManager.Rollback.
func (m *MockTxManager) Rollback(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

var _ tx.Tx = (*MockTx)(nil)
var _ tx.TxExecutor = (*MockTx)(nil)
var _ tx.TransactionManager = (*MockTxManager)(nil)
