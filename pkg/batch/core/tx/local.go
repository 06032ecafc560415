package tx

import (
	"context"
	"database/sql"
	"errors"
)

// LocalTx is a transaction without a database: it only sequences AfterCommit callbacks.
// It backs the in-memory repository and file-based sinks.
type LocalTx struct {
	Hooks
}

// LocalTransactionManager creates LocalTx transactions.
type LocalTransactionManager struct{}

// NewLocalTransactionManager creates a LocalTransactionManager.
func NewLocalTransactionManager() *LocalTransactionManager {
	return &LocalTransactionManager{}
}

// Begin implements TransactionManager.
func (m *LocalTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	return &LocalTx{}, nil
}

// Commit implements TransactionManager.
func (m *LocalTransactionManager) Commit(t Tx) error {
	lt, ok := t.(*LocalTx)
	if !ok {
		return errors.New("invalid transaction type: expected *tx.LocalTx")
	}
	lt.RunHooks()
	return nil
}

// Rollback implements TransactionManager.
func (m *LocalTransactionManager) Rollback(t Tx) error {
	lt, ok := t.(*LocalTx)
	if !ok {
		return errors.New("invalid transaction type: expected *tx.LocalTx")
	}
	lt.DiscardHooks()
	return nil
}
