// Package tx defines the transaction port used by the chunk loop, the sinks and the repository.
package tx

import (
	"context"
	"database/sql"
	"sync"
)

// TxExecutor is implemented by transactions that write to a database.
type TxExecutor interface {
	// ExecuteInsert inserts records, a slice of models, in statements of at most batchSize
	// rows. An empty tableName uses the table of the model.
	ExecuteInsert(ctx context.Context, records interface{}, tableName string, batchSize int) (rowsAffected int64, err error)

	// ExecuteUpsert inserts records like ExecuteInsert. On a conflict over conflictColumns it
	// updates updateColumns, or does nothing when updateColumns is empty.
	ExecuteUpsert(ctx context.Context, records interface{}, tableName string, conflictColumns []string, updateColumns []string, batchSize int) (rowsAffected int64, err error)
}

// Tx is an open transaction.
type Tx interface {
	// AfterCommit registers fn to run once the transaction committed successfully.
	// Registered functions are discarded on rollback.
	AfterCommit(fn func())
}

// TransactionManager begins and ends transactions.
type TransactionManager interface {
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

type txContextKey struct{}

// WithTx returns a context carrying t.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, t)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txContextKey{}).(Tx)
	return t, ok
}

// ExecutorFrom returns the transaction carried by ctx when it writes to a database.
func ExecutorFrom(ctx context.Context) (TxExecutor, bool) {
	t, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	ex, ok := t.(TxExecutor)
	return ex, ok
}

// Hooks collects AfterCommit callbacks. Tx implementations embed it.
type Hooks struct {
	mu    sync.Mutex
	hooks []func()
}

// AfterCommit implements Tx.
func (h *Hooks) AfterCommit(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

// RunHooks runs and clears the registered callbacks.
func (h *Hooks) RunHooks() {
	h.mu.Lock()
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// DiscardHooks clears the registered callbacks without running them.
func (h *Hooks) DiscardHooks() {
	h.mu.Lock()
	h.hooks = nil
	h.mu.Unlock()
}
