package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/contentwire/contentwire/store"
)

type txnKey struct{}

// Txn is an open content-store transaction. Commit listeners registered via
// OnCommit run after the SQLite commit succeeds, in registration order; a
// rollback drops them without running.
type Txn struct {
	tx *sql.Tx

	mu        sync.Mutex
	done      bool
	listeners []func()
}

// Begin opens a transaction and returns a derived context carrying it.
// Writes issued with that context join the transaction, and the resolver
// reports it as the ambient transaction for scheduling.
func (s *Store) Begin(ctx context.Context) (*Txn, context.Context, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	txn := &Txn{tx: tx}
	return txn, context.WithValue(ctx, txnKey{}, txn), nil
}

// OnCommit registers fn to run if and when the transaction commits.
// Implements store.Tx.
func (t *Txn) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Commit commits the transaction and then runs the commit listeners.
func (t *Txn) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	listeners := t.listeners
	t.listeners = nil
	t.mu.Unlock()

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Rollback aborts the transaction. Commit listeners never run.
func (t *Txn) Rollback() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.listeners = nil
	t.mu.Unlock()

	return t.tx.Rollback()
}

// txnFrom extracts the ambient transaction from ctx, nil when absent.
func txnFrom(ctx context.Context) *Txn {
	txn, _ := ctx.Value(txnKey{}).(*Txn)
	return txn
}

// Current implements store.TxResolver over the context-bound transaction.
func (s *Store) Current(ctx context.Context) store.Tx {
	if txn := txnFrom(ctx); txn != nil {
		return txn
	}
	return nil
}
