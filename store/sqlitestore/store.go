// Package sqlitestore is a SQLite-backed content store implementing the
// collaborator contracts the emission pipeline consumes: the read API, the
// transaction-context capability, lifecycle hook dispatch, and the
// field-permission sanitizer.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/contentwire/contentwire/store"
)

const columnCacheSize = 128

// Store is a SQLite-backed content store.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	schemas *schemaRegistry
	docIDs  *docIDGenerator
	columns *lru.Cache[string, map[string]bool]

	hookMu   sync.RWMutex
	handlers map[hookKey][]store.Handler
}

type hookKey struct {
	uid  string
	kind store.HookKind
}

// Open opens (or creates) the content database at path.
func Open(path string, nodeID uint64) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open content database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	columns, err := lru.New[string, map[string]bool](columnCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		dialect:  goqu.Dialect("sqlite3"),
		schemas:  newSchemaRegistry(),
		docIDs:   newDocIDGenerator(nodeID),
		columns:  columns,
		handlers: make(map[hookKey][]store.Handler),
	}, nil
}

// DB exposes the underlying connection for schema management.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterModel registers a model schema. Called once per model at startup.
func (s *Store) RegisterModel(schema ModelSchema) {
	s.schemas.register(schema)
}

// Subscribe registers a lifecycle hook handler. Implements store.Hooks.
func (s *Store) Subscribe(modelUID string, kind store.HookKind, h store.Handler) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	key := hookKey{uid: modelUID, kind: kind}
	s.handlers[key] = append(s.handlers[key], h)
}

// dispatch invokes all handlers for the event synchronously. A panicking
// handler must not corrupt the write path.
func (s *Store) dispatch(ctx context.Context, ev *store.Event) {
	s.hookMu.RLock()
	handlers := s.handlers[hookKey{uid: ev.Model.UID, kind: ev.Kind}]
	s.hookMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("model", ev.Model.UID).
						Str("kind", string(ev.Kind)).
						Any("panic", r).
						Msg("Lifecycle handler panicked")
				}
			}()
			h(ctx, ev)
		}()
	}
}

// tableColumns returns the set of column names for a table, cached.
func (s *Store) tableColumns(table string) (map[string]bool, error) {
	if cols, ok := s.columns.Get(table); ok {
		return cols, nil
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	s.columns.Add(table, cols)
	return cols, nil
}

// execer abstracts over *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// exec returns the ambient transaction's handle when one is bound to ctx,
// the plain connection otherwise.
func (s *Store) exec(ctx context.Context) execer {
	if txn := txnFrom(ctx); txn != nil {
		return txn.tx
	}
	return s.db
}
