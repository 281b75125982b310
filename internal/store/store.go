// Package store provides the default SQLite-backed vector index. Every
// collection lives in a single database file under the index directory;
// embeddings are stored as little-endian float32 BLOBs and searched with an
// exact cosine scan over an in-memory snapshot of the collection.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/kbrag-go/internal/rag"
)

// DBFile is the database file name created inside the index directory.
const DBFile = "index.db"

// DefaultDir is the index directory used when none is configured.
const DefaultDir = "kb_index"

// shadowSep separates a logical collection name from its shadow suffix.
const shadowSep = "@shadow-"

// staleShadowAge is how old an unpromoted shadow must be before Open treats
// it as left behind by a crashed build. Younger shadows may belong to a
// build still running in another process.
const staleShadowAge = time.Hour

// SQLiteStore is a rag.Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// path is the database file path, or ":memory:".
	path string

	// mu guards handles.
	mu sync.Mutex

	// handles caches one collection handle per stored collection key so
	// snapshots are shared between callers.
	handles map[string]*sqliteCollection
}

// Open opens (or creates) the index database inside dir and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(dir string) (*SQLiteStore, error) {
	path := ":memory:"
	dsn := path
	if dir != ":memory:" {
		if dir == "" {
			dir = DefaultDir
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: could not create %s: %w", dir, err)
		}
		path = filepath.Join(dir, DBFile)
		// WAL keeps readers unblocked during a reload; FULL sync makes every
		// commit durable before it returns.
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single connection to avoid SQLITE_BUSY under concurrent
	// writes and to keep ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, handles: make(map[string]*sqliteCollection)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := s.sweepShadows(context.Background(), time.Now().Add(-staleShadowAge)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collections (
    name        TEXT    PRIMARY KEY,
    dimension   INTEGER NOT NULL DEFAULT 0,
    generation  INTEGER NOT NULL,         -- bumped on every mutation
    created_at  INTEGER NOT NULL          -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS chunks (
    collection  TEXT    NOT NULL,
    seq         INTEGER NOT NULL,
    id          TEXT    NOT NULL,
    text        TEXT    NOT NULL,
    length      INTEGER NOT NULL,
    embedding   BLOB    NOT NULL,
    PRIMARY KEY (collection, seq)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Exists reports whether the named collection exists.
func (s *SQLiteStore) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE name = ?`, name).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, storeErr("exists", err)
	}
	return true, nil
}

// Open returns the named collection, creating it when absent.
func (s *SQLiteStore) Open(ctx context.Context, name string) (rag.OpenResult, error) {
	const q = `INSERT INTO collections (name, dimension, generation, created_at) VALUES (?, 0, ?, ?)
ON CONFLICT(name) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, name, nextGeneration(), time.Now().Unix())
	if err != nil {
		return rag.OpenResult{}, storeErr("open", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return rag.OpenResult{}, storeErr("open", err)
	}

	coll := s.handle(name, name)
	if err := coll.syncDim(ctx); err != nil {
		return rag.OpenResult{}, err
	}
	n, err := coll.Count(ctx)
	if err != nil {
		return rag.OpenResult{}, err
	}
	return rag.OpenResult{Collection: coll, Created: created == 1, Populated: n > 0}, nil
}

// Rebuild drops every chunk of the named collection, resets its dimension,
// and returns it empty.
func (s *SQLiteStore) Rebuild(ctx context.Context, name string) (rag.Collection, error) {
	err := s.inTx(ctx, "rebuild", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, name); err != nil {
			return err
		}
		const upsert = `INSERT INTO collections (name, dimension, generation, created_at) VALUES (?, 0, ?, ?)
ON CONFLICT(name) DO UPDATE SET dimension = 0, generation = excluded.generation`
		_, err := tx.ExecContext(ctx, upsert, name, nextGeneration(), time.Now().Unix())
		return err
	})
	if err != nil {
		return nil, err
	}
	coll := s.handle(name, name)
	if err := coll.syncDim(ctx); err != nil {
		return nil, err
	}
	return coll, nil
}

// Stage creates an empty shadow collection for name.
func (s *SQLiteStore) Stage(ctx context.Context, name string) (rag.Collection, error) {
	key := name + shadowSep + uuid.NewString()
	const q = `INSERT INTO collections (name, dimension, generation, created_at) VALUES (?, 0, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, key, nextGeneration(), time.Now().Unix()); err != nil {
		return nil, storeErr("stage", err)
	}
	return s.handle(name, key), nil
}

// Promote replaces the live collection name with shadow inside a single
// transaction: readers see either the old or the new contents, never a mix.
func (s *SQLiteStore) Promote(ctx context.Context, name string, shadow rag.Collection) (rag.Collection, error) {
	sc, err := s.own(shadow)
	if err != nil {
		return nil, fmt.Errorf("store: promote: %w", err)
	}
	if sc.key == name {
		return sc, nil
	}

	err = s.inTx(ctx, "promote", func(tx *sql.Tx) error {
		stmts := []struct {
			q    string
			args []any
		}{
			{`DELETE FROM chunks WHERE collection = ?`, []any{name}},
			{`DELETE FROM collections WHERE name = ?`, []any{name}},
			{`UPDATE chunks SET collection = ? WHERE collection = ?`, []any{name, sc.key}},
			{`UPDATE collections SET name = ?, generation = ? WHERE name = ?`, []any{name, nextGeneration(), sc.key}},
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.q, st.args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.handles, sc.key)
	s.mu.Unlock()
	live := s.handle(name, name)
	if err := live.syncDim(ctx); err != nil {
		return nil, err
	}
	return live, nil
}

// Discard deletes a shadow collection and its chunks.
func (s *SQLiteStore) Discard(ctx context.Context, shadow rag.Collection) error {
	sc, err := s.own(shadow)
	if err != nil {
		return fmt.Errorf("store: discard: %w", err)
	}
	err = s.inTx(ctx, "discard", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, sc.key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, sc.key)
		return err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.handles, sc.key)
	s.mu.Unlock()
	return nil
}

// sweepShadows deletes shadow collections staged before cutoff and returns
// how many it removed.
func (s *SQLiteStore) sweepShadows(ctx context.Context, cutoff time.Time) (int, error) {
	const stale = `SELECT name FROM collections WHERE instr(name, ?) > 0 AND created_at < ?`
	var keys []string
	err := s.inTx(ctx, "sweep shadows", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, stale, shadowSep, cutoff.Unix())
		if err != nil {
			return err
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				_ = rows.Close()
				return err
			}
			keys = append(keys, k)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// handle returns the shared handle for the stored collection key.
func (s *SQLiteStore) handle(name, key string) *sqliteCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.handles[key]; ok {
		return c
	}
	c := &sqliteCollection{store: s, name: name, key: key}
	s.handles[key] = c
	return c
}

func (s *SQLiteStore) own(c rag.Collection) (*sqliteCollection, error) {
	sc, ok := c.(*sqliteCollection)
	if !ok || sc.store != s {
		return nil, fmt.Errorf("collection %q does not belong to this store", c.Name())
	}
	return sc, nil
}

// inTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return &rag.VectorStoreError{Backend: "sqlite", Op: op, Err: err}
}

// nextGeneration returns a value that differs from every generation handed
// out before it in this process and, in practice, across processes.
func nextGeneration() int64 {
	genMu.Lock()
	defer genMu.Unlock()
	g := time.Now().UnixNano()
	if g <= lastGen {
		g = lastGen + 1
	}
	lastGen = g
	return g
}

var (
	genMu   sync.Mutex
	lastGen int64
)
