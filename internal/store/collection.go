package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// entry is one decoded row of the chunks table.
type entry struct {
	id     string
	text   string
	vector []float32
}

// sqliteCollection is a rag.Collection stored in the chunks table under key.
// name is the logical name reported to callers; for a shadow collection the
// key carries an additional "@shadow-<uuid>" suffix.
type sqliteCollection struct {
	store *SQLiteStore
	name  string
	key   string

	// mu guards the snapshot fields below.
	mu sync.RWMutex
	// gen is the collection generation the snapshot was loaded at.
	gen int64
	// dim is the last observed collection dimension.
	dim     int
	loaded  bool
	entries []entry
}

func (c *sqliteCollection) Name() string { return c.name }

func (c *sqliteCollection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dim
}

// syncDim refreshes the cached dimension from the collections table.
func (c *sqliteCollection) syncDim(ctx context.Context) error {
	var dim int
	err := c.store.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.key).Scan(&dim)
	if err != nil {
		return storeErr("dimension", err)
	}
	c.mu.Lock()
	c.dim = dim
	c.mu.Unlock()
	return nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE collection = ?`, c.key).Scan(&n); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

// InsertMany validates every vector against the collection dimension (the
// first insert into an empty collection establishes it) and writes all rows
// in one transaction.
func (c *sqliteCollection) InsertMany(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("store: insert: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	var dim int
	err := c.store.inTx(ctx, "insert", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.key).Scan(&dim); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return rag.ErrCollectionNotFound
			}
			return err
		}
		if dim == 0 {
			dim = len(vectors[0])
		}
		if dim == 0 {
			return fmt.Errorf("vector 0 is empty")
		}
		if err := rag.CheckDimensions(c.name, dim, vectors); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (collection, seq, id, text, length, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, ch := range chunks {
			if _, err := stmt.ExecContext(ctx, c.key, ch.ID, ch.Key(), ch.Text, ch.Length, encodeVector(vectors[i])); err != nil {
				return fmt.Errorf("chunk %d: %w", ch.ID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE collections SET dimension = ?, generation = ? WHERE name = ?`, dim, nextGeneration(), c.key)
		return err
	})
	if err != nil {
		// Dimension errors are returned as-is so callers can match them.
		var dm *rag.DimensionMismatchError
		if errors.As(err, &dm) {
			return dm
		}
		return err
	}

	c.mu.Lock()
	c.dim = dim
	c.loaded = false
	c.mu.Unlock()
	return nil
}

// Query scores every stored vector against vector and returns the topK
// closest chunks.
func (c *sqliteCollection) Query(ctx context.Context, vector []float32, topK int) ([]rag.Match, error) {
	entries, dim, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || topK <= 0 {
		return []rag.Match{}, nil
	}
	if len(vector) != dim {
		return nil, &rag.DimensionMismatchError{Collection: c.name, Want: dim, Got: len(vector), Index: -1}
	}

	matches := make([]rag.Match, len(entries))
	for i, e := range entries {
		matches[i] = rag.Match{ID: e.id, Text: e.text, Score: rag.Cosine(vector, e.vector)}
	}
	return rag.TopK(matches, topK), nil
}

// snapshot returns the decoded rows of the collection, reloading them when
// the stored generation has moved since the last load (another handle or
// another process wrote to the collection).
func (c *sqliteCollection) snapshot(ctx context.Context) ([]entry, int, error) {
	var gen int64
	var dim int
	err := c.store.db.QueryRowContext(ctx, `SELECT generation, dimension FROM collections WHERE name = ?`, c.key).Scan(&gen, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, storeErr("query", fmt.Errorf("%q: %w", c.name, rag.ErrCollectionNotFound))
	}
	if err != nil {
		return nil, 0, storeErr("query", err)
	}

	c.mu.RLock()
	if c.loaded && c.gen == gen {
		entries := c.entries
		c.mu.RUnlock()
		return entries, dim, nil
	}
	c.mu.RUnlock()

	entries, err := c.load(ctx)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	c.entries = entries
	c.gen = gen
	c.dim = dim
	c.loaded = true
	c.mu.Unlock()
	return entries, dim, nil
}

func (c *sqliteCollection) load(ctx context.Context) ([]entry, error) {
	rows, err := c.store.db.QueryContext(ctx, `SELECT id, text, embedding FROM chunks WHERE collection = ? ORDER BY seq`, c.key)
	if err != nil {
		return nil, storeErr("load", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var e entry
		var blob []byte
		if err := rows.Scan(&e.id, &e.text, &blob); err != nil {
			return nil, storeErr("load scan", err)
		}
		if e.vector, err = decodeVector(blob); err != nil {
			return nil, storeErr("load decode", fmt.Errorf("%s: %w", e.id, err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load rows", err)
	}
	return entries, nil
}
