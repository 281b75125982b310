package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of the embeddings stored in every
	// collection created by this store. Qdrant fixes it at creation time.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements Store on top of Qdrant. A logical collection name
// is a Qdrant alias pointing at a physical collection "<name>-<uuid>", so a
// reload can build a fresh physical collection and swap the alias in one
// UpdateAliases call.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore dials Qdrant and returns a ready-to-use Store.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// Client exposes the underlying gRPC client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// physicalName returns a fresh physical collection name for alias.
func physicalName(alias string) string {
	return alias + "-" + uuid.NewString()
}

// resolve returns the physical collection the alias points at, or "" when
// the alias does not exist.
func (s *QdrantStore) resolve(ctx context.Context, alias string) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", storeErr("list aliases", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == alias {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

// Exists reports whether the alias name is bound to a physical collection.
func (s *QdrantStore) Exists(ctx context.Context, name string) (bool, error) {
	physical, err := s.resolve(ctx, name)
	if err != nil {
		return false, err
	}
	return physical != "", nil
}

// Open returns the collection behind alias name, creating a physical
// collection and binding the alias when it does not exist yet.
func (s *QdrantStore) Open(ctx context.Context, name string) (OpenResult, error) {
	physical, err := s.resolve(ctx, name)
	if err != nil {
		return OpenResult{}, err
	}
	if physical == "" {
		physical = physicalName(name)
		if err := s.createPhysical(ctx, physical); err != nil {
			return OpenResult{}, err
		}
		if err := s.client.CreateAlias(ctx, name, physical); err != nil {
			return OpenResult{}, storeErr("create alias", err)
		}
		return OpenResult{Collection: s.handle(name, physical), Created: true}, nil
	}

	coll := s.handle(name, physical)
	n, err := coll.Count(ctx)
	if err != nil {
		return OpenResult{}, err
	}
	return OpenResult{Collection: coll, Populated: n > 0}, nil
}

// Rebuild drops the physical collection behind name and recreates it empty
// under the same alias.
func (s *QdrantStore) Rebuild(ctx context.Context, name string) (Collection, error) {
	shadow, err := s.Stage(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.Promote(ctx, name, shadow)
}

// Stage creates a new, unaliased physical collection for name.
func (s *QdrantStore) Stage(ctx context.Context, name string) (Collection, error) {
	physical := physicalName(name)
	if err := s.createPhysical(ctx, physical); err != nil {
		return nil, err
	}
	return s.handle(name, physical), nil
}

// Promote rebinds alias name to the shadow's physical collection in a single
// UpdateAliases call and deletes the previously bound physical collection.
// Once the alias has moved, a failed delete is reported as a *CleanupError
// next to the promoted collection.
func (s *QdrantStore) Promote(ctx context.Context, name string, shadow Collection) (Collection, error) {
	qc, ok := shadow.(*qdrantCollection)
	if !ok || qc.store != s {
		return nil, fmt.Errorf("qdrant: promote: collection %q was not staged by this store", shadow.Name())
	}

	previous, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	var ops []*qdrant.AliasOperations
	if previous != "" {
		ops = append(ops, &qdrant.AliasOperations{
			Action: &qdrant.AliasOperations_DeleteAlias{
				DeleteAlias: &qdrant.DeleteAlias{AliasName: name},
			},
		})
	}
	ops = append(ops, &qdrant.AliasOperations{
		Action: &qdrant.AliasOperations_CreateAlias{
			CreateAlias: &qdrant.CreateAlias{CollectionName: qc.physical, AliasName: name},
		},
	})
	if err := s.client.UpdateAliases(ctx, ops); err != nil {
		return nil, storeErr("promote", err)
	}

	if previous != "" && previous != qc.physical {
		if err := s.client.DeleteCollection(ctx, previous); err != nil {
			return qc, &CleanupError{Backend: "qdrant", Collection: previous, Err: err}
		}
	}
	return qc, nil
}

// Discard deletes a staged physical collection.
func (s *QdrantStore) Discard(ctx context.Context, shadow Collection) error {
	qc, ok := shadow.(*qdrantCollection)
	if !ok {
		return fmt.Errorf("qdrant: discard: collection %q was not staged by this store", shadow.Name())
	}
	if err := s.client.DeleteCollection(ctx, qc.physical); err != nil {
		return storeErr("discard", err)
	}
	return nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) createPhysical(ctx context.Context, physical string) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: physical,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return storeErr(fmt.Sprintf("create collection %q", physical), err)
	}
	return nil
}

func (s *QdrantStore) handle(name, physical string) *qdrantCollection {
	return &qdrantCollection{store: s, name: name, physical: physical}
}

func storeErr(op string, err error) error {
	return &VectorStoreError{Backend: "qdrant", Op: op, Err: err}
}

// qdrantCollection addresses one physical Qdrant collection. Points are
// keyed by the numeric chunk ID; the "chunk_<i>" identifier travels in the
// payload.
type qdrantCollection struct {
	store    *QdrantStore
	name     string
	physical string
}

func (c *qdrantCollection) Name() string { return c.name }

func (c *qdrantCollection) Dimension() int { return int(c.store.cfg.VectorSize) }

func (c *qdrantCollection) Count(ctx context.Context) (int, error) {
	n, err := c.store.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.physical,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, storeErr("count", err)
	}
	return int(n), nil
}

func (c *qdrantCollection) InsertMany(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: insert: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if err := CheckDimensions(c.name, c.Dimension(), vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, ch := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(ch.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"id":     ch.Key(),
				"text":   ch.Text,
				"length": int64(ch.Length),
			}),
		})
	}

	_, err := c.store.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.physical,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return storeErr("insert", err)
	}
	return nil
}

func (c *qdrantCollection) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if len(vector) != c.Dimension() {
		return nil, &DimensionMismatchError{Collection: c.name, Want: c.Dimension(), Got: len(vector), Index: -1}
	}
	if topK <= 0 {
		return []Match{}, nil
	}
	limit := uint64(topK)
	results, err := c.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.physical,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, storeErr("query", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{Score: r.GetScore()}
		if p := r.GetPayload(); p != nil {
			if v, ok := p["id"]; ok {
				m.ID = v.GetStringValue()
			}
			if v, ok := p["text"]; ok {
				m.Text = v.GetStringValue()
			}
		}
		if m.ID == "" {
			m.ID = ChunkKey(int(r.GetId().GetNum()))
		}
		matches = append(matches, m)
	}
	return matches, nil
}

