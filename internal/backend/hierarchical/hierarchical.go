// Package hierarchical implements the MemoryBackend contract against a
// Neo4j entity graph plus a Qdrant vector store. Entities and their
// containment/sequence edges live in Neo4j; chunk embeddings live in
// Qdrant.
package hierarchical

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/watercooler-dev/wc-memory-go/internal/backend"
	"github.com/watercooler-dev/wc-memory-go/internal/domain"
	"github.com/watercooler-dev/wc-memory-go/engine/semantic"
	"github.com/watercooler-dev/wc-memory-go/pkg/repo"
)

const name = "hierarchical"

// Embedder is the subset of llmclient.Client this backend needs to turn
// query text into vectors for Qdrant search.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures the hierarchical backend's two stores.
type Config struct {
	Neo4jURI        string
	Neo4jUser       string
	Neo4jPassword   string
	QdrantAddr      string
	QdrantCollection string
	EmbedDim        int
}

func (c Config) Validate() error {
	if c.Neo4jURI == "" {
		return backend.NewConfigError(name, "neo4j URI is required")
	}
	if c.QdrantAddr == "" {
		return backend.NewConfigError(name, "qdrant address is required")
	}
	if c.QdrantCollection == "" {
		return backend.NewConfigError(name, "qdrant collection name is required")
	}
	if c.EmbedDim <= 0 {
		return backend.NewConfigError(name, "embedding dimension must be positive")
	}
	return nil
}

// Entity is the generic Neo4j node this backend stores: a thread or an
// entry, keyed by name rather than a synthetic UUID (see the node_id_type
// invariant below).
type Entity struct {
	Name     string
	Kind     string
	Summary  string
	ThreadID string
}

func entityToMap(e Entity) map[string]any {
	return map[string]any{
		"id":        e.Name,
		"kind":      e.Kind,
		"summary":   e.Summary,
		"thread_id": e.ThreadID,
	}
}

func entityFromRecord(rec *neo4j.Record) (Entity, error) {
	node, ok := rec.Values[0].(neo4j.Node)
	if !ok {
		return Entity{}, fmt.Errorf("hierarchical: unexpected record shape")
	}
	props := node.Props
	e := Entity{}
	if v, ok := props["id"].(string); ok {
		e.Name = v
	}
	if v, ok := props["kind"].(string); ok {
		e.Kind = v
	}
	if v, ok := props["summary"].(string); ok {
		e.Summary = v
	}
	if v, ok := props["thread_id"].(string); ok {
		e.ThreadID = v
	}
	return e, nil
}

// Backend implements backend.MemoryBackend and backend.ExtendedBackend.
type Backend struct {
	cfg      Config
	driver   neo4j.DriverWithContext
	vectors  *semantic.VectorStore
	entities *repo.Neo4jRepo[Entity, string]
	embedder Embedder
}

// New dials Neo4j and Qdrant and ensures the Qdrant collection exists.
func New(ctx context.Context, cfg Config, embedder Embedder) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, backend.NewBackendError(name, "dial neo4j", err)
	}

	vectors, err := semantic.New(cfg.QdrantAddr, cfg.QdrantCollection)
	if err != nil {
		return nil, backend.NewBackendError(name, "dial qdrant", err)
	}
	if err := vectors.EnsureCollection(ctx, cfg.EmbedDim); err != nil {
		return nil, backend.NewBackendError(name, "ensure qdrant collection", err)
	}

	entities := repo.NewNeo4jRepo[Entity, string](driver, "Entity", entityToMap, entityFromRecord, repo.WithIDKey[Entity, string]("id"))

	return &Backend{cfg: cfg, driver: driver, vectors: vectors, entities: entities, embedder: embedder}, nil
}

// Factory is the registry.Factory for the hierarchical backend.
func Factory(cfg Config, embedder Embedder) backend.Factory {
	return func() (backend.MemoryBackend, error) {
		return New(context.Background(), cfg, embedder)
	}
}

func (b *Backend) session(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{})
}

// Prepare upserts one Entity node per thread and per entry, idempotently via
// MERGE, and links them with CONTAINS/FOLLOWS edges mirroring the payload's
// canonical edge list.
func (b *Backend) Prepare(ctx context.Context, corpus domain.CorpusPayload) (backend.PrepareResult, error) {
	sess := b.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, th := range corpus.Threads {
			if _, err := tx.Run(ctx,
				`MERGE (t:Entity {id: $id}) SET t.kind = 'thread', t.summary = $summary, t.thread_id = $id`,
				map[string]any{"id": th.ThreadID, "summary": th.Summary}); err != nil {
				return nil, err
			}
		}
		for _, e := range corpus.Entries {
			if _, err := tx.Run(ctx,
				`MERGE (n:Entity {id: $id}) SET n.kind = 'entry', n.summary = $summary, n.thread_id = $thread_id`,
				map[string]any{"id": e.EntryID, "summary": e.Summary, "thread_id": e.ThreadID}); err != nil {
				return nil, err
			}
		}
		for _, edge := range corpus.Edges {
			if err := b.mergeEdge(ctx, tx, edge); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return backend.PrepareResult{}, backend.NewBackendError(name, "prepare", err)
	}

	return backend.PrepareResult{
		ManifestVersion: corpus.ManifestVersion,
		PreparedCount:   len(corpus.Entries) + len(corpus.Threads),
		Message:         fmt.Sprintf("prepared %d threads and %d entries in neo4j", len(corpus.Threads), len(corpus.Entries)),
	}, nil
}

func (b *Backend) mergeEdge(ctx context.Context, tx neo4j.ManagedTransaction, edge domain.Edge) error {
	cypher := fmt.Sprintf(
		`MATCH (a:Entity {id: $from}), (b:Entity {id: $to}) MERGE (a)-[:%s]->(b)`,
		sanitizeRelType(string(edge.Kind)),
	)
	_, err := tx.Run(ctx, cypher, map[string]any{"from": edge.FromID, "to": edge.ToID})
	return err
}

func sanitizeRelType(kind string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, kind))
}

// Index upserts chunk embeddings into Qdrant, payload-tagged with the owning
// thread and entry so Query can reconstruct provenance.
func (b *Backend) Index(ctx context.Context, chunks domain.ChunkPayload) (backend.IndexResult, error) {
	records := make([]semantic.VectorRecord, 0, len(chunks.Chunks))
	for _, c := range chunks.Chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		records = append(records, semantic.VectorRecord{
			ID:        chunkPointID(c.ChunkID),
			Embedding: c.Embedding,
			Payload: map[string]any{
				"text":      c.Text,
				"thread_id": c.ThreadID,
				"entry_id":  c.EntryID,
				"chunk_id":  c.ChunkID,
				"chunk_idx": c.Index,
			},
		})
	}

	if err := b.vectors.Upsert(ctx, records); err != nil {
		return backend.IndexResult{}, backend.NewTransientError(name, err)
	}

	return backend.IndexResult{
		ManifestVersion: chunks.ManifestVersion,
		IndexedCount:    len(records),
		Message:         fmt.Sprintf("indexed %d chunk embeddings in qdrant", len(records)),
	}, nil
}

// Query embeds each query's text and runs a Qdrant similarity search,
// returning the chunk text and provenance as CoreResults.
func (b *Backend) Query(ctx context.Context, payload domain.QueryPayload) (backend.QueryResult, error) {
	if b.embedder == nil {
		return backend.QueryResult{}, backend.NewConfigError(name, "no embedder configured for query-time embedding")
	}

	var out []backend.CoreResult
	for _, q := range payload.Queries {
		vecs, err := b.embedder.EmbedBatch(ctx, []string{q.Text})
		if err != nil {
			return backend.QueryResult{}, backend.NewTransientError(name, err)
		}
		if len(vecs) == 0 {
			continue
		}

		limit := q.Limit
		if limit <= 0 {
			limit = 10
		}

		hits, err := b.vectors.Search(ctx, vecs[0], limit)
		if err != nil {
			return backend.QueryResult{}, backend.NewTransientError(name, err)
		}
		for _, h := range hits {
			out = append(out, backend.CoreResult{
				ID:      h.ID,
				Content: h.Text,
				Score:   float64(h.Score),
				Source:  h.ThreadID,
				Backend: name,
				Metadata: map[string]any{
					"entry_id": h.EntryID,
				},
			})
		}
	}

	return backend.QueryResult{
		ManifestVersion: payload.ManifestVersion,
		Results:         out,
		Message:         fmt.Sprintf("executed %d queries against qdrant", len(payload.Queries)),
	}, nil
}

func (b *Backend) Healthcheck(ctx context.Context) backend.HealthStatus {
	if err := b.driver.VerifyConnectivity(ctx); err != nil {
		return backend.HealthStatus{OK: false, Details: fmt.Sprintf("neo4j unreachable: %v", err)}
	}
	if err := b.vectors.EnsureCollection(ctx, b.cfg.EmbedDim); err != nil {
		return backend.HealthStatus{OK: false, Details: fmt.Sprintf("qdrant unreachable: %v", err)}
	}
	return backend.HealthStatus{OK: true, Details: "neo4j and qdrant reachable"}
}

func (b *Backend) GetCapabilities() backend.Capabilities {
	return backend.Capabilities{
		Embeddings:       b.embedder != nil,
		EntityExtraction: false,
		GraphQuery:       true,
		SchemaVersions:   []string{domain.ManifestVersion},
		SupportsNeo4j:    true,
		SupportsNodes:    true,
		SupportsFacts:    true,
		SupportsEpisodes: false,
		SupportsChunks:   true,
		SupportsEdges:    true,
		NodeIDType:       backend.IDTypeName,
		EdgeIDType:       backend.IDTypeSynthetic,
	}
}

// SearchNodes performs a substring match over entity ids and summaries. Neo4j has no
// full-text index configured here, so this is intentionally a simple
// CONTAINS scan, adequate at thread/entry scale.
func (b *Backend) SearchNodes(ctx context.Context, query string, _ []string, maxResults int, _ []string) ([]backend.CoreResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	sess := b.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (n:Entity) WHERE n.id CONTAINS $q OR n.summary CONTAINS $q RETURN n LIMIT $limit`,
		map[string]any{"q": query, "limit": maxResults})
	if err != nil {
		return nil, backend.NewBackendError(name, "search_nodes", err)
	}

	var out []backend.CoreResult
	for res.Next(ctx) {
		e, err := entityFromRecord(res.Record())
		if err != nil {
			return nil, backend.NewBackendError(name, "search_nodes", err)
		}
		out = append(out, backend.CoreResult{ID: e.Name, Name: e.Name, Summary: e.Summary, Backend: name})
	}
	return out, nil
}

// SearchFacts walks direct relationships between entities matched by the
// query text and returns them as synthetic SOURCE||TARGET facts.
func (b *Backend) SearchFacts(ctx context.Context, query string, groupIDs []string, maxResults int, _ string) ([]backend.CoreResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	nodes, err := b.SearchNodes(ctx, query, groupIDs, maxResults*2, nil)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	sess := b.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (a:Entity)-[r]->(b:Entity) WHERE a.id IN $ids AND b.id IN $ids RETURN a.id, type(r), b.id LIMIT $limit`,
		map[string]any{"ids": ids, "limit": maxResults})
	if err != nil {
		return nil, backend.NewBackendError(name, "search_facts", err)
	}

	var out []backend.CoreResult
	for res.Next(ctx) {
		rec := res.Record()
		src, _ := rec.Values[0].(string)
		kind, _ := rec.Values[1].(string)
		tgt, _ := rec.Values[2].(string)
		out = append(out, backend.CoreResult{
			ID:           src + "||" + tgt,
			SourceNodeID: src,
			TargetNodeID: tgt,
			Summary:      kind,
			Backend:      name,
		})
	}
	return out, nil
}

func (b *Backend) SearchEpisodes(context.Context, string, []string, int) ([]backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "search_episodes")
}

// GetNode retrieves a single entity by name, rejecting UUID/ULID-shaped ids
// per this backend's name-keyed node_id_type.
func (b *Backend) GetNode(ctx context.Context, nodeID, _ string) (*backend.CoreResult, error) {
	if err := backend.CheckNodeID(backend.IDTypeName, nodeID); err != nil {
		return nil, err
	}
	e, err := b.entities.Get(ctx, nodeID)
	if err != nil {
		return nil, nil
	}
	return &backend.CoreResult{ID: e.Name, Name: e.Name, Summary: e.Summary, Backend: name}, nil
}

// GetEdge retrieves a relationship by its synthetic SOURCE||TARGET id.
func (b *Backend) GetEdge(ctx context.Context, edgeID, _ string) (*backend.CoreResult, error) {
	if err := backend.CheckEdgeID(backend.IDTypeSynthetic, edgeID); err != nil {
		return nil, err
	}
	parts := strings.SplitN(edgeID, "||", 2)
	src, tgt := parts[0], parts[1]

	sess := b.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (a:Entity {id: $src})-[r]->(b:Entity {id: $tgt}) RETURN type(r) LIMIT 1`,
		map[string]any{"src": src, "tgt": tgt})
	if err != nil {
		return nil, backend.NewBackendError(name, "get_edge", err)
	}
	if !res.Next(ctx) {
		return nil, nil
	}
	kind, _ := res.Record().Values[0].(string)
	return &backend.CoreResult{ID: edgeID, SourceNodeID: src, TargetNodeID: tgt, Summary: kind, Backend: name}, nil
}

// chunkPointID derives a deterministic UUIDv5 from a chunk ID. Qdrant point
// IDs must be UUID-shaped or unsigned integers; hashing into the OID
// namespace gives a stable one-to-one mapping without tracking a separate
// ID table.
func chunkPointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

var (
	_ backend.MemoryBackend   = (*Backend)(nil)
	_ backend.ExtendedBackend = (*Backend)(nil)
)
