// Package episodic implements the MemoryBackend contract against a
// FalkorDB-shaped graph store reached over the Redis wire protocol. Each
// entry becomes one episode node; episodes are linked in arrival order so
// queries can reason chronologically.
package episodic

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/watercooler-dev/wc-memory-go/internal/backend"
	"github.com/watercooler-dev/wc-memory-go/internal/domain"
)

const name = "episodic"

// Embedder is the subset of llmclient.Client this backend accepts. It is
// optional and only decides whether Capabilities reports embedding support;
// Query does not embed the query text and does no similarity or hybrid
// search, only a substring match over stored episodes.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures the FalkorDB connection.
type Config struct {
	Addr     string
	Password string
	GraphName string
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return backend.NewConfigError(name, "redis address is required")
	}
	if c.GraphName == "" {
		return backend.NewConfigError(name, "graph name is required")
	}
	return nil
}

// Backend implements backend.MemoryBackend and backend.ExtendedBackend
// against a FalkorDB graph reached via go-redis's raw command escape hatch,
// since FalkorDB's GRAPH.QUERY command has no typed client in the ecosystem
// this module draws on (see DESIGN.md).
type Backend struct {
	cfg      Config
	rdb      *redis.Client
	embedder Embedder

	// FalkorDB's GRAPH.QUERY is not safe for concurrent use against the same
	// graph from multiple goroutines issuing multi-statement sequences.
	mu sync.Mutex
}

// New constructs a Backend and pings the Redis connection.
func New(ctx context.Context, cfg Config, embedder Embedder) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, backend.NewTransientError(name, err)
	}
	return &Backend{cfg: cfg, rdb: rdb, embedder: embedder}, nil
}

// Factory is the registry.Factory for the episodic backend.
func Factory(cfg Config, embedder Embedder) backend.Factory {
	return func() (backend.MemoryBackend, error) {
		return New(context.Background(), cfg, embedder)
	}
}

func (b *Backend) graphQuery(ctx context.Context, cypher string) (*redis.Cmd, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmd := b.rdb.Do(ctx, "GRAPH.QUERY", b.cfg.GraphName, cypher)
	return cmd, cmd.Err()
}

func escapeCypherString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Prepare creates one Episode node per entry, carrying its name, body,
// source description, and reference time.
func (b *Backend) Prepare(ctx context.Context, corpus domain.CorpusPayload) (backend.PrepareResult, error) {
	var statements []string
	for _, e := range corpus.Entries {
		sourceDesc := fmt.Sprintf("Watercooler thread '%s' - %s by %s (%s)", e.ThreadID, e.EntryType, e.Agent, e.Role)
		title := e.Title
		if title == "" {
			title = fmt.Sprintf("Entry %s", e.EntryID)
		}
		cypher := fmt.Sprintf(
			`MERGE (ep:Episode {id: "%s"}) SET ep.name = "%s", ep.body = "%s", ep.source_description = "%s", ep.reference_time = "%s", ep.thread_id = "%s"`,
			escapeCypherString(e.EntryID),
			escapeCypherString(title),
			escapeCypherString(e.Body),
			escapeCypherString(sourceDesc),
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			escapeCypherString(e.ThreadID),
		)
		statements = append(statements, cypher)
	}

	for _, cypher := range statements {
		if _, err := b.graphQuery(ctx, cypher); err != nil {
			return backend.PrepareResult{}, backend.NewBackendError(name, "prepare", err)
		}
	}

	if err := b.linkEpisodesInOrder(ctx, corpus); err != nil {
		return backend.PrepareResult{}, err
	}

	return backend.PrepareResult{
		ManifestVersion: corpus.ManifestVersion,
		PreparedCount:   len(corpus.Entries),
		Message:         fmt.Sprintf("prepared %d episodes in falkordb", len(corpus.Entries)),
	}, nil
}

func (b *Backend) linkEpisodesInOrder(ctx context.Context, corpus domain.CorpusPayload) error {
	byThread := make(map[string][]domain.Entry)
	for _, e := range corpus.Entries {
		byThread[e.ThreadID] = append(byThread[e.ThreadID], e)
	}
	for _, entries := range byThread {
		for i := 1; i < len(entries); i++ {
			cypher := fmt.Sprintf(
				`MATCH (a:Episode {id: "%s"}), (b:Episode {id: "%s"}) MERGE (a)-[:FOLLOWS]->(b)`,
				escapeCypherString(entries[i-1].EntryID), escapeCypherString(entries[i].EntryID),
			)
			if _, err := b.graphQuery(ctx, cypher); err != nil {
				return backend.NewBackendError(name, "link episodes", err)
			}
		}
	}
	return nil
}

// Index is a no-op beyond what Prepare already wrote: episodic ingestion has
// no chunk-embedding phase, and Query searches the episodes stored in
// Prepare by substring match.
func (b *Backend) Index(_ context.Context, chunks domain.ChunkPayload) (backend.IndexResult, error) {
	return backend.IndexResult{
		ManifestVersion: chunks.ManifestVersion,
		IndexedCount:    0,
		Message:         "episodic backend indexes at prepare time; index is a no-op",
	}, nil
}

// Query performs a best-effort textual match over episode bodies. True
// hybrid (semantic+graph) search requires an embedding-indexed property
// graph which FalkorDB's open-source tier doesn't provide without the
// vector-similarity module; this degrades gracefully to substring matching.
func (b *Backend) Query(ctx context.Context, payload domain.QueryPayload) (backend.QueryResult, error) {
	var out []backend.CoreResult
	for _, q := range payload.Queries {
		limit := q.Limit
		if limit <= 0 {
			limit = 10
		}
		cypher := fmt.Sprintf(
			`MATCH (ep:Episode) WHERE ep.body CONTAINS "%s" OR ep.name CONTAINS "%s" RETURN ep.id, ep.name, ep.body, ep.reference_time LIMIT %d`,
			escapeCypherString(q.Text), escapeCypherString(q.Text), limit,
		)
		cmd, err := b.graphQuery(ctx, cypher)
		if err != nil {
			return backend.QueryResult{}, backend.NewTransientError(name, err)
		}
		rows, err := parseRows(cmd)
		if err != nil {
			return backend.QueryResult{}, backend.NewBackendError(name, "query", err)
		}
		for _, row := range rows {
			out = append(out, backend.CoreResult{
				ID:      asString(row, 0),
				Name:    asString(row, 1),
				Content: asString(row, 2),
				Backend: name,
				Metadata: map[string]any{
					"reference_time": asString(row, 3),
				},
			})
		}
	}

	return backend.QueryResult{
		ManifestVersion: payload.ManifestVersion,
		Results:         out,
		Message:         fmt.Sprintf("executed %d queries against falkordb episodes", len(payload.Queries)),
	}, nil
}

// parseRows extracts the GRAPH.QUERY RESP reply's result-set rows. FalkorDB
// replies with [header, rows, stats]; we only need rows.
func parseRows(cmd *redis.Cmd) ([][]any, error) {
	raw, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	top, ok := raw.([]any)
	if !ok || len(top) < 2 {
		return nil, nil
	}
	rows, ok := top[1].([]any)
	if !ok {
		return nil, nil
	}
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		if row, ok := r.([]any); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func asString(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return s
}

func (b *Backend) Healthcheck(ctx context.Context) backend.HealthStatus {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return backend.HealthStatus{OK: false, Details: fmt.Sprintf("falkordb unreachable: %v", err)}
	}
	return backend.HealthStatus{OK: true, Details: "falkordb reachable"}
}

func (b *Backend) GetCapabilities() backend.Capabilities {
	return backend.Capabilities{
		Embeddings:       b.embedder != nil,
		EntityExtraction: true,
		GraphQuery:       true,
		SupportsFalkor:   true,
		SchemaVersions:   []string{domain.ManifestVersion},
		SupportsNodes:    false,
		SupportsFacts:    false,
		SupportsEpisodes: true,
		SupportsChunks:   false,
		SupportsEdges:    false,
		NodeIDType:       backend.IDTypeName,
		EdgeIDType:       backend.IDTypeName,
	}
}

func (b *Backend) SearchNodes(context.Context, string, []string, int, []string) ([]backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "search_nodes")
}

func (b *Backend) SearchFacts(context.Context, string, []string, int, string) ([]backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "search_facts")
}

// SearchEpisodes is a thin wrapper over Query for a single query string.
func (b *Backend) SearchEpisodes(ctx context.Context, query string, _ []string, maxResults int) ([]backend.CoreResult, error) {
	qr, err := b.Query(ctx, domain.QueryPayload{
		ManifestVersion: domain.ManifestVersion,
		Queries:         []domain.Query{{Text: query, Limit: maxResults}},
	})
	if err != nil {
		return nil, err
	}
	return qr.Results, nil
}

func (b *Backend) GetNode(ctx context.Context, nodeID, _ string) (*backend.CoreResult, error) {
	if err := backend.CheckNodeID(backend.IDTypeName, nodeID); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(`MATCH (ep:Episode {id: "%s"}) RETURN ep.id, ep.name, ep.body, ep.reference_time LIMIT 1`, escapeCypherString(nodeID))
	cmd, err := b.graphQuery(ctx, cypher)
	if err != nil {
		return nil, backend.NewTransientError(name, err)
	}
	rows, err := parseRows(cmd)
	if err != nil || len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &backend.CoreResult{ID: asString(row, 0), Name: asString(row, 1), Content: asString(row, 2), Backend: name}, nil
}

func (b *Backend) GetEdge(context.Context, string, string) (*backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "get_edge")
}

var (
	_ backend.MemoryBackend   = (*Backend)(nil)
	_ backend.ExtendedBackend = (*Backend)(nil)
)
