// Package nullb implements the reference echo backend used for contract
// tests: it stores whatever it's given and echoes it back on query, without
// ever contacting a real store.
package nullb

import (
	"context"
	"sync"

	"github.com/watercooler-dev/wc-memory-go/internal/backend"
	"github.com/watercooler-dev/wc-memory-go/internal/domain"
)

const name = "null"

// Backend is the in-memory no-op MemoryBackend implementation.
type Backend struct {
	mu     sync.Mutex
	corpus *domain.CorpusPayload
	chunks *domain.ChunkPayload
}

// New constructs a null Backend.
func New() *Backend {
	return &Backend{}
}

// Factory is the registry.Factory for the null backend.
func Factory() (backend.MemoryBackend, error) {
	return New(), nil
}

func (b *Backend) Prepare(_ context.Context, corpus domain.CorpusPayload) (backend.PrepareResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := corpus
	cp.Threads = append([]domain.Thread(nil), corpus.Threads...)
	cp.Entries = append([]domain.Entry(nil), corpus.Entries...)
	cp.Edges = append([]domain.Edge(nil), corpus.Edges...)
	b.corpus = &cp

	return backend.PrepareResult{
		ManifestVersion: corpus.ManifestVersion,
		PreparedCount:   len(corpus.Entries),
		Message:         "null backend prepared corpus",
	}, nil
}

func (b *Backend) Index(_ context.Context, chunks domain.ChunkPayload) (backend.IndexResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := chunks
	cp.Chunks = append([]domain.Chunk(nil), chunks.Chunks...)
	b.chunks = &cp

	return backend.IndexResult{
		ManifestVersion: chunks.ManifestVersion,
		IndexedCount:    len(chunks.Chunks),
		Message:         "null backend indexed chunks",
	}, nil
}

func (b *Backend) Query(_ context.Context, query domain.QueryPayload) (backend.QueryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var results []backend.CoreResult
	if b.chunks != nil {
		for _, chunk := range b.chunks.Chunks {
			results = append(results, backend.CoreResult{
				ID:      chunk.ChunkID,
				Content: chunk.Text,
				Backend: name,
				Extra: map[string]any{
					"chunk":   chunk,
					"queries": query.Queries,
				},
			})
		}
	}

	return backend.QueryResult{
		ManifestVersion: query.ManifestVersion,
		Results:         results,
		Message:         "null backend echo response",
	}, nil
}

func (b *Backend) Healthcheck(context.Context) backend.HealthStatus {
	return backend.HealthStatus{OK: true, Details: "null backend is healthy"}
}

func (b *Backend) GetCapabilities() backend.Capabilities {
	return backend.Capabilities{
		SchemaVersions: []string{domain.ManifestVersion},
		NodeIDType:     backend.IDTypePassthrough,
		EdgeIDType:     backend.IDTypePassthrough,
	}
}

func (b *Backend) SearchNodes(context.Context, string, []string, int, []string) ([]backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "search_nodes")
}

func (b *Backend) SearchFacts(context.Context, string, []string, int, string) ([]backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "search_facts")
}

func (b *Backend) SearchEpisodes(context.Context, string, []string, int) ([]backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "search_episodes")
}

func (b *Backend) GetNode(context.Context, string, string) (*backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "get_node")
}

func (b *Backend) GetEdge(context.Context, string, string) (*backend.CoreResult, error) {
	return nil, backend.NewUnsupportedOperationError(name, "get_edge")
}

var (
	_ backend.MemoryBackend   = (*Backend)(nil)
	_ backend.ExtendedBackend = (*Backend)(nil)
)
