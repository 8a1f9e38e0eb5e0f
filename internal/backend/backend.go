// Package backend defines the pluggable memory-backend contract decoupling
// the pipeline from any particular graph/vector engine, plus the process-wide
// registry of backend factories.
package backend

import (
	"context"
	"regexp"

	"github.com/watercooler-dev/wc-memory-go/internal/domain"
)

// HealthStatus is returned by Healthcheck. It never errors.
type HealthStatus struct {
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// IDType classifies the identifier shape a backend accepts for a node kind.
type IDType string

const (
	IDTypeName       IDType = "name"
	IDTypeUUID       IDType = "uuid"
	IDTypeSynthetic  IDType = "synthetic"
	IDTypePassthrough IDType = "passthrough"
)

// Capabilities describes what a backend supports.
type Capabilities struct {
	Embeddings       bool     `json:"embeddings"`
	EntityExtraction bool     `json:"entity_extraction"`
	GraphQuery       bool     `json:"graph_query"`
	Rerank           bool     `json:"rerank"`
	SchemaVersions   []string `json:"schema_versions"`

	SupportsFalkor bool `json:"supports_falkor"`
	SupportsMilvus bool `json:"supports_milvus"`
	SupportsNeo4j  bool `json:"supports_neo4j"`
	MaxTokens      int  `json:"max_tokens,omitempty"`

	// Extended retrieval flags, one per optional ExtendedBackend method.
	SupportsNodes    bool `json:"supports_nodes"`
	SupportsFacts    bool `json:"supports_facts"`
	SupportsEpisodes bool `json:"supports_episodes"`
	SupportsChunks   bool `json:"supports_chunks"`
	SupportsEdges    bool `json:"supports_edges"`

	NodeIDType IDType `json:"node_id_type"`
	EdgeIDType IDType `json:"edge_id_type"`
}

// PrepareResult is returned by Prepare.
type PrepareResult struct {
	ManifestVersion string `json:"manifest_version"`
	PreparedCount   int    `json:"prepared_count"`
	Message         string `json:"message,omitempty"`
}

// IndexResult is returned by Index.
type IndexResult struct {
	ManifestVersion string `json:"manifest_version"`
	IndexedCount    int    `json:"indexed_count"`
	Message         string `json:"message,omitempty"`
}

// CoreResult is the normalized retrieval record every backend operation
// returns. Backend-specific fields live in Extra and must not shadow the
// core keys.
type CoreResult struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Content        string         `json:"content,omitempty"`
	Score          float64        `json:"score,omitempty"`
	Source         string         `json:"source,omitempty"`
	SourceNodeID   string         `json:"source_node_id,omitempty"`
	TargetNodeID   string         `json:"target_node_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Backend        string         `json:"backend"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// QueryResult is returned by Query.
type QueryResult struct {
	ManifestVersion string       `json:"manifest_version"`
	Results         []CoreResult `json:"results"`
	Message         string       `json:"message,omitempty"`
}

// MemoryBackend is the pluggable contract every indexing engine implements.
type MemoryBackend interface {
	Prepare(ctx context.Context, payload domain.CorpusPayload) (PrepareResult, error)
	Index(ctx context.Context, payload domain.ChunkPayload) (IndexResult, error)
	Query(ctx context.Context, payload domain.QueryPayload) (QueryResult, error)
	Healthcheck(ctx context.Context) HealthStatus
	GetCapabilities() Capabilities
}

// ExtendedBackend is implemented by backends that support the optional
// retrieval operations. Callers must feature-detect via GetCapabilities
// before calling these.
type ExtendedBackend interface {
	MemoryBackend
	SearchNodes(ctx context.Context, query string, groupIDs []string, maxResults int, entityTypes []string) ([]CoreResult, error)
	SearchFacts(ctx context.Context, query string, groupIDs []string, maxResults int, centerNodeID string) ([]CoreResult, error)
	SearchEpisodes(ctx context.Context, query string, groupIDs []string, maxResults int) ([]CoreResult, error)
	GetNode(ctx context.Context, nodeID, groupID string) (*CoreResult, error)
	GetEdge(ctx context.Context, edgeID, groupID string) (*CoreResult, error)
}

var (
	uuidShapeRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	ulidShapeRe = regexp.MustCompile(`^[0-9A-Z]{26}$`)
	syntheticEdgeRe = regexp.MustCompile(`^.+\|\|.+$`)
)

// LooksLikeUUIDOrULID reports whether id has the shape of a UUID or ULID.
func LooksLikeUUIDOrULID(id string) bool {
	return uuidShapeRe.MatchString(id) || ulidShapeRe.MatchString(id)
}

// CheckNodeID enforces the id-modality invariant: a backend declaring
// node_id_type="name" rejects UUID/ULID-shaped identifiers.
func CheckNodeID(idType IDType, id string) error {
	if idType == IDTypeName && LooksLikeUUIDOrULID(id) {
		return NewIDNotSupportedError(id, "this backend expects entity names, not UUID/ULID-shaped identifiers")
	}
	return nil
}

// CheckEdgeID enforces the id-modality invariant for synthetic edge IDs,
// which must match the SOURCE||TARGET shape.
func CheckEdgeID(idType IDType, id string) error {
	if idType == IDTypeSynthetic && !syntheticEdgeRe.MatchString(id) {
		return NewIDNotSupportedError(id, "this backend expects synthetic edge ids shaped SOURCE||TARGET")
	}
	return nil
}
