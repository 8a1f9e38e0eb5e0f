// Package domain defines the core node/edge types ingested by the pipeline —
// threads, entries, chunks, and the edges between them — plus the canonical
// payload shapes crossing the backend boundary.
package domain

import "time"

// Role classifies the author of an Entry.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleCritic      Role = "critic"
	RoleImplementer Role = "implementer"
	RoleTester      Role = "tester"
	RolePM          Role = "pm"
	RoleScribe      Role = "scribe"
)

// EntryType classifies the kind of contribution an Entry represents.
type EntryType string

const (
	EntryNote     EntryType = "Note"
	EntryPlan     EntryType = "Plan"
	EntryDecision EntryType = "Decision"
	EntryPR       EntryType = "PR"
	EntryClosure  EntryType = "Closure"
)

// ClosedStatuses is the set of thread statuses, casefolded, considered closed.
var ClosedStatuses = map[string]bool{
	"done": true, "closed": true, "merged": true,
	"resolved": true, "abandoned": true, "obsolete": true,
}

// Thread is the root of one append-only conversation log.
type Thread struct {
	ThreadID      string    `json:"thread_id"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Ball          string    `json:"ball"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	EntryIDs      []string  `json:"entry_ids"`
	Summary       string    `json:"summary,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
	BranchContext string    `json:"branch_context,omitempty"`
}

// Closed reports whether the thread's normalized status is a closed state.
func (t Thread) Closed() bool {
	return ClosedStatuses[t.Status]
}

// Entry is one append-only contribution within a Thread.
type Entry struct {
	EntryID           string    `json:"entry_id"`
	ThreadID          string    `json:"thread_id"`
	Index             int       `json:"index"`
	Agent             string    `json:"agent"`
	Role              Role      `json:"role,omitempty"`
	EntryType         EntryType `json:"entry_type,omitempty"`
	Title             string    `json:"title,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Body              string    `json:"body"`
	ChunkIDs          []string  `json:"chunk_ids"`
	SequenceIndex     int       `json:"sequence_index"`
	PrecedingEntryID  string    `json:"preceding_entry_id,omitempty"`
	FollowingEntryID  string    `json:"following_entry_id,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	Embedding         []float32 `json:"embedding,omitempty"`
}

// Chunk is a token-bounded substring of an Entry's body.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	EntryID    string    `json:"entry_id"`
	ThreadID   string    `json:"thread_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"embedding,omitempty"`
	EventTime  *time.Time `json:"event_time,omitempty"`
}

// EdgeKind enumerates the relation kinds produced by the core pipeline.
type EdgeKind string

const (
	EdgeContains   EdgeKind = "CONTAINS"
	EdgeFollows    EdgeKind = "FOLLOWS"
	EdgeReferences EdgeKind = "references"
)

// Edge is a directed relation between two nodes, identified by opaque IDs.
type Edge struct {
	Kind   EdgeKind `json:"kind"`
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
}

// Hyperedge is a one-to-many membership relation, e.g. Thread -> {Entries}.
type Hyperedge struct {
	Kind     EdgeKind `json:"kind"`
	FromID   string   `json:"from_id"`
	ToIDs    []string `json:"to_ids"`
}

// ManifestVersion is the baseline schema version carried by every payload.
const ManifestVersion = "1.0.0"

// CorpusPayload is handed to Backend.Prepare.
type CorpusPayload struct {
	ManifestVersion string                 `json:"manifest_version"`
	Threads         []Thread               `json:"threads"`
	Entries         []Entry                `json:"entries"`
	Edges           []Edge                 `json:"edges,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	ChunkerName     string                 `json:"chunker_name,omitempty"`
	ChunkerParams   map[string]any         `json:"chunker_params,omitempty"`
}

// ChunkPayload is handed to Backend.Index.
type ChunkPayload struct {
	ManifestVersion string         `json:"manifest_version"`
	Chunks          []Chunk        `json:"chunks"`
	Threads         []Thread       `json:"threads,omitempty"`
	Entries         []Entry        `json:"entries,omitempty"`
	Edges           []Edge         `json:"edges,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Query is one query item in a QueryPayload.
type Query struct {
	Text          string `json:"query"`
	Limit         int    `json:"limit,omitempty"`
	GroupID       string `json:"group_id,omitempty"`
	CenterNodeID  string `json:"center_node_id,omitempty"`
}

// QueryPayload is handed to Backend.Query.
type QueryPayload struct {
	ManifestVersion string         `json:"manifest_version"`
	Queries         []Query        `json:"queries"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
