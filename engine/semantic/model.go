package semantic

// SearchResult represents a single vector search hit, payload fields
// resolved to the chunk/entry/thread provenance the hierarchical backend
// stores alongside each embedding.
type SearchResult struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Text     string            `json:"text"`
	ThreadID string            `json:"thread_id"`
	EntryID  string            `json:"entry_id"`
	Meta     map[string]string `json:"meta"`
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // text, thread_id, entry_id, chunk_id, chunk_idx
}
