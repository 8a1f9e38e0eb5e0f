// Package graphbuilder assembles parsed threads into a fully materialized
// in-memory graph: chunking, summarization, and embedding, then serializing
// to the canonical payloads crossing the backend boundary.
package graphbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/watercooler-dev/wc-memory-go/internal/cache"
	"github.com/watercooler-dev/wc-memory-go/internal/chunker"
	"github.com/watercooler-dev/wc-memory-go/internal/domain"
	"github.com/watercooler-dev/wc-memory-go/internal/parser"
	"github.com/watercooler-dev/wc-memory-go/pkg/fn"
)

// Summarizer generates an entry or thread summary via an LLM.
type Summarizer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Embedder embeds a batch of texts, returning vectors in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Builder owns the full in-memory graph for one pipeline run.
type Builder struct {
	ChunkerConfig chunker.Config

	Threads map[string]*domain.Thread
	Entries map[string]*domain.Entry
	Chunks  map[string]*domain.Chunk
	Edges   []domain.Edge

	entryOrder  []string // insertion order, per thread via Threads[x].EntryIDs
	threadOrder []string

	summarizer  Summarizer
	embedder    Embedder
	summaryCache *cache.SummaryCache
	threadCache  *cache.ThreadSummaryCache
	embedCache   *cache.EmbeddingCache

	maxConcurrent int

	log *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithSummarizer sets the LLM summarizer.
func WithSummarizer(s Summarizer) Option { return func(b *Builder) { b.summarizer = s } }

// WithEmbedder sets the embedding client.
func WithEmbedder(e Embedder) Option { return func(b *Builder) { b.embedder = e } }

// WithCaches wires the content-addressed caches.
func WithCaches(sc *cache.SummaryCache, tc *cache.ThreadSummaryCache, ec *cache.EmbeddingCache) Option {
	return func(b *Builder) { b.summaryCache = sc; b.threadCache = tc; b.embedCache = ec }
}

// WithMaxConcurrent sets the summarization/embedding worker pool size.
func WithMaxConcurrent(n int) Option { return func(b *Builder) { b.maxConcurrent = n } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(b *Builder) { b.log = l } }

// New constructs an empty Builder.
func New(cfg chunker.Config, opts ...Option) *Builder {
	b := &Builder{
		ChunkerConfig: cfg,
		Threads:       make(map[string]*domain.Thread),
		Entries:       make(map[string]*domain.Entry),
		Chunks:        make(map[string]*domain.Chunk),
		maxConcurrent: 4,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// shortBodyThreshold below which an entry is summarized verbatim rather than
// via an LLM call.
const shortBodyThreshold = 80

// promptBodyCharLimit truncates entry bodies embedded in summarization
// prompts.
const promptBodyCharLimit = 4000

// AddThread parses one thread file and incorporates its nodes/edges.
func (b *Builder) AddThread(path string) error {
	th, entries, edges, _ := parser.ParseThread(b.log, path)
	return b.addParsed(th, entries, edges)
}

// AddThreadBytes incorporates an already-loaded thread (used by tests and by
// callers that already have file content in memory).
func (b *Builder) AddThreadBytes(topic string, data []byte) error {
	th, entries, edges, _ := parser.ParseThreadBytes(b.log, topic, data)
	return b.addParsed(th, entries, edges)
}

func (b *Builder) addParsed(th domain.Thread, entries []domain.Entry, edges []domain.Edge) error {
	if _, exists := b.Threads[th.ThreadID]; exists {
		return fmt.Errorf("graphbuilder: thread %q already added", th.ThreadID)
	}
	thCopy := th
	b.Threads[th.ThreadID] = &thCopy
	b.threadOrder = append(b.threadOrder, th.ThreadID)

	for i := range entries {
		e := entries[i]
		b.Entries[e.EntryID] = &e
		b.entryOrder = append(b.entryOrder, e.EntryID)
	}
	b.Edges = append(b.Edges, edges...)
	return nil
}

// ChunkAllEntries produces Chunks for every Entry, wiring CONTAINS edges and
// updating each Entry's ChunkIDs.
func (b *Builder) ChunkAllEntries() {
	for _, id := range b.entryOrder {
		e := b.Entries[id]
		chunks := chunker.ChunkEntry(b.ChunkerConfig, *e)
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			cc := c
			b.Chunks[c.ChunkID] = &cc
			ids[i] = c.ChunkID
			b.Edges = append(b.Edges, domain.Edge{Kind: domain.EdgeContains, FromID: e.EntryID, ToID: c.ChunkID})
		}
		e.ChunkIDs = ids
	}
}

// extractiveFallback produces a cheap, LLM-free summary: the first
// paragraph, optionally prefixed with a "Topics:" line built from markdown
// headers.
func extractiveFallback(body string, charLimit int) string {
	var topics []string
	var para []string
	paraDone := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			topics = append(topics, strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			continue
		}
		if trimmed == "" {
			if len(para) > 0 {
				paraDone = true
			}
			continue
		}
		if !paraDone {
			para = append(para, trimmed)
		}
	}
	firstParagraph := strings.Join(para, " ")
	var b strings.Builder
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(topics, ", "))
	}
	if len(firstParagraph) > charLimit {
		firstParagraph = firstParagraph[:charLimit]
	}
	b.WriteString(firstParagraph)
	return strings.TrimSpace(b.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// summarizeEntry returns an entry's summary, consulting the cache first and
// falling back to extractive summarization on LLM failure.
func (b *Builder) summarizeEntry(ctx context.Context, e *domain.Entry) string {
	if len(e.Body) < shortBodyThreshold {
		return e.Body
	}
	if b.summaryCache != nil {
		if cached, ok := b.summaryCache.Get(e.EntryID, e.Body); ok {
			return cached
		}
	}
	if b.summarizer == nil {
		return extractiveFallback(e.Body, 400)
	}

	prompt := fmt.Sprintf("agent: %s\nrole: %s\ntype: %s\ntitle: %s\n\n%s",
		e.Agent, e.Role, e.EntryType, e.Title, truncate(e.Body, promptBodyCharLimit))
	summary, err := b.summarizer.Complete(ctx, "Summarize this conversation entry in 1-2 sentences.", prompt, 200, 0.3)
	if err != nil {
		b.log.Warn("graphbuilder: entry summarization failed, using extractive fallback", "entry_id", e.EntryID, "error", err)
		return extractiveFallback(e.Body, 400)
	}
	if b.summaryCache != nil {
		if err := b.summaryCache.Put(e.EntryID, e.Body, summary); err != nil {
			b.log.Warn("graphbuilder: summary cache write failed", "entry_id", e.EntryID, "error", err)
		}
	}
	return summary
}

func (b *Builder) summarizeThread(ctx context.Context, th *domain.Thread, entries []*domain.Entry) string {
	if b.threadCache != nil {
		if cached, ok := b.threadCache.Get(th.ThreadID, len(entries)); ok {
			return cached
		}
	}

	var summaries []string
	for _, e := range entries {
		if e.Summary != "" {
			summaries = append(summaries, e.Summary)
		}
	}

	var summary string
	if len(entries) <= 2 {
		summary = strings.Join(summaries, " ")
	} else if b.summarizer != nil {
		bullets := "- " + strings.Join(summaries, "\n- ")
		var err error
		summary, err = b.summarizer.Complete(ctx, "Summarize this conversation thread in 2-3 sentences.", bullets, 300, 0.3)
		if err != nil {
			b.log.Warn("graphbuilder: thread summarization failed, concatenating entry summaries", "thread_id", th.ThreadID, "error", err)
			summary = strings.Join(summaries, " ")
		}
	} else {
		summary = strings.Join(summaries, " ")
	}

	if b.threadCache != nil {
		if err := b.threadCache.Put(th.ThreadID, len(entries), summary); err != nil {
			b.log.Warn("graphbuilder: thread summary cache write failed", "thread_id", th.ThreadID, "error", err)
		}
	}
	return summary
}

// GenerateSummaries summarizes every entry without one, then every thread
// without one, using a bounded worker pool.
func (b *Builder) GenerateSummaries(ctx context.Context, progress func(done, total int)) {
	pending := make([]*domain.Entry, 0, len(b.entryOrder))
	for _, id := range b.entryOrder {
		if e := b.Entries[id]; e.Summary == "" {
			pending = append(pending, e)
		}
	}

	summaries := fn.ParMap(pending, b.maxConcurrent, func(e *domain.Entry) string {
		return b.summarizeEntry(ctx, e)
	})
	for i, e := range pending {
		e.Summary = summaries[i]
		if progress != nil {
			progress(i+1, len(pending))
		}
	}

	for _, tid := range b.threadOrder {
		th := b.Threads[tid]
		if th.Summary != "" {
			continue
		}
		var entries []*domain.Entry
		for _, eid := range th.EntryIDs {
			entries = append(entries, b.Entries[eid])
		}
		th.Summary = b.summarizeThread(ctx, th, entries)
	}
}

type embedTarget struct {
	kind string // "thread", "entry", "chunk"
	id   string
	text string
}

// GenerateEmbeddings embeds every thread summary, entry summary, and chunk
// text that does not yet have a vector, consulting the embedding cache.
func (b *Builder) GenerateEmbeddings(ctx context.Context) error {
	var targets []embedTarget
	for _, tid := range b.threadOrder {
		th := b.Threads[tid]
		if len(th.Embedding) == 0 && th.Summary != "" {
			targets = append(targets, embedTarget{"thread", tid, th.Summary})
		}
	}
	for _, eid := range b.entryOrder {
		e := b.Entries[eid]
		if len(e.Embedding) == 0 && e.Summary != "" {
			targets = append(targets, embedTarget{"entry", eid, e.Summary})
		}
	}
	chunkIDs := make([]string, 0, len(b.Chunks))
	for id := range b.Chunks {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)
	for _, cid := range chunkIDs {
		c := b.Chunks[cid]
		if len(c.Embedding) == 0 && c.Text != "" {
			targets = append(targets, embedTarget{"chunk", cid, c.Text})
		}
	}

	if len(targets) == 0 || b.embedder == nil {
		return nil
	}

	texts := make([]string, len(targets))
	for i, t := range targets {
		texts[i] = t.text
	}

	var cached [][]float32
	var missing []int
	if b.embedCache != nil {
		cached, missing = b.embedCache.BatchGet(texts)
	} else {
		cached = make([][]float32, len(texts))
		for i := range texts {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		missingTexts := make([]string, len(missing))
		for i, idx := range missing {
			missingTexts[i] = texts[idx]
		}
		vecs, err := b.embedder.EmbedBatch(ctx, missingTexts)
		if err != nil {
			return fmt.Errorf("graphbuilder: embed batch: %w", err)
		}
		for i, idx := range missing {
			cached[idx] = vecs[i]
			if b.embedCache != nil {
				if err := b.embedCache.Put(texts[idx], vecs[i]); err != nil {
					b.log.Warn("graphbuilder: embedding cache write failed", "error", err)
				}
			}
		}
	}

	for i, t := range targets {
		switch t.kind {
		case "thread":
			b.Threads[t.id].Embedding = cached[i]
		case "entry":
			b.Entries[t.id].Embedding = cached[i]
		case "chunk":
			b.Chunks[t.id].Embedding = cached[i]
		}
	}
	return nil
}

// Build is the convenience composition: parse every thread in dir, chunk,
// summarize, and embed.
func (b *Builder) Build(ctx context.Context, dir string, progress func(done, total int)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("graphbuilder: read dir %s: %w", dir, err)
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".md") || strings.HasPrefix(de.Name(), "_") || de.Name() == "index.md" {
			continue
		}
		if err := b.AddThread(dir + string(os.PathSeparator) + de.Name()); err != nil {
			b.log.Warn("graphbuilder: add thread failed", "file", de.Name(), "error", err)
		}
	}

	b.ChunkAllEntries()
	b.GenerateSummaries(ctx, progress)
	if err := b.GenerateEmbeddings(ctx); err != nil {
		return err
	}
	return nil
}

// snapshot is the JSON-serializable form of the graph.
type snapshot struct {
	Threads []domain.Thread `json:"threads"`
	Entries []domain.Entry  `json:"entries"`
	Chunks  []domain.Chunk  `json:"chunks"`
	Edges   []domain.Edge   `json:"edges"`
}

// Save writes the full graph to path as canonical JSON.
func (b *Builder) Save(path string) error {
	snap := snapshot{}
	for _, id := range b.threadOrder {
		snap.Threads = append(snap.Threads, *b.Threads[id])
	}
	for _, id := range b.entryOrder {
		snap.Entries = append(snap.Entries, *b.Entries[id])
	}
	chunkIDs := make([]string, 0, len(b.Chunks))
	for id := range b.Chunks {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)
	for _, id := range chunkIDs {
		snap.Chunks = append(snap.Chunks, *b.Chunks[id])
	}
	snap.Edges = b.Edges

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("graphbuilder: marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load replaces the Builder's contents with the graph stored at path.
func (b *Builder) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("graphbuilder: read snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("graphbuilder: unmarshal snapshot: %w", err)
	}

	b.Threads = make(map[string]*domain.Thread, len(snap.Threads))
	b.Entries = make(map[string]*domain.Entry, len(snap.Entries))
	b.Chunks = make(map[string]*domain.Chunk, len(snap.Chunks))
	b.threadOrder = nil
	b.entryOrder = nil

	for i := range snap.Threads {
		t := snap.Threads[i]
		b.Threads[t.ThreadID] = &t
		b.threadOrder = append(b.threadOrder, t.ThreadID)
	}
	for i := range snap.Entries {
		e := snap.Entries[i]
		b.Entries[e.EntryID] = &e
		b.entryOrder = append(b.entryOrder, e.EntryID)
	}
	for i := range snap.Chunks {
		c := snap.Chunks[i]
		b.Chunks[c.ChunkID] = &c
	}
	b.Edges = snap.Edges
	return nil
}

// ToCorpusPayload renders the threads/entries/edges as the canonical
// Prepare-stage payload.
func (b *Builder) ToCorpusPayload() domain.CorpusPayload {
	payload := domain.CorpusPayload{
		ManifestVersion: domain.ManifestVersion,
		ChunkerName:     b.ChunkerConfig.Mode,
		ChunkerParams: map[string]any{
			"max_tokens":     b.ChunkerConfig.MaxTokens,
			"overlap_tokens": b.ChunkerConfig.OverlapTokens,
		},
	}
	for _, id := range b.threadOrder {
		payload.Threads = append(payload.Threads, *b.Threads[id])
	}
	for _, id := range b.entryOrder {
		payload.Entries = append(payload.Entries, *b.Entries[id])
	}
	payload.Edges = b.Edges
	return payload
}

// ToChunkPayload renders the chunks as the canonical Index-stage payload.
func (b *Builder) ToChunkPayload() domain.ChunkPayload {
	payload := domain.ChunkPayload{ManifestVersion: domain.ManifestVersion}
	chunkIDs := make([]string, 0, len(b.Chunks))
	for id := range b.Chunks {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)
	for _, id := range chunkIDs {
		payload.Chunks = append(payload.Chunks, *b.Chunks[id])
	}
	return payload
}
