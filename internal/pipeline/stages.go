package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/watercooler-dev/wc-memory-go/internal/backend"
	"github.com/watercooler-dev/wc-memory-go/internal/cache"
	"github.com/watercooler-dev/wc-memory-go/internal/chunker"
	"github.com/watercooler-dev/wc-memory-go/internal/domain"
	"github.com/watercooler-dev/wc-memory-go/internal/graphbuilder"
	"github.com/watercooler-dev/wc-memory-go/internal/incremental"
)

// threadsDirFor resolves the directory a run actually reads threads from,
// preferring a `.watercooler` subdirectory when one exists.
func threadsDirFor(cfg Config) string {
	dir := cfg.ThreadsDir
	if wcDir := filepath.Join(dir, ".watercooler"); isDir(wcDir) {
		return wcDir
	}
	return dir
}

// StageError marks a stage failure that should record a clean message on
// the run's state rather than a raw Go error string.
type StageError struct {
	Stage  Stage
	Reason string
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason) }

// StageRunner executes one pipeline stage against a shared config/state/log.
type StageRunner interface {
	Stage() Stage
	ValidateInputs() []string
	Run(ctx context.Context) (map[string]any, error)
}

// baseRunner carries the dependencies every concrete runner needs.
type baseRunner struct {
	cfg   Config
	state *PipelineState
	log   *slog.Logger
}

// ExportRunner parses the threads directory into a chunked, unsummarized
// graph snapshot.
type ExportRunner struct {
	baseRunner
}

func NewExportRunner(cfg Config, state *PipelineState, log *slog.Logger) *ExportRunner {
	return &ExportRunner{baseRunner{cfg, state, log}}
}

func (r *ExportRunner) Stage() Stage { return StageExport }

func (r *ExportRunner) ValidateInputs() []string {
	var errs []string
	dir := threadsDirFor(r.cfg)
	entries, err := os.ReadDir(dir)
	if err != nil {
		errs = append(errs, fmt.Sprintf("threads directory not found: %s", dir))
		return errs
	}
	hasMD := false
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			hasMD = true
			break
		}
	}
	if !hasMD {
		errs = append(errs, fmt.Sprintf("no .md files found in %s", dir))
	}
	return errs
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (r *ExportRunner) Run(ctx context.Context) (map[string]any, error) {
	dir := threadsDirFor(r.cfg)
	r.log.Info("exporting threads", "dir", dir)

	chunkerCfg := chunker.Config{Mode: "token", MaxTokens: r.cfg.MaxTokens, OverlapTokens: r.cfg.OverlapTokens}
	builder := graphbuilder.New(chunkerCfg, graphbuilder.WithLogger(r.log))

	if err := builder.Build(ctx, dir, func(done, total int) {
		r.log.Debug("export progress", "done", done, "total", total)
	}); err != nil {
		return nil, &StageError{StageExport, err.Error()}
	}

	changedTopics, cachedTopics := 0, 0
	if r.cfg.Incremental {
		changedTopics, cachedTopics = applyIncrementalCache(r.log, dir, r.cfg.WorkDir, builder)
	}

	if r.cfg.TestMode && r.cfg.TestLimit > 0 && len(builder.Threads) > r.cfg.TestLimit {
		r.log.Warn("test mode: limiting threads", "limit", r.cfg.TestLimit)
		kept := make(map[string]bool, r.cfg.TestLimit)
		count := 0
		for id := range builder.Threads {
			if count >= r.cfg.TestLimit {
				break
			}
			kept[id] = true
			count++
		}
		for id := range builder.Threads {
			if !kept[id] {
				delete(builder.Threads, id)
			}
		}
		for id, e := range builder.Entries {
			if !kept[e.ThreadID] {
				delete(builder.Entries, id)
			}
		}
	}

	exportDir := filepath.Join(r.cfg.WorkDir, "export")
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, &StageError{StageExport, err.Error()}
	}
	graphFile := filepath.Join(exportDir, "graph.json")
	if err := builder.Save(graphFile); err != nil {
		return nil, &StageError{StageExport, err.Error()}
	}

	threadCount, entryCount, chunkCount := len(builder.Threads), len(builder.Entries), len(builder.Chunks)
	r.log.Info("export complete", "threads", threadCount, "entries", entryCount, "chunks", chunkCount)

	out := map[string]any{
		"graph_file":   graphFile,
		"thread_count": threadCount,
		"entry_count":  entryCount,
		"chunk_count":  chunkCount,
	}
	if r.cfg.Incremental {
		out["changed_topics"] = changedTopics
		out["cached_topics"] = cachedTopics
	}
	return out, nil
}

// applyIncrementalCache loads the last run's per-topic cache and, for every
// topic whose (mtime, entry_count) is unchanged, copies its cached summary
// and embedding onto the freshly parsed thread/entries. GenerateSummaries
// and GenerateEmbeddings both skip anything that already carries a value,
// so an unchanged topic does no further LLM or embedding work downstream.
func applyIncrementalCache(log *slog.Logger, dir, workDir string, b *graphbuilder.Builder) (changed, cached int) {
	incPath := incremental.StatePath(workDir)
	incState, err := incremental.LoadOrNew(incPath)
	if err != nil {
		log.Warn("incremental: state load failed, treating all topics as changed", "error", err)
		return len(b.Threads), 0
	}

	diff, err := incState.Detect(dir)
	if err != nil {
		log.Warn("incremental: change detection failed, treating all topics as changed", "error", err)
		return len(b.Threads), 0
	}

	for _, topic := range diff.Cached {
		th, ok := b.Threads[topic]
		if !ok {
			continue
		}
		cachedTopic := incState.Get(topic)
		if cachedTopic == nil {
			continue
		}
		th.Summary = cachedTopic.Summary
		for _, eid := range th.EntryIDs {
			e, ok := b.Entries[eid]
			if !ok {
				continue
			}
			if s, ok := cachedTopic.EntrySummaries[eid]; ok {
				e.Summary = s
			}
			if v, ok := cachedTopic.EntryEmbeddings[eid]; ok {
				e.Embedding = v
			}
		}
	}

	log.Info("incremental change detection", "changed", len(diff.Changed), "cached", len(diff.Cached), "deleted", len(diff.Deleted))
	return len(diff.Changed), len(diff.Cached)
}

// ExtractRunner summarizes every entry and thread produced by the export
// stage, consulting the on-disk summary caches first.
type ExtractRunner struct {
	baseRunner
	summarizer graphbuilder.Summarizer
}

func NewExtractRunner(cfg Config, state *PipelineState, log *slog.Logger, summarizer graphbuilder.Summarizer) *ExtractRunner {
	return &ExtractRunner{baseRunner{cfg, state, log}, summarizer}
}

func (r *ExtractRunner) Stage() Stage { return StageExtract }

func (r *ExtractRunner) ValidateInputs() []string {
	var errs []string
	exportState := r.state.GetStage(StageExport)
	graphFile, _ := exportState.Outputs["graph_file"].(string)
	if graphFile == "" {
		errs = append(errs, "export stage outputs not found")
	} else if _, err := os.Stat(graphFile); err != nil {
		errs = append(errs, fmt.Sprintf("graph file not found: %s", graphFile))
	}
	errs = append(errs, r.cfg.LLM.Validate()...)
	return errs
}

func (r *ExtractRunner) Run(ctx context.Context) (map[string]any, error) {
	exportState := r.state.GetStage(StageExport)
	graphFile := exportState.Outputs["graph_file"].(string)

	chunkerCfg := chunker.Config{Mode: "token", MaxTokens: r.cfg.MaxTokens, OverlapTokens: r.cfg.OverlapTokens}

	summaryCache, err := cache.NewSummaryCache(filepath.Join(r.cfg.WorkDir, "cache", "summaries"))
	if err != nil {
		return nil, &StageError{StageExtract, err.Error()}
	}
	threadCache, err := cache.NewThreadSummaryCache(filepath.Join(r.cfg.WorkDir, "cache", "thread_summaries"))
	if err != nil {
		return nil, &StageError{StageExtract, err.Error()}
	}

	builder := graphbuilder.New(chunkerCfg,
		graphbuilder.WithLogger(r.log),
		graphbuilder.WithSummarizer(r.summarizer),
		graphbuilder.WithCaches(summaryCache, threadCache, nil),
		graphbuilder.WithMaxConcurrent(r.cfg.MaxConcurrent),
	)
	if err := builder.Load(graphFile); err != nil {
		return nil, &StageError{StageExtract, err.Error()}
	}

	entriesBefore := countSummarized(builder)
	builder.GenerateSummaries(ctx, func(done, total int) {
		r.log.Debug("summarization progress", "done", done, "total", total)
	})
	entriesSummarized := countSummarized(builder) - entriesBefore

	extractDir := filepath.Join(r.cfg.WorkDir, "extract")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, &StageError{StageExtract, err.Error()}
	}
	graphOut := filepath.Join(extractDir, "graph.json")
	if err := builder.Save(graphOut); err != nil {
		return nil, &StageError{StageExtract, err.Error()}
	}

	r.log.Info("extraction complete", "entries_summarized", entriesSummarized)

	return map[string]any{
		"graph_file":         graphOut,
		"entries_summarized": entriesSummarized,
	}, nil
}

func countSummarized(b *graphbuilder.Builder) int {
	n := 0
	for _, e := range b.Entries {
		if e.Summary != "" {
			n++
		}
	}
	return n
}

// DedupeRunner collapses chunks whose text is byte-identical, rewriting
// CONTAINS edges and entry chunk lists onto the surviving canonical chunk. Distinct
// entries that happen to restate the same text (a pasted stack trace, a
// quoted decision) are the common case this removes before index time.
type DedupeRunner struct {
	baseRunner
}

func NewDedupeRunner(cfg Config, state *PipelineState, log *slog.Logger) *DedupeRunner {
	return &DedupeRunner{baseRunner{cfg, state, log}}
}

func (r *DedupeRunner) Stage() Stage { return StageDedupe }

func (r *DedupeRunner) ValidateInputs() []string {
	var errs []string
	extractState := r.state.GetStage(StageExtract)
	graphFile, _ := extractState.Outputs["graph_file"].(string)
	if graphFile == "" {
		errs = append(errs, "extract stage outputs not found")
	} else if _, err := os.Stat(graphFile); err != nil {
		errs = append(errs, fmt.Sprintf("graph file not found: %s", graphFile))
	}
	return errs
}

func (r *DedupeRunner) Run(ctx context.Context) (map[string]any, error) {
	extractState := r.state.GetStage(StageExtract)
	graphFile := extractState.Outputs["graph_file"].(string)

	chunkerCfg := chunker.Config{Mode: "token", MaxTokens: r.cfg.MaxTokens, OverlapTokens: r.cfg.OverlapTokens}
	builder := graphbuilder.New(chunkerCfg, graphbuilder.WithLogger(r.log))
	if err := builder.Load(graphFile); err != nil {
		return nil, &StageError{StageDedupe, err.Error()}
	}

	canonical := make(map[string]string) // text -> canonical chunk id
	remap := make(map[string]string)     // duplicate id -> canonical id
	for id, c := range builder.Chunks {
		if existing, ok := canonical[c.Text]; ok {
			remap[id] = existing
		} else {
			canonical[c.Text] = id
		}
	}

	duplicates := len(remap)
	for id := range remap {
		delete(builder.Chunks, id)
	}

	remappedEdges := make([]domain.Edge, 0, len(builder.Edges))
	for _, e := range builder.Edges {
		if to, ok := remap[e.ToID]; ok {
			e.ToID = to
		}
		if from, ok := remap[e.FromID]; ok {
			e.FromID = from
		}
		remappedEdges = append(remappedEdges, e)
	}
	builder.Edges = remappedEdges

	for _, e := range builder.Entries {
		ids := make([]string, 0, len(e.ChunkIDs))
		seen := make(map[string]bool, len(e.ChunkIDs))
		for _, cid := range e.ChunkIDs {
			if to, ok := remap[cid]; ok {
				cid = to
			}
			if !seen[cid] {
				seen[cid] = true
				ids = append(ids, cid)
			}
		}
		e.ChunkIDs = ids
	}

	graphDir := filepath.Join(r.cfg.WorkDir, "graph")
	if err := os.MkdirAll(graphDir, 0o755); err != nil {
		return nil, &StageError{StageDedupe, err.Error()}
	}
	graphOut := filepath.Join(graphDir, "deduped.json")
	if err := builder.Save(graphOut); err != nil {
		return nil, &StageError{StageDedupe, err.Error()}
	}

	r.log.Info("dedupe complete", "duplicates_removed", duplicates, "chunks_remaining", len(builder.Chunks))

	return map[string]any{
		"graph_file":         graphOut,
		"duplicates_removed": duplicates,
		"chunk_count":        len(builder.Chunks),
	}, nil
}

// BuildRunner embeds every summary/chunk and hands the finished corpus and
// chunk payloads to the resolved memory backend.
type BuildRunner struct {
	baseRunner
	embedder graphbuilder.Embedder
	backend  backend.MemoryBackend
}

func NewBuildRunner(cfg Config, state *PipelineState, log *slog.Logger, embedder graphbuilder.Embedder, be backend.MemoryBackend) *BuildRunner {
	return &BuildRunner{baseRunner{cfg, state, log}, embedder, be}
}

func (r *BuildRunner) Stage() Stage { return StageBuild }

func (r *BuildRunner) ValidateInputs() []string {
	var errs []string
	dedupeState := r.state.GetStage(StageDedupe)
	graphFile, _ := dedupeState.Outputs["graph_file"].(string)
	if graphFile == "" {
		errs = append(errs, "dedupe stage outputs not found")
	} else if _, err := os.Stat(graphFile); err != nil {
		errs = append(errs, fmt.Sprintf("graph file not found: %s", graphFile))
	}
	errs = append(errs, r.cfg.Embedding.Validate()...)
	return errs
}

func (r *BuildRunner) Run(ctx context.Context) (map[string]any, error) {
	dedupeState := r.state.GetStage(StageDedupe)
	graphFile := dedupeState.Outputs["graph_file"].(string)

	chunkerCfg := chunker.Config{Mode: "token", MaxTokens: r.cfg.MaxTokens, OverlapTokens: r.cfg.OverlapTokens}

	embedCache, err := cache.NewEmbeddingCache(filepath.Join(r.cfg.WorkDir, "cache", "embeddings"))
	if err != nil {
		return nil, &StageError{StageBuild, err.Error()}
	}

	builder := graphbuilder.New(chunkerCfg,
		graphbuilder.WithLogger(r.log),
		graphbuilder.WithEmbedder(r.embedder),
		graphbuilder.WithCaches(nil, nil, embedCache),
	)
	if err := builder.Load(graphFile); err != nil {
		return nil, &StageError{StageBuild, err.Error()}
	}

	if err := builder.GenerateEmbeddings(ctx); err != nil {
		return nil, &StageError{StageBuild, err.Error()}
	}

	corpus := builder.ToCorpusPayload()
	prepared, err := r.backend.Prepare(ctx, corpus)
	if err != nil {
		return nil, &StageError{StageBuild, err.Error()}
	}

	chunks := builder.ToChunkPayload()
	indexed, err := r.backend.Index(ctx, chunks)
	if err != nil {
		return nil, &StageError{StageBuild, err.Error()}
	}

	r.log.Info("build complete", "prepared_count", prepared.PreparedCount, "indexed_count", indexed.IndexedCount)

	if r.cfg.Incremental {
		if err := updateIncrementalCache(r.log, threadsDirFor(r.cfg), r.cfg.WorkDir, builder); err != nil {
			r.log.Warn("incremental: cache update failed", "error", err)
		}
	}

	return map[string]any{
		"prepared_count":  prepared.PreparedCount,
		"indexed_count":   indexed.IndexedCount,
		"embeddings_done": len(chunks.Chunks),
	}, nil
}

// updateIncrementalCache records every thread's summary, entry summaries,
// and entry embeddings now that a run has indexed successfully, and drops
// any cached topic no longer present on disk.
func updateIncrementalCache(log *slog.Logger, dir, workDir string, b *graphbuilder.Builder) error {
	incPath := incremental.StatePath(workDir)
	incState, err := incremental.LoadOrNew(incPath)
	if err != nil {
		return err
	}

	topics := make([]string, 0, len(b.Threads))
	for topic, th := range b.Threads {
		topics = append(topics, topic)

		info, err := os.Stat(filepath.Join(dir, topic+".md"))
		if err != nil {
			log.Warn("incremental: stat failed, skipping cache update for topic", "topic", topic, "error", err)
			continue
		}

		entrySummaries := make(map[string]string, len(th.EntryIDs))
		entryEmbeddings := make(map[string][]float32, len(th.EntryIDs))
		for _, eid := range th.EntryIDs {
			e, ok := b.Entries[eid]
			if !ok {
				continue
			}
			entrySummaries[eid] = e.Summary
			entryEmbeddings[eid] = e.Embedding
		}

		incState.Update(topic, info.ModTime(), len(th.EntryIDs), th.Summary, entrySummaries, entryEmbeddings)
	}

	incState.Prune(topics)
	return incState.Save(incPath)
}

// NewStageRunner constructs the runner for stage, wiring whichever of
// summarizer/embedder/backend it actually needs.
func NewStageRunner(stage Stage, cfg Config, state *PipelineState, log *slog.Logger, summarizer graphbuilder.Summarizer, embedder graphbuilder.Embedder, be backend.MemoryBackend) (StageRunner, error) {
	switch stage {
	case StageExport:
		return NewExportRunner(cfg, state, log), nil
	case StageExtract:
		return NewExtractRunner(cfg, state, log, summarizer), nil
	case StageDedupe:
		return NewDedupeRunner(cfg, state, log), nil
	case StageBuild:
		return NewBuildRunner(cfg, state, log, embedder, be), nil
	default:
		return nil, fmt.Errorf("pipeline: no runner for stage %q", stage)
	}
}
