package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// OperationTiming records how long one named operation took, optionally
// scoped to a stage.
type OperationTiming struct {
	Name     string
	Duration time.Duration
	Stage    Stage
}

// Stats accumulates counters and timings across a full pipeline run, for
// the end-of-run summary report.
type Stats struct {
	StageDurations   map[Stage]time.Duration
	OperationTimings []OperationTiming

	ThreadsProcessed     int
	EntriesProcessed     int
	ChunksCreated        int
	EntriesSummarized    int
	DuplicatesRemoved    int
	EmbeddingsGenerated  int

	Errors   []string
	Warnings []string
}

// NewStats returns an empty Stats accumulator.
func NewStats() *Stats {
	return &Stats{StageDurations: make(map[Stage]time.Duration)}
}

// RecordStageDuration records how long a whole stage took.
func (s *Stats) RecordStageDuration(stage Stage, d time.Duration) {
	s.StageDurations[stage] = d
}

// RecordTiming records one named operation's duration.
func (s *Stats) RecordTiming(name string, d time.Duration, stage Stage) {
	s.OperationTimings = append(s.OperationTimings, OperationTiming{Name: name, Duration: d, Stage: stage})
}

// SlowestOperations returns the n slowest recorded operations, descending.
func (s *Stats) SlowestOperations(n int) []OperationTiming {
	sorted := make([]OperationTiming, len(s.OperationTimings))
	copy(sorted, s.OperationTimings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Duration > sorted[j].Duration })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// Summary renders a plaintext end-of-run report.
func (s *Stats) Summary(total time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(&b, "Pipeline run summary (total: %s)\n", formatDuration(total))
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 60))

	for _, stage := range OrderedStages() {
		if d, ok := s.StageDurations[stage]; ok {
			fmt.Fprintf(&b, "  %-10s %s\n", stage, formatDuration(d))
		}
	}

	fmt.Fprintf(&b, "\nthreads=%d entries=%d chunks=%d summarized=%d deduped=%d embedded=%d\n",
		s.ThreadsProcessed, s.EntriesProcessed, s.ChunksCreated, s.EntriesSummarized, s.DuplicatesRemoved, s.EmbeddingsGenerated)

	if slowest := s.SlowestOperations(5); len(slowest) > 0 {
		b.WriteString("\nSlowest operations:\n")
		for _, op := range slowest {
			fmt.Fprintf(&b, "  %-20s %-10s %s\n", op.Name, op.Stage, formatDuration(op.Duration))
		}
	}

	if len(s.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	if len(s.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	return b.String()
}

// applyStageOutputs folds a completed stage's outputs map into the relevant
// counters, where present.
func (s *Stats) applyStageOutputs(stage Stage, outputs map[string]any) {
	intOf := func(key string) (int, bool) {
		v, ok := outputs[key]
		if !ok {
			return 0, false
		}
		n, ok := v.(int)
		return n, ok
	}

	switch stage {
	case StageExport:
		if n, ok := intOf("thread_count"); ok {
			s.ThreadsProcessed = n
		}
		if n, ok := intOf("entry_count"); ok {
			s.EntriesProcessed = n
		}
		if n, ok := intOf("chunk_count"); ok {
			s.ChunksCreated = n
		}
	case StageExtract:
		if n, ok := intOf("entries_summarized"); ok {
			s.EntriesSummarized += n
		}
	case StageDedupe:
		if n, ok := intOf("duplicates_removed"); ok {
			s.DuplicatesRemoved += n
		}
	case StageBuild:
		if n, ok := intOf("embeddings_done"); ok {
			s.EmbeddingsGenerated += n
		}
	}
}
