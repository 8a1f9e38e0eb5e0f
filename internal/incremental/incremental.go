// Package incremental tracks per-topic change state (file mtime, entry
// count, and cached summaries/embeddings) so a rerun can skip threads that
// have not changed since the last successful build.
package incremental

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/watercooler-dev/wc-memory-go/internal/parser"
)

// stateVersion guards against loading a state file written by an
// incompatible future schema.
const stateVersion = 1

// TopicState is one thread's cached artifacts as of its last processed run.
type TopicState struct {
	Mtime      time.Time `json:"mtime"`
	EntryCount int       `json:"entry_count"`

	Summary         string             `json:"summary,omitempty"`
	EntrySummaries  map[string]string    `json:"entry_summaries,omitempty"`
	EntryEmbeddings map[string][]float32 `json:"entry_embeddings,omitempty"`
}

// State is the full set of cached topic states for one threads directory.
type State struct {
	Version int                    `json:"version"`
	Topics  map[string]*TopicState `json:"topics"`
}

// New returns an empty state.
func New() *State {
	return &State{Version: stateVersion, Topics: make(map[string]*TopicState)}
}

// Load reads a state file from disk.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("incremental: state file %s is corrupt: %w", path, err)
	}
	if st.Topics == nil {
		st.Topics = make(map[string]*TopicState)
	}
	return &st, nil
}

// LoadOrNew loads path if present, otherwise returns a fresh empty state.
// A missing file is the common case (first incremental run) and is not an
// error; a present-but-corrupt file is.
func LoadOrNew(path string) (*State, error) {
	st, err := Load(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Save persists state atomically: a crash mid-write must never leave a
// corrupt cache that a resumed run would silently trust.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("incremental: marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("incremental: ensure state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-incremental-*")
	if err != nil {
		return fmt.Errorf("incremental: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("incremental: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("incremental: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("incremental: close state: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// StatePath returns the path the incremental cache lives at within a
// pipeline run's work directory.
func StatePath(workDir string) string {
	return filepath.Join(workDir, "state", "incremental.json")
}

// Diff is the result of comparing a threads directory against cached state.
type Diff struct {
	Changed []string // topics that are new or whose (mtime, entry_count) differ
	Cached  []string // topics unchanged since the last run
	Deleted []string // topics in the cache no longer present in dir
}

// topicOf derives a topic name the same way the parser does: the markdown
// file's base name with its extension stripped.
func topicOf(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

// isThreadFile matches the filter graphbuilder.Builder.Build applies when
// walking a threads directory, so change detection sees the same topic set
// the pipeline will actually process.
func isThreadFile(name string) bool {
	return !strings.HasPrefix(name, "_") && name != "index.md" && strings.HasSuffix(name, ".md")
}

// Detect scans dir and classifies every thread file as changed, cached, or
// newly absent relative to s. A topic is changed iff there is no cached
// entry, or its mtime or entry count differs from the cached values.
func (s *State) Detect(dir string) (Diff, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Diff{}, fmt.Errorf("incremental: read dir %s: %w", dir, err)
	}

	var diff Diff
	seen := make(map[string]bool, len(entries))

	for _, de := range entries {
		if de.IsDir() || !isThreadFile(de.Name()) {
			continue
		}
		topic := topicOf(de.Name())
		seen[topic] = true

		info, err := de.Info()
		if err != nil {
			return Diff{}, fmt.Errorf("incremental: stat %s: %w", de.Name(), err)
		}
		mtime := info.ModTime().UTC()
		entryCount := countEntries(filepath.Join(dir, de.Name()))

		cached, ok := s.Topics[topic]
		if !ok || !cached.Mtime.Equal(mtime) || cached.EntryCount != entryCount {
			diff.Changed = append(diff.Changed, topic)
			continue
		}
		diff.Cached = append(diff.Cached, topic)
	}

	for topic := range s.Topics {
		if !seen[topic] {
			diff.Deleted = append(diff.Deleted, topic)
		}
	}
	return diff, nil
}

func countEntries(path string) int {
	_, entries, _, _ := parser.ParseThread(nil, path)
	return len(entries)
}

// Update records a topic's artifacts after it has been (re)processed.
func (s *State) Update(topic string, mtime time.Time, entryCount int, summary string, entrySummaries map[string]string, entryEmbeddings map[string][]float32) {
	if s.Topics == nil {
		s.Topics = make(map[string]*TopicState)
	}
	s.Topics[topic] = &TopicState{
		Mtime:           mtime.UTC(),
		EntryCount:      entryCount,
		Summary:         summary,
		EntrySummaries:  entrySummaries,
		EntryEmbeddings: entryEmbeddings,
	}
}

// Prune removes cached topics absent from currentTopics, matching the
// deleted-thread cleanup a successful run performs.
func (s *State) Prune(currentTopics []string) {
	keep := make(map[string]bool, len(currentTopics))
	for _, t := range currentTopics {
		keep[t] = true
	}
	for topic := range s.Topics {
		if !keep[topic] {
			delete(s.Topics, topic)
		}
	}
}

// Get returns a topic's cached state, or nil if none is cached.
func (s *State) Get(topic string) *TopicState {
	if s.Topics == nil {
		return nil
	}
	return s.Topics[topic]
}
