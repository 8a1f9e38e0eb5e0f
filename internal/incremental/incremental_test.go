package incremental

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const threadBody = `Title: Sample thread
Status: open

Entry: planner 2026-01-01T00:00:00Z

First entry body.
`

func writeThread(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectClassifiesNewTopicAsChanged(t *testing.T) {
	dir := t.TempDir()
	writeThread(t, dir, "alpha.md", threadBody)

	st := New()
	diff, err := st.Detect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Changed) != 1 || diff.Changed[0] != "alpha" {
		t.Errorf("Changed = %v, want [alpha]", diff.Changed)
	}
	if len(diff.Cached) != 0 {
		t.Errorf("Cached = %v, want none", diff.Cached)
	}
}

func TestDetectTreatsUnchangedTopicAsCached(t *testing.T) {
	dir := t.TempDir()
	writeThread(t, dir, "alpha.md", threadBody)

	info, err := os.Stat(filepath.Join(dir, "alpha.md"))
	if err != nil {
		t.Fatal(err)
	}

	st := New()
	st.Update("alpha", info.ModTime(), 1, "a summary", nil, nil)

	diff, err := st.Detect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Cached) != 1 || diff.Cached[0] != "alpha" {
		t.Errorf("Cached = %v, want [alpha]", diff.Cached)
	}
	if len(diff.Changed) != 0 {
		t.Errorf("Changed = %v, want none", diff.Changed)
	}
}

func TestDetectFlagsChangedEntryCount(t *testing.T) {
	dir := t.TempDir()
	writeThread(t, dir, "alpha.md", threadBody)

	info, _ := os.Stat(filepath.Join(dir, "alpha.md"))
	st := New()
	// Cache records a stale entry count (as if a second entry existed
	// before) with the same mtime: entry_count alone must trigger change.
	st.Update("alpha", info.ModTime(), 2, "a summary", nil, nil)

	diff, err := st.Detect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Changed) != 1 || diff.Changed[0] != "alpha" {
		t.Errorf("Changed = %v, want [alpha]", diff.Changed)
	}
}

func TestDetectFlagsChangedMtime(t *testing.T) {
	dir := t.TempDir()
	writeThread(t, dir, "alpha.md", threadBody)

	st := New()
	st.Update("alpha", time.Now().Add(-time.Hour), 1, "a summary", nil, nil)

	diff, err := st.Detect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Changed) != 1 || diff.Changed[0] != "alpha" {
		t.Errorf("Changed = %v, want [alpha]", diff.Changed)
	}
}

func TestDetectReportsDeletedTopics(t *testing.T) {
	dir := t.TempDir()
	writeThread(t, dir, "alpha.md", threadBody)

	st := New()
	st.Update("alpha", time.Now(), 1, "s", nil, nil)
	st.Update("gamma", time.Now(), 1, "s", nil, nil)

	diff, err := st.Detect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Deleted) != 1 || diff.Deleted[0] != "gamma" {
		t.Errorf("Deleted = %v, want [gamma]", diff.Deleted)
	}
}

func TestPruneRemovesAbsentTopics(t *testing.T) {
	st := New()
	st.Update("alpha", time.Now(), 1, "s", nil, nil)
	st.Update("gamma", time.Now(), 1, "s", nil, nil)

	st.Prune([]string{"alpha"})

	if st.Get("alpha") == nil {
		t.Error("expected alpha to remain")
	}
	if st.Get("gamma") != nil {
		t.Error("expected gamma to be pruned")
	}
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := StatePath(dir)

	st := New()
	st.Update("alpha", time.Now().Truncate(time.Second), 2, "summary", map[string]string{"e1": "s1"}, map[string][]float32{"e1": {0.1, 0.2}})

	if err := st.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got := loaded.Get("alpha")
	if got == nil {
		t.Fatal("expected alpha to round-trip")
	}
	if got.EntryCount != 2 || got.Summary != "summary" {
		t.Errorf("got %+v", got)
	}
	if got.EntrySummaries["e1"] != "s1" {
		t.Errorf("entry summaries = %v", got.EntrySummaries)
	}
}

func TestLoadOrNewReturnsEmptyStateWhenMissing(t *testing.T) {
	dir := t.TempDir()
	st, err := LoadOrNew(StatePath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Topics) != 0 {
		t.Errorf("expected empty state, got %d topics", len(st.Topics))
	}
}

func TestLoadRejectsCorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	path := StatePath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error loading corrupt state file")
	}
}
