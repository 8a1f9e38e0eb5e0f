package graphbuilder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/watercooler-dev/wc-memory-go/internal/cache"
	"github.com/watercooler-dev/wc-memory-go/internal/chunker"
)

const threadA = `Title: Thread A
Status: open

Entry: planner 2026-01-01T00:00:00Z

This is a reasonably long entry body that should exceed the short-body threshold easily enough to require summarization handling.
`

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), float32(len(texts[i]))}
	}
	return out, nil
}

func TestBuilderAddChunkSummarizeEmbed(t *testing.T) {
	dir := t.TempDir()
	sc, _ := cache.NewSummaryCache(dir)
	tc, _ := cache.NewThreadSummaryCache(dir)
	ec, _ := cache.NewEmbeddingCache(dir)

	b := New(chunker.Config{MaxTokens: 768, OverlapTokens: 64, IncludeHeader: true},
		WithCaches(sc, tc, ec),
		WithEmbedder(fakeEmbedder{}),
		WithMaxConcurrent(2),
	)

	if err := b.AddThreadBytes("thread-a", []byte(threadA)); err != nil {
		t.Fatal(err)
	}
	b.ChunkAllEntries()

	if len(b.Chunks) == 0 {
		t.Fatal("expected chunks after ChunkAllEntries")
	}

	ctx := context.Background()
	b.GenerateSummaries(ctx, nil)

	th := b.Threads["thread-a"]
	if th.Summary == "" {
		t.Error("expected thread summary to be set")
	}
	for _, id := range th.EntryIDs {
		if b.Entries[id].Summary == "" {
			t.Errorf("entry %s missing summary", id)
		}
	}

	if err := b.GenerateEmbeddings(ctx); err != nil {
		t.Fatal(err)
	}
	if len(th.Embedding) == 0 {
		t.Error("expected thread embedding to be set")
	}
}

func TestBuilderSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := New(chunker.Config{MaxTokens: 768, OverlapTokens: 64})
	if err := b.AddThreadBytes("thread-a", []byte(threadA)); err != nil {
		t.Fatal(err)
	}
	b.ChunkAllEntries()

	path := filepath.Join(dir, "graph.json")
	if err := b.Save(path); err != nil {
		t.Fatal(err)
	}

	b2 := New(chunker.Config{})
	if err := b2.Load(path); err != nil {
		t.Fatal(err)
	}
	if len(b2.Threads) != len(b.Threads) {
		t.Errorf("loaded %d threads, want %d", len(b2.Threads), len(b.Threads))
	}
	if len(b2.Chunks) != len(b.Chunks) {
		t.Errorf("loaded %d chunks, want %d", len(b2.Chunks), len(b.Chunks))
	}
}

func TestDuplicateThreadIDRejected(t *testing.T) {
	b := New(chunker.Config{MaxTokens: 100, OverlapTokens: 10})
	if err := b.AddThreadBytes("dup", []byte(threadA)); err != nil {
		t.Fatal(err)
	}
	if err := b.AddThreadBytes("dup", []byte(threadA)); err == nil {
		t.Error("expected error adding duplicate thread ID")
	}
}
