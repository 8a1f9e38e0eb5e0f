package semantic

import (
	"context"
	"testing"
)

func TestUpsertEmptySlice(t *testing.T) {
	store := &VectorStore{collection: "test"}
	if err := store.Upsert(context.Background(), []VectorRecord{}); err != nil {
		t.Errorf("Upsert empty slice: %v", err)
	}
}

func TestSearchResultFields(t *testing.T) {
	sr := SearchResult{
		ID:       "id1",
		Score:    0.95,
		Text:     "some content",
		ThreadID: "thread1",
		EntryID:  "entry1",
		Meta:     map[string]string{"key": "val"},
	}
	if sr.ID != "id1" || sr.Score != 0.95 || sr.Text != "some content" {
		t.Error("field mismatch")
	}
	if sr.Meta["key"] != "val" {
		t.Error("meta mismatch")
	}
}

func TestVectorRecordFields(t *testing.T) {
	vr := VectorRecord{
		ID:        "uuid-1",
		Embedding: []float32{0.1, 0.2, 0.3},
		Payload:   map[string]any{"text": "text", "count": 5},
	}
	if vr.ID != "uuid-1" {
		t.Error("ID mismatch")
	}
	if len(vr.Embedding) != 3 {
		t.Error("embedding length mismatch")
	}
	if vr.Payload["text"] != "text" {
		t.Error("payload mismatch")
	}
}

func TestFieldMatchCondition(t *testing.T) {
	cond := fieldMatch("thread_id", "t-1")
	fc := cond.GetField()
	if fc == nil {
		t.Fatal("expected field condition")
	}
	if fc.Key != "thread_id" {
		t.Fatalf("expected key=thread_id, got %s", fc.Key)
	}
	if fc.Match.GetKeyword() != "t-1" {
		t.Fatalf("expected keyword=t-1, got %s", fc.Match.GetKeyword())
	}
}
