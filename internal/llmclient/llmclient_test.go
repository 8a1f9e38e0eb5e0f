package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "a summary"}}},
		})
	}))
	defer srv.Close()

	c := New(ChatConfig{BaseURL: srv.URL, Model: "test-model"}, EmbeddingConfig{})
	got, err := c.Complete(context.Background(), "", "summarize this", 100, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a summary" {
		t.Errorf("got %q", got)
	}
}

func TestEmbedBatchRestoresOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		json.NewDecoder(r.Body).Decode(&req)
		// Return out of order to exercise the index-based reordering.
		resp := embeddingsResponse{Data: []embeddingDatum{
			{Index: 1, Embedding: []float64{2, 2}},
			{Index: 0, Embedding: []float64{1, 1}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(ChatConfig{}, EmbeddingConfig{BaseURL: srv.URL, Model: "embed-model", BatchSize: 8})
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vecs = %v, want ordered [1,1],[2,2]", vecs)
	}
}

func TestCompleteSendsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer srv.Close()

	c := New(ChatConfig{BaseURL: srv.URL, Model: "test-model", APIKey: "chat-secret"}, EmbeddingConfig{})
	if _, err := c.Complete(context.Background(), "", "hi", 10, 0); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer chat-secret" {
		t.Errorf("Authorization header = %q, want Bearer chat-secret", gotAuth)
	}
}

func TestEmbedBatchSendsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(embeddingsResponse{Data: []embeddingDatum{{Index: 0, Embedding: []float64{1}}}})
	}))
	defer srv.Close()

	c := New(ChatConfig{}, EmbeddingConfig{BaseURL: srv.URL, Model: "embed-model", APIKey: "embed-secret", BatchSize: 8})
	if _, err := c.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer embed-secret" {
		t.Errorf("Authorization header = %q, want Bearer embed-secret", gotAuth)
	}
}

func TestChatConfigValidate(t *testing.T) {
	if err := (ChatConfig{}).Validate(); err == nil {
		t.Error("expected error for empty ChatConfig")
	}
	if err := (ChatConfig{BaseURL: "http://x", Model: "m"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEmbeddingConfigValidate(t *testing.T) {
	if err := (EmbeddingConfig{BaseURL: "http://x", Model: "m", BatchSize: 0}).Validate(); err == nil {
		t.Error("expected error for zero batch size")
	}
}
