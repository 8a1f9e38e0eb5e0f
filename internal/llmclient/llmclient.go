// Package llmclient implements a plain HTTP client against OpenAI-compatible
// /chat/completions and /embeddings endpoints, in the same request/response
// idiom as this module's other HTTP-based service clients.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/watercooler-dev/wc-memory-go/pkg/fn"
	"github.com/watercooler-dev/wc-memory-go/pkg/resilience"
)

// ChatConfig configures the summarization endpoint.
type ChatConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Validate checks that the chat endpoint is fully configured.
func (c ChatConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("llmclient: chat base URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("llmclient: chat model is required")
	}
	return nil
}

// EmbeddingConfig configures the embedding endpoint.
type EmbeddingConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
	BatchSize int
}

// Validate checks that the embedding endpoint is fully configured.
func (c EmbeddingConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("llmclient: embedding base URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("llmclient: embedding model is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("llmclient: embedding batch size must be positive")
	}
	return nil
}

// Client talks to OpenAI-compatible chat and embedding endpoints, wrapped in
// a circuit breaker so a sustained outage fails fast instead of retrying
// into a dead backend forever.
type Client struct {
	http    *http.Client
	chat    ChatConfig
	embed   EmbeddingConfig
	breaker *resilience.Breaker
}

// New constructs a Client. Either config may be zero-valued if that
// capability (summarization or embedding) is unused.
func New(chat ChatConfig, embed EmbeddingConfig) *Client {
	return &Client{
		http:    &http.Client{Timeout: 150 * time.Second},
		chat:    chat,
		embed:   embed,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat-completion request and returns the first choice's
// content. Every failed attempt is retried with exponential backoff
// (fn.DefaultRetry, up to 3 attempts); errors are not classified, so 4xx
// responses and decode failures are retried the same as 5xx and network
// errors.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	if err := c.chat.Validate(); err != nil {
		return "", err
	}

	result := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[string] {
		var text string
		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			var callErr error
			text, callErr = c.doComplete(ctx, systemPrompt, userPrompt, maxTokens, temperature)
			return callErr
		})
		if err != nil {
			return fn.Err[string](err)
		}
		return fn.Ok(text)
	})
	return result.Unwrap()
}

func (c *Client) doComplete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	messages := []chatMessage{}
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody, err := json.Marshal(chatRequest{
		Model:       c.chat.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chat.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.chat.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.chat.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("llmclient: chat transient status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmclient: chat status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llmclient: decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llmclient: chat response had no choices")
	}
	return out.Choices[0].Message.Content, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

type embeddingsResponse struct {
	Data []embeddingDatum `json:"data"`
}

// EmbedBatch embeds texts in batches of embed.BatchSize and returns vectors
// in input order, restoring order from the response's index field as the
// contract requires.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.embed.Validate(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	batches := fn.Chunk(texts, c.embed.BatchSize)
	out := make([][]float32, 0, len(texts))

	for _, batch := range batches {
		vecs, err := c.embedOneBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedOneBatch(ctx context.Context, batch []string) ([][]float32, error) {
	result := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[[][]float32] {
		var vecs [][]float32
		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			var callErr error
			vecs, callErr = c.doEmbed(ctx, batch)
			return callErr
		})
		if err != nil {
			return fn.Err[[][]float32](err)
		}
		return fn.Ok(vecs)
	})
	return result.Unwrap()
}

func (c *Client) doEmbed(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingsRequest{Model: c.embed.Model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embed.BaseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.embed.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.embed.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient: embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("llmclient: embeddings transient status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llmclient: embeddings status %d", resp.StatusCode)
	}

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llmclient: decode embeddings response: %w", err)
	}

	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		v := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float32(f)
		}
		vecs[i] = v
	}
	return vecs, nil
}
