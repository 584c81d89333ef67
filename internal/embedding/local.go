package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tandem/internal/logging"
)

// LocalEngine generates embeddings via the local inference server's
// /api/embeddings endpoint.
type LocalEngine struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// NewLocalEngine creates a local HTTP embedding engine.
func NewLocalEngine(endpoint, model string, dims int) (*LocalEngine, error) {
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}
	if model == "" {
		model = "all-minilm"
	}
	if dims <= 0 {
		dims = 384
	}
	return &LocalEngine{
		endpoint: endpoint,
		model:    model,
		dims:     dims,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding for a single text.
func (e *LocalEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embedding) != e.dims {
		return nil, fmt.Errorf("embedding server returned %d dims, expected %d", len(result.Embedding), e.dims)
	}
	return result.Embedding, nil
}

// EmbedBatch embeds texts sequentially; the local server has no batch API.
// A failed item fails the batch so the caller can fall back to per-item
// embedding where skipping is acceptable.
func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Errorf("batch item %d failed: %v", i, err)
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured dimensionality.
func (e *LocalEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *LocalEngine) Name() string { return fmt.Sprintf("local:%s", e.model) }
