// Package compressor reduces chunk text to its most salient tokens before
// embedding and storage. The heavy lifting happens in the local inference
// server; this package is the HTTP adapter plus a degraded fallback.
package compressor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tandem/internal/logging"
)

// DefaultTopK is the token budget used when the caller does not specify one.
const DefaultTopK = 512

// Compressor reduces text to a compact representation.
type Compressor interface {
	// Compress returns a condensed form of text limited to topK tokens.
	Compress(ctx context.Context, text string, topK int) (string, error)
}

// HTTPCompressor calls the local inference server's /api/compress endpoint.
type HTTPCompressor struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTPCompressor creates a compressor backed by the local inference server.
func NewHTTPCompressor(endpoint, model string) *HTTPCompressor {
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}
	if model == "" {
		model = "attn-compress"
	}
	return &HTTPCompressor{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type compressRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
	TopK  int    `json:"top_k"`
}

type compressResponse struct {
	Tokens []string `json:"tokens"`
}

// Compress sends text to the compression model and joins the returned salient
// tokens. The result preserves token order from the model.
func (c *HTTPCompressor) Compress(ctx context.Context, text string, topK int) (string, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	// The compression model accepts at most DefaultTopK input tokens; the cap
	// is enforced here so oversized chunks never go over the wire.
	text = truncate(text, DefaultTopK)
	body, err := json.Marshal(compressRequest{Model: c.model, Text: text, TopK: topK})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/compress", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("compression request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("compression server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result compressResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	logging.Get(logging.CategoryCompressor).Debugf("compressed %d bytes to %d tokens", len(text), len(result.Tokens))
	return strings.Join(result.Tokens, " "), nil
}

// Truncating is the degraded-mode compressor used when no compression model
// is loaded. It keeps the first topK whitespace tokens verbatim.
type Truncating struct{}

// Compress keeps the leading topK whitespace-separated tokens.
func (Truncating) Compress(_ context.Context, text string, topK int) (string, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return truncate(text, topK), nil
}

// truncate keeps the first topK whitespace tokens of text.
func truncate(text string, topK int) string {
	fields := strings.Fields(text)
	if len(fields) <= topK {
		return text
	}
	return strings.Join(fields[:topK], " ")
}
