// Package reranker reorders retrieval candidates by relevance to a query
// using a cross-encoder model on the local inference server.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"tandem/internal/logging"
)

// Reranker orders candidate texts by relevance to a query.
type Reranker interface {
	// Rerank returns the candidates sorted most-relevant first. The result
	// contains exactly the input candidates, reordered.
	Rerank(ctx context.Context, query string, candidates []string) ([]string, error)
}

// HTTPReranker calls the local inference server's /api/rerank endpoint.
type HTTPReranker struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTPReranker creates a reranker backed by the local inference server.
func NewHTTPReranker(endpoint, model string) *HTTPReranker {
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}
	if model == "" {
		model = "bge-reranker"
	}
	return &HTTPReranker{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Rerank scores every candidate against the query and returns them sorted by
// descending score. Candidates the server omits from its response keep their
// original relative order at the tail.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string) ([]string, error) {
	if len(candidates) <= 1 {
		return candidates, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: candidates})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	sort.SliceStable(result.Results, func(i, j int) bool {
		return result.Results[i].Score > result.Results[j].Score
	})

	out := make([]string, 0, len(candidates))
	taken := make([]bool, len(candidates))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(candidates) || taken[res.Index] {
			continue
		}
		out = append(out, candidates[res.Index])
		taken[res.Index] = true
	}
	for i, c := range candidates {
		if !taken[i] {
			out = append(out, c)
		}
	}
	logging.Get(logging.CategoryAssembler).Debugf("reranked %d candidates", len(candidates))
	return out, nil
}

// Passthrough is the degraded-mode reranker. It returns candidates unchanged.
type Passthrough struct{}

func (Passthrough) Rerank(_ context.Context, _ string, candidates []string) ([]string, error) {
	return candidates, nil
}
