// Package embedding maps text to fixed-dimension float vectors.
// Backends: the local inference server's HTTP API and Google GenAI.
// The dimension is fixed system-wide and must match the vector index.
package embedding

import (
	"context"
	"fmt"
	"math"

	"tandem/internal/logging"
)

// Engine generates vector embeddings for text. Failures are per-item: batch
// callers skip failed items rather than aborting.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name returns the engine name for logging.
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "local" or "genai"
	Provider string

	// Local inference server
	Endpoint string
	Model    string

	// GenAI
	GenAIAPIKey string
	GenAIModel  string

	// Dimensions the rest of the system expects.
	Dimensions int
}

// NewEngine creates an embedding engine based on configuration and validates
// that it matches the configured dimensionality.
func NewEngine(cfg Config) (Engine, error) {
	logging.Embedding("creating embedding engine provider=%s dims=%d", cfg.Provider, cfg.Dimensions)

	var engine Engine
	var err error
	switch cfg.Provider {
	case "local", "":
		engine, err = NewLocalEngine(cfg.Endpoint, cfg.Model, cfg.Dimensions)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.Dimensions)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'local' or 'genai')", cfg.Provider)
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Errorf("failed to create embedding engine: %v", err)
		return nil, err
	}

	if cfg.Dimensions > 0 && engine.Dimensions() != cfg.Dimensions {
		return nil, fmt.Errorf("embedding engine %s produces %d-dim vectors, system expects %d",
			engine.Name(), engine.Dimensions(), cfg.Dimensions)
	}
	return engine, nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value in [-1, 1]; zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
