package main

import (
	"fmt"
	"os"
	"path/filepath"

	"tandem/internal/agent"
	"tandem/internal/assembler"
	"tandem/internal/chunker"
	"tandem/internal/compressor"
	"tandem/internal/config"
	"tandem/internal/embedding"
	"tandem/internal/indexer"
	"tandem/internal/llm"
	"tandem/internal/orchestrator"
	"tandem/internal/reranker"
	"tandem/internal/store"
	"tandem/internal/vecindex"
)

// backend is the wired-up core handed to the commands.
type backend struct {
	stores       *store.Stores
	vectors      *vecindex.Manager
	indexer      *indexer.Indexer
	assembler    *assembler.Assembler
	orchestrator *orchestrator.Orchestrator
}

// newBackend wires the retrieval engine and orchestrator from config.
func newBackend(cfg *config.Config) (*backend, error) {
	dataDir := cfg.DataDir

	stores, err := store.Open(dataDir)
	if err != nil {
		return nil, err
	}

	emb, err := embedding.NewEngine(embedding.Config{
		Provider:    cfg.Models.Provider,
		Endpoint:    cfg.Models.Endpoint,
		Model:       cfg.Models.EmbedModel,
		GenAIAPIKey: cfg.Models.GenAIAPIKey,
		GenAIModel:  cfg.Models.GenAIModel,
		Dimensions:  cfg.Models.Dimensions,
	})
	if err != nil {
		stores.Close()
		return nil, err
	}

	vectors := vecindex.NewManager(filepath.Join(dataDir, "index"), cfg.Models.Dimensions)
	comp := compressor.NewHTTPCompressor(cfg.Models.Endpoint, cfg.Models.CompressModel)
	rr := reranker.NewHTTPReranker(cfg.Models.Endpoint, cfg.Models.RerankModel)

	var gateway llm.Gateway
	switch cfg.LLM.Mode {
	case "cloud":
		gateway = llm.NewCloudGateway(cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.Model,
			cfg.LLMTimeout(), cfg.LLM.RateLimit)
	case "local", "":
		gateway = llm.NewLocalGateway(cfg.LLM.Endpoint, cfg.LLMTimeout(), cfg.LLM.RateLimit)
	default:
		stores.Close()
		return nil, fmt.Errorf("unsupported llm mode: %s", cfg.LLM.Mode)
	}

	personas, err := agent.LoadOverrides(filepath.Join(dataDir, "agents.yaml"))
	if err != nil {
		stores.Close()
		return nil, err
	}

	ch := chunker.New(os.Getenv("GITHUB_TOKEN"))
	return &backend{
		stores:       stores,
		vectors:      vectors,
		indexer:      indexer.New(ch, comp, emb, stores.Chats, vectors),
		assembler:    assembler.New(stores.Chats, vectors, emb, rr),
		orchestrator: orchestrator.New(stores.Pair, gateway, personas),
	}, nil
}

func (b *backend) close() {
	b.orchestrator.Wait()
	b.stores.Close()
}
