// Package config loads tandem configuration from .tandem/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tandem configuration.
type Config struct {
	// DataDir is the root for databases, vector index files and logs.
	// Defaults to .tandem under the workspace.
	DataDir string `yaml:"data_dir"`

	Models    ModelsConfig    `yaml:"models"`
	LLM       LLMConfig       `yaml:"llm"`
	ModelProc ModelProcConfig `yaml:"model_proc"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ModelsConfig configures the embedding, compression and rerank collaborators.
type ModelsConfig struct {
	// Provider: "local" (inference server HTTP API) or "genai"
	Provider string `yaml:"provider"`

	// Endpoint of the local inference server, e.g. http://localhost:8080
	Endpoint string `yaml:"endpoint"`

	EmbedModel    string `yaml:"embed_model"`
	CompressModel string `yaml:"compress_model"`
	RerankModel   string `yaml:"rerank_model"`

	// Dimensions of the embedding space. Must match the vector index.
	Dimensions int `yaml:"dimensions"`

	// GenAI cloud fallback
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// LLMConfig configures the streaming completion gateway.
type LLMConfig struct {
	Mode        string  `yaml:"mode"` // "local" or "cloud"
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`

	// Requests per second allowed against the gateway.
	RateLimit float64 `yaml:"rate_limit"`
}

// ModelProcConfig configures the supervised inference-server subprocess.
type ModelProcConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		DataDir: ".tandem",
		Models: ModelsConfig{
			Provider:      "local",
			Endpoint:      "http://localhost:8080",
			EmbedModel:    "all-minilm",
			CompressModel: "attn-compress",
			RerankModel:   "bge-reranker",
			Dimensions:    384,
			GenAIModel:    "gemini-embedding-001",
		},
		LLM: LLMConfig{
			Mode:        "local",
			Endpoint:    "http://localhost:8080",
			Temperature: 0.2,
			Timeout:     "120s",
			RateLimit:   2,
		},
		ModelProc: ModelProcConfig{
			Binary: "llama-server",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, filling unset fields with defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ".tandem"
	}
	if cfg.Models.Dimensions <= 0 {
		cfg.Models.Dimensions = 384
	}
	return cfg, nil
}

// LoadWorkspace loads <workspace>/.tandem/config.yaml.
func LoadWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".tandem", "config.yaml"))
}

// LLMTimeout parses the configured gateway timeout, defaulting to 2 minutes.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// LogDir returns the logging directory under the data dir.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// IndexDir returns the vector index directory under the data dir.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}
