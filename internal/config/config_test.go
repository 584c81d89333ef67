package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Models.Dimensions != 384 {
		t.Errorf("expected default dimensions 384, got %d", cfg.Models.Dimensions)
	}
	if cfg.DataDir != ".tandem" {
		t.Errorf("expected default data dir, got %q", cfg.DataDir)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
data_dir: /var/lib/tandem
models:
  provider: genai
  dimensions: 768
llm:
  mode: cloud
  rate_limit: 5
logging:
  debug_mode: true
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Models.Provider != "genai" || cfg.Models.Dimensions != 768 {
		t.Errorf("models not overridden: %+v", cfg.Models)
	}
	if cfg.LLM.Mode != "cloud" {
		t.Errorf("llm mode not overridden: %+v", cfg.LLM)
	}
	if !cfg.Logging.DebugMode {
		t.Error("logging debug_mode not overridden")
	}
	// Unset fields keep defaults.
	if cfg.LLM.Endpoint != "http://localhost:8080" {
		t.Errorf("unset field lost default: %q", cfg.LLM.Endpoint)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("models: [not a map"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
