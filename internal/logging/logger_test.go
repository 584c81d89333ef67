package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisabledByDefault(t *testing.T) {
	if err := Initialize(Options{}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("categories should be disabled without debug mode")
	}
	// Must not panic or write anywhere.
	Store("hello %s", "world")
}

func TestCategoryFileOutput(t *testing.T) {
	dir := t.TempDir()
	err := Initialize(Options{Dir: dir, DebugMode: true, Level: "debug"})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ChunkerDebug("parsed %d chunks", 7)
	Sync()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var found string
	for _, e := range entries {
		if strings.Contains(e.Name(), "chunker") {
			found = filepath.Join(dir, e.Name())
		}
	}
	if found == "" {
		t.Fatalf("no chunker log file in %v", entries)
	}
	data, err := os.ReadFile(found)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "parsed 7 chunks") {
		t.Errorf("log file missing message: %q", string(data))
	}
}

func TestCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	err := Initialize(Options{
		Dir:        dir,
		DebugMode:  true,
		Categories: map[string]bool{"llm": false},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if IsCategoryEnabled(CategoryLLM) {
		t.Error("llm category should be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("unlisted categories default to enabled")
	}
}
