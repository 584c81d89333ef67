// Package logging provides config-driven categorized logging for tandem.
// Each subsystem logs to its own file under .tandem/logs/ via a zap sugared
// logger. When debug mode is off every logger is a no-op, so production runs
// write nothing.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a subsystem log stream.
type Category string

const (
	CategoryBoot         Category = "boot"
	CategoryChunker      Category = "chunker"
	CategoryCompressor   Category = "compressor"
	CategoryEmbedding    Category = "embedding"
	CategoryVecIndex     Category = "vecindex"
	CategoryStore        Category = "store"
	CategoryIndexer      Category = "indexer"
	CategoryAssembler    Category = "assembler"
	CategoryOrchestrator Category = "orchestrator"
	CategoryAgents       Category = "agents"
	CategoryLLM          Category = "llm"
	CategoryModelProc    Category = "modelproc"
)

// Options control logger construction.
type Options struct {
	Dir        string          // log directory; empty disables file output
	DebugMode  bool            // false = every logger is a no-op
	Level      string          // debug | info | warn | error
	Categories map[string]bool // per-category enablement; nil = all on
}

var (
	mu      sync.RWMutex
	opts    Options
	level   zapcore.Level
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize configures the logging subsystem. Call once at startup before
// any Get. Safe to call again (e.g. after a config reload); existing loggers
// are dropped and rebuilt lazily.
func Initialize(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	switch o.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	for cat, l := range loggers {
		_ = l.Sync()
		delete(loggers, cat)
	}

	if !opts.DebugMode || opts.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// IsCategoryEnabled reports whether a category currently produces output.
func IsCategoryEnabled(cat Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(cat)
}

func categoryEnabledLocked(cat Category) bool {
	if !opts.DebugMode || opts.Dir == "" {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, ok := opts.Categories[string(cat)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns the sugared logger for a category, creating it on first use.
// Disabled categories get zap.NewNop().Sugar().
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}

	l := buildLocked(cat)
	loggers[cat] = l
	return l
}

func buildLocked(cat Category) *zap.SugaredLogger {
	if !categoryEnabledLocked(cat) {
		return zap.NewNop().Sugar()
	}

	// Date prefix keeps rotation a matter of deleting old files.
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), cat)
	path := filepath.Join(opts.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return zap.NewNop().Sugar()
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(f), level)
	return zap.New(core).Named(string(cat)).Sugar()
}

// Sync flushes all open loggers. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
}

// Convenience helpers. These are no-ops when the category is disabled.

func Boot(format string, args ...interface{})  { Get(CategoryBoot).Infof(format, args...) }
func Store(format string, args ...interface{}) { Get(CategoryStore).Infof(format, args...) }
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debugf(format, args...)
}
func Chunker(format string, args ...interface{}) { Get(CategoryChunker).Infof(format, args...) }
func ChunkerDebug(format string, args ...interface{}) {
	Get(CategoryChunker).Debugf(format, args...)
}
func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Infof(format, args...)
}
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debugf(format, args...)
}
func VecIndex(format string, args ...interface{}) { Get(CategoryVecIndex).Infof(format, args...) }
func VecIndexDebug(format string, args ...interface{}) {
	Get(CategoryVecIndex).Debugf(format, args...)
}
func Indexer(format string, args ...interface{}) { Get(CategoryIndexer).Infof(format, args...) }
func IndexerDebug(format string, args ...interface{}) {
	Get(CategoryIndexer).Debugf(format, args...)
}
func Assembler(format string, args ...interface{}) {
	Get(CategoryAssembler).Infof(format, args...)
}
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Infof(format, args...)
}
func LLM(format string, args ...interface{}) { Get(CategoryLLM).Infof(format, args...) }
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debugf(format, args...)
}
func ModelProc(format string, args ...interface{}) {
	Get(CategoryModelProc).Infof(format, args...)
}
