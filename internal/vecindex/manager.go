package vecindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tandem/internal/logging"
)

// Manager hands out one shared Index per session so concurrent callers
// serialize on the same in-memory copy instead of clobbering each other's
// file writes.
type Manager struct {
	mu      sync.Mutex
	dir     string
	dim     int
	indexes map[string]*Index
}

// NewManager creates a manager rooted at dir. Every index it opens uses dim.
func NewManager(dir string, dim int) *Manager {
	return &Manager{dir: dir, dim: dim, indexes: make(map[string]*Index)}
}

// Get returns the index for a session, opening it on first use.
func (m *Manager) Get(session string) (*Index, error) {
	if session == "" {
		return nil, fmt.Errorf("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.indexes[session]; ok {
		return idx, nil
	}
	idx, err := Open(m.indexPath(session), m.dim)
	if err != nil {
		return nil, err
	}
	m.indexes[session] = idx
	return idx, nil
}

// Drop removes a session's index from memory and deletes its file.
func (m *Manager) Drop(session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.indexes, session)
	if err := os.Remove(m.indexPath(session)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete index for %s: %w", session, err)
	}
	return nil
}

func (m *Manager) indexPath(session string) string {
	return filepath.Join(m.dir, session+".vidx")
}

// Entry is one (key, vector) pair for batch insertion.
type Entry struct {
	Key    uint64
	Vector []float32
}

// Add inserts entries into the session's index with a single persist.
// Per-item failures are logged and skipped; the batch continues.
func (m *Manager) Add(session string, entries []Entry) error {
	idx, err := m.Get(session)
	if err != nil {
		return err
	}
	return idx.AddBatch(entries)
}

// Remove deletes keys from the session's index. Missing keys are ignored.
func (m *Manager) Remove(session string, keys []uint64) error {
	idx, err := m.Get(session)
	if err != nil {
		return err
	}
	return idx.RemoveBatch(keys)
}

// Search returns up to k nearest keys in the session's index. A failed
// search returns an empty result, never an error.
func (m *Manager) Search(session string, query []float32, k int) []uint64 {
	idx, err := m.Get(session)
	if err != nil {
		logging.Get(logging.CategoryVecIndex).Errorf("search open failed for %s: %v", session, err)
		return nil
	}
	matches, err := idx.Search(query, k)
	if err != nil {
		logging.Get(logging.CategoryVecIndex).Errorf("search failed for %s: %v", session, err)
		return nil
	}
	keys := make([]uint64, len(matches))
	for i, match := range matches {
		keys[i] = match.Key
	}
	return keys
}
