// Package vecindex implements a flat cosine-similarity vector index with one
// index file per session. Indexes are small enough that exact brute-force
// search beats an ANN structure on both latency and simplicity.
package vecindex

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"tandem/internal/logging"
)

// Match is one search hit.
type Match struct {
	Key   uint64  `json:"key"`
	Score float64 `json:"score"`
}

// Index is a flat in-memory cosine index persisted as a JSON file. All
// methods are safe for concurrent use.
type Index struct {
	mu   sync.Mutex
	path string

	dim     int
	keys    []uint64
	vectors [][]float32
	pos     map[uint64]int
}

// indexFile is the on-disk representation.
type indexFile struct {
	Dim     int         `json:"dim"`
	Keys    []uint64    `json:"keys"`
	Vectors [][]float32 `json:"vectors"`
}

// Open loads the index at path, creating an empty one if the file does not
// exist. dim fixes the dimensionality of every vector in the index.
func Open(path string, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid index dimensionality: %d", dim)
	}
	idx := &Index{path: path, dim: dim, pos: make(map[uint64]int)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse index %s: %w", path, err)
	}
	if f.Dim != dim {
		return nil, fmt.Errorf("index %s has dim %d, expected %d", path, f.Dim, dim)
	}
	if len(f.Keys) != len(f.Vectors) {
		return nil, fmt.Errorf("index %s is corrupt: %d keys, %d vectors", path, len(f.Keys), len(f.Vectors))
	}
	idx.keys = f.Keys
	idx.vectors = f.Vectors
	for i, k := range f.Keys {
		idx.pos[k] = i
	}
	logging.VecIndex("opened %s: %d vectors dim=%d", path, len(idx.keys), dim)
	return idx, nil
}

// Add inserts or replaces the vector for key and persists the index.
func (idx *Index) Add(key uint64, vec []float32) error {
	if len(vec) != idx.dim {
		return fmt.Errorf("vector has %d dims, index expects %d", len(vec), idx.dim)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if i, ok := idx.pos[key]; ok {
		idx.vectors[i] = vec
	} else {
		idx.pos[key] = len(idx.keys)
		idx.keys = append(idx.keys, key)
		idx.vectors = append(idx.vectors, vec)
	}
	return idx.persistLocked()
}

// Remove deletes the vector for key and persists the index. Removing a
// missing key is a no-op.
func (idx *Index) Remove(key uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i, ok := idx.pos[key]
	if !ok {
		return nil
	}
	last := len(idx.keys) - 1
	if i != last {
		idx.keys[i] = idx.keys[last]
		idx.vectors[i] = idx.vectors[last]
		idx.pos[idx.keys[i]] = i
	}
	idx.keys = idx.keys[:last]
	idx.vectors = idx.vectors[:last]
	delete(idx.pos, key)
	return idx.persistLocked()
}

// AddBatch inserts or replaces multiple vectors with a single persist.
// Entries with the wrong dimensionality are logged and skipped.
func (idx *Index) AddBatch(entries []Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	added := 0
	for _, e := range entries {
		if len(e.Vector) != idx.dim {
			logging.Get(logging.CategoryVecIndex).Errorf(
				"add key %d failed: vector has %d dims, index expects %d", e.Key, len(e.Vector), idx.dim)
			continue
		}
		if i, ok := idx.pos[e.Key]; ok {
			idx.vectors[i] = e.Vector
		} else {
			idx.pos[e.Key] = len(idx.keys)
			idx.keys = append(idx.keys, e.Key)
			idx.vectors = append(idx.vectors, e.Vector)
		}
		added++
	}
	if added == 0 {
		return nil
	}
	return idx.persistLocked()
}

// RemoveBatch deletes multiple keys with a single persist.
func (idx *Index) RemoveBatch(keys []uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for _, key := range keys {
		i, ok := idx.pos[key]
		if !ok {
			continue
		}
		last := len(idx.keys) - 1
		if i != last {
			idx.keys[i] = idx.keys[last]
			idx.vectors[i] = idx.vectors[last]
			idx.pos[idx.keys[i]] = i
		}
		idx.keys = idx.keys[:last]
		idx.vectors = idx.vectors[:last]
		delete(idx.pos, key)
		removed++
	}
	if removed == 0 {
		return nil
	}
	return idx.persistLocked()
}

// Search returns the top-k keys by cosine similarity to query, best first.
func (idx *Index) Search(query []float32, k int) ([]Match, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("query has %d dims, index expects %d", len(query), idx.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	matches := make([]Match, 0, len(idx.keys))
	for i, key := range idx.keys {
		matches = append(matches, Match{Key: key, Score: cosine(query, idx.vectors[i])})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len returns the number of vectors in the index.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.keys)
}

// persistLocked writes the index atomically via a temp file and rename.
// Caller holds idx.mu.
func (idx *Index) persistLocked() error {
	data, err := json.Marshal(indexFile{Dim: idx.dim, Keys: idx.keys, Vectors: idx.vectors})
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
