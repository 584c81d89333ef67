// Package store is the durable record of chunks, parent-file metadata, chat
// turns and pair-programmer plans. Three logical databases live under the
// data dir, each behind its own single SQLite connection and mutex:
//
//	chats.db    - chat history plus the code index (chunks, parent contexts)
//	pair.db     - pair-programmer sessions and per-step execution state
//	settings.db - shared key/value configuration
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"tandem/internal/logging"
)

// Stores bundles the three logical databases.
type Stores struct {
	Chats    *ChatStore
	Pair     *PairStore
	Settings *SettingsStore
}

// Open opens all three databases under dataDir, creating files and schema
// as needed.
func Open(dataDir string) (*Stores, error) {
	logging.Store("opening stores under %s", dataDir)

	chats, err := NewChatStore(filepath.Join(dataDir, "chats.db"))
	if err != nil {
		return nil, err
	}
	pair, err := NewPairStore(filepath.Join(dataDir, "pair.db"))
	if err != nil {
		chats.Close()
		return nil, err
	}
	settings, err := NewSettingsStore(filepath.Join(dataDir, "settings.db"))
	if err != nil {
		chats.Close()
		pair.Close()
		return nil, err
	}
	return &Stores{Chats: chats, Pair: pair, Settings: settings}, nil
}

// Close closes all three databases.
func (s *Stores) Close() error {
	var first error
	for _, c := range []interface{ Close() error }{s.Chats, s.Pair, s.Settings} {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openDB opens a SQLite database with the single-connection policy every
// logical database uses. WAL keeps readers off the writer's lock.
func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}
	return db, nil
}

// EncodeVector serializes a float32 vector as a little-endian blob, the
// format the cosine distance function expects.
func EncodeVector(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// DecodeVector deserializes a little-endian float32 blob.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
