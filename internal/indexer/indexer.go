// Package indexer owns the indexing pass: chunk a source unit, compress and
// embed each chunk, and land the results in the relational store and the
// session's vector index. Re-indexing is incremental by modification time.
package indexer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"tandem/internal/chunker"
	"tandem/internal/compressor"
	"tandem/internal/embedding"
	"tandem/internal/logging"
	"tandem/internal/store"
	"tandem/internal/vecindex"
)

// Indexer wires the retrieval pipeline's write path.
type Indexer struct {
	chunker    *chunker.Chunker
	compressor compressor.Compressor
	embedder   embedding.Engine
	chats      *store.ChatStore
	vectors    *vecindex.Manager
}

// New creates an Indexer.
func New(ch *chunker.Chunker, comp compressor.Compressor, emb embedding.Engine,
	chats *store.ChatStore, vectors *vecindex.Manager) *Indexer {
	return &Indexer{
		chunker:    ch,
		compressor: comp,
		embedder:   emb,
		chats:      chats,
		vectors:    vectors,
	}
}

// Result summarizes one indexing pass.
type Result struct {
	Filetype string
	Indexed  int
	Skipped  int
	Deleted  int
}

// IndexPath chunks path and indexes the result for (user, session).
//
// On re-index only files modified after the stored last-indexed timestamp
// are re-chunked; their stale chunks are deleted from both the store and
// the vector index before the new rows land. Per-chunk compression or
// embedding failures are logged and the chunk skipped; the pass continues.
func (ix *Indexer) IndexPath(ctx context.Context, userID, sessionID, path, category string) (*Result, error) {
	since := time.Time{}
	pc, err := ix.chats.GetParentContext(userID, sessionID, path)
	if err != nil {
		return nil, err
	}
	if pc != nil {
		since = time.Unix(pc.LastIndexed, 0)
	}
	startedAt := time.Now()

	chunks, modified, filetype, err := ix.chunker.ChunkPathSince(ctx, path, since)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", path, err)
	}
	res := &Result{Filetype: filetype}

	if len(modified) > 0 {
		staleIDs, err := ix.chats.DeleteChunksForPaths(sessionID, modified)
		if err != nil {
			return nil, err
		}
		if len(staleIDs) > 0 {
			if err := ix.vectors.Remove(sessionID, staleIDs); err != nil {
				return nil, fmt.Errorf("failed to evict stale vectors: %w", err)
			}
			res.Deleted = len(staleIDs)
		}
	}

	var rows []store.ChunkRow
	var entries []vecindex.Entry
	for _, ch := range chunks {
		compressed, err := ix.compressor.Compress(ctx, ch.Content, compressor.DefaultTopK)
		if err != nil {
			logging.Get(logging.CategoryIndexer).Errorf("compress failed for %s: %v", ch.FilePath, err)
			res.Skipped++
			continue
		}
		vec, err := ix.embedder.Embed(ctx, compressed)
		if err != nil {
			logging.Get(logging.CategoryIndexer).Errorf("embed failed for %s: %v", ch.FilePath, err)
			res.Skipped++
			continue
		}
		id, err := randomChunkID()
		if err != nil {
			return nil, err
		}
		rows = append(rows, store.ChunkRow{
			ChunkID:           id,
			SessionID:         sessionID,
			FilePath:          ch.FilePath,
			ChunkType:         ch.ChunkType,
			Content:           ch.Content,
			CompressedContent: compressed,
			StartLine:         ch.StartLine,
			EndLine:           ch.EndLine,
		})
		entries = append(entries, vecindex.Entry{Key: id, Vector: vec})
	}

	if len(rows) > 0 {
		if err := ix.chats.InsertChunks(rows); err != nil {
			return nil, err
		}
		if err := ix.vectors.Add(sessionID, entries); err != nil {
			return nil, err
		}
		res.Indexed = len(rows)
	}

	if err := ix.chats.UpsertParentContext(&store.ParentContext{
		Path:        path,
		Filetype:    filetype,
		Category:    category,
		LastIndexed: startedAt.Unix(),
		UserID:      userID,
		SessionID:   sessionID,
	}); err != nil {
		return nil, err
	}
	logging.Indexer("indexed %s: %d chunks, %d skipped, %d stale removed",
		path, res.Indexed, res.Skipped, res.Deleted)
	return res, nil
}

// randomChunkID draws a 64-bit key from crypto/rand. The id space is large
// enough that collision checking is not worth a store round trip.
func randomChunkID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate chunk id: %w", err)
	}
	id := binary.LittleEndian.Uint64(buf[:])
	if id == 0 {
		id = 1
	}
	return id, nil
}
