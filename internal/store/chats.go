package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// ChatStore holds chat history and the code index. One connection, one lock.
type ChatStore struct {
	db *sql.DB
	mu sync.Mutex
}

const chatSchema = `
CREATE TABLE IF NOT EXISTS chat_turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	compressed_prompt_response TEXT NOT NULL,
	response TEXT NOT NULL,
	request_type TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	vector_row_id INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_turns_session ON chat_turns(session_id, timestamp);

CREATE TABLE IF NOT EXISTS chat_vectors (
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	embedding BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS parent_contexts (
	path TEXT NOT NULL,
	filetype TEXT NOT NULL,
	category TEXT NOT NULL,
	last_indexed_timestamp INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	PRIMARY KEY (user_id, session_id, path)
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id INTEGER PRIMARY KEY,
	session_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	chunk_type TEXT NOT NULL,
	content TEXT NOT NULL,
	compressed_content TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_session_path ON chunks(session_id, file_path);
`

// NewChatStore opens (or creates) the chat database at path.
func NewChatStore(path string) (*ChatStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(chatSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize chat schema: %w", err)
	}
	return &ChatStore{db: db}, nil
}

// Close closes the database.
func (s *ChatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveChatTurn stores one chat turn together with the embedding of its
// prompt + response. Both rows land in one transaction so vector_row_id
// never dangles. The turn's ID and VectorRowID are filled in on return.
func (s *ChatStore) SaveChatTurn(turn *types.ChatTurn, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO chat_vectors (embedding) VALUES (?)`, EncodeVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to insert chat vector: %w", err)
	}
	vecRowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get vector row id: %w", err)
	}

	res, err = tx.Exec(`INSERT INTO chat_turns
		(user_id, session_id, prompt, compressed_prompt_response, response, request_type, timestamp, vector_row_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.UserID, turn.SessionID, turn.Prompt, turn.CompressedPromptResponse,
		turn.Response, turn.RequestType, turn.Timestamp, vecRowID)
	if err != nil {
		return fmt.Errorf("failed to insert chat turn: %w", err)
	}
	turnID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get turn id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat turn: %w", err)
	}
	turn.ID = turnID
	turn.VectorRowID = vecRowID
	logging.StoreDebug("saved chat turn %d session=%s", turnID, turn.SessionID)
	return nil
}

// FetchLastNChats returns the compressed prompt/response summaries for the
// session, most recent first.
func (s *ChatStore) FetchLastNChats(sessionID string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT compressed_prompt_response FROM chat_turns
		WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last chats: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// NearestChat is one hit from the chat vector table. The table has no
// session column, so results are globally ranked; callers post-filter by
// SessionID.
type NearestChat struct {
	RowID              int64
	Distance           float64
	Prompt             string
	CompressedResponse string
	SessionID          string
}

// QueryNearestEmbeddings returns up to limit chat turns ranked by cosine
// distance to the query embedding, closest first, across all sessions.
func (s *ChatStore) QueryNearestEmbeddings(embedding []float32, limit int) ([]NearestChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT v.row_id, %s(v.embedding, ?) AS dist,
			t.prompt, t.compressed_prompt_response, t.session_id
		FROM chat_vectors v
		JOIN chat_turns t ON t.vector_row_id = v.row_id
		ORDER BY dist ASC LIMIT ?`, cosineDistanceFn)
	rows, err := s.db.Query(query, EncodeVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest embeddings: %w", err)
	}
	defer rows.Close()

	var out []NearestChat
	for rows.Next() {
		var h NearestChat
		if err := rows.Scan(&h.RowID, &h.Distance, &h.Prompt, &h.CompressedResponse, &h.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan nearest row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ParentContext is one indexed path per (user, session).
type ParentContext struct {
	Path        string
	Filetype    string
	Category    string
	LastIndexed int64
	UserID      string
	SessionID   string
}

// GetParentContext returns the parent context row, or nil if the path has
// never been indexed for this user and session.
func (s *ChatStore) GetParentContext(userID, sessionID, path string) (*ParentContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc := ParentContext{Path: path, UserID: userID, SessionID: sessionID}
	err := s.db.QueryRow(`SELECT filetype, category, last_indexed_timestamp
		FROM parent_contexts WHERE user_id = ? AND session_id = ? AND path = ?`,
		userID, sessionID, path).Scan(&pc.Filetype, &pc.Category, &pc.LastIndexed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parent context: %w", err)
	}
	return &pc, nil
}

// UpsertParentContext inserts or updates the parent context row.
func (s *ChatStore) UpsertParentContext(pc *ParentContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO parent_contexts
		(path, filetype, category, last_indexed_timestamp, user_id, session_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, session_id, path) DO UPDATE SET
			filetype = excluded.filetype,
			category = excluded.category,
			last_indexed_timestamp = excluded.last_indexed_timestamp`,
		pc.Path, pc.Filetype, pc.Category, pc.LastIndexed, pc.UserID, pc.SessionID)
	if err != nil {
		return fmt.Errorf("failed to upsert parent context: %w", err)
	}
	return nil
}

// ChunkRow is one indexed chunk as stored.
type ChunkRow struct {
	ChunkID           uint64
	SessionID         string
	FilePath          string
	ChunkType         string
	Content           string
	CompressedContent string
	StartLine         int
	EndLine           int
}

// InsertChunks stores a batch of chunk rows in one transaction.
func (s *ChatStore) InsertChunks(rows []ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO chunks
		(chunk_id, session_id, file_path, chunk_type, content, compressed_content, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(int64(r.ChunkID), r.SessionID, r.FilePath, r.ChunkType,
			r.Content, r.CompressedContent, r.StartLine, r.EndLine); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", r.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	logging.StoreDebug("inserted %d chunks", len(rows))
	return nil
}

// DeleteChunksForPaths removes all chunks for the given file paths within a
// session and returns the deleted chunk ids so the caller can evict them
// from the vector index. Select and delete run in one transaction.
func (s *ChatStore) DeleteChunksForPaths(sessionID string, paths []string) ([]uint64, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]interface{}, 0, len(paths)+1)
	args = append(args, sessionID)
	for _, p := range paths {
		args = append(args, p)
	}

	rows, err := tx.Query(`SELECT chunk_id FROM chunks WHERE session_id = ? AND file_path IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale chunks: %w", err)
	}
	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE session_id = ? AND file_path IN (`+placeholders+`)`, args...); err != nil {
		return nil, fmt.Errorf("failed to delete stale chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stale chunk delete: %w", err)
	}
	logging.StoreDebug("deleted %d stale chunks for %d paths", len(ids), len(paths))
	return ids, nil
}

// ChunkHit hydrates a vector-index key back into text.
type ChunkHit struct {
	FilePath  string
	ChunkType string
	Content   string
	SessionID string
}

// GetChunksByIDs returns the stored rows for the given chunk ids. Missing
// ids are silently absent from the result.
func (s *ChatStore) GetChunksByIDs(ids []uint64) ([]ChunkHit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}

	rows, err := s.db.Query(`SELECT file_path, chunk_type, content, session_id
		FROM chunks WHERE chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks by id: %w", err)
	}
	defer rows.Close()

	var out []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.FilePath, &h.ChunkType, &h.Content, &h.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan chunk hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
