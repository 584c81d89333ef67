package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// ErrSessionNotFound is returned when a pair-programmer session id is
// unknown.
var ErrSessionNotFound = errors.New("pair session not found")

// PairStore holds pair-programmer sessions and per-step execution state.
type PairStore struct {
	db *sql.DB
	mu sync.Mutex
}

const pairSchema = `
CREATE TABLE IF NOT EXISTS pp_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	task TEXT NOT NULL,
	steps_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pp_step_state (
	key TEXT PRIMARY KEY,
	executed INTEGER NOT NULL DEFAULT 0,
	response TEXT NOT NULL DEFAULT '',
	chat_json TEXT NOT NULL DEFAULT '[]'
);
`

// NewPairStore opens (or creates) the pair-programmer database at path.
func NewPairStore(path string) (*PairStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(pairSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize pair schema: %w", err)
	}
	return &PairStore{db: db}, nil
}

// Close closes the database.
func (s *PairStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func stepKey(sessionID string, stepNumber int) string {
	return fmt.Sprintf("%s_%d", sessionID, stepNumber)
}

// CreateSession persists a new plan together with one unexecuted step state
// per step, all in one transaction. A failed plan persists nothing.
func (s *PairStore) CreateSession(sess *types.PairSession) error {
	stepsJSON, err := json.Marshal(sess.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if _, err := tx.Exec(`INSERT INTO pp_sessions (id, user_id, session_id, task, steps_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.SessionID, sess.Task, string(stepsJSON), sess.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to insert pair session: %w", err)
	}
	for _, step := range sess.Steps {
		if _, err := tx.Exec(`INSERT INTO pp_step_state (key, executed, response, chat_json)
			VALUES (?, 0, '', '[]')`, stepKey(sess.ID, step.StepNumber)); err != nil {
			return fmt.Errorf("failed to insert step state %d: %w", step.StepNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pair session: %w", err)
	}
	logging.Store("created pair session %s with %d steps", sess.ID, len(sess.Steps))
	return nil
}

// GetSession loads a plan by its id.
func (s *PairStore) GetSession(id string) (*types.PairSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess types.PairSession
	var stepsJSON string
	var createdAt int64
	err := s.db.QueryRow(`SELECT id, user_id, session_id, task, steps_json, created_at
		FROM pp_sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.UserID, &sess.SessionID, &sess.Task, &stepsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair session: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &sess.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps for %s: %w", id, err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	return &sess, nil
}

// GetStepState loads the execution record for one step.
func (s *PairStore) GetStepState(sessionID string, stepNumber int) (*types.StepState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getStepStateLocked(sessionID, stepNumber)
}

func (s *PairStore) getStepStateLocked(sessionID string, stepNumber int) (*types.StepState, error) {
	state := types.StepState{SessionID: sessionID, StepNumber: stepNumber}
	var executed int
	var chatJSON string
	err := s.db.QueryRow(`SELECT executed, response, chat_json FROM pp_step_state WHERE key = ?`,
		stepKey(sessionID, stepNumber)).Scan(&executed, &state.Response, &chatJSON)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step state: %w", err)
	}
	state.Executed = executed != 0
	if err := json.Unmarshal([]byte(chatJSON), &state.Chat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step chat: %w", err)
	}
	return &state, nil
}

// GetStepStates loads all execution records for a session in step order.
func (s *PairStore) GetStepStates(sess *types.PairSession) ([]*types.StepState, error) {
	out := make([]*types.StepState, 0, len(sess.Steps))
	for _, step := range sess.Steps {
		state, err := s.GetStepState(sess.ID, step.StepNumber)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// MarkExecuted stores the accumulated response and flips executed to true.
// Re-execution overwrites the previous response.
func (s *PairStore) MarkExecuted(sessionID string, stepNumber int, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE pp_step_state SET executed = 1, response = ? WHERE key = ?`,
		response, stepKey(sessionID, stepNumber))
	if err != nil {
		return fmt.Errorf("failed to mark step executed: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrSessionNotFound
	}
	logging.StoreDebug("marked executed %s step %d", sessionID, stepNumber)
	return nil
}

// AppendStepChat appends one prompt/response entry to a step's chat list.
// Read-modify-write runs inside one transaction under the connection lock
// so concurrent appends on the same step are linearized, never lost.
func (s *PairStore) AppendStepChat(sessionID string, stepNumber int, entry types.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := stepKey(sessionID, stepNumber)
	var chatJSON string
	err = tx.QueryRow(`SELECT chat_json FROM pp_step_state WHERE key = ?`, key).Scan(&chatJSON)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read step chat: %w", err)
	}

	var chat []types.ChatEntry
	if err := json.Unmarshal([]byte(chatJSON), &chat); err != nil {
		return fmt.Errorf("failed to unmarshal step chat: %w", err)
	}
	chat = append(chat, entry)
	updated, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("failed to marshal step chat: %w", err)
	}

	if _, err := tx.Exec(`UPDATE pp_step_state SET chat_json = ? WHERE key = ?`, string(updated), key); err != nil {
		return fmt.Errorf("failed to update step chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step chat: %w", err)
	}
	return nil
}
