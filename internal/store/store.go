package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voxlabs/voxd/internal/domain"

	_ "modernc.org/sqlite"
)

// Error kinds per the runtime's error taxonomy. Callers match with errors.Is.
var (
	// ErrStorageUnavailable indicates the database could not be opened or
	// initialised.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrIntegrityViolation indicates a foreign-key or uniqueness invariant
	// would be broken. It signals a logic bug; callers never continue past it.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous indicates a session identifier matched more than one
	// session by title.
	ErrAmbiguous = errors.New("ambiguous session identifier")
)

// Store wraps a SQLite database for session, message, checkpoint and event
// persistence. It is the sole owner of the connection; all writes are
// serialised under one mutex, reads may run concurrently (WAL).
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the SQLite database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping db: %v", ErrStorageUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

// NewFromDB creates a Store from an existing *sql.DB and runs migrations.
// This is useful for testing with an in-memory database.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	// Create tables (IF NOT EXISTS so restarts are idempotent).
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			parent_session_id TEXT REFERENCES sessions(id),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			model TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			token_estimate INTEGER NOT NULL DEFAULT 0,
			UNIQUE(session_id, seq)
		);
		CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			message_id TEXT,
			tool_name TEXT NOT NULL,
			input_json TEXT NOT NULL DEFAULT '{}',
			result_text TEXT NOT NULL DEFAULT '',
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			user_message_id TEXT,
			created_at TEXT NOT NULL,
			scope_json TEXT NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS checkpoint_files (
			checkpoint_id TEXT NOT NULL REFERENCES checkpoints(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			existed_before INTEGER NOT NULL,
			backup_blob BLOB,
			PRIMARY KEY (checkpoint_id, path)
		);
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_session_created ON tool_calls(session_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_session_created ON checkpoints(session_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
	`)
	return err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// utcNow returns the current time formatted as UTC ISO-8601 to seconds.
func utcNow() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// wrapWriteErr maps SQLite constraint failures to ErrIntegrityViolation.
func wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "unique") || strings.Contains(msg, "foreign key") {
		return fmt.Errorf("%w: %v", ErrIntegrityViolation, err)
	}
	return err
}

// encodeContent serialises message content: structured blocks as a JSON
// array, plain text as a JSON string.
func encodeContent(content string, blocks []domain.ContentBlock) (string, error) {
	if len(blocks) > 0 {
		data, err := json.Marshal(blocks)
		if err != nil {
			return "", fmt.Errorf("marshal blocks: %w", err)
		}
		return string(data), nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	return string(data), nil
}

// decodeContent is the inverse of encodeContent.
func decodeContent(raw string) (string, []domain.ContentBlock) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var blocks []domain.ContentBlock
		if err := json.Unmarshal([]byte(trimmed), &blocks); err == nil {
			return "", blocks
		}
	}
	var text string
	if err := json.Unmarshal([]byte(trimmed), &text); err == nil {
		return text, nil
	}
	// Legacy rows may hold raw text.
	return raw, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// AppendMessage appends a message to a session, assigning the next sequence
// number, and bumps the session's updated_at. Either content or blocks is
// set, not both.
func (s *Store) AppendMessage(sessionID, role, content string, blocks []domain.ContentBlock) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contentJSON, err := encodeContent(content, blocks)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return nil, err
	}
	seq++

	msg := &domain.Message{
		ID:            domain.NewUUID(),
		SessionID:     sessionID,
		Seq:           seq,
		Role:          role,
		Content:       content,
		Blocks:        blocks,
		TokenEstimate: domain.EstimateMessageTokens(domain.TranscriptMessage{Role: role, Content: content, Blocks: blocks}),
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (id, session_id, seq, role, content_json, created_at, token_estimate)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, seq, role, contentJSON,
		msg.CreatedAt.Format(time.RFC3339), msg.TokenEstimate); err != nil {
		return nil, wrapWriteErr(err)
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, utcNow(), sessionID); err != nil {
		return nil, wrapWriteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapWriteErr(err)
	}
	return msg, nil
}

// LoadMessages returns all messages for a session in sequence order.
func (s *Store) LoadMessages(sessionID string) ([]domain.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, seq, role, content_json, created_at, token_estimate
		   FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var contentJSON, createdStr string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &contentJSON, &createdStr, &m.TokenEstimate); err != nil {
			return nil, err
		}
		m.Content, m.Blocks = decodeContent(contentJSON)
		m.CreatedAt = parseTime(createdStr)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of messages in a session.
func (s *Store) MessageCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Tool calls
// ---------------------------------------------------------------------------

// RecordToolCall persists one invoked tool use after it returned.
func (s *Store) RecordToolCall(rec domain.ToolCallRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = domain.NewUUID()
	}
	if rec.InputJSON == "" {
		rec.InputJSON = "{}"
	}
	isError := 0
	if rec.IsError {
		isError = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO tool_calls (id, session_id, message_id, tool_name, input_json, result_text, is_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.MessageID, rec.ToolName, rec.InputJSON, rec.ResultText, isError, utcNow())
	if err != nil {
		return "", wrapWriteErr(err)
	}
	return rec.ID, nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// InsertEvents writes a batch of events in one transaction, preserving order.
func (s *Store) InsertEvents(events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO events (id, session_id, type, payload_json, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		id := ev.ID
		if id == "" {
			id = domain.NewUUID()
		}
		payload := "{}"
		if ev.Payload != nil {
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				return fmt.Errorf("marshal event payload: %w", err)
			}
			payload = string(data)
		}
		created := utcNow()
		if !ev.CreatedAt.IsZero() {
			created = ev.CreatedAt.UTC().Truncate(time.Second).Format(time.RFC3339)
		}
		if _, err := stmt.Exec(id, ev.SessionID, ev.Type, payload, created); err != nil {
			return wrapWriteErr(err)
		}
	}
	return wrapWriteErr(tx.Commit())
}

// ListEvents returns the most recent events for a session, oldest first.
func (s *Store) ListEvents(sessionID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, COALESCE(session_id,''), type, payload_json, created_at
		   FROM (SELECT *, rowid AS rid FROM events WHERE session_id = ? ORDER BY rowid DESC LIMIT ?)
		  ORDER BY rid ASC`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload, createdStr string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Type, &payload, &createdStr); err != nil {
			return nil, err
		}
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &ev.Payload)
		}
		ev.CreatedAt = parseTime(createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events of the given type, across
// all sessions when sessionID is empty.
func (s *Store) CountEvents(sessionID, eventType string) (int, error) {
	var n int
	var err error
	if sessionID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE type = ?`, eventType).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = ? AND type = ?`, sessionID, eventType).Scan(&n)
	}
	return n, err
}
