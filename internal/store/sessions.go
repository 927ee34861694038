package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voxlabs/voxd/internal/domain"
)

// defaultTitle derives a human title for a session created without one.
func defaultTitle(now time.Time) string {
	return "Session " + now.UTC().Format("2006-01-02 15:04")
}

// CreateSession inserts a new session. An empty id generates one; the title
// comes from metadata or is derived from the creation time.
func (s *Store) CreateSession(id, parentID, model string, metadata map[string]any) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Second)
	if id == "" {
		id = domain.NewUUID()
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if t, ok := metadata["title"].(string); !ok || t == "" {
		metadata["title"] = defaultTitle(now)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, parent_session_id, created_at, updated_at, status, model, metadata_json)
		 VALUES (?, ?, ?, ?, 'active', ?, ?)`,
		id, parent, now.Format(time.RFC3339), now.Format(time.RFC3339), model, string(metaJSON))
	if err != nil {
		return nil, wrapWriteErr(err)
	}

	return &domain.Session{
		ID:              id,
		ParentSessionID: parentID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          "active",
		Model:           model,
		Metadata:        metadata,
	}, nil
}

const sessionColumns = `id, COALESCE(parent_session_id,''), created_at, updated_at, status, model, metadata_json`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	var createdStr, updatedStr, metaJSON string
	if err := row.Scan(&sess.ID, &sess.ParentSessionID, &createdStr, &updatedStr, &sess.Status, &sess.Model, &metaJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.CreatedAt = parseTime(createdStr)
	sess.UpdatedAt = parseTime(updatedStr)
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &sess.Metadata)
	}
	return &sess, nil
}

// GetSession retrieves a session by its id.
func (s *Store) GetSession(id string) (*domain.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns the most recently updated sessions, up to limit.
func (s *Store) ListSessions(limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// LoadOrCreate returns the session with the given id, creating it if absent.
func (s *Store) LoadOrCreate(id, model string) (*domain.Session, error) {
	sess, err := s.GetSession(id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.CreateSession(id, "", model, nil)
}

// SetSessionTitle updates the title stored in the session metadata.
func (s *Store) SetSessionTitle(id, title string) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	sess.Metadata["title"] = title
	metaJSON, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE sessions SET metadata_json = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), utcNow(), id)
	if err != nil {
		return wrapWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and its messages, tool calls, checkpoints
// and checkpoint files (via ON DELETE CASCADE).
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return wrapWriteErr(err)
}

// ForkSession creates a new session pointing at sourceID and copies all
// messages verbatim, preserving seq, role, content, token estimates and
// created_at. Returns the new session id.
func (s *Store) ForkSession(sourceID, newID string) (string, error) {
	source, err := s.GetSession(sourceID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Truncate(time.Second)
	title := fmt.Sprintf("Fork of %s (%s)", source.Title(), now.Format("2006-01-02 15:04"))
	fork, err := s.CreateSession(newID, sourceID, source.Model, map[string]any{"title": title})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO messages (id, session_id, seq, role, content_json, created_at, token_estimate)
		 SELECT lower(hex(randomblob(16))), ?, seq, role, content_json, created_at, token_estimate
		   FROM messages WHERE session_id = ? ORDER BY seq`,
		fork.ID, sourceID); err != nil {
		return "", wrapWriteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return "", wrapWriteErr(err)
	}
	return fork.ID, nil
}

// ResolveSessionIdentifier resolves an identifier to a session by exact id
// first, then by case-insensitive title. Returns ErrNotFound when nothing
// matches and ErrAmbiguous when more than one session shares the title.
func (s *Store) ResolveSessionIdentifier(identifier string) (*domain.Session, error) {
	if sess, err := s.GetSession(identifier); err == nil {
		return sess, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sessions, err := s.ListSessions(1000)
	if err != nil {
		return nil, err
	}
	var matches []domain.Session
	want := strings.ToLower(strings.TrimSpace(identifier))
	for _, sess := range sessions {
		if strings.ToLower(sess.Title()) == want {
			matches = append(matches, sess)
		}
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		match := matches[0]
		return &match, nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d sessions", ErrAmbiguous, identifier, len(matches))
	}
}

// BuildSessionSummary aggregates counts and short previews for a session.
func (s *Store) BuildSessionSummary(id string) (*domain.SessionSummary, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	summary := &domain.SessionSummary{
		ID:        sess.ID,
		Title:     sess.Title(),
		UpdatedAt: sess.UpdatedAt,
	}

	msgs, err := s.LoadMessages(id)
	if err != nil {
		return nil, err
	}
	summary.MessageCount = len(msgs)
	for _, m := range msgs {
		tm := m.Transcript()
		switch m.Role {
		case "user":
			summary.UserMessages++
			if text := tm.TextContent(); text != "" {
				summary.LastUserPreview = previewText(text, 140)
			}
		case "assistant":
			summary.AssistantMessages++
			if text := tm.TextContent(); text != "" {
				summary.LastAssistantPreview = previewText(text, 140)
			}
		}
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checkpoints WHERE session_id = ?`, id).Scan(&summary.CheckpointCount); err != nil {
		return nil, err
	}
	return summary, nil
}

func previewText(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
