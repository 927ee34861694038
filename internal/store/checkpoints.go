package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voxlabs/voxd/internal/domain"
)

// InsertCheckpoint writes a checkpoint row and returns its id.
func (s *Store) InsertCheckpoint(sessionID, userMessageID string, scope domain.CheckpointScope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return "", fmt.Errorf("marshal scope: %w", err)
	}
	id := domain.NewUUID()
	_, err = s.db.Exec(
		`INSERT INTO checkpoints (id, session_id, user_message_id, created_at, scope_json)
		 VALUES (?, ?, ?, ?, ?)`,
		id, sessionID, userMessageID, utcNow(), string(scopeJSON))
	if err != nil {
		return "", wrapWriteErr(err)
	}
	return id, nil
}

// GetCheckpoint retrieves a checkpoint by id.
func (s *Store) GetCheckpoint(id string) (*domain.Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, COALESCE(user_message_id,''), created_at, scope_json
		   FROM checkpoints WHERE id = ?`, id)

	var cp domain.Checkpoint
	var createdStr, scopeJSON string
	if err := row.Scan(&cp.ID, &cp.SessionID, &cp.UserMessageID, &createdStr, &scopeJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cp.CreatedAt = parseTime(createdStr)
	_ = json.Unmarshal([]byte(scopeJSON), &cp.Scope)
	return &cp, nil
}

// ListCheckpoints returns the most recent checkpoints for a session, newest
// first.
func (s *Store) ListCheckpoints(sessionID string, limit int) ([]domain.Checkpoint, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, COALESCE(user_message_id,''), created_at, scope_json
		   FROM checkpoints WHERE session_id = ?
		  ORDER BY created_at DESC, rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		var createdStr, scopeJSON string
		if err := rows.Scan(&cp.ID, &cp.SessionID, &cp.UserMessageID, &createdStr, &scopeJSON); err != nil {
			return nil, err
		}
		cp.CreatedAt = parseTime(createdStr)
		_ = json.Unmarshal([]byte(scopeJSON), &cp.Scope)
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// HasCheckpointFile reports whether a path is already tracked by a
// checkpoint (first-mutation wins).
func (s *Store) HasCheckpointFile(checkpointID, path string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checkpoint_files WHERE checkpoint_id = ? AND path = ?`,
		checkpointID, path).Scan(&n)
	return n > 0, err
}

// InsertCheckpointFile records the pre-mutation state of one path.
func (s *Store) InsertCheckpointFile(cf domain.CheckpointFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := 0
	if cf.ExistedBefore {
		existed = 1
	}
	// Zero-length backups must land as a real blob, not NULL: the driver
	// binds an empty slice as NULL, and rewind reads NULL as "no backup".
	hasBackup := 0
	if cf.ExistedBefore && cf.BackupBlob != nil {
		hasBackup = 1
	}
	var blob any
	if cf.ExistedBefore && len(cf.BackupBlob) > 0 {
		blob = cf.BackupBlob
	}
	_, err := s.db.Exec(
		`INSERT INTO checkpoint_files (checkpoint_id, path, existed_before, backup_blob)
		 VALUES (?, ?, ?, CASE WHEN ? THEN COALESCE(?, zeroblob(0)) ELSE NULL END)`,
		cf.CheckpointID, cf.Path, existed, hasBackup, blob)
	return wrapWriteErr(err)
}

// CheckpointFiles returns all tracked files of a checkpoint in path order.
func (s *Store) CheckpointFiles(checkpointID string) ([]domain.CheckpointFile, error) {
	rows, err := s.db.Query(
		`SELECT checkpoint_id, path, existed_before, backup_blob, backup_blob IS NULL
		   FROM checkpoint_files WHERE checkpoint_id = ? ORDER BY path`, checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.CheckpointFile
	for rows.Next() {
		var cf domain.CheckpointFile
		var existed, blobNull int
		var blob []byte
		if err := rows.Scan(&cf.CheckpointID, &cf.Path, &existed, &blob, &blobNull); err != nil {
			return nil, err
		}
		cf.ExistedBefore = existed != 0
		cf.BackupBlob = blob
		// A zero-length blob scans as a nil slice; only a SQL NULL marks a
		// genuinely absent backup.
		if blobNull == 0 && cf.BackupBlob == nil {
			cf.BackupBlob = []byte{}
		}
		files = append(files, cf)
	}
	return files, rows.Err()
}

// LatestCheckpointAfter returns the most recent checkpoint created at or
// after the given time for a session, or ErrNotFound.
func (s *Store) LatestCheckpointAfter(sessionID string, after time.Time) (*domain.Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, COALESCE(user_message_id,''), created_at, scope_json
		   FROM checkpoints WHERE session_id = ? AND created_at >= ?
		  ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		sessionID, after.UTC().Format(time.RFC3339))

	var cp domain.Checkpoint
	var createdStr, scopeJSON string
	if err := row.Scan(&cp.ID, &cp.SessionID, &cp.UserMessageID, &createdStr, &scopeJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cp.CreatedAt = parseTime(createdStr)
	_ = json.Unmarshal([]byte(scopeJSON), &cp.Scope)
	return &cp, nil
}
