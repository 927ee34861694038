package store

import (
	"time"
)

// PruneMemory applies the retention policy: sessions idle beyond
// retentionDays are deleted, each session keeps at most
// maxMessagesPerSession newest messages, and only the maxSessions most
// recently updated sessions survive. Deleting a session cascades to its
// messages, tool calls and checkpoints.
func (s *Store) PruneMemory(maxSessions, maxMessagesPerSession, retentionDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if retentionDays < 1 {
		retentionDays = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Truncate(time.Second).Format(time.RFC3339)
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff); err != nil {
		return wrapWriteErr(err)
	}

	if maxMessagesPerSession > 0 {
		if _, err := s.db.Exec(
			`DELETE FROM messages WHERE id IN (
				SELECT m.id FROM messages m
				WHERE (SELECT COUNT(*) FROM messages newer
				        WHERE newer.session_id = m.session_id AND newer.seq > m.seq) >= ?
			)`, maxMessagesPerSession); err != nil {
			return wrapWriteErr(err)
		}
	}

	if maxSessions > 0 {
		if _, err := s.db.Exec(
			`DELETE FROM sessions WHERE id IN (
				SELECT id FROM sessions ORDER BY updated_at DESC LIMIT -1 OFFSET ?
			)`, maxSessions); err != nil {
			return wrapWriteErr(err)
		}
	}
	return nil
}
