package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxlabs/voxd/internal/domain"
	"github.com/voxlabs/voxd/internal/store"
)

// ErrPathOutsideWorkspace marks a tracked path that does not resolve under
// the configured working directory. Matched with errors.Is.
var ErrPathOutsideWorkspace = errors.New("path outside workspace")

// Emitter is the event surface the manager needs.
type Emitter interface {
	Emit(sessionID, eventType string, payload map[string]any)
}

// Logger is the minimal logging surface the manager needs.
type Logger interface {
	Printf(format string, args ...any)
}

// mutatingAllowlist names the built-in tools whose inputs are always
// tracked, regardless of what a tool advertises about itself.
var mutatingAllowlist = map[string]bool{
	"write_file":  true,
	"append_file": true,
}

// Manager snapshots file bytes before mutating tool calls so a turn's file
// writes can be undone. Backups live in the store as blobs.
type Manager struct {
	store  *store.Store
	events Emitter
	logger Logger

	enabled        bool
	writeToolsOnly bool
	workingDir     string
}

// NewManager creates a checkpoint manager rooted at workingDir, which must
// be an absolute path.
func NewManager(st *store.Store, events Emitter, logger Logger, workingDir string, enabled, writeToolsOnly bool) *Manager {
	return &Manager{
		store:          st,
		events:         events,
		logger:         logger,
		enabled:        enabled,
		writeToolsOnly: writeToolsOnly,
		workingDir:     filepath.Clean(workingDir),
	}
}

// Enabled reports whether checkpointing is active.
func (m *Manager) Enabled() bool { return m.enabled }

// Covers reports whether a tool call participates in checkpoint tracking.
// With writeToolsOnly set, only allowlisted tools participate even when the
// tool declares itself mutating.
func (m *Manager) Covers(toolName string, isMutating bool) bool {
	if !m.enabled {
		return false
	}
	if m.writeToolsOnly {
		return mutatingAllowlist[toolName]
	}
	return mutatingAllowlist[toolName] || isMutating
}

// CreateCheckpoint opens a checkpoint for a turn and emits
// checkpoint.created. Callers invoke it at most once per turn.
func (m *Manager) CreateCheckpoint(sessionID, userMessageID string, scope domain.CheckpointScope) (string, error) {
	id, err := m.store.InsertCheckpoint(sessionID, userMessageID, scope)
	if err != nil {
		return "", err
	}
	m.emit(sessionID, "checkpoint.created", map[string]any{
		"checkpoint_id":   id,
		"user_message_id": userMessageID,
		"tools":           scope.ToolNames,
	})
	return id, nil
}

// MaybeTrackToolInput records the pre-mutation state of the path named by a
// tool input, if any. Inputs without a path are a no-op, as is a path this
// checkpoint already tracks (first mutation wins). Errors are reported to
// the caller, who logs and emits checkpoint.file_untracked but lets the
// tool call proceed.
func (m *Manager) MaybeTrackToolInput(checkpointID string, input map[string]any) error {
	raw, _ := input["path"].(string)
	if raw == "" {
		return nil
	}

	cp, err := m.store.GetCheckpoint(checkpointID)
	if err != nil {
		return err
	}

	path, err := m.resolvePath(raw)
	if err != nil {
		return err
	}

	tracked, err := m.store.HasCheckpointFile(checkpointID, path)
	if err != nil {
		return err
	}
	if tracked {
		return nil
	}

	cf := domain.CheckpointFile{CheckpointID: checkpointID, Path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cf.ExistedBefore = true
		cf.BackupBlob = data
	case os.IsNotExist(err):
		// Tracked so rewind knows to delete whatever the tool creates.
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := m.store.InsertCheckpointFile(cf); err != nil {
		if errors.Is(err, store.ErrIntegrityViolation) {
			// Lost a race with another tracker for the same path.
			return nil
		}
		return err
	}
	m.emit(cp.SessionID, "checkpoint.file_tracked", map[string]any{
		"checkpoint_id":  checkpointID,
		"path":           path,
		"existed_before": cf.ExistedBefore,
	})
	return nil
}

// ReportUntracked surfaces a tracking failure as an event without blocking
// the tool call.
func (m *Manager) ReportUntracked(sessionID, checkpointID, toolName string, cause error) {
	m.logf("checkpoint tracking failed for %s: %v", toolName, cause)
	m.emit(sessionID, "checkpoint.file_untracked", map[string]any{
		"checkpoint_id": checkpointID,
		"tool":          toolName,
		"error":         cause.Error(),
	})
}

// RewindFiles restores every file tracked by a checkpoint to its
// pre-checkpoint state, in path order. Per-file failures are captured in
// the outcome list; the remaining files still rewind. Only an unknown
// checkpoint id fails the operation.
func (m *Manager) RewindFiles(checkpointID string) (string, []domain.RewindOutcome, error) {
	cp, err := m.store.GetCheckpoint(checkpointID)
	if err != nil {
		return "", nil, err
	}
	files, err := m.store.CheckpointFiles(checkpointID)
	if err != nil {
		return "", nil, err
	}

	m.emit(cp.SessionID, "rewind.started", map[string]any{
		"checkpoint_id": checkpointID,
		"files":         len(files),
	})

	outcomes := make([]domain.RewindOutcome, 0, len(files))
	for _, cf := range files {
		outcome := m.rewindFile(cf)
		outcomes = append(outcomes, outcome)
		m.emit(cp.SessionID, "rewind.file_restored", map[string]any{
			"checkpoint_id": checkpointID,
			"path":          outcome.Path,
			"status":        outcome.Status,
		})
	}

	m.emit(cp.SessionID, "rewind.completed", map[string]any{
		"checkpoint_id": checkpointID,
		"outcomes":      len(outcomes),
	})
	return cp.SessionID, outcomes, nil
}

func (m *Manager) rewindFile(cf domain.CheckpointFile) domain.RewindOutcome {
	outcome := domain.RewindOutcome{Path: cf.Path}

	if cf.ExistedBefore {
		if cf.BackupBlob == nil {
			outcome.Status = "failed"
			outcome.Detail = "missing backup blob"
			return outcome
		}
		if err := os.MkdirAll(filepath.Dir(cf.Path), 0o755); err != nil {
			outcome.Status = "failed"
			outcome.Detail = err.Error()
			return outcome
		}
		if err := os.WriteFile(cf.Path, cf.BackupBlob, 0o644); err != nil {
			outcome.Status = "failed"
			outcome.Detail = err.Error()
			return outcome
		}
		outcome.Status = "restored"
		return outcome
	}

	// The path did not exist before the checkpoint: delete what the turn
	// created, or skip if nothing is there.
	if _, err := os.Lstat(cf.Path); err != nil {
		if os.IsNotExist(err) {
			outcome.Status = "skipped"
			return outcome
		}
		outcome.Status = "failed"
		outcome.Detail = err.Error()
		return outcome
	}
	if err := os.Remove(cf.Path); err != nil {
		outcome.Status = "failed"
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.Status = "removed"
	return outcome
}

// ListCheckpoints returns recent checkpoints for a session, newest first.
func (m *Manager) ListCheckpoints(sessionID string, limit int) ([]domain.Checkpoint, error) {
	return m.store.ListCheckpoints(sessionID, limit)
}

// resolvePath canonicalises a tool-supplied path against the working
// directory and rejects anything that escapes it. Symlinks are followed
// before the containment check, so a link inside the workspace cannot smuggle
// a target outside it.
func (m *Manager) resolvePath(raw string) (string, error) {
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.workingDir, path)
	}
	resolved, err := resolveExisting(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", raw, err)
	}

	root := m.workingDir
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideWorkspace, raw)
	}
	return resolved, nil
}

// resolveExisting follows symlinks in the longest existing prefix of path
// and rejoins the not-yet-created remainder.
func resolveExisting(path string) (string, error) {
	var tail []string
	p := path
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Clean(filepath.Join(append([]string{resolved}, tail...)...)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		tail = append([]string{filepath.Base(p)}, tail...)
		p = parent
	}
}

func (m *Manager) emit(sessionID, eventType string, payload map[string]any) {
	if m.events != nil {
		m.events.Emit(sessionID, eventType, payload)
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
