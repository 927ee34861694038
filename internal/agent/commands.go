package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voxlabs/voxd/internal/domain"
	"github.com/voxlabs/voxd/internal/store"
	"github.com/voxlabs/voxd/internal/voice"
)

const shortIDLen = 8

func shortID(value string) string {
	if len(value) <= shortIDLen {
		return value
	}
	return value[:shortIDLen]
}

// handleCommand dispatches one slash command. Callers hold the run lock.
func (a *Agent) handleCommand(ctx context.Context, trimmed string) {
	cmd := strings.ToLower(strings.Fields(trimmed)[0])
	switch cmd {
	case "/help":
		a.printHelp()
	case "/session":
		a.handleSessionCommand(trimmed)
	case "/rewind":
		a.handleRewindCommand(trimmed)
	case "/checkpoint":
		a.handleCheckpointCommand(trimmed)
	case "/voice":
		a.handleVoiceCommand(ctx, trimmed)
	default:
		a.printf("Unknown local command: %s", trimmed)
	}
}

func (a *Agent) printHelp() {
	a.printf("Available commands:")
	for _, group := range domain.CommandGroups {
		if !a.memoryEnabled() && (group.Key == "session" || group.Key == "checkpoint") {
			continue
		}
		for _, def := range domain.CommandDefs {
			if def.Group != group.Key {
				continue
			}
			a.printf("- %s", def.Usage)
		}
	}
	if !a.memoryEnabled() {
		a.printf("Memory commands are available when MemoryEnabled=true (see config.json).")
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func (a *Agent) handleSessionCommand(command string) {
	if !a.memoryEnabled() {
		a.printf("Session commands require MemoryEnabled=true")
		return
	}

	parts := strings.Fields(command)
	if len(parts) == 1 {
		a.printCurrentSession()
		return
	}

	switch parts[1] {
	case "list":
		limit := 20
		if len(parts) >= 3 {
			n, err := strconv.Atoi(parts[2])
			if err != nil {
				a.printf("Usage: /session list [limit]")
				return
			}
			limit = n
		}
		a.printSessionList(limit)
	case "new":
		a.startNewSession(afterKeyword(command, "new"))
	case "name":
		title := afterKeyword(command, "name")
		if a.sessionID == "" {
			a.printf("No active session to name")
			return
		}
		if title == "" {
			a.printf("Usage: /session name <title>")
			return
		}
		if err := a.store.SetSessionTitle(a.sessionID, title); err != nil {
			a.printf("Session rename failed: %v", err)
			return
		}
		a.emit("session.renamed", map[string]any{"title": title})
		a.printf("Session named: %s", title)
	case "resume":
		target := afterKeyword(command, "resume")
		if target == "" {
			a.printf("Usage: /session resume <id-or-name>")
			return
		}
		a.resumeSession(target)
	case "fork":
		a.forkSession()
	default:
		a.printf("Usage: /session | /session new [title] | /session list [limit] | /session name <title> | /session resume <id-or-name> | /session fork")
	}
}

// afterKeyword returns everything after the first occurrence of a subcommand
// keyword, trimmed. Titles and identifiers may contain spaces.
func afterKeyword(command, keyword string) string {
	_, rest, ok := strings.Cut(command, keyword)
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

func (a *Agent) printCurrentSession() {
	if a.sessionID == "" {
		a.printf("Current session: none")
		return
	}
	title := a.sessionID
	if sess, err := a.store.GetSession(a.sessionID); err == nil && sess.Title() != "" {
		title = sess.Title()
	}
	a.printf("Current session: %s [%s] (id=%s)", title, shortID(a.sessionID), a.sessionID)
}

func (a *Agent) printSessionList(limit int) {
	sessions, err := a.store.ListSessions(limit)
	if err != nil {
		a.printf("Session list failed: %v", err)
		return
	}
	if len(sessions) == 0 {
		a.printf("No sessions found.")
		return
	}
	a.printf("Recent sessions:")
	for _, sess := range sessions {
		a.printf("%s", formatSessionListEntry(sess, a.sessionID))
	}
}

func formatSessionListEntry(sess domain.Session, activeID string) string {
	marker := " "
	if sess.ID == activeID {
		marker = "*"
	}
	parent := sess.ParentSessionID
	if parent == "" {
		parent = "-"
	}
	title := sess.Title()
	if title == "" {
		title = sess.ID
	}
	return fmt.Sprintf("%s %s [%s] (id=%s) (status=%s, created=%s, updated=%s, parent=%s)",
		marker, title, shortID(sess.ID), sess.ID, sess.Status,
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339), parent)
}

func (a *Agent) startNewSession(title string) {
	metadata := map[string]any{}
	if title != "" {
		metadata["title"] = title
	}
	sess, err := a.store.CreateSession("", "", a.cfg.Model, metadata)
	if err != nil {
		a.printf("Session creation failed: %v", err)
		return
	}
	a.setSessionID(sess.ID)
	if err := a.loadSessionMessages(sess.ID); err != nil {
		a.logf("load new session: %v", err)
		a.messages = nil
	}
	a.emit("session.started", map[string]any{"model": a.cfg.Model})
	a.printf("Started new session: %s [%s] (id=%s)", sess.Title(), shortID(sess.ID), sess.ID)
}

func (a *Agent) resumeSession(target string) {
	sess, err := a.store.ResolveSessionIdentifier(target)
	if err != nil {
		if errors.Is(err, store.ErrAmbiguous) {
			a.printf("%v", err)
			return
		}
		a.printf("Session not found: %s", target)
		return
	}
	if err := a.loadSessionMessages(sess.ID); err != nil {
		a.printf("Session resume failed: %v", err)
		return
	}
	a.setSessionID(sess.ID)

	summary, err := a.store.BuildSessionSummary(sess.ID)
	if err != nil {
		a.printf("Resumed session %s [%s] (id=%s, %d messages)",
			sess.Title(), shortID(sess.ID), sess.ID, len(a.messages))
		return
	}
	a.printf("Resumed session %s [%s] (id=%s, %d messages)",
		summary.Title, shortID(sess.ID), sess.ID, len(a.messages))
	a.printf("Session summary:")
	a.printf("- Created: %s | Updated: %s",
		sess.CreatedAt.Format(time.RFC3339), summary.UpdatedAt.Format(time.RFC3339))
	a.printf("- Messages: %d (user=%d, assistant=%d)",
		summary.MessageCount, summary.UserMessages, summary.AssistantMessages)
	a.printf("- Checkpoints: %d", summary.CheckpointCount)
	if summary.LastUserPreview != "" {
		a.printf("- Last user: %s", summary.LastUserPreview)
	}
	if summary.LastAssistantPreview != "" {
		a.printf("- Last assistant: %s", summary.LastAssistantPreview)
	}
}

func (a *Agent) forkSession() {
	if a.sessionID == "" {
		a.printf("No active session to fork")
		return
	}
	sourceID := a.sessionID
	forkID, err := a.store.ForkSession(sourceID, domain.NewUUID())
	if err != nil {
		a.printf("Session fork failed: %v", err)
		return
	}
	a.setSessionID(forkID)
	if err := a.loadSessionMessages(forkID); err != nil {
		a.logf("load forked session: %v", err)
	}
	a.printf("Forked session %s -> %s", sourceID, forkID)
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

func (a *Agent) handleRewindCommand(command string) {
	if !a.memoryEnabled() || a.checkpoints == nil {
		a.printf("Rewind requires MemoryEnabled=true")
		return
	}
	parts := strings.Fields(command)
	if len(parts) != 2 {
		a.printf("Usage: /rewind <checkpoint_id>")
		return
	}

	checkpointID := parts[1]
	_, outcomes, err := a.checkpoints.RewindFiles(checkpointID)
	if err != nil {
		a.printf("Rewind failed: %v", err)
		return
	}
	a.printf("Rewind %s results:", checkpointID)
	for _, outcome := range outcomes {
		suffix := ""
		if outcome.Detail != "" {
			suffix = fmt.Sprintf(" (%s)", outcome.Detail)
		}
		a.printf("- %s: %s%s", outcome.Path, outcome.Status, suffix)
	}
}

func (a *Agent) handleCheckpointCommand(command string) {
	if !a.memoryEnabled() || a.checkpoints == nil || a.sessionID == "" {
		a.printf("Checkpoint commands require MemoryEnabled=true")
		return
	}

	parts := strings.Fields(command)
	if len(parts) == 1 || parts[1] == "list" {
		limit := 20
		if len(parts) >= 3 {
			n, err := strconv.Atoi(parts[2])
			if err != nil {
				a.printf("Usage: /checkpoint list [limit]")
				return
			}
			limit = n
		}
		a.printCheckpointList(limit)
		return
	}

	if len(parts) == 3 && parts[1] == "rewind" {
		a.handleRewindCommand("/rewind " + parts[2])
		return
	}

	a.printf("Usage: /checkpoint list [limit] | /checkpoint rewind <checkpoint_id>")
}

func (a *Agent) printCheckpointList(limit int) {
	checkpoints, err := a.checkpoints.ListCheckpoints(a.sessionID, limit)
	if err != nil {
		a.printf("Checkpoint list failed: %v", err)
		return
	}
	if len(checkpoints) == 0 {
		a.printf("No checkpoints found for current session.")
		return
	}
	a.printf("Recent checkpoints:")
	for _, cp := range checkpoints {
		a.printf("%s", formatCheckpointListEntry(cp))
	}
}

func formatCheckpointListEntry(cp domain.Checkpoint) string {
	toolText := "n/a"
	if len(cp.Scope.ToolNames) > 0 {
		toolText = strings.Join(cp.Scope.ToolNames, ", ")
	}
	previewText := ""
	if cp.Scope.UserPreview != "" {
		previewText = fmt.Sprintf(", prompt=%q", cp.Scope.UserPreview)
	}
	return fmt.Sprintf("- [%s] (id=%s, created=%s, tools=%s%s)",
		shortID(cp.ID), cp.ID, cp.CreatedAt.Format(time.RFC3339), toolText, previewText)
}

// ---------------------------------------------------------------------------
// Voice
// ---------------------------------------------------------------------------

const voiceUsage = "Usage: /voice start [microphone|loopback] " +
	"[--mic-device-id <id>] [--mic-device-name <name>] " +
	"[--chunk-seconds <n>] [--endpointing-ms <n>] [--utterance-end-ms <n>] | " +
	"/voice status | /voice devices | /voice events [limit] | /voice stop"

func (a *Agent) handleVoiceCommand(ctx context.Context, command string) {
	parts, err := splitCommand(command)
	if err != nil {
		a.printf("Invalid command syntax")
		return
	}
	if len(parts) == 1 {
		a.printf(voiceUsage)
		return
	}

	switch strings.ToLower(parts[1]) {
	case "start":
		opts, errMsg := parseVoiceStartOptions(parts)
		if errMsg != "" {
			a.printf("%s", errMsg)
			return
		}
		msg, err := a.voice.Start(ctx, opts)
		if err != nil {
			a.printf("%v", err)
			return
		}
		a.printf("%s", msg)
	case "status":
		a.printf("%s", a.voice.Status())
	case "devices":
		out, err := a.voice.Devices(ctx)
		if err != nil {
			a.printf("%v", err)
			return
		}
		a.printf("%s", out)
	case "events":
		limit := 50
		if len(parts) >= 3 {
			n, err := strconv.Atoi(parts[2])
			if err != nil {
				a.printf("Usage: /voice events [limit]")
				return
			}
			limit = n
		}
		out, err := a.voice.Events(ctx, limit)
		if err != nil {
			a.printf("%v", err)
			return
		}
		a.printf("%s", out)
	case "stop":
		a.printf("%s", a.voice.Stop(ctx))
	default:
		a.printf(voiceUsage)
	}
}

// parseVoiceStartOptions parses "/voice start" flags. An empty error string
// means success. --mic-device-name consumes tokens until the next flag so
// unquoted device names survive.
func parseVoiceStartOptions(parts []string) (voice.StartOptions, string) {
	opts := voice.StartOptions{Source: "microphone"}
	idx := 2
	if len(parts) >= 3 && !strings.HasPrefix(parts[2], "--") {
		opts.Source = strings.ToLower(parts[2])
		idx = 3
	}

	for idx < len(parts) {
		switch parts[idx] {
		case "--mic-device-id":
			if idx+1 >= len(parts) {
				return opts, "Usage: /voice start ... --mic-device-id <id>"
			}
			opts.MicDeviceID = parts[idx+1]
			idx += 2
		case "--mic-device-name":
			j := idx + 1
			var nameTokens []string
			for j < len(parts) && !strings.HasPrefix(parts[j], "--") {
				nameTokens = append(nameTokens, parts[j])
				j++
			}
			if len(nameTokens) == 0 {
				return opts, "Usage: /voice start ... --mic-device-name <name>"
			}
			opts.MicDeviceName = strings.Trim(strings.Join(nameTokens, " "), `"'`)
			idx = j
		case "--chunk-seconds":
			n, errMsg := intFlag(parts, idx, "chunk-seconds")
			if errMsg != "" {
				return opts, errMsg
			}
			opts.ChunkSeconds = n
			idx += 2
		case "--endpointing-ms":
			n, errMsg := intFlag(parts, idx, "endpointing-ms")
			if errMsg != "" {
				return opts, errMsg
			}
			opts.EndpointingMs = n
			idx += 2
		case "--utterance-end-ms":
			n, errMsg := intFlag(parts, idx, "utterance-end-ms")
			if errMsg != "" {
				return opts, errMsg
			}
			opts.UtteranceEndMs = n
			idx += 2
		default:
			return opts, "Usage: /voice start [microphone|loopback] " +
				"[--mic-device-id <id>] [--mic-device-name <name>] " +
				"[--chunk-seconds <n>] [--endpointing-ms <n>] [--utterance-end-ms <n>]"
		}
	}
	return opts, ""
}

func intFlag(parts []string, idx int, name string) (int, string) {
	if idx+1 >= len(parts) {
		return 0, fmt.Sprintf("Usage: /voice start ... --%s <n>", name)
	}
	n, err := strconv.Atoi(parts[idx+1])
	if err != nil {
		return 0, fmt.Sprintf("%s must be an integer", name)
	}
	return n, ""
}

// splitCommand tokenises a command line, honouring single and double quotes.
func splitCommand(command string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote rune

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return tokens, nil
}
