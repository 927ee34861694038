package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/voxlabs/voxd/internal/domain"
	"github.com/voxlabs/voxd/internal/provider"
	"github.com/voxlabs/voxd/internal/tools"
)

const continuePrompt = "Your response was cut off because it exceeded the token limit. " +
	"Please continue, but be more concise. If you were writing a file, " +
	"break it into smaller sections or shorten the content."

// runTurn drives one full user turn: model calls and tool batches alternate
// until the model stops without requesting tools. Callers hold the run lock.
func (a *Agent) runTurn(ctx context.Context, userText string) error {
	a.currentUserText = userText
	a.currentCheckpointID = ""
	a.lastAssistantMessageID = ""
	a.currentUserMessageID = a.appendMessage("user", userText, nil)
	a.maybeCompact(ctx)

	maxTokensStreak := 0
	for {
		resp, err := a.provider.StreamChat(ctx, provider.ChatRequest{
			Model:       a.cfg.Model,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
			System:      a.cfg.SystemPrompt,
			Messages:    a.messages,
			Tools:       a.registry.Specs(),
		}, a.sink.Delta)
		a.sink.Done()
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}

		a.lastAssistantMessageID = a.appendMessage("assistant", resp.Message.Content, resp.Message.Blocks)

		if resp.StopReason == provider.StopMaxTokens && len(resp.ToolUses) == 0 {
			maxTokensStreak++
			if maxTokensStreak >= maxTokensRetries {
				a.printf("[Stopped: response exceeded max_tokens (%d) %d times in a row. Try increasing MaxTokens in config.json or simplifying the request.]",
					a.cfg.MaxTokens, maxTokensStreak)
				return nil
			}
			a.appendMessage("user", continuePrompt, nil)
			continue
		}
		maxTokensStreak = 0

		if len(resp.ToolUses) == 0 {
			return nil
		}

		a.ensureCheckpointForTurn(resp.ToolUses)
		results := a.executeTools(ctx, resp.ToolUses)
		a.appendMessage("user", "", results)
		a.maybeCompact(ctx)
	}
}

// executeTools runs every tool_use block of a batch concurrently and returns
// the tool_result blocks in the batch's original order.
func (a *Agent) executeTools(ctx context.Context, uses []domain.ContentBlock) []domain.ContentBlock {
	results := make([]domain.ContentBlock, len(uses))
	var wg sync.WaitGroup
	for i, use := range uses {
		wg.Add(1)
		go func(i int, use domain.ContentBlock) {
			defer wg.Done()
			results[i] = a.runTool(ctx, use)
		}(i, use)
	}
	wg.Wait()
	return results
}

// runTool executes one tool_use block. Failures never propagate: they become
// error-flagged tool_result blocks the model can react to.
func (a *Agent) runTool(ctx context.Context, use domain.ContentBlock) domain.ContentBlock {
	a.emit("tool.started", map[string]any{
		"tool_use_id": use.ID,
		"tool_name":   use.Name,
	})

	var content string
	var isError bool
	def, ok := a.registry.Find(use.Name)
	switch {
	case !ok:
		content = fmt.Sprintf("Error: unknown tool %q", use.Name)
		isError = true
	default:
		a.maybeTrackMutation(def, use)
		out, err := def.Execute(ctx, use.Input, a.toolCtx)
		if err != nil {
			content = fmt.Sprintf("Error executing tool %q: %s", use.Name, err.Error())
			isError = true
		} else {
			content = tools.TruncateResult(out, use.Name, a.cfg.MaxToolResultChars)
		}
	}

	a.recordToolCall(use, content, isError)
	a.emit("tool.completed", map[string]any{
		"tool_use_id": use.ID,
		"tool_name":   use.Name,
		"is_error":    isError,
	})
	return domain.NewToolResultBlock(use.ID, content, isError)
}

// ensureCheckpointForTurn opens at most one checkpoint per turn, and only
// when the batch contains a tool that checkpointing covers.
func (a *Agent) ensureCheckpointForTurn(uses []domain.ContentBlock) {
	if a.checkpoints == nil || !a.checkpoints.Enabled() || !a.memoryEnabled() {
		return
	}
	if a.currentCheckpointID != "" {
		return
	}

	covered := false
	names := make([]string, 0, len(uses))
	for _, use := range uses {
		names = append(names, use.Name)
		if def, ok := a.registry.Find(use.Name); ok && a.checkpoints.Covers(use.Name, def.IsMutating) {
			covered = true
		}
	}
	if !covered {
		return
	}

	id, err := a.checkpoints.CreateCheckpoint(a.sessionID, a.currentUserMessageID, domain.CheckpointScope{
		ToolNames:   names,
		UserPreview: truncateRunes(a.currentUserText, 120),
	})
	if err != nil {
		a.logf("create checkpoint: %v", err)
		return
	}
	a.currentCheckpointID = id
}

// maybeTrackMutation snapshots the target file of a covered tool call before
// it runs. Tracking failures are reported but never block the call.
func (a *Agent) maybeTrackMutation(def tools.ToolDef, use domain.ContentBlock) {
	if a.checkpoints == nil || a.currentCheckpointID == "" {
		return
	}
	if !a.checkpoints.Covers(use.Name, def.IsMutating) {
		return
	}
	if err := a.checkpoints.MaybeTrackToolInput(a.currentCheckpointID, use.Input); err != nil {
		a.checkpoints.ReportUntracked(a.sessionID, a.currentCheckpointID, use.Name, err)
	}
}

// recordToolCall persists the invocation alongside the assistant message
// that requested it.
func (a *Agent) recordToolCall(use domain.ContentBlock, content string, isError bool) {
	if !a.memoryEnabled() {
		return
	}
	inputJSON, err := json.Marshal(use.Input)
	if err != nil {
		inputJSON = []byte("{}")
	}
	if _, err := a.store.RecordToolCall(domain.ToolCallRecord{
		ID:         use.ID,
		SessionID:  a.sessionID,
		MessageID:  a.lastAssistantMessageID,
		ToolName:   use.Name,
		InputJSON:  string(inputJSON),
		ResultText: content,
		IsError:    isError,
	}); err != nil {
		a.logf("record tool call: %v", err)
	}
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
