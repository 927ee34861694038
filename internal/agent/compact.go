package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxlabs/voxd/internal/domain"
)

// Strategy decides whether and how to shrink a transcript between tool
// batches. Implementations must fail open: on any internal error they
// return the input unchanged.
type Strategy interface {
	MaybeCompact(ctx context.Context, msgs []domain.TranscriptMessage) []domain.TranscriptMessage
}

// NoneStrategy leaves the transcript untouched.
type NoneStrategy struct{}

func (NoneStrategy) MaybeCompact(ctx context.Context, msgs []domain.TranscriptMessage) []domain.TranscriptMessage {
	return msgs
}

// summarizer is the provider slice compaction needs.
type summarizer interface {
	CreateMessage(ctx context.Context, model string, maxTokens int, temperature float64, messages []domain.TranscriptMessage) (string, error)
}

// SummarizeStrategy replaces the middle of an oversized transcript with an
// LLM-written summary, preserving the seed user message and a protected tail.
type SummarizeStrategy struct {
	provider        summarizer
	model           string
	thresholdTokens int
	protectedTail   int
	logger          Logger
}

// NewSummarizeStrategy builds a summarizing compactor. logger may be nil.
func NewSummarizeStrategy(p summarizer, model string, thresholdTokens, protectedTail int, logger Logger) *SummarizeStrategy {
	if thresholdTokens <= 0 {
		thresholdTokens = 80_000
	}
	if protectedTail <= 0 {
		protectedTail = 6
	}
	return &SummarizeStrategy{
		provider:        p,
		model:           model,
		thresholdTokens: thresholdTokens,
		protectedTail:   protectedTail,
		logger:          logger,
	}
}

func (s *SummarizeStrategy) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

const (
	summaryMaxTokens = 4096

	// formattedInputCap bounds the plain-text transcript sent to the
	// summary call; longer inputs keep the first and last halves.
	formattedInputCap = 100_000
	formattedHalf     = 50_000
)

func (s *SummarizeStrategy) MaybeCompact(ctx context.Context, msgs []domain.TranscriptMessage) []domain.TranscriptMessage {
	estimated := domain.EstimateTokens(msgs)
	if estimated < s.thresholdTokens {
		return msgs
	}
	if len(msgs) < 2 {
		return msgs
	}

	compactStart := 1
	compactEnd := len(msgs) - s.protectedTail
	if compactEnd <= compactStart {
		return msgs
	}
	compactEnd = adjustBoundary(msgs, compactStart, compactEnd)
	if compactEnd <= compactStart {
		return msgs
	}

	compactable := msgs[compactStart:compactEnd]
	s.logf("compaction: estimated ~%d tokens, threshold %d, compacting %d messages",
		estimated, s.thresholdTokens, len(compactable))

	summary, err := s.summarize(ctx, compactable)
	if err != nil {
		s.logf("compaction failed: %v, falling back to history trimming", err)
		return msgs
	}

	result := rebuildMessages(msgs, compactEnd, summary)
	s.logf("compaction: summarized %d messages into ~%d tokens, freed ~%d estimated tokens",
		len(compactable), len(summary)/4, estimated-domain.EstimateTokens(result))
	return result
}

func (s *SummarizeStrategy) summarize(ctx context.Context, msgs []domain.TranscriptMessage) (string, error) {
	formatted := formatForSummarization(msgs)
	if len(formatted) > formattedInputCap {
		formatted = formatted[:formattedHalf] +
			"\n\n[...middle of conversation omitted for brevity...]\n\n" +
			formatted[len(formatted)-formattedHalf:]
	}
	return s.provider.CreateMessage(ctx, s.model, summaryMaxTokens, 0, []domain.TranscriptMessage{
		{Role: "user", Content: summarizePrompt + formatted},
	})
}

// adjustBoundary retreats the compaction end so an assistant message with
// tool_use blocks is never split from its tool_result message in the tail.
func adjustBoundary(msgs []domain.TranscriptMessage, start, end int) int {
	for end > start+1 {
		boundary := msgs[end-1]
		if boundary.Role != "assistant" || len(boundary.ToolUses()) == 0 {
			break
		}
		end--
	}
	return end
}

// formatForSummarization renders messages as a plain-text transcript with
// role headers and previewed tool traffic.
func formatForSummarization(msgs []domain.TranscriptMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		role := msg.Role
		if role == "" {
			role = "unknown"
		}
		if !msg.HasBlocks() {
			parts = append(parts, fmt.Sprintf("[%s]: %s", role, msg.Content))
			continue
		}
		var blockTexts []string
		for _, b := range msg.Blocks {
			switch b.Type {
			case "text":
				blockTexts = append(blockTexts, b.Text)
			case "tool_use":
				input, _ := json.Marshal(b.Input)
				args := string(input)
				if len(args) > 200 {
					args = args[:200] + "..."
				}
				blockTexts = append(blockTexts, fmt.Sprintf("[Tool call: %s(%s)]", b.Name, args))
			case "tool_result":
				blockTexts = append(blockTexts, fmt.Sprintf("[Tool result (%s)]: %s", b.ToolUseID, previewResult(b.Content)))
			}
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", role, strings.Join(blockTexts, "\n")))
	}
	return strings.Join(parts, "\n\n")
}

// previewResult keeps the leading 500 and trailing 200 characters of a
// long tool result.
func previewResult(text string) string {
	if len(text) <= 700 {
		return text
	}
	return text[:500] + "\n[...truncated...]\n" + text[len(text)-200:]
}

// rebuildMessages merges the summary into the seed message and reattaches
// the protected tail, inserting a synthetic assistant acknowledgement when
// the tail would otherwise start with a second user message.
func rebuildMessages(msgs []domain.TranscriptMessage, compactEnd int, summary string) []domain.TranscriptMessage {
	merged := msgs[0].TextContent() +
		"\n\n[CONTEXT SUMMARY]\n" + summary + "\n[END CONTEXT SUMMARY]"

	result := []domain.TranscriptMessage{{Role: "user", Content: merged}}

	tail := msgs[compactEnd:]
	if len(tail) > 0 && tail[0].Role == "user" {
		result = append(result, domain.TranscriptMessage{
			Role:   "assistant",
			Blocks: []domain.ContentBlock{domain.NewTextBlock("Understood. Continuing with the current task.")},
		})
	}
	return append(result, tail...)
}

const summarizePrompt = `Summarize the following conversation history between a user and an AI assistant.
Preserve these details precisely:
- The original user request and any specific criteria or instructions
- All decisions made and their reasoning
- Key data points, URLs, file paths, and identifiers that may be needed later
- Any scores, rankings, or evaluations produced
- Current task status and next steps

Do NOT include raw tool output data (job descriptions, email bodies, etc.) —
just note what was retrieved and key findings.

Format as a concise narrative summary.

---
CONVERSATION HISTORY:

`
