package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/voxlabs/voxd/internal/domain"
)

// MessagesClient is the slice of the Anthropic SDK the provider uses.
// Narrowed so tests can substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	messages MessagesClient
	logger   Logger
}

// NewAnthropic builds a provider from an API key.
func NewAnthropic(apiKey string, logger Logger) *Anthropic {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{messages: &client.Messages, logger: logger}
}

// NewAnthropicFromClient wires an explicit messages client, for tests.
func NewAnthropicFromClient(messages MessagesClient, logger Logger) *Anthropic {
	return &Anthropic{messages: messages, logger: logger}
}

func (a *Anthropic) Name() string { return "anthropic" }

// StreamChat streams one model response and assembles it into an assistant
// message. Text deltas reach onDelta in arrival order.
func (a *Anthropic) StreamChat(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	var resp *ChatResponse
	err = withRetry(ctx, a.logger, "stream_chat", func() error {
		stream := a.messages.NewStreaming(ctx, params)
		r, serr := consumeStream(stream, onDelta)
		if serr != nil {
			return serr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stream chat: %w", err)
	}
	return resp, nil
}

// CreateMessage performs a plain (non-streaming) call and returns the
// concatenated text content.
func (a *Anthropic) CreateMessage(ctx context.Context, model string, maxTokens int, temperature float64, messages []domain.TranscriptMessage) (string, error) {
	params, err := buildParams(ChatRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    messages,
	})
	if err != nil {
		return "", err
	}

	var msg *anthropic.Message
	err = withRetry(ctx, a.logger, "create_message", func() error {
		m, cerr := a.messages.New(ctx, params)
		if cerr != nil {
			return cerr
		}
		msg = m
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    convertMessages(req.Messages),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func convertMessages(history []domain.TranscriptMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		var blocks []anthropic.ContentBlockParamUnion
		if m.HasBlocks() {
			for _, b := range m.Blocks {
				switch b.Type {
				case "text":
					if b.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(b.Text))
					}
				case "tool_use":
					input := b.Input
					if input == nil {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
				case "tool_result":
					blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
				}
			}
		} else if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func convertTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{ExtraFields: t.SchemaMap()}
		u := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool == nil {
			return nil, fmt.Errorf("tool %s: invalid definition", t.Name)
		}
		if t.Description != "" {
			u.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

// consumeStream folds stream events into ordered content blocks. Text and
// partial tool-input JSON accumulate per block index until the block stops.
func consumeStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], onDelta func(string)) (*ChatResponse, error) {
	defer stream.Close()

	var (
		blocks     []domain.ContentBlock
		blockIndex = map[int]int{}
		texts      = map[int]*strings.Builder{}
		toolJSON   = map[int]*strings.Builder{}
		stop       string
		usage      Usage
	)

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = int(ev.Message.Usage.InputTokens)

		case anthropic.ContentBlockStartEvent:
			idx := int(ev.Index)
			switch blk := ev.ContentBlock.AsAny().(type) {
			case anthropic.TextBlock:
				blockIndex[idx] = len(blocks)
				blocks = append(blocks, domain.NewTextBlock(""))
				sb := &strings.Builder{}
				sb.WriteString(blk.Text)
				texts[idx] = sb
			case anthropic.ToolUseBlock:
				blockIndex[idx] = len(blocks)
				blocks = append(blocks, domain.NewToolUseBlock(blk.ID, blk.Name, nil))
				toolJSON[idx] = &strings.Builder{}
			}

		case anthropic.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if sb, ok := texts[idx]; ok {
					sb.WriteString(d.Text)
					if onDelta != nil {
						onDelta(d.Text)
					}
				}
			case anthropic.InputJSONDelta:
				if sb, ok := toolJSON[idx]; ok {
					sb.WriteString(d.PartialJSON)
				}
			}

		case anthropic.ContentBlockStopEvent:
			idx := int(ev.Index)
			pos, ok := blockIndex[idx]
			if !ok {
				continue
			}
			if sb, ok := texts[idx]; ok {
				blocks[pos].Text = sb.String()
			}
			if sb, ok := toolJSON[idx]; ok {
				input := map[string]any{}
				if raw := strings.TrimSpace(sb.String()); raw != "" {
					if err := json.Unmarshal([]byte(raw), &input); err != nil {
						return nil, fmt.Errorf("decode input for tool %s: %w", blocks[pos].Name, err)
					}
				}
				blocks[pos].Input = input
			}

		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				stop = normalizeStopReason(string(ev.Delta.StopReason))
			}
			if ev.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(ev.Usage.OutputTokens)
			}

		case anthropic.MessageStopEvent:
			// Terminal event; stream.Next will return false.
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	var toolUses []domain.ContentBlock
	for _, b := range blocks {
		if b.Type == "tool_use" {
			toolUses = append(toolUses, b)
		}
	}
	if stop == "" {
		if len(toolUses) > 0 {
			stop = StopToolUse
		} else {
			stop = StopEndTurn
		}
	}

	return &ChatResponse{
		Message:    domain.TranscriptMessage{Role: "assistant", Blocks: blocks},
		ToolUses:   toolUses,
		StopReason: stop,
		Usage:      usage,
	}, nil
}

// normalizeStopReason folds provider stop reasons onto the three the turn
// engine understands.
func normalizeStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
