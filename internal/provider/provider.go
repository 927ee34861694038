package provider

import (
	"context"

	"github.com/voxlabs/voxd/internal/domain"
)

// Stop reasons, normalised across provider variants.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Logger is the minimal logging surface the provider needs.
type Logger interface {
	Printf(format string, args ...any)
}

// ToolSpec is a provider-agnostic tool definition. Each provider converts
// these to its own wire format.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]ToolProp
	Required    []string

	// RawSchema carries a complete JSON Schema object and takes precedence
	// over Properties/Required. Tools imported from MCP servers arrive with
	// their schema already assembled.
	RawSchema map[string]any
}

// ToolProp describes a single tool input property.
type ToolProp struct {
	Type        string
	Description string
	Enum        []string
	// Items describes the element schema when Type is "array".
	Items *ToolProp
	// Properties describes nested object properties.
	Properties map[string]ToolProp
	// Required lists required fields when this prop describes an object.
	Required []string
}

// SchemaMap renders the spec as a JSON Schema object.
func (t ToolSpec) SchemaMap() map[string]any {
	if t.RawSchema != nil {
		return t.RawSchema
	}
	props := map[string]any{}
	for name, p := range t.Properties {
		props[name] = p.schema()
	}
	m := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(t.Required) > 0 {
		m["required"] = t.Required
	}
	return m
}

func (p ToolProp) schema() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Items != nil {
		m["items"] = p.Items.schema()
	}
	if len(p.Properties) > 0 {
		props := map[string]any{}
		for name, nested := range p.Properties {
			props[name] = nested.schema()
		}
		m["properties"] = props
	}
	if len(p.Required) > 0 {
		m["required"] = p.Required
	}
	return m
}

// Usage contains token accounting for a model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatRequest is one streamed model call.
type ChatRequest struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
	Messages    []domain.TranscriptMessage
	Tools       []ToolSpec
}

// ChatResponse is the fully assembled result of a streamed call.
type ChatResponse struct {
	// Message is the assistant message with its ordered content blocks.
	Message domain.TranscriptMessage
	// ToolUses lists the tool_use blocks of Message, in order.
	ToolUses   []domain.ContentBlock
	StopReason string
	Usage      Usage
}

// Provider is the model gateway the turn engine talks to.
type Provider interface {
	// StreamChat streams a model response, invoking onDelta for each text
	// chunk, and returns the assembled assistant message.
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResponse, error)

	// CreateMessage is the non-streaming endpoint, used for summarisation.
	// Returns the concatenated text content of the response.
	CreateMessage(ctx context.Context, model string, maxTokens int, temperature float64, messages []domain.TranscriptMessage) (string, error)

	// Name identifies the provider (e.g. "anthropic").
	Name() string
}
