package domain

import (
	"strings"
	"time"
)

// ContentBlock represents a structured content block in a message. The
// block types mirror the provider wire shape: "text", "tool_use" and
// "tool_result".
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// NewTextBlock returns a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// NewToolUseBlock returns a tool_use content block.
func NewToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

// NewToolResultBlock returns a tool_result content block.
func NewToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Content: content, IsError: isError}
}

// TranscriptMessage is a message with a role and either plain string
// content or structured content blocks.
type TranscriptMessage struct {
	Role    string
	Content string
	Blocks  []ContentBlock
}

// HasBlocks reports whether the message has structured content blocks.
func (m TranscriptMessage) HasBlocks() bool {
	return len(m.Blocks) > 0
}

// TextContent extracts the plain text content from a message.
func (m TranscriptMessage) TextContent() string {
	if !m.HasBlocks() {
		return m.Content
	}
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks of the message, in order.
func (m TranscriptMessage) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}

// Session holds metadata about a conversation session.
type Session struct {
	ID              string         `json:"id"`
	ParentSessionID string         `json:"parent_session_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Status          string         `json:"status"`
	Model           string         `json:"model"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Title returns the human title stored in the session metadata.
func (s Session) Title() string {
	if s.Metadata == nil {
		return ""
	}
	if t, ok := s.Metadata["title"].(string); ok {
		return t
	}
	return ""
}

// Message is a persisted transcript message.
type Message struct {
	ID            string
	SessionID     string
	Seq           int
	Role          string
	Content       string
	Blocks        []ContentBlock
	TokenEstimate int
	CreatedAt     time.Time
}

// Transcript converts the stored message to its transcript form.
func (m Message) Transcript() TranscriptMessage {
	return TranscriptMessage{Role: m.Role, Content: m.Content, Blocks: m.Blocks}
}

// CheckpointScope describes what a checkpoint covers.
type CheckpointScope struct {
	ToolNames   []string `json:"tool_names"`
	UserPreview string   `json:"user_preview"`
}

// Checkpoint marks the pre-mutation state of a single assistant turn.
type Checkpoint struct {
	ID            string
	SessionID     string
	UserMessageID string
	CreatedAt     time.Time
	Scope         CheckpointScope
}

// CheckpointFile is one tracked path within a checkpoint.
type CheckpointFile struct {
	CheckpointID  string
	Path          string
	ExistedBefore bool
	BackupBlob    []byte
}

// RewindOutcome reports the result of restoring one tracked file.
type RewindOutcome struct {
	Path   string `json:"path"`
	Status string `json:"status"` // restored, removed, skipped, failed
	Detail string `json:"detail"`
}

// ToolCallRecord is a persisted record of one invoked tool use.
type ToolCallRecord struct {
	ID         string
	SessionID  string
	MessageID  string
	ToolName   string
	InputJSON  string
	ResultText string
	IsError    bool
	CreatedAt  time.Time
}

// Event is one observability record.
type Event struct {
	ID        string
	SessionID string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// SessionSummary aggregates counts and previews for one session.
type SessionSummary struct {
	ID                   string
	Title                string
	MessageCount         int
	UserMessages         int
	AssistantMessages    int
	CheckpointCount      int
	LastUserPreview      string
	LastAssistantPreview string
	UpdatedAt            time.Time
}
