// Package agent owns the conversation loop: it routes user input to either
// the slash-command handlers or the turn engine, holds the in-memory
// transcript, and serializes turns behind a run lock.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/voxlabs/voxd/internal/checkpoint"
	"github.com/voxlabs/voxd/internal/config"
	"github.com/voxlabs/voxd/internal/domain"
	"github.com/voxlabs/voxd/internal/provider"
	"github.com/voxlabs/voxd/internal/store"
	"github.com/voxlabs/voxd/internal/tools"
	"github.com/voxlabs/voxd/internal/voice"
)

const (
	linePrefix = "assistant> "
	userPrompt = "you> "

	// maxTokensRetries bounds consecutive continuation attempts after the
	// model hits its output token limit.
	maxTokensRetries = 3
)

// Logger is the minimal logging surface the agent needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Emitter receives observability events. *store.EventSink satisfies it.
type Emitter interface {
	Emit(sessionID, eventType string, payload map[string]any)
}

// StreamSink receives assistant text deltas as they arrive. Done marks the
// end of one streamed message.
type StreamSink interface {
	Delta(text string)
	Done()
}

// writerSink is the fallback sink: raw deltas with a prefix on the first.
type writerSink struct {
	w       io.Writer
	started bool
}

func (s *writerSink) Delta(text string) {
	if !s.started {
		fmt.Fprint(s.w, linePrefix)
		s.started = true
	}
	fmt.Fprint(s.w, text)
}

func (s *writerSink) Done() {
	if s.started {
		fmt.Fprintln(s.w)
	}
	s.started = false
}

// Options wires an Agent. Store, Events and Checkpoints may be nil when
// memory is disabled.
type Options struct {
	Config      config.Config
	Provider    provider.Provider
	Registry    *tools.Registry
	ToolContext *tools.ToolContext
	Store       *store.Store
	Events      Emitter
	Checkpoints *checkpoint.Manager
	Compactor   Strategy
	Logger      Logger
	Out         io.Writer
	Sink        StreamSink
	SessionID   string
}

// Agent runs the conversation loop for one active session at a time.
type Agent struct {
	cfg         config.Config
	provider    provider.Provider
	registry    *tools.Registry
	toolCtx     *tools.ToolContext
	store       *store.Store
	events      Emitter
	checkpoints *checkpoint.Manager
	compactor   Strategy
	voice       *voice.Runtime
	logger      Logger
	out         io.Writer
	sink        StreamSink

	// runSem serializes whole turns: typed input, slash commands and voice
	// utterances all contend for it. A channel rather than a mutex so a
	// waiter can give up when its context is cancelled (the voice consumer
	// blocks here while /voice stop waits for it to exit).
	runSem chan struct{}

	// idMu guards sessionID for readers outside the run lock; writers hold
	// both.
	idMu      sync.Mutex
	sessionID string
	messages  []domain.TranscriptMessage

	// Per-turn state, reset at the top of every turn.
	currentUserMessageID   string
	currentUserText        string
	currentCheckpointID    string
	lastAssistantMessageID string
}

// New creates an Agent and its voice runtime.
func New(opts Options) *Agent {
	a := &Agent{
		cfg:         opts.Config,
		provider:    opts.Provider,
		registry:    opts.Registry,
		toolCtx:     opts.ToolContext,
		store:       opts.Store,
		events:      opts.Events,
		checkpoints: opts.Checkpoints,
		compactor:   opts.Compactor,
		logger:      opts.Logger,
		out:         opts.Out,
		sink:        opts.Sink,
		sessionID:   opts.SessionID,
		runSem:      make(chan struct{}, 1),
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.sink == nil {
		a.sink = &writerSink{w: a.out}
	}
	if a.compactor == nil {
		a.compactor = NoneStrategy{}
	}
	a.voice = voice.NewRuntime(voice.Options{
		Registry:    a.registry,
		ToolContext: a.toolCtx,
		Config:      a.cfg.Voice,
		OnUtterance: a.processVoiceUtterance,
		Events:      a.events,
		SessionID:   a.SessionID,
		Logger:      a.logger,
	})
	return a
}

func (a *Agent) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

func (a *Agent) emit(eventType string, payload map[string]any) {
	if a.events == nil || a.sessionID == "" {
		return
	}
	a.events.Emit(a.sessionID, eventType, payload)
}

// printf writes one prefixed line of command output.
func (a *Agent) printf(format string, args ...any) {
	fmt.Fprintf(a.out, linePrefix+format+"\n", args...)
}

func (a *Agent) memoryEnabled() bool {
	return a.cfg.Memory.Enabled && a.store != nil
}

func (a *Agent) acquireRun(ctx context.Context) error {
	select {
	case a.runSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) releaseRun() {
	<-a.runSem
}

// setSessionID is called with the run lock held.
func (a *Agent) setSessionID(id string) {
	a.idMu.Lock()
	a.sessionID = id
	a.idMu.Unlock()
}

// SessionID returns the active session id. Safe to call from any goroutine.
func (a *Agent) SessionID() string {
	a.idMu.Lock()
	defer a.idMu.Unlock()
	return a.sessionID
}

// InitializeSession loads the persisted transcript for the active session.
func (a *Agent) InitializeSession() error {
	if !a.memoryEnabled() || a.sessionID == "" {
		return nil
	}
	if err := a.loadSessionMessages(a.sessionID); err != nil {
		return err
	}
	a.emit("session.started", map[string]any{"model": a.cfg.Model})
	a.logf("loaded %d persisted messages for session %s", len(a.messages), a.sessionID)
	return nil
}

// loadSessionMessages replaces the in-memory transcript from the store.
func (a *Agent) loadSessionMessages(sessionID string) error {
	msgs, err := a.store.LoadMessages(sessionID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	a.messages = make([]domain.TranscriptMessage, 0, len(msgs))
	for _, m := range msgs {
		a.messages = append(a.messages, m.Transcript())
	}
	return nil
}

// HandleInput processes one line of user input: slash commands locally,
// everything else through the turn engine. Turns are serialized.
func (a *Agent) HandleInput(ctx context.Context, input string) error {
	if err := a.acquireRun(ctx); err != nil {
		return err
	}
	defer a.releaseRun()

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "/") {
		a.handleCommand(ctx, trimmed)
		return nil
	}
	return a.runTurn(ctx, input)
}

func (a *Agent) processVoiceUtterance(ctx context.Context, text string) error {
	err := a.HandleInput(ctx, text)
	fmt.Fprintf(a.out, "\n%s", userPrompt)
	return err
}

// appendMessage extends both the in-memory transcript and, when memory is
// enabled, the durable session. Returns the persisted message id, if any.
func (a *Agent) appendMessage(role, content string, blocks []domain.ContentBlock) string {
	a.messages = append(a.messages, domain.TranscriptMessage{Role: role, Content: content, Blocks: blocks})
	if !a.memoryEnabled() || a.sessionID == "" {
		return ""
	}
	msg, err := a.store.AppendMessage(a.sessionID, role, content, blocks)
	if err != nil {
		a.logf("append message: %v", err)
		return ""
	}
	a.emit("message.appended", map[string]any{
		"message_id": msg.ID,
		"role":       role,
		"seq":        msg.Seq,
	})
	return msg.ID
}

// maybeCompact applies the compaction strategy and then hard-trims the
// transcript to the configured message ceiling.
func (a *Agent) maybeCompact(ctx context.Context) {
	a.messages = a.compactor.MaybeCompact(ctx, a.messages)
	limit := a.cfg.MaxConversationMessages
	if limit <= 0 || len(a.messages) <= limit {
		return
	}
	removed := len(a.messages) - limit
	a.logf("conversation history trimmed: removed %d oldest message(s) to stay within the %d message limit", removed, limit)
	a.messages = a.messages[removed:]
}

// Voice returns the voice runtime, for shutdown wiring.
func (a *Agent) Voice() *voice.Runtime {
	return a.voice
}

// Shutdown stops background activity owned by the agent.
func (a *Agent) Shutdown(ctx context.Context) {
	a.voice.Shutdown(ctx)
}
