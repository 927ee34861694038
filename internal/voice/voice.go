// Package voice turns final utterances from an external speech-to-text
// session into turn-engine inputs. The STT surface is reached through
// registered tools resolved by name suffix, so it works equally with
// MCP-namespaced or locally registered tools.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlabs/voxd/internal/config"
	"github.com/voxlabs/voxd/internal/tools"
)

// Logger is the minimal logging surface the runtime needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Emitter receives lifecycle events. *store.EventSink satisfies it.
type Emitter interface {
	Emit(sessionID, eventType string, payload map[string]any)
}

// State is the runtime lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Tool suffixes the runtime resolves against the registry.
const (
	suffixStart   = "__stt_start_session"
	suffixStop    = "__stt_stop_session"
	suffixEvents  = "__stt_events"
	suffixDevices = "__stt_devices"
)

const (
	minChunkSeconds = 1

	// queueCap bounds the in-process utterance queue. When the consumer
	// falls behind, the oldest queued utterance is dropped and counted.
	queueCap = 256

	pollBatchLimit = 100
)

// utterance pairs a final transcript with its enqueue instant, so the
// consumer can record queue-wait latency.
type utterance struct {
	text     string
	enqueued time.Time
}

// StartOptions carries /voice start parameters. Zero values fall back to
// the configured defaults.
type StartOptions struct {
	Source         string
	MicDeviceID    string
	MicDeviceName  string
	ChunkSeconds   int
	EndpointingMs  int
	UtteranceEndMs int
}

// Options wires a Runtime.
type Options struct {
	Registry    *tools.Registry
	ToolContext *tools.ToolContext
	Config      config.VoiceConfig

	// OnUtterance routes a final transcript into the turn engine. Calls
	// are strictly serialized.
	OnUtterance func(ctx context.Context, text string) error

	// Events and SessionID feed lifecycle events into the sink; both may
	// be nil. SessionID names the chat session the runtime serves.
	Events    Emitter
	SessionID func() string

	Logger Logger
}

type stats struct {
	mu              sync.Mutex
	queued          int64
	processed       int64
	dropped         int64
	totalQueueWait  time.Duration
	totalProcessing time.Duration
	latest          string
}

func (s *stats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued, s.processed, s.dropped = 0, 0, 0
	s.totalQueueWait, s.totalProcessing = 0, 0
	s.latest = ""
}

// Runtime supervises one STT session and its two worker goroutines.
type Runtime struct {
	opts Options

	mu        sync.Mutex
	state     State
	sessionID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	queue     chan utterance

	lastSeq atomic.Int64
	stats   stats
}

// NewRuntime creates a stopped runtime.
func NewRuntime(opts Options) *Runtime {
	return &Runtime{opts: opts, state: StateStopped}
}

func (r *Runtime) logf(format string, args ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Printf(format, args...)
	}
}

func (r *Runtime) emit(eventType string, payload map[string]any) {
	if r.opts.Events == nil || r.opts.SessionID == nil {
		return
	}
	r.opts.Events.Emit(r.opts.SessionID(), eventType, payload)
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins a speech-to-text session and spawns the poll and consumer
// goroutines. Returns a one-line status message.
func (r *Runtime) Start(ctx context.Context, opts StartOptions) (string, error) {
	source := opts.Source
	if source == "" {
		source = "microphone"
	}
	if source != "microphone" && source != "loopback" {
		return "", fmt.Errorf("voice source must be microphone or loopback")
	}

	startTool, ok := r.findTool(suffixStart)
	if !ok {
		return "", fmt.Errorf("voice unavailable: no tool matching %s", suffixStart)
	}
	eventsTool, ok := r.findTool(suffixEvents)
	if !ok {
		return "", fmt.Errorf("voice unavailable: no tool matching %s", suffixEvents)
	}

	r.mu.Lock()
	if r.state != StateStopped {
		sessionID := r.sessionID
		r.mu.Unlock()
		return "", fmt.Errorf("voice is already running (session=%s)", sessionID)
	}
	r.state = StateStarting
	r.mu.Unlock()

	chunkSeconds := opts.ChunkSeconds
	if chunkSeconds == 0 {
		chunkSeconds = int(r.opts.Config.ChunkSeconds)
	}
	if chunkSeconds < minChunkSeconds {
		chunkSeconds = minChunkSeconds
	}
	endpointingMs := opts.EndpointingMs
	if endpointingMs == 0 {
		endpointingMs = r.opts.Config.EndpointingMs
	}
	utteranceEndMs := opts.UtteranceEndMs
	if utteranceEndMs == 0 {
		utteranceEndMs = r.opts.Config.UtteranceEndMs
	}

	input := map[string]any{
		"source":           source,
		"chunk_seconds":    chunkSeconds,
		"endpointing_ms":   max(0, endpointingMs),
		"utterance_end_ms": max(0, utteranceEndMs),
	}
	if source == "microphone" && opts.MicDeviceID != "" {
		input["mic_device_id"] = opts.MicDeviceID
	}
	if source == "microphone" && opts.MicDeviceName != "" {
		input["mic_device_name"] = opts.MicDeviceName
	}

	payload, err := r.callJSONTool(ctx, startTool, input)
	if err != nil {
		r.setState(StateStopped)
		return "", fmt.Errorf("voice start: %w", err)
	}
	sessionID := strings.TrimSpace(fmt.Sprintf("%v", payload["session_id"]))
	if sessionID == "" || payload["session_id"] == nil {
		r.setState(StateStopped)
		return "", fmt.Errorf("voice start: response missing session_id")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.sessionID = sessionID
	r.cancel = cancel
	r.queue = make(chan utterance, queueCap)
	r.state = StateRunning
	queue := r.queue
	r.mu.Unlock()

	r.lastSeq.Store(0)
	r.stats.reset()

	r.wg.Add(2)
	go r.pollLoop(runCtx, eventsTool, sessionID, queue)
	go r.consumerLoop(runCtx, queue)

	r.emit("voice.started", map[string]any{
		"stt_session_id": sessionID,
		"source":         source,
	})

	details := fmt.Sprintf("chunk=%d endpointing_ms=%d utterance_end_ms=%d",
		chunkSeconds, max(0, endpointingMs), max(0, utteranceEndMs))
	if source == "microphone" && opts.MicDeviceName != "" {
		details += fmt.Sprintf(" mic_device_name=%q", opts.MicDeviceName)
	}
	if source == "microphone" && opts.MicDeviceID != "" {
		details += " mic_device_id=" + opts.MicDeviceID
	}
	return fmt.Sprintf("Voice started (%s) session=%s [%s]", source, sessionID, details), nil
}

// Stop cancels both goroutines, waits for them to exit, and notifies the
// remote session best-effort. Idempotent.
func (r *Runtime) Stop(ctx context.Context) string {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return "Voice is already stopped"
	}
	r.state = StateStopping
	sessionID := r.sessionID
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	// Upstream stop is fire-and-forget: a failed or missing stop tool
	// never blocks local shutdown.
	if stopTool, ok := r.findTool(suffixStop); ok {
		if _, err := r.callJSONTool(ctx, stopTool, map[string]any{"session_id": sessionID}); err != nil {
			r.logf("voice: stop session %s: %v", sessionID, err)
		}
	}

	r.mu.Lock()
	r.state = StateStopped
	r.sessionID = ""
	r.cancel = nil
	r.mu.Unlock()

	r.emit("voice.stopped", map[string]any{"stt_session_id": sessionID})
	return fmt.Sprintf("Voice stopped (session=%s)", sessionID)
}

// Shutdown stops the runtime if it is running.
func (r *Runtime) Shutdown(ctx context.Context) {
	if r.State() == StateRunning {
		r.Stop(ctx)
	}
}

// Status returns a one-line summary of the session and local counters.
func (r *Runtime) Status() string {
	r.mu.Lock()
	state := r.state
	sessionID := r.sessionID
	var depth int
	if r.queue != nil {
		depth = len(r.queue)
	}
	r.mu.Unlock()

	if state != StateRunning {
		return "Voice is " + string(state)
	}

	s := &r.stats
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := s.latest
	if len(latest) > 60 {
		latest = latest[:57] + "..."
	}
	avgWait, avgProc := time.Duration(0), time.Duration(0)
	if s.processed > 0 {
		avgWait = s.totalQueueWait / time.Duration(s.processed)
		avgProc = s.totalProcessing / time.Duration(s.processed)
	}
	return fmt.Sprintf(
		"Voice session=%s queue=%d last_seq=%d queued=%d processed=%d dropped=%d avg_wait=%s avg_processing=%s latest=%q",
		sessionID, depth, r.lastSeq.Load(), s.queued, s.processed, s.dropped,
		avgWait.Round(time.Millisecond), avgProc.Round(time.Millisecond), latest)
}

// Devices returns the STT device inventory as indented JSON.
func (r *Runtime) Devices(ctx context.Context) (string, error) {
	devicesTool, ok := r.findTool(suffixDevices)
	if !ok {
		return "", fmt.Errorf("voice unavailable: no tool matching %s", suffixDevices)
	}
	payload, err := r.callJSONTool(ctx, devicesTool, map[string]any{})
	if err != nil {
		return "", err
	}
	return prettyJSON(payload)
}

// Events returns up to limit raw STT events from the start of the session.
func (r *Runtime) Events(ctx context.Context, limit int) (string, error) {
	r.mu.Lock()
	state := r.state
	sessionID := r.sessionID
	r.mu.Unlock()
	if state != StateRunning {
		return "", fmt.Errorf("voice is stopped")
	}

	eventsTool, ok := r.findTool(suffixEvents)
	if !ok {
		return "", fmt.Errorf("voice unavailable: no tool matching %s", suffixEvents)
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	payload, err := r.callJSONTool(ctx, eventsTool, map[string]any{
		"session_id": sessionID,
		"since_seq":  0,
		"limit":      limit,
	})
	if err != nil {
		return "", err
	}
	return prettyJSON(payload)
}

// failPoll tears the session down after an unrecoverable polling error.
// The remote session is abandoned; a later /voice start opens a fresh one.
func (r *Runtime) failPoll() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.state = StateStopped
	sessionID := r.sessionID
	r.sessionID = ""
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.emit("voice.stopped", map[string]any{"stt_session_id": sessionID, "reason": "poll_failure"})
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// pollLoop drains the remote event iterator, bookmarking since_seq, and
// enqueues every non-empty final utterance.
func (r *Runtime) pollLoop(ctx context.Context, eventsTool tools.ToolDef, sessionID string, queue chan utterance) {
	defer r.wg.Done()

	interval := time.Duration(r.opts.Config.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		payload, err := r.callJSONTool(ctx, eventsTool, map[string]any{
			"session_id": sessionID,
			"since_seq":  r.lastSeq.Load(),
			"limit":      pollBatchLimit,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logf("voice: polling failed: %v", err)
			r.failPoll()
			return
		}

		events, _ := payload["events"].([]any)
		for _, raw := range events {
			event, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if seq, ok := event["seq"].(float64); ok && int64(seq) > r.lastSeq.Load() {
				r.lastSeq.Store(int64(seq))
			}
			if event["type"] != "utterance_final" {
				continue
			}
			text := strings.TrimSpace(fmt.Sprintf("%v", event["text"]))
			if text == "" || event["text"] == nil {
				continue
			}
			r.enqueue(queue, utterance{text: text, enqueued: time.Now()})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// enqueue adds u, dropping the oldest queued utterance when full.
func (r *Runtime) enqueue(queue chan utterance, u utterance) {
	s := &r.stats
	for {
		select {
		case queue <- u:
			s.mu.Lock()
			s.queued++
			s.mu.Unlock()
			return
		default:
		}
		select {
		case <-queue:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
	}
}

// consumerLoop invokes OnUtterance strictly one at a time, in enqueue order.
func (r *Runtime) consumerLoop(ctx context.Context, queue chan utterance) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-queue:
			wait := time.Since(u.enqueued)
			start := time.Now()
			if err := r.opts.OnUtterance(ctx, u.text); err != nil && ctx.Err() == nil {
				// One bad utterance must not kill the runtime.
				r.logf("voice: utterance failed: %v", err)
			}
			s := &r.stats
			s.mu.Lock()
			s.processed++
			s.totalQueueWait += wait
			s.totalProcessing += time.Since(start)
			s.latest = u.text
			s.mu.Unlock()
		}
	}
}

// findTool resolves a registered tool whose name ends with suffix.
func (r *Runtime) findTool(suffix string) (tools.ToolDef, bool) {
	for _, name := range r.opts.Registry.Names() {
		if strings.HasSuffix(name, suffix) {
			return r.opts.Registry.Find(name)
		}
	}
	return tools.ToolDef{}, false
}

func (r *Runtime) callJSONTool(ctx context.Context, def tools.ToolDef, input map[string]any) (map[string]any, error) {
	raw, err := def.Execute(ctx, input, r.opts.ToolContext)
	if err != nil {
		return nil, err
	}
	return parseJSONObject(raw)
}

// parseJSONObject extracts a JSON object from a tool response, tolerating
// ``` fences and surrounding prose.
func parseJSONObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) >= 3 {
			text = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("tool response was not a JSON object")
}

func prettyJSON(payload map[string]any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
