package voice

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxlabs/voxd/internal/config"
	"github.com/voxlabs/voxd/internal/provider"
	"github.com/voxlabs/voxd/internal/tools"
)

func testVoiceConfig() config.VoiceConfig {
	return config.VoiceConfig{
		ChunkSeconds:   3,
		EndpointingMs:  500,
		UtteranceEndMs: 1500,
		PollIntervalMs: 10,
	}
}

// jsonTool returns a ToolDef that records inputs and replies from a script:
// the first call gets script[0], later calls the last element.
func jsonTool(name string, script ...map[string]any) (tools.ToolDef, *callLog) {
	log := &callLog{}
	return tools.ToolDef{
		Spec: provider.ToolSpec{Name: name, Description: name},
		Execute: func(ctx context.Context, input map[string]any, tc *tools.ToolContext) (string, error) {
			n := log.record(input)
			payload := script[len(script)-1]
			if n-1 < len(script) {
				payload = script[n-1]
			}
			data, err := json.Marshal(payload)
			return string(data), err
		},
	}, log
}

type callLog struct {
	mu     sync.Mutex
	inputs []map[string]any
}

func (l *callLog) record(input map[string]any) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inputs = append(l.inputs, input)
	return len(l.inputs)
}

func (l *callLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inputs)
}

func (l *callLog) last() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.inputs) == 0 {
		return nil
	}
	return l.inputs[len(l.inputs)-1]
}

func sttRegistry(t *testing.T) (*tools.Registry, *callLog, *callLog) {
	t.Helper()
	start, _ := jsonTool("stt__stt_start_session", map[string]any{"session_id": "s-1"})
	stop, stopLog := jsonTool("stt__stt_stop_session", map[string]any{"ok": true})
	events, eventsLog := jsonTool("stt__stt_events",
		map[string]any{"events": []any{
			map[string]any{"seq": float64(1), "type": "utterance_final", "text": "hello world"},
			map[string]any{"seq": float64(2), "type": "info", "message": "noop"},
		}},
		map[string]any{"events": []any{}},
	)
	devices, _ := jsonTool("stt__stt_devices", map[string]any{"capture": []any{}, "render": []any{}})
	return tools.NewRegistry(start, stop, events, devices), stopLog, eventsLog
}

func TestRuntime_processesFinalUtterance(t *testing.T) {
	reg, stopLog, eventsLog := sttRegistry(t)

	captured := make(chan string, 4)
	rt := NewRuntime(Options{
		Registry:    reg,
		ToolContext: &tools.ToolContext{},
		Config:      testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error {
			captured <- text
			return nil
		},
	})

	msg, err := rt.Start(context.Background(), StartOptions{Source: "microphone"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(msg, "Voice started (microphone) session=s-1") {
		t.Errorf("msg = %q", msg)
	}
	if got := rt.State(); got != StateRunning {
		t.Errorf("state = %q", got)
	}

	select {
	case text := <-captured:
		if text != "hello world" {
			t.Errorf("utterance = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never reached the consumer")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(rt.Status(), "processed=1") {
		if time.Now().After(deadline) {
			t.Fatalf("status never showed processed=1: %q", rt.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	status := rt.Status()
	for _, want := range []string{"session=s-1", "last_seq=2", `latest="hello world"`} {
		if !strings.Contains(status, want) {
			t.Errorf("status %q missing %q", status, want)
		}
	}

	msg = rt.Stop(context.Background())
	if msg != "Voice stopped (session=s-1)" {
		t.Errorf("stop = %q", msg)
	}
	if got := rt.State(); got != StateStopped {
		t.Errorf("state after stop = %q", got)
	}
	if stopLog.count() != 1 || stopLog.last()["session_id"] != "s-1" {
		t.Errorf("stop tool calls = %d, last = %v", stopLog.count(), stopLog.last())
	}
	if eventsLog.last()["since_seq"] == nil {
		t.Error("poll never bookmarked since_seq")
	}

	if msg := rt.Stop(context.Background()); msg != "Voice is already stopped" {
		t.Errorf("second stop = %q", msg)
	}
}

func TestRuntime_rejectsInvalidSource(t *testing.T) {
	reg, _, _ := sttRegistry(t)
	rt := NewRuntime(Options{Registry: reg, Config: testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error { return nil }})

	_, err := rt.Start(context.Background(), StartOptions{Source: "telepathy"})
	if err == nil || !strings.Contains(err.Error(), "microphone or loopback") {
		t.Errorf("err = %v", err)
	}
}

func TestRuntime_rejectsDoubleStart(t *testing.T) {
	reg, _, _ := sttRegistry(t)
	rt := NewRuntime(Options{Registry: reg, Config: testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error { return nil }})

	if _, err := rt.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background())

	_, err := rt.Start(context.Background(), StartOptions{})
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("err = %v", err)
	}
}

func TestRuntime_missingTools(t *testing.T) {
	rt := NewRuntime(Options{Registry: tools.NewRegistry(), Config: testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error { return nil }})

	_, err := rt.Start(context.Background(), StartOptions{})
	if err == nil || !strings.Contains(err.Error(), "voice unavailable") {
		t.Errorf("err = %v", err)
	}
}

func TestRuntime_startWithoutSessionID(t *testing.T) {
	start, _ := jsonTool("stt__stt_start_session", map[string]any{"ok": true})
	events, _ := jsonTool("stt__stt_events", map[string]any{"events": []any{}})
	reg := tools.NewRegistry(start, events)

	rt := NewRuntime(Options{Registry: reg, Config: testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error { return nil }})

	_, err := rt.Start(context.Background(), StartOptions{})
	if err == nil || !strings.Contains(err.Error(), "missing session_id") {
		t.Errorf("err = %v", err)
	}
	if got := rt.State(); got != StateStopped {
		t.Errorf("state = %q", got)
	}
}

func TestRuntime_devices(t *testing.T) {
	reg, _, _ := sttRegistry(t)
	rt := NewRuntime(Options{Registry: reg, Config: testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error { return nil }})

	out, err := rt.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if !strings.Contains(out, `"capture"`) {
		t.Errorf("out = %q", out)
	}
}

func TestRuntime_eventsRequiresRunning(t *testing.T) {
	reg, _, _ := sttRegistry(t)
	rt := NewRuntime(Options{Registry: reg, Config: testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error { return nil }})

	if _, err := rt.Events(context.Background(), 10); err == nil {
		t.Error("expected error while stopped")
	}

	if _, err := rt.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background())

	out, err := rt.Events(context.Background(), 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if !strings.Contains(out, `"events"`) {
		t.Errorf("out = %q", out)
	}
}

func TestRuntime_stopReturnsWhileIngressStalled(t *testing.T) {
	start, _ := jsonTool("stt__stt_start_session", map[string]any{"session_id": "s-1"})
	stop, _ := jsonTool("stt__stt_stop_session", map[string]any{"ok": true})
	polling := make(chan struct{}, 1)
	// The events tool hangs until its context is cancelled, like a remote
	// STT endpoint that stopped answering.
	events := tools.ToolDef{
		Spec: provider.ToolSpec{Name: "stt__stt_events", Description: "stt__stt_events"},
		Execute: func(ctx context.Context, input map[string]any, tc *tools.ToolContext) (string, error) {
			select {
			case polling <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	reg := tools.NewRegistry(start, stop, events)

	rt := NewRuntime(Options{Registry: reg, ToolContext: &tools.ToolContext{}, Config: testVoiceConfig(),
		OnUtterance: func(ctx context.Context, text string) error { return nil }})

	if _, err := rt.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-polling:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never reached the events tool")
	}

	done := make(chan string, 1)
	go func() { done <- rt.Stop(context.Background()) }()
	select {
	case msg := <-done:
		if msg != "Voice stopped (session=s-1)" {
			t.Errorf("stop = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung behind the stalled events tool")
	}
	if got := rt.State(); got != StateStopped {
		t.Errorf("state after stop = %q", got)
	}
}

func TestRuntime_enqueueDropsOldest(t *testing.T) {
	rt := NewRuntime(Options{Config: testVoiceConfig()})
	queue := make(chan utterance, 2)

	rt.enqueue(queue, utterance{text: "one"})
	rt.enqueue(queue, utterance{text: "two"})
	rt.enqueue(queue, utterance{text: "three"})

	if got := (<-queue).text; got != "two" {
		t.Errorf("first dequeued = %q, want two", got)
	}
	if got := (<-queue).text; got != "three" {
		t.Errorf("second dequeued = %q, want three", got)
	}
	rt.stats.mu.Lock()
	defer rt.stats.mu.Unlock()
	if rt.stats.dropped != 1 {
		t.Errorf("dropped = %d, want 1", rt.stats.dropped)
	}
	if rt.stats.queued != 3 {
		t.Errorf("queued = %d, want 3", rt.stats.queued)
	}
}

func TestParseJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantErr bool
	}{
		{"plain object", `{"session_id":"s-1"}`, "session_id", false},
		{"fenced", "```json\n{\"session_id\":\"s-1\"}\n```", "session_id", false},
		{"surrounding prose", `Result: {"ok":true} done`, "ok", false},
		{"not json", "no braces here", "", true},
		{"array", `[1,2,3]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseJSONObject(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseJSONObject: %v", err)
			}
			if _, ok := got[tt.wantKey]; !ok {
				t.Errorf("missing key %q in %v", tt.wantKey, got)
			}
		})
	}
}

func TestRuntime_statusWhenStopped(t *testing.T) {
	rt := NewRuntime(Options{Config: testVoiceConfig()})
	if got := rt.Status(); got != "Voice is stopped" {
		t.Errorf("status = %q", got)
	}
}
