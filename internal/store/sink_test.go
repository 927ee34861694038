package store

import (
	"fmt"
	"testing"
	"time"
)

func TestEventSink_flushOnClose(t *testing.T) {
	s := testStore(t)
	sess, _ := s.CreateSession("", "", "m", nil)

	sink := NewEventSink(s, nil)
	for i := 0; i < 7; i++ {
		sink.Emit(sess.ID, "tool.started", map[string]any{"n": i})
	}
	sink.Close()

	// Close drains; every emission before Close must be durable.
	n, err := s.CountEvents(sess.ID, "tool.started")
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 7 {
		t.Errorf("events = %d, want 7", n)
	}
	if d := sink.QueueDepth(); d != 0 {
		t.Errorf("QueueDepth = %d, want 0", d)
	}
}

func TestEventSink_preservesPerSessionOrder(t *testing.T) {
	s := testStore(t)
	sess, _ := s.CreateSession("", "", "m", nil)

	sink := NewEventSink(s, nil)
	for i := 0; i < 120; i++ {
		sink.Emit(sess.ID, fmt.Sprintf("type-%03d", i), nil)
	}
	sink.Close()

	events, err := s.ListEvents(sess.ID, 200)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 120 {
		t.Fatalf("len = %d, want 120", len(events))
	}
	for i, ev := range events {
		if want := fmt.Sprintf("type-%03d", i); ev.Type != want {
			t.Fatalf("events[%d].Type = %q, want %q", i, ev.Type, want)
		}
	}
}

func TestEventSink_emitAfterCloseDropped(t *testing.T) {
	s := testStore(t)
	sess, _ := s.CreateSession("", "", "m", nil)

	sink := NewEventSink(s, nil)
	sink.Close()
	sink.Emit(sess.ID, "tool.started", nil)
	sink.Close() // idempotent

	time.Sleep(20 * time.Millisecond)
	n, err := s.CountEvents(sess.ID, "tool.started")
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestEventSink_periodicFlush(t *testing.T) {
	s := testStore(t)
	sess, _ := s.CreateSession("", "", "m", nil)

	sink := NewEventSink(s, nil)
	t.Cleanup(sink.Close)

	sink.Emit(sess.ID, "message.appended", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := s.CountEvents(sess.ID, "message.appended"); n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event never flushed by ticker")
}
