package store

import (
	"sync"
	"time"

	"github.com/voxlabs/voxd/internal/domain"
)

// Logger is the minimal logging surface the sink needs.
type Logger interface {
	Printf(format string, args ...any)
}

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultBatchSize     = 50

	// sinkQueueCap bounds the in-memory queue. On overflow the oldest
	// events are dropped; events are best-effort observability data.
	sinkQueueCap = 8192
)

// EventSink absorbs event emissions from any component without blocking the
// caller and batch-flushes them to the store. Per-session order is the
// enqueue order; the background flusher batches but never reorders.
type EventSink struct {
	store  *Store
	logger Logger

	flushInterval time.Duration
	batchSize     int

	mu     sync.Mutex
	queue  []domain.Event
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewEventSink creates a sink flushing to store and starts its background
// flusher. A nil logger silences diagnostics.
func NewEventSink(store *Store, logger Logger) *EventSink {
	sink := &EventSink{
		store:         store,
		logger:        logger,
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go sink.run()
	return sink
}

// Emit enqueues one event. It never blocks and never fails visibly; after
// Close the emission is dropped silently.
func (s *EventSink) Emit(sessionID, eventType string, payload map[string]any) {
	ev := domain.Event{
		ID:        domain.NewUUID(),
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= sinkQueueCap {
		s.queue = s.queue[1:]
		s.logf("event sink queue full, dropping oldest event")
	}
	s.queue = append(s.queue, ev)
	full := len(s.queue) >= s.batchSize
	s.mu.Unlock()

	if full {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Close stops the flusher, drains the queue fully and returns after the
// final flush committed.
func (s *EventSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// QueueDepth returns the number of events not yet flushed.
func (s *EventSink) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *EventSink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.wake:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *EventSink) flush() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	if err := s.store.InsertEvents(pending); err != nil {
		s.logf("event sink flush failed (%d events): %v", len(pending), err)
	}
}

func (s *EventSink) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
