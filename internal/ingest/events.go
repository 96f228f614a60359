// Package ingest owns the watch-history ingestion run: the background
// worker, its single-run mutual exclusion, cooperative cancellation, the
// ordered progress-event stream, and the storage synchronizer.
package ingest

import (
	"context"
	"fmt"
	"sync"
)

// Event names on the progress stream. An empty name is the default SSE
// event and carries the percent scalar.
const (
	EventStage   = "stage"
	EventPercent = ""
	EventStats   = "stats"
	EventErrors  = "errors"
	EventStop    = "stop"
)

// Event is one frame on the progress stream.
type Event struct {
	Data  string
	Event string
	ID    string
}

// Encode renders the frame in SSE wire format.
func (e Event) Encode() string {
	return fmt.Sprintf("data: %s\nevent: %s\nid: %s\n\n", e.Data, e.Event, e.ID)
}

// Stream is the ordered progress-event buffer between the worker and its
// single subscriber. The worker publishes without blocking; the
// subscriber drains with Next. Attaching a new subscriber discards stale
// buffered events so it observes a clean stream.
type Stream struct {
	mu     sync.Mutex
	buf    []Event
	notify chan struct{}
}

func newStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

func (s *Stream) publish(e Event) {
	s.mu.Lock()
	s.buf = append(s.buf, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Attach clears any stale buffered events. Call before reading a fresh
// run's events.
func (s *Stream) Attach() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

// Next blocks until an event is available or ctx is done.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			e := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return e, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}
