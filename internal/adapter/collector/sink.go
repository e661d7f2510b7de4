package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Sink receives every accepted event batch. What happens to the events after
// acceptance is the deployment's business: log them, forward them, store them.
type Sink interface {
	Ingest(ctx context.Context, events []json.RawMessage) error
}

// SlogSink writes each accepted event to the structured log. It is the
// default sink.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.With("component", "event_sink")}
}

func (s *SlogSink) Ingest(_ context.Context, events []json.RawMessage) error {
	for _, ev := range events {
		s.logger.Info("event ingested", "event", json.RawMessage(ev))
	}
	return nil
}

// MemorySink buffers accepted events in memory, in arrival order. Tests use
// it to observe what reached the collector.
type MemorySink struct {
	mu     sync.Mutex
	events []json.RawMessage
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Ingest(_ context.Context, events []json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns a snapshot of everything ingested so far.
func (s *MemorySink) Events() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.events...)
}
