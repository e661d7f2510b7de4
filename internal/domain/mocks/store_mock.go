package mocks

import (
	"context"
	"sync"

	"github.com/user/event-tracker/internal/domain"
)

// MockEventStore is an in-memory implementation of domain.EventStore for
// testing. Errors can be injected per operation.
type MockEventStore struct {
	mu     sync.Mutex
	nextID int64
	events []domain.StoredEvent
	values map[string]string
	longs  map[string]int64

	AddErr    error
	ReadErr   error
	CountErr  error
	RemoveErr error
	ValueErr  error
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		values: make(map[string]string),
		longs:  make(map[string]int64),
	}
}

func (m *MockEventStore) AddEvent(ctx context.Context, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return -1, m.AddErr
	}
	m.nextID++
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.events = append(m.events, domain.StoredEvent{ID: m.nextID, Payload: buf})
	return m.nextID, nil
}

func (m *MockEventStore) EventsSince(ctx context.Context, afterID int64, limit int64) ([]domain.StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	var out []domain.StoredEvent
	for _, ev := range m.events {
		if ev.ID > afterID && int64(len(out)) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MockEventStore) EventCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return int64(len(m.events)), nil
}

func (m *MockEventStore) EvictOldest(ctx context.Context, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	if n > int64(len(m.events)) {
		n = int64(len(m.events))
	}
	m.events = m.events[n:]
	return nil
}

func (m *MockEventStore) RemoveEvents(ctx context.Context, maxID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.ID > maxID {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	return nil
}

func (m *MockEventStore) RemoveEvent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.ID != id {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	return nil
}

func (m *MockEventStore) Value(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ValueErr != nil {
		return "", false, m.ValueErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MockEventStore) SetValue(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ValueErr != nil {
		return m.ValueErr
	}
	m.values[key] = value
	return nil
}

func (m *MockEventStore) LongValue(ctx context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ValueErr != nil {
		return 0, false, m.ValueErr
	}
	v, ok := m.longs[key]
	return v, ok, nil
}

func (m *MockEventStore) SetLongValue(ctx context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ValueErr != nil {
		return m.ValueErr
	}
	m.longs[key] = value
	return nil
}

func (m *MockEventStore) Close() error { return nil }

// Events returns a snapshot of the queued events, oldest first.
func (m *MockEventStore) Events() []domain.StoredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StoredEvent, len(m.events))
	copy(out, m.events)
	return out
}
