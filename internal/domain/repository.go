package domain

import "context"

// Persisted scalar keys. Each is independently gettable/settable and is only
// reset by explicit state-replacing calls (device id regeneration, user id
// change).
const (
	DeviceIDKey          = "device_id"
	UserIDKey            = "user_id"
	OptOutKey            = "opt_out"
	SequenceNumberKey    = "sequence_number"
	LastEventIDKey       = "last_event_id"
	LastEventTimeKey     = "last_event_time"
	PreviousSessionIDKey = "previous_session_id"
)

// EventStore is the durable, bounded, ordered queue of unsent events plus a
// small scalar key-value store for tracker state. Implementations must make
// every mutation atomic with respect to concurrent readers and must survive
// process restarts.
type EventStore interface {
	// AddEvent appends a serialized event and returns the assigned id.
	// Assigned ids are strictly increasing and never reused.
	AddEvent(ctx context.Context, payload []byte) (int64, error)

	// EventsSince returns up to limit events with id > afterID, ordered by id
	// ascending, with each record's eventId injected into its payload.
	EventsSince(ctx context.Context, afterID int64, limit int64) ([]StoredEvent, error)

	// EventCount returns the number of queued events.
	EventCount(ctx context.Context) (int64, error)

	// EvictOldest removes the n oldest queued events.
	EvictOldest(ctx context.Context, n int64) error

	// RemoveEvents deletes every event with id <= maxID.
	RemoveEvents(ctx context.Context, maxID int64) error

	// RemoveEvent deletes the single event with the given id.
	RemoveEvent(ctx context.Context, id int64) error

	// Value reads a string scalar. The second return reports whether the key
	// exists, so callers can distinguish "absent" from "empty".
	Value(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error

	// LongValue reads an integer scalar, with the same absence reporting.
	LongValue(ctx context.Context, key string) (int64, bool, error)
	SetLongValue(ctx context.Context, key string, value int64) error

	Close() error
}
