// Package sqlite implements the durable event store on an embedded SQLite
// database, so queued events and tracker state survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/event-tracker/internal/domain"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS store (
	key TEXT PRIMARY KEY,
	value TEXT
);
CREATE TABLE IF NOT EXISTS long_store (
	key TEXT PRIMARY KEY,
	value INTEGER
);
`

// EventStore implements domain.EventStore on a single SQLite database file.
// A mutex serializes all access so mutations are atomic with respect to
// concurrent readers.
type EventStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// NewEventStore opens (creating if needed) the database at path. Use the
// same path across restarts to preserve queued events and tracker state.
func NewEventStore(path string, logger *slog.Logger) (*EventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event store schema: %w", err)
	}

	return &EventStore{
		db:     db,
		logger: logger.With("component", "event_store"),
	}, nil
}

// AddEvent appends a serialized event and returns the assigned id.
func (s *EventStore) AddEvent(ctx context.Context, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO events (event) VALUES (?)`, string(payload))
	if err != nil {
		return -1, wrapStoreErr("insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return -1, fmt.Errorf("read inserted event id: %w", err)
	}
	return id, nil
}

// EventsSince returns up to limit events with id > afterID in id order. The
// store-assigned id is injected into each payload as eventId so the upload
// pipeline can compute its truncation watermark from the records themselves.
func (s *EventStore) EventsSince(ctx context.Context, afterID int64, limit int64) ([]domain.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, wrapStoreErr("query events", err)
	}
	defer rows.Close()

	var events []domain.StoredEvent
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, wrapStoreErr("scan event row", err)
		}

		payload, err := injectEventID([]byte(raw), id)
		if err != nil {
			// A corrupt row cannot be uploaded; skip it rather than wedge the
			// whole queue behind it.
			s.logger.Warn("skipping undecodable queued event", "id", id, "error", err)
			continue
		}
		events = append(events, domain.StoredEvent{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterate events", err)
	}
	return events, nil
}

// EventCount returns the number of queued events.
func (s *EventStore) EventCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	if err != nil {
		return 0, wrapStoreErr("count events", err)
	}
	return count, nil
}

// EvictOldest removes the n oldest queued events.
func (s *EventStore) EvictOldest(ctx context.Context, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE id IN (SELECT id FROM events ORDER BY id ASC LIMIT ?)`, n)
	if err != nil {
		return wrapStoreErr("evict oldest events", err)
	}
	return nil
}

// RemoveEvents deletes every event with id <= maxID.
func (s *EventStore) RemoveEvents(ctx context.Context, maxID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id <= ?`, maxID); err != nil {
		return wrapStoreErr("remove events", err)
	}
	return nil
}

// RemoveEvent deletes the single event with the given id.
func (s *EventStore) RemoveEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return wrapStoreErr("remove event", err)
	}
	return nil
}

// Value reads a string scalar and whether the key exists.
func (s *EventStore) Value(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreErr("read value", err)
	}
	return value, true, nil
}

// SetValue writes a string scalar, replacing any existing value.
func (s *EventStore) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO store (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return wrapStoreErr("write value", err)
	}
	return nil
}

// LongValue reads an integer scalar and whether the key exists.
func (s *EventStore) LongValue(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM long_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapStoreErr("read long value", err)
	}
	return value, true, nil
}

// SetLongValue writes an integer scalar, replacing any existing value.
func (s *EventStore) SetLongValue(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO long_store (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return wrapStoreErr("write long value", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func injectEventID(raw []byte, id int64) ([]byte, error) {
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	record["eventId"] = id
	return json.Marshal(record)
}

// wrapStoreErr maps transient SQLite resource errors onto domain.ErrStoreBusy
// so callers defer the operation instead of failing hard.
func wrapStoreErr(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_NOMEM, sqlite3.SQLITE_FULL:
			return fmt.Errorf("%s: %w", op, domain.ErrStoreBusy)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
