package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/event-tracker/internal/domain"
	"github.com/user/event-tracker/internal/domain/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type boundaryEvent struct {
	eventType string
	timestamp int64
}

func newTestSessionTracker(store domain.EventStore, cfg SessionConfig) (*SessionTracker, *[]boundaryEvent) {
	s := NewSessionTracker(store, cfg, discardLogger())
	var emitted []boundaryEvent
	s.SetEmitter(func(eventType string, timestamp int64) {
		emitted = append(emitted, boundaryEvent{eventType, timestamp})
	})
	return s, &emitted
}

func sessionConfig() SessionConfig {
	return SessionConfig{
		MinTimeBetweenSessions: 5 * time.Minute,
		SessionTimeout:         30 * time.Minute,
	}
}

func TestSessionTracker_StartsFirstSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSessionTracker(mocks.NewMockEventStore(), sessionConfig())

	ts := time.Now().UnixMilli()
	started := s.StartNewSessionIfNeeded(ctx, ts)

	require.True(t, started)
	assert.Equal(t, ts, s.SessionID())
	assert.Equal(t, ts, s.LastEventTime())
}

func TestSessionTracker_ActivityWithinGapExtendsSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSessionTracker(mocks.NewMockEventStore(), sessionConfig())

	start := time.Now().UnixMilli()
	s.StartNewSessionIfNeeded(ctx, start)

	// 29 minutes of silence is still inside the background timeout.
	later := start + (29 * time.Minute).Milliseconds()
	started := s.StartNewSessionIfNeeded(ctx, later)

	assert.False(t, started)
	assert.Equal(t, start, s.SessionID())
	assert.Equal(t, later, s.LastEventTime())
}

func TestSessionTracker_ActivityBeyondGapStartsNewSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSessionTracker(mocks.NewMockEventStore(), sessionConfig())

	start := time.Now().UnixMilli()
	s.StartNewSessionIfNeeded(ctx, start)

	later := start + (31 * time.Minute).Milliseconds()
	started := s.StartNewSessionIfNeeded(ctx, later)

	assert.True(t, started)
	assert.Equal(t, later, s.SessionID())
}

func TestSessionTracker_ForegroundTrackingUsesShortGap(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSessionTracker(mocks.NewMockEventStore(), sessionConfig())
	s.UseForegroundTracking()

	start := time.Now().UnixMilli()
	s.EnterForeground(ctx, start)
	s.ExitForeground(ctx, start)

	t.Run("within five minutes resumes", func(t *testing.T) {
		resumeAt := start + (4 * time.Minute).Milliseconds()
		s.EnterForeground(ctx, resumeAt)
		assert.Equal(t, start, s.SessionID())
	})

	t.Run("beyond five minutes starts new", func(t *testing.T) {
		last := s.LastEventTime()
		resumeAt := last + (6 * time.Minute).Milliseconds()
		s.EnterForeground(ctx, resumeAt)
		assert.Equal(t, resumeAt, s.SessionID())
	})
}

func TestSessionTracker_ResumesPreviousSessionAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockEventStore()

	start := time.Now().UnixMilli()
	first, _ := newTestSessionTracker(store, sessionConfig())
	first.StartNewSessionIfNeeded(ctx, start)

	// A new tracker over the same store stands in for a process restart.
	second, _ := newTestSessionTracker(store, sessionConfig())
	require.NoError(t, second.Restore(ctx))

	resumeAt := start + (10 * time.Minute).Milliseconds()
	started := second.StartNewSessionIfNeeded(ctx, resumeAt)

	assert.False(t, started, "session inside the gap should resume, not restart")
	assert.Equal(t, start, second.SessionID())
}

func TestSessionTracker_RestartBeyondGapStartsNewSession(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockEventStore()

	start := time.Now().UnixMilli()
	first, _ := newTestSessionTracker(store, sessionConfig())
	first.StartNewSessionIfNeeded(ctx, start)

	second, _ := newTestSessionTracker(store, sessionConfig())
	require.NoError(t, second.Restore(ctx))

	resumeAt := start + time.Hour.Milliseconds()
	started := second.StartNewSessionIfNeeded(ctx, resumeAt)

	assert.True(t, started)
	assert.Equal(t, resumeAt, second.SessionID())
}

func TestSessionTracker_EmitsBoundaryEvents(t *testing.T) {
	ctx := context.Background()
	cfg := sessionConfig()
	cfg.TrackSessionEvents = true
	s, emitted := newTestSessionTracker(mocks.NewMockEventStore(), cfg)

	start := time.Now().UnixMilli()
	s.StartNewSessionIfNeeded(ctx, start)
	require.Len(t, *emitted, 1)
	assert.Equal(t, domain.StartSessionEvent, (*emitted)[0].eventType)

	// Expiry closes the old session before opening the new one, and the end
	// event is stamped with the old session's clock.
	later := start + time.Hour.Milliseconds()
	s.StartNewSessionIfNeeded(ctx, later)
	require.Len(t, *emitted, 3)
	assert.Equal(t, domain.EndSessionEvent, (*emitted)[1].eventType)
	assert.Equal(t, start, (*emitted)[1].timestamp)
	assert.Equal(t, domain.StartSessionEvent, (*emitted)[2].eventType)
	assert.Equal(t, later, (*emitted)[2].timestamp)
}

func TestSessionTracker_IdentityRollover(t *testing.T) {
	ctx := context.Background()
	cfg := sessionConfig()
	cfg.TrackSessionEvents = true
	s, emitted := newTestSessionTracker(mocks.NewMockEventStore(), cfg)

	start := time.Now().UnixMilli()
	s.StartNewSessionIfNeeded(ctx, start)

	rolloverAt := start + time.Minute.Milliseconds()
	s.EndSession()
	s.BeginSession(ctx, rolloverAt)

	assert.Equal(t, rolloverAt, s.SessionID())
	require.Len(t, *emitted, 3)
	assert.Equal(t, domain.EndSessionEvent, (*emitted)[1].eventType)
	assert.Equal(t, domain.StartSessionEvent, (*emitted)[2].eventType)
}

func TestSessionTracker_NoBoundaryEventsWhenDisabled(t *testing.T) {
	ctx := context.Background()
	s, emitted := newTestSessionTracker(mocks.NewMockEventStore(), sessionConfig())

	s.StartNewSessionIfNeeded(ctx, time.Now().UnixMilli())

	assert.Empty(t, *emitted)
}

func TestSessionTracker_PersistsStateForRestore(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockEventStore()
	s, _ := newTestSessionTracker(store, sessionConfig())

	ts := time.Now().UnixMilli()
	s.StartNewSessionIfNeeded(ctx, ts)

	prev, ok, err := store.LongValue(ctx, domain.PreviousSessionIDKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ts, prev)

	last, ok, err := store.LongValue(ctx, domain.LastEventTimeKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ts, last)
}
