package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/event-tracker/internal/domain"
)

// SessionConfig controls session continuity decisions.
type SessionConfig struct {
	// MinTimeBetweenSessions is the inactivity gap that closes a session while
	// foreground tracking is in use (a short debounce for apps that report
	// foreground transitions).
	MinTimeBetweenSessions time.Duration

	// SessionTimeout is the inactivity gap used when foreground tracking is
	// not in use (a long idle timeout).
	SessionTimeout time.Duration

	// TrackSessionEvents enables synthetic session_start / session_end events
	// at session boundaries.
	TrackSessionEvents bool
}

// SessionTracker decides session continuity and expiry. A session id is the
// millisecond timestamp that started it; NoSessionID means no active session.
//
// All methods must be called from the tracker's state queue; the struct holds
// no locks of its own.
type SessionTracker struct {
	store  domain.EventStore
	logger *slog.Logger
	cfg    SessionConfig

	sessionID         int64
	previousSessionID int64
	lastEventTime     int64

	usingForegroundTracking bool
	inForeground            bool

	// emit composes a session boundary event. Set by the owning client before
	// first use; called only when TrackSessionEvents is enabled.
	emit func(eventType string, timestamp int64)
}

// NewSessionTracker creates a tracker with no active session.
func NewSessionTracker(store domain.EventStore, cfg SessionConfig, logger *slog.Logger) *SessionTracker {
	return &SessionTracker{
		store:             store,
		logger:            logger.With("component", "session_tracker"),
		cfg:               cfg,
		sessionID:         domain.NoSessionID,
		previousSessionID: domain.NoSessionID,
		lastEventTime:     -1,
	}
}

// SetEmitter installs the session boundary event composer.
func (s *SessionTracker) SetEmitter(emit func(eventType string, timestamp int64)) {
	s.emit = emit
}

// Restore loads persisted session state, bridging process restarts. The
// previous session is adopted immediately; the first activity after restart
// decides via the gap check whether it continues or a new one starts.
func (s *SessionTracker) Restore(ctx context.Context) error {
	prev, ok, err := s.store.LongValue(ctx, domain.PreviousSessionIDKey)
	if err != nil {
		return err
	}
	if ok {
		s.previousSessionID = prev
		if prev >= 0 {
			s.sessionID = prev
		}
	}

	last, ok, err := s.store.LongValue(ctx, domain.LastEventTimeKey)
	if err != nil {
		return err
	}
	if ok {
		s.lastEventTime = last
	}
	return nil
}

// SessionID returns the current session id, or NoSessionID.
func (s *SessionTracker) SessionID() int64 { return s.sessionID }

// InForeground reports whether the app is currently foregrounded.
func (s *SessionTracker) InForeground() bool { return s.inForeground }

// UseForegroundTracking switches the gap threshold to the short
// between-sessions debounce. Called once when lifecycle tracking is wired up.
func (s *SessionTracker) UseForegroundTracking() { s.usingForegroundTracking = true }

// UsingForegroundTracking reports whether foreground tracking is in use.
func (s *SessionTracker) UsingForegroundTracking() bool { return s.usingForegroundTracking }

// StartNewSessionIfNeeded applies the continuity state machine for activity at
// the given timestamp and reports whether a new session was started.
func (s *SessionTracker) StartNewSessionIfNeeded(ctx context.Context, timestamp int64) bool {
	if s.inSession() {
		if s.withinSessionGap(timestamp) {
			s.RefreshSessionTime(ctx, timestamp)
			return false
		}
		s.startNewSession(ctx, timestamp)
		return true
	}

	// No current session: a previous session within the gap window is resumed
	// rather than opening a new one. This bridges process restarts.
	if s.withinSessionGap(timestamp) {
		if s.previousSessionID == domain.NoSessionID {
			s.startNewSession(ctx, timestamp)
			return true
		}
		s.setSessionID(ctx, s.previousSessionID)
		s.RefreshSessionTime(ctx, timestamp)
		return false
	}

	s.startNewSession(ctx, timestamp)
	return true
}

// RefreshSessionTime advances the session clock. No-op without an active
// session.
func (s *SessionTracker) RefreshSessionTime(ctx context.Context, timestamp int64) {
	if !s.inSession() {
		return
	}
	s.setLastEventTime(ctx, timestamp)
}

// EnterForeground re-evaluates session continuity on foregrounding.
func (s *SessionTracker) EnterForeground(ctx context.Context, timestamp int64) {
	s.StartNewSessionIfNeeded(ctx, timestamp)
	s.inForeground = true
}

// ExitForeground refreshes the session clock on backgrounding.
func (s *SessionTracker) ExitForeground(ctx context.Context, timestamp int64) {
	s.RefreshSessionTime(ctx, timestamp)
	s.inForeground = false
}

// EndSession emits the session end boundary event without opening a new one.
// Used when the user identity changes: the caller applies the identity change
// and then calls BeginSession, so each boundary event is attributed to the
// right user.
func (s *SessionTracker) EndSession() {
	s.sendSessionEvent(domain.EndSessionEvent)
}

// BeginSession opens a new session at the given timestamp, independent of the
// gap check.
func (s *SessionTracker) BeginSession(ctx context.Context, timestamp int64) {
	s.setSessionID(ctx, timestamp)
	s.RefreshSessionTime(ctx, timestamp)
	s.sendSessionEvent(domain.StartSessionEvent)
}

func (s *SessionTracker) startNewSession(ctx context.Context, timestamp int64) {
	// The end event is stamped with the old session's clock, before the new
	// session id replaces it.
	s.sendSessionEvent(domain.EndSessionEvent)
	s.setSessionID(ctx, timestamp)
	s.RefreshSessionTime(ctx, timestamp)
	s.sendSessionEvent(domain.StartSessionEvent)
}

func (s *SessionTracker) sendSessionEvent(eventType string) {
	if !s.cfg.TrackSessionEvents || s.emit == nil {
		return
	}
	if !s.inSession() {
		return
	}
	s.emit(eventType, s.lastEventTime)
}

func (s *SessionTracker) inSession() bool {
	return s.sessionID >= 0
}

func (s *SessionTracker) withinSessionGap(timestamp int64) bool {
	gap := s.cfg.SessionTimeout
	if s.usingForegroundTracking {
		gap = s.cfg.MinTimeBetweenSessions
	}
	return timestamp-s.lastEventTime < gap.Milliseconds()
}

func (s *SessionTracker) setSessionID(ctx context.Context, timestamp int64) {
	s.sessionID = timestamp
	s.previousSessionID = timestamp
	if err := s.store.SetLongValue(ctx, domain.PreviousSessionIDKey, timestamp); err != nil {
		s.logger.Warn("failed to persist previous session id", "error", err)
	}
}

func (s *SessionTracker) setLastEventTime(ctx context.Context, timestamp int64) {
	s.lastEventTime = timestamp
	if err := s.store.SetLongValue(ctx, domain.LastEventTimeKey, timestamp); err != nil {
		s.logger.Warn("failed to persist last event time", "error", err)
	}
}

// LastEventTime returns the session clock in epoch milliseconds, or -1.
func (s *SessionTracker) LastEventTime() int64 { return s.lastEventTime }
