package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the session tracker to mark session boundaries.
const (
	StartSessionEvent = "session_start"
	EndSessionEvent   = "session_end"
)

// NoSessionID is the session id attached to events logged outside of any
// session, and the tracker's session state before a session has started.
const NoSessionID int64 = -1

// EventTimeLayout is the wire format for eventTime and serverUploadTime,
// always rendered in UTC.
const EventTimeLayout = "2006-01-02 15:04:05.000000"

// FormatEventTime renders a timestamp in the collector's expected format.
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(EventTimeLayout)
}

// Event is the canonical record composed for every tracked action. It is
// immutable once appended to the store; the store assigns EventID on insert.
type Event struct {
	EventID          int64  `json:"eventId,omitempty"`
	UUID             string `json:"uuid"`
	EventType        string `json:"eventType"`
	EventTime        string `json:"eventTime"`
	SequenceNumber   int64  `json:"sequenceNumber"`
	SessionID        int64  `json:"sessionId"`
	UserID           string `json:"userId,omitempty"`
	DeviceID         string `json:"deviceId,omitempty"`
	VersionName      string `json:"versionName,omitempty"`
	Library          string `json:"library,omitempty"`
	ServerUploadTime string `json:"serverUploadTime,omitempty"`

	// Attributes holds the optional device and location fields that survived
	// the tracking filter (osName, deviceBrand, latitude, ...). They are
	// flattened into the top level of the wire record.
	Attributes map[string]any `json:"-"`

	APIProperties        map[string]any `json:"apiProperties,omitempty"`
	Groups               map[string]any `json:"groups,omitempty"`
	EventProperties      map[string]any `json:"eventProperties"`
	UserProperties       map[string]any `json:"userProperties"`
	GlobalUserProperties map[string]any `json:"globalUserProperties"`
	GroupProperties      map[string]any `json:"groupProperties"`
}

// MarshalJSON flattens Attributes into the top-level object so the wire
// record matches the collector's schema.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	raw, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}

	if len(e.Attributes) == 0 {
		return raw, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Attributes {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// StoredEvent is a queued event as read back from the durable store.
type StoredEvent struct {
	ID      int64
	Payload []byte
}
