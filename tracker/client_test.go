package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/event-tracker/internal/domain"
)

// collectorStub is a minimal in-process collector: it hands out a token and
// accepts every batch, recording the decoded events.
type collectorStub struct {
	srv *httptest.Server

	mu     sync.Mutex
	events []map[string]any
}

func newCollectorStub(t *testing.T) *collectorStub {
	t.Helper()
	stub := &collectorStub{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authentication", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "stub-token"})
	})
	mux.HandleFunc("POST /event", func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Events []map[string]any `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		stub.mu.Lock()
		stub.events = append(stub.events, envelope.Events...)
		stub.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"message": "events ingested"})
	})

	stub.srv = httptest.NewServer(mux)
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *collectorStub) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.events...)
}

func testConfig(t *testing.T, stub *collectorStub) Config {
	t.Helper()
	return Config{
		ServerURL:    stub.srv.URL,
		Username:     "tester",
		Password:     "secret",
		DatabasePath: filepath.Join(t.TempDir(), "events.db"),
		// Keep the pipeline quiet unless a test explicitly exercises it.
		UploadThreshold: 10000,
		UploadPeriod:    time.Hour,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Device: StaticSnapshotProvider{Info: DeviceSnapshot{
			VersionName: "2.3.4",
			OSName:      "linux",
			OSVersion:   "6.1",
			Brand:       "acme",
			Model:       "rocket",
			Carrier:     "telco",
			Country:     "US",
			Language:    "en",
			Platform:    "test",
		}},
	}
}

func newTestClient(t *testing.T, mutate func(*Config)) *Client {
	t.Helper()
	cfg := testConfig(t, newCollectorStub(t))
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// queuedEvents decodes everything currently in the client's durable queue.
func queuedEvents(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	stored, err := c.store.EventsSince(context.Background(), 0, 10000)
	require.NoError(t, err)
	out := make([]map[string]any, 0, len(stored))
	for _, ev := range stored {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(ev.Payload, &decoded))
		out = append(out, decoded)
	}
	return out
}

func TestClient_LogEventSyncStoresEvent(t *testing.T) {
	c := newTestClient(t, nil)

	id, err := c.LogEventSync("button_clicked", &EventOptions{
		EventProperties: map[string]any{"screen": "home"},
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	events := queuedEvents(t, c)
	require.Len(t, events, 1)
	ev := events[0]

	assert.Equal(t, "button_clicked", ev["eventType"])
	assert.Equal(t, float64(1), ev["sequenceNumber"])
	assert.Equal(t, c.DeviceID(), ev["deviceId"])
	assert.Equal(t, map[string]any{"screen": "home"}, ev["eventProperties"])
	assert.Equal(t, "2.3.4", ev["versionName"])
	assert.Equal(t, "telco", ev["carrier"])
	assert.Equal(t, "rocket", ev["deviceModel"])

	// Session id is the starting timestamp and matches the event it started.
	assert.Equal(t, float64(c.SessionID()), ev["sessionId"])

	_, err = time.Parse(domain.EventTimeLayout, ev["eventTime"].(string))
	assert.NoError(t, err)
}

func TestClient_RejectsEmptyEventType(t *testing.T) {
	c := newTestClient(t, nil)

	assert.ErrorIs(t, c.LogEvent("", nil), ErrEmptyEventType)
	assert.ErrorIs(t, c.LogEvent("   ", nil), ErrEmptyEventType)

	_, err := c.LogEventSync("", nil)
	assert.ErrorIs(t, err, ErrEmptyEventType)
}

func TestClient_NilClientReportsUninitialized(t *testing.T) {
	var c *Client
	assert.ErrorIs(t, c.LogEvent("anything", nil), ErrUninitialized)
}

func TestClient_OptOutSuppressesEvents(t *testing.T) {
	c := newTestClient(t, nil)

	c.SetOptOut(true)
	id, err := c.LogEventSync("ignored", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), id)
	assert.Empty(t, queuedEvents(t, c))
	assert.True(t, c.OptedOut())

	c.SetOptOut(false)
	id, err = c.LogEventSync("tracked", nil)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
}

func TestClient_SequenceNumbersSurviveRestart(t *testing.T) {
	stub := newCollectorStub(t)
	cfg := testConfig(t, stub)

	first, err := NewClient(cfg)
	require.NoError(t, err)
	_, err = first.LogEventSync("one", nil)
	require.NoError(t, err)
	_, err = first.LogEventSync("two", nil)
	require.NoError(t, err)
	deviceID := first.DeviceID()
	require.NoError(t, first.Close())

	second, err := NewClient(cfg)
	require.NoError(t, err)
	defer second.Close()

	_, err = second.LogEventSync("three", nil)
	require.NoError(t, err)

	assert.Equal(t, deviceID, second.DeviceID(), "device identity must survive restarts")

	events := queuedEvents(t, second)
	require.Len(t, events, 3)
	assert.Equal(t, float64(3), events[2]["sequenceNumber"], "sequence numbers must be gapless across restarts")
}

func TestClient_CloseFlushesQueuedEvents(t *testing.T) {
	stub := newCollectorStub(t)
	cfg := testConfig(t, stub)
	cfg.FlushOnClose = true

	c, err := NewClient(cfg)
	require.NoError(t, err)
	_, err = c.LogEventSync("flushed_event", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	received := stub.received()
	require.Len(t, received, 1)
	assert.Equal(t, "flushed_event", received[0]["eventType"])

	// The flushed batch must be truncated before shutdown, not re-queued on
	// the next start.
	reopened, err := NewClient(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Empty(t, queuedEvents(t, reopened))
}

func TestClient_SessionEventTypesBypassSessionTracking(t *testing.T) {
	c := newTestClient(t, nil)

	base := time.Now().Add(-2 * time.Hour)
	step := 20 * time.Minute // under the 30m timeout, so a refresh would hide the gap

	_, err := c.LogEventSync("first", &EventOptions{Timestamp: base})
	require.NoError(t, err)
	_, err = c.LogEventSync(domain.EndSessionEvent, &EventOptions{Timestamp: base.Add(step)})
	require.NoError(t, err)
	_, err = c.LogEventSync("second", &EventOptions{Timestamp: base.Add(2 * step)})
	require.NoError(t, err)

	events := queuedEvents(t, c)
	require.Len(t, events, 3)
	assert.Equal(t, float64(base.UnixMilli()), events[0]["sessionId"])
	assert.Equal(t, events[0]["sessionId"], events[1]["sessionId"],
		"a caller-logged boundary type rides the current session")
	assert.Equal(t, float64(base.Add(2*step).UnixMilli()), events[2]["sessionId"],
		"a caller-logged boundary type must not refresh the session clock")
}

func TestClient_OutOfSessionEvent(t *testing.T) {
	c := newTestClient(t, nil)

	_, err := c.LogEventSync("in_session", nil)
	require.NoError(t, err)
	_, err = c.LogEventSync("background_ping", &EventOptions{OutOfSession: true})
	require.NoError(t, err)

	events := queuedEvents(t, c)
	require.Len(t, events, 2)
	assert.GreaterOrEqual(t, events[0]["sessionId"], float64(0))
	assert.Equal(t, float64(-1), events[1]["sessionId"])
}

func TestClient_TruncatesOversizedProperties(t *testing.T) {
	c := newTestClient(t, nil)

	long := strings.Repeat("x", 4000)
	_, err := c.LogEventSync("big_event", &EventOptions{
		EventProperties: map[string]any{
			"note":   long,
			"nested": map[string]any{"inner": long},
		},
	})
	require.NoError(t, err)

	events := queuedEvents(t, c)
	require.Len(t, events, 1)
	props := events[0]["eventProperties"].(map[string]any)
	assert.Len(t, props["note"], maxStringLength)
	nested := props["nested"].(map[string]any)
	assert.Len(t, nested["inner"], maxStringLength)
}

func TestClient_DropsPropertiesWhenTooManyKeys(t *testing.T) {
	c := newTestClient(t, nil)

	props := make(map[string]any, maxPropertyKeys+1)
	for i := 0; i <= maxPropertyKeys; i++ {
		props[fmt.Sprintf("key_%d", i)] = i
	}

	_, err := c.LogEventSync("noisy_event", &EventOptions{EventProperties: props})
	require.NoError(t, err)

	events := queuedEvents(t, c)
	require.Len(t, events, 1)
	assert.Empty(t, events[0]["eventProperties"])
}

func TestClient_TruncatesGroups(t *testing.T) {
	c := newTestClient(t, nil)

	long := strings.Repeat("g", 4000)
	_, err := c.LogEventSync("grouped_event", &EventOptions{
		Groups: map[string]any{"org": long},
	})
	require.NoError(t, err)

	oversized := make(map[string]any, maxPropertyKeys+1)
	for i := 0; i <= maxPropertyKeys; i++ {
		oversized[fmt.Sprintf("group_%d", i)] = "x"
	}
	_, err = c.LogEventSync("over_grouped_event", &EventOptions{Groups: oversized})
	require.NoError(t, err)

	events := queuedEvents(t, c)
	require.Len(t, events, 2)

	groups := events[0]["groups"].(map[string]any)
	assert.Len(t, groups["org"], maxStringLength)
	assert.NotContains(t, events[1], "groups", "a groups map over the key limit is dropped")
}

func TestClient_TrackingOptionsFilterDeviceFields(t *testing.T) {
	c := newTestClient(t, func(cfg *Config) {
		cfg.TrackingOptions = NewTrackingOptions().Disable(FieldCarrier, FieldVersionName, FieldCity)
	})

	_, err := c.LogEventSync("filtered", nil)
	require.NoError(t, err)

	events := queuedEvents(t, c)
	require.Len(t, events, 1)
	ev := events[0]

	assert.NotContains(t, ev, "carrier")
	assert.NotContains(t, ev, "versionName")
	assert.Equal(t, "rocket", ev["deviceModel"])

	// Disabled server-side fields travel as explicit overrides.
	api := ev["apiProperties"].(map[string]any)
	assert.Equal(t, map[string]any{FieldCity: false}, api["tracking_options"])
}

type staticAdIDs struct {
	id    string
	limit bool
}

func (p staticAdIDs) AdvertisingID(context.Context) (string, bool, error) {
	return p.id, p.limit, nil
}

func TestClient_RestrictedDataMode(t *testing.T) {
	c := newTestClient(t, func(cfg *Config) {
		cfg.AdvertisingIDs = staticAdIDs{id: "ad-12345"}
	})

	_, err := c.LogEventSync("before", nil)
	require.NoError(t, err)

	c.EnableRestrictedDataMode()
	_, err = c.LogEventSync("during", nil)
	require.NoError(t, err)

	c.DisableRestrictedDataMode()
	_, err = c.LogEventSync("after", nil)
	require.NoError(t, err)

	events := queuedEvents(t, c)
	require.Len(t, events, 3)

	before := events[0]["apiProperties"].(map[string]any)
	assert.Equal(t, "ad-12345", before["adid"])
	assert.Equal(t, true, before["adTrackingSupported"])
	assert.Equal(t, false, before["limitAdTracking"])

	api := events[1]["apiProperties"].(map[string]any)
	assert.NotContains(t, api, "adid")
	overrides := api["tracking_options"].(map[string]any)
	assert.Equal(t, false, overrides[FieldCity])
	assert.Equal(t, false, overrides[FieldIPAddress])
	assert.Equal(t, false, overrides[FieldLatLng])

	after := events[2]["apiProperties"].(map[string]any)
	assert.Equal(t, "ad-12345", after["adid"], "leaving restricted mode restores the configured options")
}

func TestClient_AdvertisingIDAsDeviceID(t *testing.T) {
	t.Run("adopted when allowed", func(t *testing.T) {
		c := newTestClient(t, func(cfg *Config) {
			cfg.UseAdvertisingIDForDeviceID = true
			cfg.AdvertisingIDs = staticAdIDs{id: "ad-67890"}
		})
		assert.Equal(t, "ad-67890", c.DeviceID())
	})

	t.Run("skipped when tracking limited", func(t *testing.T) {
		c := newTestClient(t, func(cfg *Config) {
			cfg.UseAdvertisingIDForDeviceID = true
			cfg.AdvertisingIDs = staticAdIDs{id: "ad-67890", limit: true}
		})
		assert.NotEqual(t, "ad-67890", c.DeviceID())
		assert.True(t, strings.HasSuffix(c.DeviceID(), "R"))
	})
}

func TestClient_DeviceIDManagement(t *testing.T) {
	c := newTestClient(t, nil)

	original := c.DeviceID()
	assert.True(t, strings.HasSuffix(original, "R"), "generated ids carry the random marker")

	c.SetDeviceID("DEFACE")
	assert.Equal(t, original, c.DeviceID(), "placeholder ids are rejected")

	c.SetDeviceID("custom-device-id")
	assert.Equal(t, "custom-device-id", c.DeviceID())

	c.RegenerateDeviceID()
	regenerated := c.DeviceID()
	assert.NotEqual(t, "custom-device-id", regenerated)
	assert.True(t, strings.HasSuffix(regenerated, "R"))
}

func TestClient_UserIDRolloverStartsNewSession(t *testing.T) {
	c := newTestClient(t, func(cfg *Config) {
		cfg.TrackSessionEvents = true
		cfg.UserID = "alice"
	})

	// Logged in the past so the rollover session gets a distinct id even on a
	// fast machine.
	_, err := c.LogEventSync("first", &EventOptions{Timestamp: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	firstSession := c.SessionID()

	c.SetUserID("bob", true)
	c.state.DispatchSync(func() {})

	assert.NotEqual(t, firstSession, c.SessionID())
	assert.Equal(t, "bob", c.UserID())

	events := queuedEvents(t, c)
	// session_start, first, session_end, session_start
	require.Len(t, events, 4)
	assert.Equal(t, domain.EndSessionEvent, events[2]["eventType"])
	assert.Equal(t, "alice", events[2]["userId"], "the end event belongs to the old identity")
	assert.Equal(t, domain.StartSessionEvent, events[3]["eventType"])
	assert.Equal(t, "bob", events[3]["userId"])

	api := events[3]["apiProperties"].(map[string]any)
	assert.Equal(t, domain.StartSessionEvent, api["special"])
}

func TestClient_ThresholdUploadsToCollector(t *testing.T) {
	stub := newCollectorStub(t)
	cfg := testConfig(t, stub)
	cfg.UploadThreshold = 2
	cfg.MaxBatchSize = 50

	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.LogEvent("first", nil))
	require.NoError(t, c.LogEvent("second", nil))

	require.Eventually(t, func() bool {
		return len(stub.received()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	uploaded := stub.received()
	assert.Equal(t, "first", uploaded[0]["eventType"])
	assert.Equal(t, "second", uploaded[1]["eventType"])
	assert.NotEmpty(t, uploaded[0]["serverUploadTime"])

	require.Eventually(t, func() bool {
		return len(queuedEvents(t, c)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_EvictsOldestWhenOverCapacity(t *testing.T) {
	c := newTestClient(t, func(cfg *Config) {
		cfg.MaxEventCount = 10
		cfg.RemoveBatchSize = 3
	})

	for i := 0; i < 11; i++ {
		_, err := c.LogEventSync("spam", nil)
		require.NoError(t, err)
	}

	events := queuedEvents(t, c)
	// 11 stored, then min(max(1, 10/10), 3) = 1 oldest evicted.
	require.Len(t, events, 10)
	assert.Equal(t, float64(2), events[0]["sequenceNumber"], "the oldest event is the one evicted")
}

func TestClient_OfflineQueuesUntilOnline(t *testing.T) {
	stub := newCollectorStub(t)
	cfg := testConfig(t, stub)
	cfg.UploadThreshold = 1
	cfg.Offline = true

	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.LogEventSync("queued_offline", nil)
	require.NoError(t, err)
	assert.Empty(t, stub.received())

	c.SetOffline(false)
	require.Eventually(t, func() bool {
		return len(stub.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInstanceManager(t *testing.T) {
	stub := newCollectorStub(t)
	dir := t.TempDir()

	m := NewInstanceManager()
	t.Cleanup(func() { m.Close() })

	base := testConfig(t, stub)
	base.DatabasePath = filepath.Join(dir, "default.db")

	a, err := m.Instance("", base)
	require.NoError(t, err)

	again, err := m.Instance("", Config{})
	require.NoError(t, err)
	assert.Same(t, a, again, "same name returns the same instance, ignoring config")

	other := testConfig(t, stub)
	other.DatabasePath = filepath.Join(dir, "other.db")
	b, err := m.Instance("Analytics", other)
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	upper, err := m.Instance("ANALYTICS", Config{})
	require.NoError(t, err)
	assert.Same(t, b, upper, "instance names are case-insensitive")

	require.NoError(t, m.Close())
}
