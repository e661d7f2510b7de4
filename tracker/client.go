// Package tracker is an embeddable analytics client: it composes events,
// queues them in a durable local store, and uploads them in bounded batches
// to a remote collector. Events carry a per-device sequence number and a
// session id so the collector can totally order them.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/user/event-tracker/internal/adapter/metrics"
	"github.com/user/event-tracker/internal/adapter/repository/sqlite"
	"github.com/user/event-tracker/internal/adapter/transport"
	"github.com/user/event-tracker/internal/domain"
	"github.com/user/event-tracker/internal/pkg/queue"
	"github.com/user/event-tracker/internal/usecase"
)

// Sentinel errors returned by logging calls.
var (
	ErrEmptyEventType = domain.ErrEmptyEventType
	ErrUninitialized  = domain.ErrUninitialized
)

// Property size limits applied to every event before it is queued.
const (
	maxStringLength = 1024
	maxPropertyKeys = 1000
)

// invalidDeviceIDs are identifiers some platforms hand out as placeholder or
// shared values. They are never accepted as a device id.
var invalidDeviceIDs = map[string]struct{}{
	"":                                     {},
	"unknown":                              {},
	"9774d56d682e549c":                     {},
	"000000000000000":                      {},
	"DEFACE":                               {},
	"00000000-0000-0000-0000-000000000000": {},
}

// EventOptions carries the optional parts of a logging call. The zero value
// is a plain event stamped with the current time.
type EventOptions struct {
	EventProperties      map[string]any
	UserProperties       map[string]any
	GlobalUserProperties map[string]any
	Groups               map[string]any
	GroupProperties      map[string]any

	// Timestamp overrides the event time. Zero means now.
	Timestamp time.Time

	// OutOfSession logs the event with no session attached and without
	// advancing the session clock.
	OutOfSession bool
}

// Client is a single tracker instance. All state mutations are serialized on
// an internal state queue; network calls run on a separate transport queue.
// Methods are safe for concurrent use.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	store   domain.EventStore
	state   *queue.Serial
	network *queue.Serial

	session  *usecase.SessionTracker
	uploader *usecase.Uploader
	metrics  *metrics.TrackerMetrics

	ready atomic.Bool

	// Everything below is touched only on the state queue.
	deviceID        string
	userID          string
	optOut          bool
	offline         bool
	sequenceNumber  int64
	lastEventID     int64
	device          DeviceSnapshot
	adID            string
	adIDSupported   bool
	limitAdTracking bool

	input      *TrackingOptions // configured options
	applied    *TrackingOptions // input plus the restricted-mode overlay
	restricted bool
	attributes map[string]any // device fields that survived the filter
}

// NewClient opens the durable store at cfg.DatabasePath, restores persisted
// identity and session state, and returns a ready client. The returned client
// must be closed to flush and release the store.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.ServerURL == "" {
		return nil, errors.New("tracker: ServerURL is required")
	}

	store, err := sqlite.NewEventStore(cfg.DatabasePath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "tracker"),
		store:   store,
		state:   queue.NewSerial("state"),
		network: queue.NewSerial("network"),
		metrics: metrics.NewTrackerMetrics(cfg.MetricsRegisterer),
		input:   cfg.TrackingOptions.Copy(),
	}
	c.applied = c.input.Copy()

	c.session = usecase.NewSessionTracker(store, usecase.SessionConfig{
		MinTimeBetweenSessions: cfg.MinTimeBetweenSessions,
		SessionTimeout:         cfg.SessionTimeout,
		TrackSessionEvents:     cfg.TrackSessionEvents,
	}, cfg.Logger)
	c.session.SetEmitter(func(eventType string, timestamp int64) {
		c.composeAndSave(eventType, map[string]any{"special": eventType}, nil, timestamp, false)
	})

	collector := transport.NewCollectorClient(transport.Config{
		BaseURL:  cfg.ServerURL,
		Username: cfg.Username,
		Password: cfg.Password,
	}, cfg.HTTPClient, cfg.Logger)

	c.uploader = usecase.NewUploader(store, collector, c.state, c.network, usecase.UploaderConfig{
		UploadThreshold: cfg.UploadThreshold,
		MaxBatchSize:    cfg.MaxBatchSize,
		UploadPeriod:    cfg.UploadPeriod,
	}, c.metrics, cfg.Logger, func() bool { return !c.optOut && !c.offline })

	var initErr error
	c.state.DispatchSync(func() { initErr = c.initialize(context.Background()) })
	if initErr != nil {
		c.state.Close()
		c.network.Close()
		store.Close()
		return nil, initErr
	}

	c.ready.Store(true)
	return c, nil
}

// initialize runs once on the state queue before the client is handed out.
func (c *Client) initialize(ctx context.Context) error {
	snap, err := c.cfg.Device.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("device snapshot failed, using defaults", "error", err)
		snap, _ = StaticSnapshotProvider{}.Snapshot(ctx)
	}
	c.device = snap

	adID, limit, err := c.cfg.AdvertisingIDs.AdvertisingID(ctx)
	if err != nil {
		c.logger.Warn("advertising id lookup failed", "error", err)
	} else {
		_, unsupported := c.cfg.AdvertisingIDs.(NoAdvertisingID)
		c.adID, c.limitAdTracking, c.adIDSupported = adID, limit, !unsupported
	}

	if err := c.initDeviceID(ctx); err != nil {
		return fmt.Errorf("initializing device id: %w", err)
	}

	if c.cfg.UserID != "" {
		c.userID = c.cfg.UserID
		if err := c.store.SetValue(ctx, domain.UserIDKey, c.userID); err != nil {
			return fmt.Errorf("persisting user id: %w", err)
		}
	} else if v, ok, err := c.store.Value(ctx, domain.UserIDKey); err != nil {
		return fmt.Errorf("loading user id: %w", err)
	} else if ok {
		c.userID = v
	}

	if c.cfg.OptOut {
		c.optOut = true
		if err := c.store.SetLongValue(ctx, domain.OptOutKey, 1); err != nil {
			return fmt.Errorf("persisting opt out: %w", err)
		}
	} else if v, ok, err := c.store.LongValue(ctx, domain.OptOutKey); err != nil {
		return fmt.Errorf("loading opt out: %w", err)
	} else if ok {
		c.optOut = v == 1
	}
	c.offline = c.cfg.Offline

	if v, ok, err := c.store.LongValue(ctx, domain.SequenceNumberKey); err != nil {
		return fmt.Errorf("loading sequence number: %w", err)
	} else if ok {
		c.sequenceNumber = v
	}
	if v, ok, err := c.store.LongValue(ctx, domain.LastEventIDKey); err != nil {
		return fmt.Errorf("loading last event id: %w", err)
	} else if ok {
		c.lastEventID = v
	}

	if err := c.session.Restore(ctx); err != nil {
		return fmt.Errorf("restoring session state: %w", err)
	}

	c.rebuildAttributes()
	return nil
}

// initDeviceID resolves the device identity: a fresh id when configured, the
// persisted one when valid, the advertising id when allowed, and otherwise a
// random id marked with an "R" suffix.
func (c *Client) initDeviceID(ctx context.Context) error {
	if !c.cfg.NewDeviceIDPerInstall {
		if v, ok, err := c.store.Value(ctx, domain.DeviceIDKey); err != nil {
			return err
		} else if ok {
			if _, invalid := invalidDeviceIDs[v]; !invalid {
				c.deviceID = v
				return nil
			}
		}
	}

	if c.cfg.UseAdvertisingIDForDeviceID && !c.limitAdTracking {
		if _, invalid := invalidDeviceIDs[c.adID]; !invalid {
			c.deviceID = c.adID
			return c.store.SetValue(ctx, domain.DeviceIDKey, c.deviceID)
		}
	}

	c.deviceID = randomDeviceID()
	return c.store.SetValue(ctx, domain.DeviceIDKey, c.deviceID)
}

// randomDeviceID generates a device id with an "R" suffix marking it as
// random rather than hardware-derived.
func randomDeviceID() string {
	return uuid.NewString() + "R"
}

// LogEvent queues an event asynchronously. Validation errors are returned
// immediately; storage happens on the state queue.
func (c *Client) LogEvent(eventType string, opts *EventOptions) error {
	if err := c.validate(eventType); err != nil {
		return err
	}
	o := cloneOptions(opts)
	ts := eventTimestamp(o)
	c.state.Dispatch(func() {
		c.composeAndSaveOpts(eventType, nil, o, ts)
	})
	return nil
}

// LogEventSync queues an event and waits for it to be durably stored,
// returning the assigned event id. It returns -1 with a nil error when the
// event was intentionally not stored (opt out).
func (c *Client) LogEventSync(eventType string, opts *EventOptions) (int64, error) {
	if err := c.validate(eventType); err != nil {
		return -1, err
	}
	o := cloneOptions(opts)
	ts := eventTimestamp(o)
	var id int64 = -1
	c.state.DispatchSync(func() {
		id = c.composeAndSaveOpts(eventType, nil, o, ts)
	})
	return id, nil
}

func (c *Client) validate(eventType string) error {
	if c == nil || !c.ready.Load() {
		return ErrUninitialized
	}
	if strings.TrimSpace(eventType) == "" {
		return ErrEmptyEventType
	}
	return nil
}

func eventTimestamp(o *EventOptions) int64 {
	if o != nil && !o.Timestamp.IsZero() {
		return o.Timestamp.UnixMilli()
	}
	return time.Now().UnixMilli()
}

// cloneOptions snapshots caller-owned maps so later mutation by the caller
// cannot race the state queue.
func cloneOptions(o *EventOptions) *EventOptions {
	if o == nil {
		return &EventOptions{}
	}
	return &EventOptions{
		EventProperties:      maps.Clone(o.EventProperties),
		UserProperties:       maps.Clone(o.UserProperties),
		GlobalUserProperties: maps.Clone(o.GlobalUserProperties),
		Groups:               maps.Clone(o.Groups),
		GroupProperties:      maps.Clone(o.GroupProperties),
		Timestamp:            o.Timestamp,
		OutOfSession:         o.OutOfSession,
	}
}

func (c *Client) composeAndSaveOpts(eventType string, apiProps map[string]any, o *EventOptions, timestamp int64) int64 {
	ev := c.compose(eventType, apiProps, o, timestamp)
	if ev == nil {
		return -1
	}
	return c.saveEvent(context.Background(), *ev)
}

// composeAndSave is the session boundary entry point: boundary events carry
// only apiProperties.
func (c *Client) composeAndSave(eventType string, apiProps map[string]any, o *EventOptions, timestamp int64, outOfSession bool) int64 {
	if o == nil {
		o = &EventOptions{OutOfSession: outOfSession}
	}
	return c.composeAndSaveOpts(eventType, apiProps, o, timestamp)
}

// compose builds the wire event. Must run on the state queue. Returns nil
// when the event is suppressed (opt out).
func (c *Client) compose(eventType string, apiProps map[string]any, o *EventOptions, timestamp int64) *domain.Event {
	ctx := context.Background()

	if c.optOut {
		c.metrics.EventsDropped.WithLabelValues("opt_out").Inc()
		return nil
	}

	boundary := eventType == domain.StartSessionEvent || eventType == domain.EndSessionEvent
	if !boundary && !o.OutOfSession {
		if !c.session.InForeground() {
			c.session.StartNewSessionIfNeeded(ctx, timestamp)
		} else {
			c.session.RefreshSessionTime(ctx, timestamp)
		}
	}

	sessionID := c.session.SessionID()
	if o.OutOfSession {
		sessionID = domain.NoSessionID
	}

	versionName := c.applied.ShouldTrack(FieldVersionName)
	ev := &domain.Event{
		UUID:           uuid.NewString(),
		EventType:      eventType,
		EventTime:      domain.FormatEventTime(time.UnixMilli(timestamp)),
		SequenceNumber: c.nextSequenceNumber(ctx),
		SessionID:      sessionID,
		UserID:         c.userID,
		DeviceID:       c.deviceID,
		Library:        LibraryName + "/" + Version,
		Attributes:     c.attributes,

		APIProperties:        c.apiProperties(apiProps),
		Groups:               c.truncate(o.Groups),
		EventProperties:      c.truncate(o.EventProperties),
		UserProperties:       c.truncate(o.UserProperties),
		GlobalUserProperties: c.truncate(o.GlobalUserProperties),
		GroupProperties:      c.truncate(o.GroupProperties),
	}
	if versionName {
		ev.VersionName = c.device.VersionName
	}
	return ev
}

// apiProperties merges the per-event api properties with the instance-level
// ones: disabled server-side fields and the advertising identifiers.
func (c *Client) apiProperties(extra map[string]any) map[string]any {
	api := make(map[string]any)
	maps.Copy(api, extra)
	if overrides := c.applied.ServerSideOverrides(); overrides != nil {
		api["tracking_options"] = overrides
	}
	if c.applied.ShouldTrack(FieldADID) && c.adID != "" {
		api["adid"] = c.adID
	}
	if c.adIDSupported {
		api["adTrackingSupported"] = true
		api["limitAdTracking"] = c.limitAdTracking
	}
	if len(api) == 0 {
		return nil
	}
	return api
}

// saveEvent appends the event, enforces the queue bound, and feeds the upload
// trigger. Must run on the state queue.
func (c *Client) saveEvent(ctx context.Context, ev domain.Event) int64 {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("failed to serialize event", "event_type", ev.EventType, "error", err)
		c.metrics.EventsDropped.WithLabelValues("serialization").Inc()
		return -1
	}

	id, err := c.store.AddEvent(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrStoreBusy) {
			c.logger.Warn("store busy, event deferred", "event_type", ev.EventType)
		} else {
			c.logger.Error("failed to store event", "event_type", ev.EventType, "error", err)
		}
		c.metrics.EventsDropped.WithLabelValues("store").Inc()
		return -1
	}
	c.metrics.EventsStored.Inc()

	c.lastEventID = id
	if err := c.store.SetLongValue(ctx, domain.LastEventIDKey, id); err != nil {
		c.logger.Warn("failed to persist last event id", "error", err)
	}

	count, err := c.store.EventCount(ctx)
	if err != nil {
		c.logger.Warn("failed to count events", "error", err)
		return id
	}
	if count > c.cfg.MaxEventCount {
		n := c.evictionBatch()
		if err := c.store.EvictOldest(ctx, n); err != nil {
			c.logger.Warn("failed to evict oldest events", "error", err)
		} else {
			c.metrics.EventsDropped.WithLabelValues("evicted").Add(float64(n))
			c.logger.Warn("event queue over capacity, oldest events evicted", "evicted", n)
		}
		if count, err = c.store.EventCount(ctx); err != nil {
			c.logger.Warn("failed to count events", "error", err)
			return id
		}
	}
	c.metrics.QueueDepth.Set(float64(count))

	c.uploader.EventSaved(count)
	return id
}

// evictionBatch is how many oldest events are dropped when the queue exceeds
// its bound: a tenth of the capacity, at least one, at most RemoveBatchSize.
func (c *Client) evictionBatch() int64 {
	n := c.cfg.MaxEventCount / 10
	if n < 1 {
		n = 1
	}
	if n > c.cfg.RemoveBatchSize {
		n = c.cfg.RemoveBatchSize
	}
	return n
}

func (c *Client) nextSequenceNumber(ctx context.Context) int64 {
	c.sequenceNumber++
	if err := c.store.SetLongValue(ctx, domain.SequenceNumberKey, c.sequenceNumber); err != nil {
		c.logger.Warn("failed to persist sequence number", "error", err)
	}
	return c.sequenceNumber
}

// truncate enforces the property size limits: strings are cut at
// maxStringLength runes, nested maps and slices are walked, and a map with
// more than maxPropertyKeys keys is replaced with an empty one.
func (c *Client) truncate(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	if len(m) > maxPropertyKeys {
		c.logger.Warn("too many properties, dropping all", "keys", len(m))
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = c.truncateValue(v)
	}
	return out
}

func (c *Client) truncateValue(v any) any {
	switch t := v.(type) {
	case string:
		if r := []rune(t); len(r) > maxStringLength {
			return string(r[:maxStringLength])
		}
		return t
	case map[string]any:
		return c.truncate(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = c.truncateValue(e)
		}
		return out
	default:
		return v
	}
}

// rebuildAttributes recomputes the cached device fields from the snapshot and
// the applied tracking options. Must run on the state queue.
func (c *Client) rebuildAttributes() {
	attrs := make(map[string]any)
	put := func(field, key string, v any) {
		if !c.applied.ShouldTrack(field) {
			return
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				return
			}
		case int:
			if t == 0 {
				return
			}
		}
		attrs[key] = v
	}

	d := c.device
	put(FieldOSName, "osName", d.OSName)
	put(FieldOSVersion, "osVersion", d.OSVersion)
	put(FieldAPILevel, "apiLevel", d.APILevel)
	put(FieldDeviceBrand, "deviceBrand", d.Brand)
	put(FieldDeviceManufacturer, "deviceManufacturer", d.Manufacturer)
	put(FieldDeviceModel, "deviceModel", d.Model)
	put(FieldCarrier, "carrier", d.Carrier)
	put(FieldCountry, "country", d.Country)
	put(FieldLanguage, "language", d.Language)
	put(FieldPlatform, "platform", d.Platform)
	if c.applied.ShouldTrack(FieldLatLng) && d.Location != nil {
		attrs["latitude"] = d.Location.Latitude
		attrs["longitude"] = d.Location.Longitude
	}
	c.attributes = attrs
}

// SetUserID changes the user identity. With startNewSession the current
// session is closed under the old identity and a new one opened under the new
// identity.
func (c *Client) SetUserID(userID string, startNewSession bool) {
	c.state.Dispatch(func() {
		ctx := context.Background()
		if startNewSession {
			c.session.EndSession()
		}
		c.userID = userID
		if err := c.store.SetValue(ctx, domain.UserIDKey, userID); err != nil {
			c.logger.Warn("failed to persist user id", "error", err)
		}
		if startNewSession {
			c.session.BeginSession(ctx, time.Now().UnixMilli())
		}
	})
}

// SetDeviceID overrides the device identity. Placeholder identifiers from the
// denylist are rejected with a warning.
func (c *Client) SetDeviceID(deviceID string) {
	if _, invalid := invalidDeviceIDs[deviceID]; invalid {
		c.logger.Warn("rejecting invalid device id", "device_id", deviceID)
		return
	}
	c.state.Dispatch(func() {
		c.deviceID = deviceID
		if err := c.store.SetValue(context.Background(), domain.DeviceIDKey, deviceID); err != nil {
			c.logger.Warn("failed to persist device id", "error", err)
		}
	})
}

// RegenerateDeviceID discards the current device identity for a fresh random
// one.
func (c *Client) RegenerateDeviceID() {
	c.state.Dispatch(func() {
		c.deviceID = randomDeviceID()
		if err := c.store.SetValue(context.Background(), domain.DeviceIDKey, c.deviceID); err != nil {
			c.logger.Warn("failed to persist device id", "error", err)
		}
	})
}

// SetOptOut toggles tracking. While opted out events are discarded before
// composition; already queued events still upload.
func (c *Client) SetOptOut(optOut bool) {
	c.state.Dispatch(func() {
		c.optOut = optOut
		var v int64
		if optOut {
			v = 1
		}
		if err := c.store.SetLongValue(context.Background(), domain.OptOutKey, v); err != nil {
			c.logger.Warn("failed to persist opt out", "error", err)
		}
	})
}

// SetOffline suspends or resumes uploads. Events keep queuing while offline;
// going back online triggers an upload.
func (c *Client) SetOffline(offline bool) {
	c.state.Dispatch(func() {
		c.offline = offline
		if !offline {
			c.uploader.Trigger()
		}
	})
}

// SetTrackingOptions replaces the configured tracking filter and recomputes
// the cached device fields.
func (c *Client) SetTrackingOptions(opts *TrackingOptions) {
	if opts == nil {
		opts = NewTrackingOptions()
	}
	snapshot := opts.Copy()
	c.state.Dispatch(func() {
		c.input = snapshot
		c.applyTrackingOptions()
	})
}

// EnableRestrictedDataMode force-disables the sensitive identity and location
// fields on top of the configured options, for audiences that must not be
// precisely tracked.
func (c *Client) EnableRestrictedDataMode() { c.setRestricted(true) }

// DisableRestrictedDataMode restores the configured tracking options.
func (c *Client) DisableRestrictedDataMode() { c.setRestricted(false) }

func (c *Client) setRestricted(on bool) {
	c.state.Dispatch(func() {
		c.restricted = on
		c.applyTrackingOptions()
	})
}

// applyTrackingOptions recomputes the applied filter from the configured
// options and the restricted-mode overlay. Must run on the state queue.
func (c *Client) applyTrackingOptions() {
	applied := c.input.Copy()
	if c.restricted {
		applied.MergeIn(forRestrictedMode())
	}
	c.applied = applied
	c.rebuildAttributes()
}

// EnterForeground reports an app foreground transition at the given time and
// switches session expiry to the short foreground gap. A zero time means now.
func (c *Client) EnterForeground(at time.Time) {
	ts := foregroundTimestamp(at)
	c.state.Dispatch(func() {
		c.session.UseForegroundTracking()
		c.session.EnterForeground(context.Background(), ts)
	})
}

// ExitForeground reports an app background transition. Identity state is
// re-persisted and, when FlushOnClose is set, pending events are uploaded.
func (c *Client) ExitForeground(at time.Time) {
	ts := foregroundTimestamp(at)
	c.state.Dispatch(func() {
		ctx := context.Background()
		c.session.ExitForeground(ctx, ts)
		c.persistIdentity(ctx)
		if c.cfg.FlushOnClose {
			c.uploader.Trigger()
		}
	})
}

func foregroundTimestamp(at time.Time) int64 {
	if at.IsZero() {
		return time.Now().UnixMilli()
	}
	return at.UnixMilli()
}

// persistIdentity rewrites the identity scalars. The store already persists
// them on change; this is a recovery point before the host app may be killed.
func (c *Client) persistIdentity(ctx context.Context) {
	var v int64
	if c.optOut {
		v = 1
	}
	for _, err := range []error{
		c.store.SetValue(ctx, domain.DeviceIDKey, c.deviceID),
		c.store.SetValue(ctx, domain.UserIDKey, c.userID),
		c.store.SetLongValue(ctx, domain.OptOutKey, v),
		c.store.SetLongValue(ctx, domain.SequenceNumberKey, c.sequenceNumber),
		c.store.SetLongValue(ctx, domain.LastEventIDKey, c.lastEventID),
	} {
		if err != nil {
			c.logger.Warn("failed to persist identity state", "error", err)
		}
	}
}

// UploadEvents requests an immediate upload of queued events.
func (c *Client) UploadEvents() {
	c.uploader.Trigger()
}

// DeviceID returns the current device identity.
func (c *Client) DeviceID() string {
	var v string
	c.state.DispatchSync(func() { v = c.deviceID })
	return v
}

// UserID returns the current user identity, or empty.
func (c *Client) UserID() string {
	var v string
	c.state.DispatchSync(func() { v = c.userID })
	return v
}

// SessionID returns the active session id, or -1 when no session is active.
func (c *Client) SessionID() int64 {
	v := domain.NoSessionID
	c.state.DispatchSync(func() { v = c.session.SessionID() })
	return v
}

// OptedOut reports whether tracking is currently disabled.
func (c *Client) OptedOut() bool {
	var v bool
	c.state.DispatchSync(func() { v = c.optOut })
	return v
}

// Close flushes (when FlushOnClose is set), drains both work queues, and
// closes the store. The client is unusable afterwards.
func (c *Client) Close() error {
	if !c.ready.Swap(false) {
		return nil
	}
	if c.cfg.FlushOnClose {
		c.uploader.Trigger()
		// The upload result re-enters the state queue from the network
		// queue, so barrier each queue in turn: state runs the cycle,
		// network delivers the batch, state applies the completion. Only
		// then is it safe to shut the queues down.
		c.state.DispatchSync(func() {})
		c.network.DispatchSync(func() {})
		c.state.DispatchSync(func() {})
	}
	c.state.Close()
	c.network.Close()
	return c.store.Close()
}
