package tracker

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Version is the library version reported in every event.
const Version = "1.0.0"

// LibraryName identifies this client library on the wire.
const LibraryName = "event-tracker-go"

// Default pipeline tuning values, used where Config leaves a field zero.
const (
	DefaultUploadThreshold        int64 = 30
	DefaultMaxBatchSize           int64 = 50
	DefaultMaxEventCount          int64 = 1000
	DefaultRemoveBatchSize        int64 = 20
	DefaultUploadPeriod                 = 30 * time.Second
	DefaultMinTimeBetweenSessions       = 5 * time.Minute
	DefaultSessionTimeout               = 30 * time.Minute
	DefaultDatabasePath                 = "event-tracker.db"
)

// RequestExecutor executes a single HTTP request. *http.Client satisfies it.
type RequestExecutor interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client. Zero-valued tuning fields take the defaults
// above; ServerURL, Username and Password are required.
type Config struct {
	// ServerURL is the collector base URL, e.g. "https://collector.example.com/v1/".
	ServerURL string

	// Username and Password are the credentials exchanged for a bearer token.
	Username string
	Password string

	// DatabasePath is the SQLite file backing the durable queue. Instances
	// must not share a path.
	DatabasePath string

	// UserID optionally pins the user identity at startup; otherwise the
	// persisted value is used.
	UserID string

	// NewDeviceIDPerInstall discards any persisted device id on startup and
	// generates a fresh one.
	NewDeviceIDPerInstall bool

	// UseAdvertisingIDForDeviceID derives the device id from the advertising
	// identifier when the capability reports one and tracking is not limited.
	UseAdvertisingIDForDeviceID bool

	// TrackSessionEvents emits synthetic session_start / session_end events
	// at session boundaries.
	TrackSessionEvents bool

	// FlushOnClose uploads pending events when the app reports an exit to
	// background and when the client closes.
	FlushOnClose bool

	// Offline starts the client with uploads suspended.
	Offline bool

	// OptOut starts the client with tracking disabled, overriding the
	// persisted value.
	OptOut bool

	UploadThreshold        int64
	MaxBatchSize           int64
	MaxEventCount          int64
	RemoveBatchSize        int64
	UploadPeriod           time.Duration
	MinTimeBetweenSessions time.Duration
	SessionTimeout         time.Duration

	// TrackingOptions disables individual device/location fields. Nil tracks
	// everything.
	TrackingOptions *TrackingOptions

	// Device supplies the platform snapshot. Nil means a static snapshot with
	// runtime defaults.
	Device SnapshotProvider

	// AdvertisingIDs is the optional advertising identifier capability. Nil
	// means the platform has none.
	AdvertisingIDs AdvertisingIDProvider

	// HTTPClient overrides the executor used for collector calls.
	HTTPClient RequestExecutor

	// MetricsRegisterer receives this instance's metrics. Nil disables
	// registration (metrics are still collected on a throwaway registry).
	MetricsRegisterer prometheus.Registerer

	// Logger receives structured logs. Nil means slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.UploadThreshold <= 0 {
		c.UploadThreshold = DefaultUploadThreshold
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxEventCount <= 0 {
		c.MaxEventCount = DefaultMaxEventCount
	}
	if c.RemoveBatchSize <= 0 {
		c.RemoveBatchSize = DefaultRemoveBatchSize
	}
	if c.UploadPeriod <= 0 {
		c.UploadPeriod = DefaultUploadPeriod
	}
	if c.MinTimeBetweenSessions <= 0 {
		c.MinTimeBetweenSessions = DefaultMinTimeBetweenSessions
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.TrackingOptions == nil {
		c.TrackingOptions = NewTrackingOptions()
	}
	if c.Device == nil {
		c.Device = StaticSnapshotProvider{}
	}
	if c.AdvertisingIDs == nil {
		c.AdvertisingIDs = NoAdvertisingID{}
	}
	if c.MetricsRegisterer == nil {
		c.MetricsRegisterer = prometheus.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
