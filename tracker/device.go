package tracker

import (
	"context"
	"runtime"
)

// Location is a latitude/longitude pair from the platform's most recent fix.
type Location struct {
	Latitude  float64
	Longitude float64
}

// DeviceSnapshot describes the host platform. It is captured once when the
// client initializes and reused for every event.
type DeviceSnapshot struct {
	VersionName  string
	OSName       string
	OSVersion    string
	APILevel     int
	Brand        string
	Manufacturer string
	Model        string
	Carrier      string
	Country      string
	Language     string
	Platform     string
	Location     *Location
}

// SnapshotProvider supplies the device snapshot. Implementations may probe
// the platform; the client calls it exactly once, on its own worker.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (DeviceSnapshot, error)
}

// AdvertisingIDProvider is an optional capability for platforms that expose
// an advertising identifier. Platforms without one use NoAdvertisingID.
type AdvertisingIDProvider interface {
	// AdvertisingID returns the identifier and whether the user has limited
	// ad tracking. An empty identifier means none is available.
	AdvertisingID(ctx context.Context) (id string, limitTracking bool, err error)
}

// NoAdvertisingID is the AdvertisingIDProvider for platforms without an
// advertising identifier.
type NoAdvertisingID struct{}

func (NoAdvertisingID) AdvertisingID(context.Context) (string, bool, error) {
	return "", false, nil
}

// StaticSnapshotProvider returns a fixed snapshot. It is the default provider
// and the one tests use.
type StaticSnapshotProvider struct {
	Info DeviceSnapshot
}

func (p StaticSnapshotProvider) Snapshot(context.Context) (DeviceSnapshot, error) {
	info := p.Info
	if info.Platform == "" {
		info.Platform = runtime.GOOS
	}
	if info.OSName == "" {
		info.OSName = runtime.GOOS
	}
	return info, nil
}
