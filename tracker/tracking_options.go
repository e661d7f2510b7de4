package tracker

// Trackable device and location fields. Each can be disabled independently;
// a disabled field is omitted from every composed event.
const (
	FieldADID               = "adid"
	FieldAPILevel           = "api_level"
	FieldCarrier            = "carrier"
	FieldCity               = "city"
	FieldCountry            = "country"
	FieldDeviceBrand        = "device_brand"
	FieldDeviceManufacturer = "device_manufacturer"
	FieldDeviceModel        = "device_model"
	FieldDMA                = "dma"
	FieldIPAddress          = "ip_address"
	FieldLanguage           = "language"
	FieldLatLng             = "lat_lng"
	FieldOSName             = "os_name"
	FieldOSVersion          = "os_version"
	FieldPlatform           = "platform"
	FieldRegion             = "region"
	FieldVersionName        = "version_name"
)

// serverSideFields are resolved by the collector rather than the client; when
// disabled they are reported in the wire record so the collector knows not to
// derive them.
var serverSideFields = []string{
	FieldCity,
	FieldCountry,
	FieldDMA,
	FieldIPAddress,
	FieldLatLng,
	FieldRegion,
}

// restrictedFields are always disabled while restricted data mode is active,
// regardless of user configuration.
var restrictedFields = []string{
	FieldADID,
	FieldCity,
	FieldIPAddress,
	FieldLatLng,
}

// TrackingOptions is a set of disabled tracking fields. The zero value (via
// NewTrackingOptions) tracks everything.
type TrackingOptions struct {
	disabled map[string]struct{}
}

// NewTrackingOptions returns options with no fields disabled.
func NewTrackingOptions() *TrackingOptions {
	return &TrackingOptions{disabled: make(map[string]struct{})}
}

// Disable marks the given fields as not tracked and returns the options for
// chaining.
func (o *TrackingOptions) Disable(fields ...string) *TrackingOptions {
	for _, f := range fields {
		o.disabled[f] = struct{}{}
	}
	return o
}

// ShouldTrack reports whether the field is tracked.
func (o *TrackingOptions) ShouldTrack(field string) bool {
	_, disabled := o.disabled[field]
	return !disabled
}

// Copy returns an independent copy of the options.
func (o *TrackingOptions) Copy() *TrackingOptions {
	out := NewTrackingOptions()
	for f := range o.disabled {
		out.disabled[f] = struct{}{}
	}
	return out
}

// MergeIn adds the other options' disabled fields to this set.
func (o *TrackingOptions) MergeIn(other *TrackingOptions) *TrackingOptions {
	for f := range other.disabled {
		o.disabled[f] = struct{}{}
	}
	return o
}

// Equal reports whether both option sets disable exactly the same fields.
func (o *TrackingOptions) Equal(other *TrackingOptions) bool {
	if len(o.disabled) != len(other.disabled) {
		return false
	}
	for f := range o.disabled {
		if _, ok := other.disabled[f]; !ok {
			return false
		}
	}
	return true
}

// ServerSideOverrides returns the disabled server-side fields as an explicit
// {field: false} mapping for the wire record. Empty when nothing relevant is
// disabled.
func (o *TrackingOptions) ServerSideOverrides() map[string]any {
	if len(o.disabled) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, f := range serverSideFields {
		if _, disabled := o.disabled[f]; disabled {
			out[f] = false
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// forRestrictedMode returns the mandatory overlay applied while restricted
// data mode is active.
func forRestrictedMode() *TrackingOptions {
	return NewTrackingOptions().Disable(restrictedFields...)
}
