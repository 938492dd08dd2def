package models

// DeviceKind selects the adapter used to poll a device.
type DeviceKind = string

// KindSenseair is the kind assigned to Senseair CO2 sensors.
const KindSenseair DeviceKind = "senseair"

// DefaultScheme is used when an endpoint does not declare one.
const DefaultScheme = "http"

// Endpoint describes how to reach a device's HTTP API. Hosts are candidates
// tried in order.
type Endpoint struct {
	Hosts  []string `json:"hosts"`
	Port   int      `json:"port"`
	Path   string   `json:"path"`
	Scheme string   `json:"scheme,omitempty"`
}

// HasHosts reports whether the endpoint has at least one candidate host.
func (e *Endpoint) HasHosts() bool {
	return e != nil && len(e.Hosts) > 0
}

// SchemeOrDefault returns the endpoint scheme, falling back to DefaultScheme.
func (e *Endpoint) SchemeOrDefault() string {
	if e == nil || e.Scheme == "" {
		return DefaultScheme
	}
	return e.Scheme
}

// Clone returns a deep copy of the endpoint.
func (e *Endpoint) Clone() *Endpoint {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Hosts = append([]string(nil), e.Hosts...)
	return &cp
}

// DiscoveredDevice is produced by a discovery source each time a device
// announces itself.
type DiscoveredDevice struct {
	ID   string         `json:"id"`
	Kind DeviceKind     `json:"kind,omitempty"`
	API  *Endpoint      `json:"api,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// DeviceState is the read-only view of one registry record.
type DeviceState struct {
	ID         string          `json:"id"`
	Kind       DeviceKind      `json:"kind,omitempty"`
	LastSeenMs int64           `json:"lastSeenMs"`
	API        *Endpoint       `json:"api"`
	Snapshot   *SensorSnapshot `json:"snapshot"`
}

// State is the full registry view handed to the serving layer.
type State struct {
	Devices []DeviceState `json:"devices"`
}
