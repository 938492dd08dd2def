package testutil

import (
	"github.com/google/uuid"

	"github.com/HerbHall/accumulator/pkg/models"
)

// NewDevice returns a senseair DiscoveredDevice with one loopback host.
// Override individual fields with options.
func NewDevice(opts ...func(*models.DiscoveredDevice)) models.DiscoveredDevice {
	d := models.DiscoveredDevice{
		ID:   uuid.NewString(),
		Kind: models.KindSenseair,
		API: &models.Endpoint{
			Hosts:  []string{"127.0.0.1"},
			Port:   80,
			Path:   "/api/v1/sensor",
			Scheme: "http",
		},
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithID sets the device id.
func WithID(id string) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) { d.ID = id }
}

// WithKind sets the adapter kind.
func WithKind(kind string) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) { d.Kind = kind }
}

// WithHosts replaces the candidate host list.
func WithHosts(hosts ...string) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) {
		if d.API == nil {
			d.API = &models.Endpoint{}
		}
		d.API.Hosts = hosts
	}
}

// WithEndpoint replaces the whole endpoint; nil removes it.
func WithEndpoint(ep *models.Endpoint) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) { d.API = ep }
}
