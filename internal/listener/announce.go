package listener

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HerbHall/accumulator/pkg/models"
)

// Announce message identity.
const (
	AnnounceType    = "senseair.sensor.announce"
	AnnounceVersion = 1
)

// defaultAPIPort is assumed when an announce omits api.port.
const defaultAPIPort = 80

var (
	// ErrNotJSON means the datagram was not a JSON object.
	ErrNotJSON = errors.New("datagram is not a json object")
	// ErrUnknownMessage means the type or version is not one we handle.
	ErrUnknownMessage = errors.New("unknown message type or version")
	// ErrMissingID means an otherwise valid announce had no device id.
	ErrMissingID = errors.New("announce without id")
)

// Announce is the v1 broadcast a sensor sends to advertise itself.
type Announce struct {
	Type    string   `json:"type"`
	Version float64  `json:"version"`
	ID      string   `json:"id"`
	IPs     []string `json:"ips"`
	API     *struct {
		Port int    `json:"port"`
		Path string `json:"path"`
	} `json:"api"`
	TS float64 `json:"ts"`
}

// ParseAnnounce decodes a datagram and maps it to a device.
func ParseAnnounce(b []byte) (models.DiscoveredDevice, error) {
	var msg Announce
	if err := json.Unmarshal(b, &msg); err != nil {
		return models.DiscoveredDevice{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if msg.Type != AnnounceType || msg.Version != AnnounceVersion {
		return models.DiscoveredDevice{}, fmt.Errorf("%w: type=%q version=%v", ErrUnknownMessage, msg.Type, msg.Version)
	}
	if msg.ID == "" {
		return models.DiscoveredDevice{}, ErrMissingID
	}
	return msg.Device(), nil
}

// Device maps the announce onto the discovery model.
func (a Announce) Device() models.DiscoveredDevice {
	ep := &models.Endpoint{
		Hosts:  append([]string(nil), a.IPs...),
		Port:   defaultAPIPort,
		Path:   "/",
		Scheme: models.DefaultScheme,
	}
	if a.API != nil {
		if a.API.Port > 0 {
			ep.Port = a.API.Port
		}
		if a.API.Path != "" {
			ep.Path = a.API.Path
		}
	}
	return models.DiscoveredDevice{
		ID:   a.ID,
		Kind: models.KindSenseair,
		API:  ep,
		Meta: map[string]any{
			"ts":      a.TS,
			"version": a.Version,
		},
	}
}
