//go:build !windows

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/pkg/models"
)

// DefaultService is the DNS-SD service type sensors register.
const DefaultService = "_senseair._tcp"

const queryTimeout = 3 * time.Second

// MDNSBrowser periodically queries one service type and reports every
// answering instance as a discovered device.
type MDNSBrowser struct {
	service  string
	interval time.Duration
	onDevice func(models.DiscoveredDevice)
	logger   *zap.Logger

	// query is mdns.Query; replaced in tests.
	query func(*mdns.QueryParam) error
}

// NewMDNSBrowser creates a browser for service. An empty service selects
// DefaultService.
func NewMDNSBrowser(service string, interval time.Duration, onDevice func(models.DiscoveredDevice), logger *zap.Logger) *MDNSBrowser {
	if service == "" {
		service = DefaultService
	}
	return &MDNSBrowser{
		service:  service,
		interval: interval,
		onDevice: onDevice,
		logger:   logger.Named("mdns"),
		query:    mdns.Query,
	}
}

// Run queries immediately and then on every interval until ctx is cancelled.
func (b *MDNSBrowser) Run(ctx context.Context) {
	b.logger.Info("mDNS browser started",
		zap.String("service", b.service),
		zap.Duration("interval", b.interval),
	)

	b.browse(ctx)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("mDNS browser stopped")
			return
		case <-ticker.C:
			b.browse(ctx)
		}
	}
}

// browse runs one query and returns the number of devices reported.
func (b *MDNSBrowser) browse(ctx context.Context) int {
	entries := make(chan *mdns.ServiceEntry, 16)

	var found int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			if ctx.Err() != nil {
				continue
			}
			device, ok := EntryToDevice(entry, b.service)
			if !ok {
				continue
			}
			found++
			b.logger.Debug("mDNS instance resolved",
				zap.String("device_id", device.ID),
				zap.Strings("hosts", device.API.Hosts),
				zap.Int("port", device.API.Port),
			)
			b.onDevice(device)
		}
	}()

	params := mdns.DefaultParams(b.service)
	params.Timeout = queryTimeout
	params.Entries = entries

	if err := b.query(params); err != nil {
		b.logger.Debug("mDNS query failed", zap.Error(err))
	}
	close(entries)
	wg.Wait()

	b.logger.Debug("mDNS query complete", zap.Int("devices_found", found))
	return found
}
