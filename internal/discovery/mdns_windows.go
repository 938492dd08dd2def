//go:build windows

package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/pkg/models"
)

// DefaultService is the DNS-SD service type sensors register.
const DefaultService = "_senseair._tcp"

// MDNSBrowser is a no-op on Windows where multicast DNS is not reliably
// supported.
type MDNSBrowser struct{}

// NewMDNSBrowser returns a no-op browser on Windows.
func NewMDNSBrowser(_ string, _ time.Duration, _ func(models.DiscoveredDevice), _ *zap.Logger) *MDNSBrowser {
	return &MDNSBrowser{}
}

// Run blocks until ctx is cancelled.
func (b *MDNSBrowser) Run(ctx context.Context) {
	<-ctx.Done()
}
