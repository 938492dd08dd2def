// Package listener receives UDP announce broadcasts from sensors on the
// local network and reports each valid one as a discovered device.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/accumulator/pkg/models"
)

// maxDatagram is the largest announce accepted.
const maxDatagram = 64 * 1024

// Listener owns one UDP socket.
type Listener struct {
	addr     string
	onDevice func(models.DiscoveredDevice)
	logger   *zap.Logger

	// malformed limits debug logging of junk traffic on a shared port.
	malformed *rate.Limiter

	mu   sync.Mutex
	conn net.PacketConn
	done chan struct{}
}

// New returns a stopped listener bound to bindHost:port once started.
func New(bindHost string, port int, onDevice func(models.DiscoveredDevice), logger *zap.Logger) *Listener {
	return &Listener{
		addr:      net.JoinHostPort(bindHost, strconv.Itoa(port)),
		onDevice:  onDevice,
		logger:    logger.Named("listener"),
		malformed: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Start binds the socket and begins serving in the background. Calling it
// on a started listener is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", l.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", l.addr, err)
	}
	l.conn = conn
	l.done = make(chan struct{})
	go l.serve(conn, l.done)

	l.logger.Info("udp listener started", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound address, or nil when stopped.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stop closes the socket and waits for the read loop to exit.
func (l *Listener) Stop() error {
	l.mu.Lock()
	conn, done := l.conn, l.done
	l.conn, l.done = nil, nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	l.logger.Info("udp listener stopped")
	return err
}

func (l *Listener) serve(conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Error("udp read failed", zap.Error(err))
			continue
		}
		l.handle(buf[:n], from)
	}
}

func (l *Listener) handle(b []byte, from net.Addr) {
	device, err := ParseAnnounce(b)
	if err != nil {
		if l.malformed.Allow() {
			l.logger.Debug("udp message dropped",
				zap.Stringer("from", from),
				zap.Error(err),
			)
		}
		return
	}

	l.logger.Info("announce received",
		zap.String("device_id", device.ID),
		zap.Strings("hosts", device.API.Hosts),
		zap.Int("port", device.API.Port),
		zap.String("path", device.API.Path),
		zap.Stringer("from", from),
	)
	l.onDevice(device)
}
