package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/velodyne/internal/timeutil"
)

// Datagram is one sensor payload handed to a PacketHandler. Data is owned by
// the handler and may be retained.
type Datagram struct {
	Seq       uint64    // position in the stream, starting at 0
	Data      []byte    // UDP payload
	Timestamp time.Time // receive or capture time
}

// PacketHandler consumes datagrams from a source. Returning an error stops
// the source, which returns the same error.
type PacketHandler func(Datagram) error

// UDPListener receives sensor datagrams on a UDP socket and hands them to a
// PacketHandler.
type UDPListener struct {
	address       string
	rcvBuf        int
	packetSize    int
	logInterval   time.Duration
	connMu        sync.RWMutex
	conn          UDPSocket
	stats         PacketStatsInterface
	forwarder     *PacketForwarder
	handler       PacketHandler
	socketFactory UDPSocketFactory
	clock         timeutil.Clock
	seq           uint64
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address       string // host:port, e.g. ":2368"
	RcvBuf        int    // socket receive buffer in bytes; 0 keeps the OS default
	PacketSize    int    // expected payload size; other sizes are counted invalid. 0 accepts all
	LogInterval   time.Duration
	Stats         PacketStatsInterface
	Forwarder     *PacketForwarder
	Handler       PacketHandler
	SocketFactory UDPSocketFactory // Optional: factory for creating UDP sockets (for testing)
	Clock         timeutil.Clock
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	l := &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		packetSize:    config.PacketSize,
		logInterval:   config.LogInterval,
		stats:         config.Stats,
		forwarder:     config.Forwarder,
		handler:       config.Handler,
		socketFactory: config.SocketFactory,
		clock:         config.Clock,
	}
	if l.stats == nil {
		l.stats = noopStats{}
	}
	if l.logInterval == 0 {
		l.logInterval = time.Minute
	}
	if l.socketFactory == nil {
		l.socketFactory = RealUDPSocketFactory{}
	}
	if l.clock == nil {
		l.clock = timeutil.RealClock{}
	}
	return l
}

// Start listens until ctx is cancelled, the socket is closed, or the handler
// fails. It returns ctx.Err() on cancellation and nil after Close.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			opsf("failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	diagf("UDP listener started on %s with receive buffer %d bytes", l.address, l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	// Velodyne data packets are 1206 bytes; leave room for oversize datagrams
	// so they are detected rather than truncated.
	buffer := make([]byte, 2048)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			diagf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// A short deadline keeps the loop responsive to cancellation.
		if err := conn.SetReadDeadline(l.clock.Now().Add(100 * time.Millisecond)); err != nil && !deadlineErrLogged {
			opsf("failed to set read deadline: %v", err)
			deadlineErrLogged = true
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			opsf("UDP read error: %v", err)
			continue
		}

		if err := l.handlePacket(buffer[:n], from); err != nil {
			return err
		}
	}
}

// startStatsLogging periodically logs packet statistics until ctx is done.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.stats.LogStats()
			return
		case <-ticker.C():
			l.stats.LogStats()
		}
	}
}

// handlePacket processes a single received UDP packet
func (l *UDPListener) handlePacket(packet []byte, from *net.UDPAddr) error {
	l.stats.AddPacket(len(packet))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}

	if l.packetSize > 0 && len(packet) != l.packetSize {
		l.stats.AddInvalid()
		tracef("dropping %d byte datagram from %v (want %d)", len(packet), from, l.packetSize)
		return nil
	}

	if l.handler == nil {
		return nil
	}

	// The read buffer is reused, so the handler gets its own copy.
	data := make([]byte, len(packet))
	copy(data, packet)
	dg := Datagram{Seq: l.seq, Data: data, Timestamp: l.clock.Now()}
	l.seq++
	return l.handler(dg)
}

// Close closes the listening socket, causing Start to return.
func (l *UDPListener) Close() error {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
