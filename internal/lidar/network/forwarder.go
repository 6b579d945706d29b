package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DropCounter records packets the forwarder could not deliver.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder relays raw sensor datagrams to another UDP address without
// blocking the receive path. Packets are dropped when its queue is full.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string
}

// NewPacketForwarder creates a forwarder sending to address (host:port).
func NewPacketForwarder(address string, stats DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
	}, nil
}

// Start runs the forwarding goroutine until ctx is cancelled. Write failures
// are summarised on the ops stream once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
					f.stats.AddDropped()
				}
			case <-ticker.C:
				if droppedCount > 0 {
					opsf("dropped %d forwarded packets due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	diagf("forwarding packets to %s", f.address)
}

// ForwardAsync queues a copy of packet. If the queue is full the packet is
// dropped and counted.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		f.stats.AddDropped()
	}
}

// Close closes the UDP connection and channel. Do not call ForwardAsync
// after Close.
func (f *PacketForwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}
