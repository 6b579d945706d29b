package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/velodyne/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStats implements PacketStatsInterface for testing
type countingStats struct {
	mu       sync.Mutex
	packets  int
	bytes    int
	dropped  int
	invalid  int
	points   int
	logCalls int
}

func (s *countingStats) AddPacket(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	s.bytes += bytes
}

func (s *countingStats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

func (s *countingStats) AddInvalid() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid++
}

func (s *countingStats) AddPoints(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points += count
}

func (s *countingStats) LogStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logCalls++
}

func sensorAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("192.168.1.201"), Port: 2368}
}

func TestNewUDPListener_Defaults(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: ":2368"})

	assert.Equal(t, time.Minute, l.logInterval)
	assert.IsType(t, noopStats{}, l.stats)
	assert.IsType(t, RealUDPSocketFactory{}, l.socketFactory)
	assert.IsType(t, timeutil.RealClock{}, l.clock)
}

func TestUDPListener_DeliversDatagrams(t *testing.T) {
	sock := NewMockUDPSocket([]MockUDPPacket{
		{Data: make([]byte, 1206), Addr: sensorAddr()},
		{Data: make([]byte, 512), Addr: sensorAddr()}, // wrong size
		{Data: []byte{1, 2, 3, 4}, Addr: sensorAddr()},
		{Data: make([]byte, 1206), Addr: sensorAddr()},
	})
	sock.Packets[3].Data[0] = 0xFF
	factory := &MockUDPSocketFactory{Socket: sock}
	stats := &countingStats{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []Datagram
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		RcvBuf:        4 << 20,
		PacketSize:    1206,
		Stats:         stats,
		SocketFactory: factory,
		Handler: func(dg Datagram) error {
			got = append(got, dg)
			if len(got) == 2 {
				cancel()
			}
			return nil
		},
	})

	err := l.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].Seq)
	assert.Equal(t, uint64(1), got[1].Seq)
	assert.Equal(t, byte(0xFF), got[1].Data[0])
	assert.False(t, got[1].Timestamp.IsZero())

	assert.Equal(t, 4, stats.packets)
	assert.Equal(t, 2, stats.invalid)
	assert.Equal(t, 4<<20, sock.ReadBufferSize)
	assert.True(t, sock.IsClosed())
	require.Len(t, factory.Addrs, 1)
	assert.Equal(t, 2368, factory.Addrs[0].Port)
}

func TestUDPListener_HandlerOwnsData(t *testing.T) {
	first := make([]byte, 1206)
	first[10] = 0xAA
	second := make([]byte, 1206)
	second[10] = 0xBB
	sock := NewMockUDPSocket([]MockUDPPacket{{Data: first}, {Data: second}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var kept [][]byte
	l := NewUDPListener(UDPListenerConfig{
		Address:       ":2368",
		SocketFactory: &MockUDPSocketFactory{Socket: sock},
		Handler: func(dg Datagram) error {
			kept = append(kept, dg.Data)
			if len(kept) == 2 {
				cancel()
			}
			return nil
		},
	})
	_ = l.Start(ctx)

	require.Len(t, kept, 2)
	assert.Equal(t, byte(0xAA), kept[0][10], "first datagram overwritten by second read")
	assert.Equal(t, byte(0xBB), kept[1][10])
}

func TestUDPListener_HandlerErrorStops(t *testing.T) {
	sock := NewMockUDPSocket([]MockUDPPacket{{Data: make([]byte, 1206)}})
	errStop := errors.New("consumer gone")

	l := NewUDPListener(UDPListenerConfig{
		Address:       ":2368",
		SocketFactory: &MockUDPSocketFactory{Socket: sock},
		Handler:       func(Datagram) error { return errStop },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, l.Start(ctx), errStop)
}

func TestUDPListener_ListenError(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{
		Address:       ":2368",
		SocketFactory: &MockUDPSocketFactory{Error: errors.New("address in use")},
	})
	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestUDPListener_BadAddress(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "not an address"})
	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve")
}

func TestUDPListener_ClosedSocketReturnsNil(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	sock.ReadError = net.ErrClosed
	l := NewUDPListener(UDPListenerConfig{
		Address:       ":2368",
		SocketFactory: &MockUDPSocketFactory{Socket: sock},
	})
	assert.NoError(t, l.Start(context.Background()))
}

func TestUDPListener_LogsStatsOnTicker(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	stats := &countingStats{}
	l := NewUDPListener(UDPListenerConfig{
		Stats:       stats,
		Clock:       clock,
		LogInterval: 10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.startStatsLogging(ctx)
		close(done)
	}()

	// Wait for the ticker to be registered before advancing.
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Second)
		stats.mu.Lock()
		defer stats.mu.Unlock()
		return stats.logCalls > 0
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.GreaterOrEqual(t, stats.logCalls, 2, "final stats flush on shutdown")
}
