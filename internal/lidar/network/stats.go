package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/velodyne/internal/timeutil"
)

// PacketStatsInterface provides packet statistics management
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddInvalid()
	AddPoints(count int)
	LogStats()
}

// PacketStats tracks packet statistics with thread-safe operations
type PacketStats struct {
	mu           sync.Mutex
	clock        timeutil.Clock
	packetCount  int64
	byteCount    int64
	droppedCount int64
	invalidCount int64
	pointCount   int64
	lastReset    time.Time
}

// StatsSnapshot is one reporting interval's counters.
type StatsSnapshot struct {
	Packets  int64
	Bytes    int64
	Dropped  int64 // lost on forward
	Invalid  int64 // wrong size or rejected by the decoder
	Points   int64
	Duration time.Duration
}

// NewPacketStats creates a new PacketStats instance. A nil clock uses the
// wall clock.
func NewPacketStats(clock timeutil.Clock) *PacketStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketStats{
		clock:     clock,
		lastReset: clock.Now(),
	}
}

// AddPacket increments packet count and byte count
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped increments the count of packets lost by the forwarder.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddInvalid increments the count of packets that could not be decoded.
func (ps *PacketStats) AddInvalid() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.invalidCount++
}

// AddPoints increments decoded point count
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
}

// GetAndReset returns current stats and resets counters
func (ps *PacketStats) GetAndReset() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	snap := StatsSnapshot{
		Packets:  ps.packetCount,
		Bytes:    ps.byteCount,
		Dropped:  ps.droppedCount,
		Invalid:  ps.invalidCount,
		Points:   ps.pointCount,
		Duration: now.Sub(ps.lastReset),
	}

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.invalidCount = 0
	ps.pointCount = 0
	ps.lastReset = now
	return snap
}

// LogStats writes the interval's rates to the diag stream and any loss to the
// ops stream, then resets the counters.
func (ps *PacketStats) LogStats() {
	snap := ps.GetAndReset()
	if snap.Packets == 0 && snap.Dropped == 0 && snap.Invalid == 0 {
		return
	}
	diagf("%s", snap.String())
	if snap.Dropped > 0 || snap.Invalid > 0 {
		opsf("packet loss: %d dropped on forward, %d invalid", snap.Dropped, snap.Invalid)
	}
}

func (s StatsSnapshot) String() string {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return fmt.Sprintf("Lidar stats: %d packets, %s points", s.Packets, FormatWithCommas(s.Points))
	}
	return fmt.Sprintf("Lidar stats (/sec): %.2f MB, %.1f packets, %s points",
		float64(s.Bytes)/secs/(1024*1024), float64(s.Packets)/secs, FormatWithCommas(int64(float64(s.Points)/secs)))
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if n < 0 {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var b []byte
	for i := range len(str) {
		if i > 0 && (len(str)-i)%3 == 0 {
			b = append(b, ',')
		}
		b = append(b, str[i])
	}
	return sign + string(b)
}

// noopStats is a PacketStatsInterface implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddDropped()   {}
func (noopStats) AddInvalid()   {}
func (noopStats) AddPoints(int) {}
func (noopStats) LogStats()     {}
