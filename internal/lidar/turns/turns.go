// Package turns groups decoded packets into full sensor rotations.
package turns

import (
	"time"

	"github.com/banshee-data/velodyne/internal/lidar"
	"github.com/banshee-data/velodyne/internal/lidar/velodyne"
)

// Turn is one rotation's worth of points.
type Turn struct {
	Points  []lidar.Point
	Packets int

	// First-block azimuths (centi-degrees) of the first and last packet.
	StartAzimuth uint16
	EndAzimuth   uint16

	// Footer timestamps of the first and last packet, since the top of the hour.
	Start time.Duration
	End   time.Duration
}

// Assembler accumulates packets and closes a Turn each time the packet
// azimuth passes the split azimuth. The packet that crosses the split
// starts the next turn. An Assembler is not safe for concurrent use; feed it
// packets in stream order (see velodyne.Reorder).
type Assembler struct {
	split   uint16
	prev    uint16
	started bool
	capHint int
	cur     Turn
}

// NewAssembler returns an assembler splitting at splitAzimuth centi-degrees.
func NewAssembler(splitAzimuth uint16) *Assembler {
	a := &Assembler{}
	a.SetSplitAzimuth(splitAzimuth)
	return a
}

// SetSplitAzimuth sets the azimuth, in centi-degrees, at which the next turn
// begins. Values wrap modulo 36000.
func (a *Assembler) SetSplitAzimuth(v uint16) {
	a.split = v % velodyne.ROTATION_MAX_UNITS
}

// SplitAzimuth returns the configured split azimuth.
func (a *Assembler) SplitAzimuth() uint16 { return a.split }

// Add appends one packet's points. When the packet crosses the split
// azimuth the previous turn is returned with ok set; the first packet seen
// never completes a turn.
func (a *Assembler) Add(meta velodyne.PacketMeta, points []lidar.Point) (turn Turn, ok bool) {
	az := meta.Azimuth
	if a.started && crossed(a.prev, az, a.split) && a.cur.Packets > 0 {
		turn, ok = a.take(), true
	}
	a.started = true
	a.prev = az

	if a.cur.Packets == 0 {
		a.cur.Points = make([]lidar.Point, 0, a.capHint)
		a.cur.StartAzimuth = az
		a.cur.Start = time.Duration(meta.Timestamp) * time.Microsecond
	}
	a.cur.Points = append(a.cur.Points, points...)
	a.cur.Packets++
	a.cur.EndAzimuth = az
	a.cur.End = time.Duration(meta.Timestamp) * time.Microsecond
	return turn, ok
}

// Flush returns the partial turn being accumulated, if any.
func (a *Assembler) Flush() (Turn, bool) {
	if a.cur.Packets == 0 {
		return Turn{}, false
	}
	return a.take(), true
}

func (a *Assembler) take() Turn {
	t := a.cur
	a.cur = Turn{}
	// Grow the capacity hint by 10% so the next turn rarely reallocates.
	if hint := len(t.Points) * 11 / 10; hint > a.capHint {
		a.capHint = hint
	}
	return t
}

// crossed reports whether rotating from prev to cur passes split. A split
// equal to prev belongs to the turn that already started.
func crossed(prev, cur, split uint16) bool {
	if prev > cur {
		// Wrapped through 0.
		return !(prev >= split && split > cur)
	}
	return cur >= split && split > prev
}
