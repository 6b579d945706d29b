// Package lidar holds the sensor-independent point type produced by the
// packet decoders, plus rigid transforms for placing points in a site frame.
package lidar

import "time"

// Return index values carried by Point.ReturnIndex.
const (
	ReturnPrimary   = 0 // single-return mode, or the first (last-return) block in dual mode
	ReturnSecondary = 1 // second (strongest-return) block in dual mode
	ReturnBoth      = 2 // dual mode where both returns measured the same distance
)

// Point is one calibrated return in the sensor frame.
// Coordinate convention: X=forward, Y=left, Z=up (meters).
type Point struct {
	X, Y, Z float64

	Distance  float64 // corrected range in meters
	Azimuth   float64 // interpolated firing azimuth in degrees, [0, 360)
	Elevation float64 // laser vertical angle in degrees

	Intensity   uint8
	Channel     int // calibration channel
	ReturnIndex int // ReturnPrimary, ReturnSecondary or ReturnBoth
	BlockID     int // data block index within the packet

	// Timestamp is the time since the top of the hour at which the laser fired.
	Timestamp time.Duration
}

// Time converts the point timestamp to an absolute time. hour is any time
// inside the hour the packet was captured in; it is truncated to the hour.
func (p Point) Time(hour time.Time) time.Time {
	return hour.Truncate(time.Hour).Add(p.Timestamp)
}
