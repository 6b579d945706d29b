package velodyne

import (
	"math"
	"time"

	"github.com/banshee-data/velodyne/internal/lidar"
)

// synthesize walks a validated packet firing by firing and yields one point
// per non-zero return. Within a firing, slots are visited in firing order and
// the returns of each slot are emitted together, so the interpolated azimuth
// never decreases inside a packet except across the 360° wrap.
func (d *Decoder) synthesize(pkt *Packet, yield func(lidar.Point) bool) {
	mode := pkt.Footer.ReturnMode
	returns := mode.Returns()
	firings := d.spec.BlocksPerPacket / returns
	resolver := Resolver{Mode: mode, Policy: d.policy}
	base := time.Duration(pkt.Footer.Timestamp) * time.Microsecond

	var gap float64
	for f := 0; f < firings; f++ {
		first := f * returns
		block := &pkt.Blocks[first]
		if f+1 < firings {
			gap = float64(azimuthGap(block.Azimuth, pkt.Blocks[first+returns].Azimuth))
		}
		// The last firing has no successor and reuses the previous gap.

		for _, slot := range d.timing.order {
			channel := d.spec.ChannelForSlot(block.Flag, slot)
			entry := &d.calib.entries[channel]

			azimuth := float64(block.Azimuth) + gap*d.timing.Fraction(slot)
			if azimuth >= ROTATION_MAX_UNITS {
				azimuth -= ROTATION_MAX_UNITS
			}

			var samples [2]Sample
			samples[0] = block.Samples[slot]
			if returns > 1 {
				samples[1] = pkt.Blocks[first+1].Samples[slot]
			}

			resolved, n := resolver.Resolve(samples)
			for i := 0; i < n; i++ {
				r := resolved[i]
				if r.Sample.Distance == 0 {
					continue
				}

				ret, blockID := 0, first
				if r.Index != lidar.ReturnPrimary {
					blockID = first + 1
				}
				if r.Index == lidar.ReturnSecondary {
					ret = 1
				}

				p := d.project(entry, r.Sample, azimuth*AZIMUTH_RESOLUTION)
				p.Channel = channel
				p.ReturnIndex = r.Index
				p.BlockID = blockID
				p.Timestamp = base + microseconds(d.timing.Offset(f, slot, ret))
				if !yield(p) {
					return
				}
			}
		}
	}
}

// azimuthGap is the forward rotation from cur to next in centi-degrees,
// accounting for the 36000 wrap.
func azimuthGap(cur, next uint16) int {
	return (int(next) - int(cur) + ROTATION_MAX_UNITS) % ROTATION_MAX_UNITS
}

// project applies the calibration to one sample fired at azimuthDeg. The
// geometry follows the velodyne_pointcloud convention: the raw frame has Y
// forward and X right, and the result is rotated into X forward, Y left, Z up.
func (d *Decoder) project(e *CalibrationEntry, s Sample, azimuthDeg float64) lidar.Point {
	raw := float64(s.Distance) * d.spec.DistanceResolution
	distance := raw + e.DistCorrection

	// Rotation correction is subtracted from the firing azimuth.
	sinAz, cosAz := math.Sincos(azimuthDeg * math.Pi / 180.0)
	cosRot := cosAz*e.cosRot + sinAz*e.sinRot
	sinRot := sinAz*e.cosRot - cosAz*e.sinRot

	var corrX, corrY float64
	// Near or far is chosen on the raw range, before any correction.
	if d.calib.twoPoint && raw < TWO_POINT_SWITCH {
		xy := distance*e.cosVert - e.VertOffset*e.sinVert
		xx := math.Abs(xy*sinRot - e.HorizOffset*cosRot)
		yy := math.Abs(xy*cosRot + e.HorizOffset*sinRot)

		corrX = (e.DistCorrection-e.DistCorrectionX)*(xx-TWO_POINT_X_NEAR)/(TWO_POINT_CROSSOVER-TWO_POINT_X_NEAR) + e.DistCorrectionX - e.DistCorrection
		corrY = (e.DistCorrection-e.DistCorrectionY)*(yy-TWO_POINT_Y_NEAR)/(TWO_POINT_CROSSOVER-TWO_POINT_Y_NEAR) + e.DistCorrectionY - e.DistCorrection
	}

	xyX := (distance+corrX)*e.cosVert - e.VertOffset*e.sinVert
	x := xyX*sinRot - e.HorizOffset*cosRot

	distY := distance + corrY
	xyY := distY*e.cosVert - e.VertOffset*e.sinVert
	y := xyY*cosRot + e.HorizOffset*sinRot
	z := distY*e.sinVert + e.VertOffset*e.cosVert

	return lidar.Point{
		X:         y,
		Y:         -x,
		Z:         z,
		Distance:  distance,
		Azimuth:   azimuthDeg,
		Elevation: e.VertCorrection,
		Intensity: correctIntensity(e, s),
	}
}

// correctIntensity applies the focal-distance intensity correction carried by
// HDL calibrations and clamps the result to the entry's intensity range.
func correctIntensity(e *CalibrationEntry, s Sample) uint8 {
	intensity := float64(s.Reflectivity)
	if e.FocalSlope != 0 {
		focal := 1.0 - e.FocalDistance*100.0/13100.0
		focalOffset := 256.0 * focal * focal
		rng := 1.0 - float64(s.Distance)/65535.0
		intensity += e.FocalSlope * math.Abs(focalOffset-256.0*rng*rng)
	}

	switch {
	case intensity < float64(e.MinIntensity):
		intensity = float64(e.MinIntensity)
	case intensity > float64(e.MaxIntensity):
		intensity = float64(e.MaxIntensity)
	}
	return uint8(intensity)
}
