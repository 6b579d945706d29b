package velodyne

import (
	"fmt"

	"github.com/banshee-data/velodyne/internal/lidar"
)

// ReturnMode is the footer return-mode byte.
type ReturnMode uint8

const (
	ReturnStrongest ReturnMode = 0x37
	ReturnLast      ReturnMode = 0x38
	ReturnDual      ReturnMode = 0x39
)

// Valid reports whether m is one of the recognised return modes.
func (m ReturnMode) Valid() bool {
	return m == ReturnStrongest || m == ReturnLast || m == ReturnDual
}

// Returns is the number of samples reported per channel per firing.
func (m ReturnMode) Returns() int {
	if m == ReturnDual {
		return 2
	}
	return 1
}

func (m ReturnMode) String() string {
	switch m {
	case ReturnStrongest:
		return "strongest"
	case ReturnLast:
		return "last"
	case ReturnDual:
		return "dual"
	default:
		return fmt.Sprintf("ReturnMode(0x%02X)", uint8(m))
	}
}

// DualPolicy selects what happens when both dual returns carry the same raw
// distance.
type DualPolicy int

const (
	// CollapseIdentical emits a single point tagged lidar.ReturnBoth.
	CollapseIdentical DualPolicy = iota
	// DuplicateIdentical emits both returns with their own indices.
	DuplicateIdentical
)

func (p DualPolicy) String() string {
	if p == DuplicateIdentical {
		return "duplicate"
	}
	return "collapse"
}

// resolvedReturn is one sample selected for emission.
type resolvedReturn struct {
	Sample Sample
	Index  int // lidar.ReturnPrimary, lidar.ReturnSecondary or lidar.ReturnBoth
}

// Resolver decides how many points a channel yields per firing.
type Resolver struct {
	Mode   ReturnMode
	Policy DualPolicy
}

// Resolve selects the returns to emit for one channel. samples holds one
// sample per return block of the firing (in block order). Zero-distance
// samples are kept here; the synthesizer drops them.
//
// In dual mode the first block of a firing pair carries the last return and
// the second carries the strongest.
func (r Resolver) Resolve(samples [2]Sample) (out [2]resolvedReturn, n int) {
	if r.Mode != ReturnDual {
		out[0] = resolvedReturn{Sample: samples[0], Index: lidar.ReturnPrimary}
		return out, 1
	}

	if samples[0].Distance == samples[1].Distance && r.Policy == CollapseIdentical {
		// Keep the strongest block's reflectivity for the merged point.
		out[0] = resolvedReturn{Sample: samples[1], Index: lidar.ReturnBoth}
		return out, 1
	}

	out[0] = resolvedReturn{Sample: samples[0], Index: lidar.ReturnPrimary}
	out[1] = resolvedReturn{Sample: samples[1], Index: lidar.ReturnSecondary}
	return out, 2
}
