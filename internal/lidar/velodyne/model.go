package velodyne

/*
Velodyne Mechanical LiDAR Packet Decoder

Decodes the 1206-byte UDP data packets emitted by Velodyne spinning sensors
(VLP-16, Puck Hi-Res, HDL-32E, VLP-32C) into calibrated, time-stamped points.

PACKET STRUCTURE (1206 bytes total):
├── Data Blocks (1200 bytes) - 12 blocks × 100 bytes each, starting at offset 0
│   └── Each block: 2-byte bank flag (0xFFEE upper / 0xFFDD lower) + 2-byte azimuth
│       + 32 slots × 3 bytes (2-byte distance in 2mm units + 1-byte reflectivity)
└── Footer (6 bytes)
    ├── Timestamp (4 bytes) - microseconds since the top of the hour
    ├── Return mode (1 byte) - 0x37 strongest, 0x38 last, 0x39 dual
    └── Factory (1 byte) - product ID (0x21 HDL-32E, 0x22 VLP-16, 0x24 Puck Hi-Res, 0x28 VLP-32C)

DECODER ARCHITECTURE:
1. Packet validation (size, bank flags, return mode)
2. Firing grouping (dual-return packets pair blocks that share one firing)
3. Azimuth interpolation across each firing using the firing timing model
4. Distance correction and Cartesian projection from the calibration table
5. Per-point timestamp = footer timestamp + firing offset

A VLP-16 block carries two complete 16-channel firing sequences, so slot s of
a block belongs to laser s%16 of sequence s/16. HDL-32E and VLP-32C blocks
carry one 32-channel sequence.
*/

import (
	"fmt"
	"strings"
)

// Velodyne packet structure constants shared by every supported model.
const (
	PACKET_SIZE       = 1206                                                            // UDP payload size in bytes
	BLOCKS_PER_PACKET = 12                                                              // Data blocks per packet
	SLOTS_PER_BLOCK   = 32                                                              // Channel samples per data block
	BYTES_PER_SLOT    = 3                                                               // 2 bytes distance + 1 byte reflectivity
	BLOCK_FLAG_SIZE   = 2                                                               // Bank flag (0xFFEE / 0xFFDD)
	AZIMUTH_SIZE      = 2                                                               // Azimuth field, little-endian centi-degrees
	BLOCK_SIZE        = BLOCK_FLAG_SIZE + AZIMUTH_SIZE + SLOTS_PER_BLOCK*BYTES_PER_SLOT // 100 bytes
	FOOTER_START      = BLOCKS_PER_PACKET * BLOCK_SIZE                                  // 1200
	FOOTER_SIZE       = 6                                                               // timestamp + return mode + factory
	RETURN_MODE_INDEX = FOOTER_START + 4                                                // 1204
	FACTORY_INDEX     = FOOTER_START + 5                                                // 1205
	LOWER_BANK_OFFSET = 32                                                              // Channel offset of lower-bank lasers

	// Flag values as read little-endian: 0xFFEE on the wire reads as 0xEEFF.
	BANK_UPPER uint16 = 0xEEFF
	BANK_LOWER uint16 = 0xDDFF

	DISTANCE_RESOLUTION = 0.002 // 2mm per LSB
	AZIMUTH_RESOLUTION  = 0.01  // 0.01 degrees per LSB
	ROTATION_MAX_UNITS  = 36000 // 360.00 degrees

	DEFAULT_UDP_PORT = 2368
)

// Model identifies a supported sensor variant.
type Model int

const (
	ModelUnknown Model = iota
	VLP16
	VLP16HiRes
	HDL32E
	VLP32C
)

// Models lists every supported model in declaration order.
var Models = []Model{VLP16, VLP16HiRes, HDL32E, VLP32C}

func (m Model) String() string {
	switch m {
	case VLP16:
		return "VLP-16"
	case VLP16HiRes:
		return "VLP-16-HiRes"
	case HDL32E:
		return "HDL-32E"
	case VLP32C:
		return "VLP-32C"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// ParseModel maps a user supplied model name onto a Model. Matching ignores
// case, dashes and underscores so "vlp16", "VLP-16" and "vlp_16" are equal.
func ParseModel(name string) (Model, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
	switch key {
	case "vlp16", "puck":
		return VLP16, nil
	case "vlp16hires", "puckhires", "hires":
		return VLP16HiRes, nil
	case "hdl32e", "hdl32":
		return HDL32E, nil
	case "vlp32c", "vlp32", "ultrapuck":
		return VLP32C, nil
	}
	return ModelUnknown, fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
}

// ModelSpec is the immutable per-model geometry and timing description.
type ModelSpec struct {
	Model              Model
	PacketSize         int
	BlocksPerPacket    int
	ChannelCount       int     // physical lasers
	SlotsPerSequence   int     // samples in one firing sequence
	DistanceResolution float64 // meters per raw distance LSB
	FactoryByte        byte
	DualReturn         bool // sensor can report dual returns

	// Firing timing (microseconds).
	BlockPeriod    float64 // time between consecutive firings (block azimuths)
	SequencePeriod float64 // time between firing sequences inside one block
	FiringStep     float64 // time between consecutive firing groups
	GroupSize      int     // lasers fired simultaneously
	ReturnDelay    float64 // offset of the second return relative to the first
}

// Spec returns the model's geometry and timing data.
func (m Model) Spec() (ModelSpec, error) {
	base := ModelSpec{
		Model:              m,
		PacketSize:         PACKET_SIZE,
		BlocksPerPacket:    BLOCKS_PER_PACKET,
		DistanceResolution: DISTANCE_RESOLUTION,
		DualReturn:         true,
		GroupSize:          1,
	}

	switch m {
	case VLP16, VLP16HiRes:
		base.ChannelCount = 16
		base.SlotsPerSequence = 16
		base.BlockPeriod = 110.592
		base.SequencePeriod = 55.296
		base.FiringStep = 2.304
		base.FactoryByte = 0x22
		if m == VLP16HiRes {
			base.FactoryByte = 0x24
		}
	case HDL32E:
		base.ChannelCount = 32
		base.SlotsPerSequence = 32
		base.BlockPeriod = 46.080
		base.SequencePeriod = 46.080
		base.FiringStep = 1.152
		base.FactoryByte = 0x21
	case VLP32C:
		base.ChannelCount = 32
		base.SlotsPerSequence = 32
		base.BlockPeriod = 55.296
		base.SequencePeriod = 55.296
		base.FiringStep = 2.304
		base.GroupSize = 2
		base.FactoryByte = 0x28
	default:
		return ModelSpec{}, fmt.Errorf("%w: %v", ErrUnsupportedModel, m)
	}
	return base, nil
}

// ChannelForSlot maps a block slot and bank flag onto a calibration channel.
func (s ModelSpec) ChannelForSlot(flag uint16, slot int) int {
	ch := slot % s.SlotsPerSequence
	if flag == BANK_LOWER {
		ch += LOWER_BANK_OFFSET
	}
	return ch
}

// ModelForFactory returns the model announced by a packet factory byte.
func ModelForFactory(b byte) (Model, bool) {
	for _, m := range Models {
		spec, _ := m.Spec()
		if spec.FactoryByte == b {
			return m, true
		}
	}
	return ModelUnknown, false
}
