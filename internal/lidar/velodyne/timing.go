package velodyne

import "time"

// FiringModel gives the time at which each slot of a firing was measured,
// relative to the packet timestamp. Offsets are precomputed at construction
// and the model is read-only afterwards.
type FiringModel struct {
	offsets     [BLOCKS_PER_PACKET][SLOTS_PER_BLOCK]float64 // microseconds
	order       [SLOTS_PER_BLOCK]int
	blockPeriod float64
	returnDelay float64
}

// NewFiringModel builds the firing timing table for spec.
//
// Slot s of firing f fires at
//
//	f*BlockPeriod + (s/SlotsPerSequence)*SequencePeriod + ((s%SlotsPerSequence)/GroupSize)*FiringStep
//
// Velodyne blocks list samples in firing order, so the firing order is the
// slot order. For VLP-32C two lasers share each firing step.
func NewFiringModel(spec ModelSpec) *FiringModel {
	m := &FiringModel{
		blockPeriod: spec.BlockPeriod,
		returnDelay: spec.ReturnDelay,
	}
	group := spec.GroupSize
	if group < 1 {
		group = 1
	}
	for slot := 0; slot < SLOTS_PER_BLOCK; slot++ {
		m.order[slot] = slot
		seq := slot / spec.SlotsPerSequence
		step := (slot % spec.SlotsPerSequence) / group
		within := float64(seq)*spec.SequencePeriod + float64(step)*spec.FiringStep
		for firing := 0; firing < BLOCKS_PER_PACKET; firing++ {
			m.offsets[firing][slot] = float64(firing)*spec.BlockPeriod + within
		}
	}
	return m
}

// Offset returns the firing time offset in microseconds for a slot of the
// given firing and return. firing is the firing position in the packet: the
// block index in single-return mode and block/2 in dual-return mode.
func (m *FiringModel) Offset(firing, slot, ret int) float64 {
	off := m.offsets[firing][slot]
	if ret > 0 {
		off += float64(ret) * m.returnDelay
	}
	return off
}

// Fraction is the position of slot within its firing, in [0, 1). It scales
// the azimuth advance between consecutive firings.
func (m *FiringModel) Fraction(slot int) float64 {
	if m.blockPeriod == 0 {
		return 0
	}
	return m.offsets[0][slot] / m.blockPeriod
}

// FiringDuration is the time between consecutive firings in microseconds.
func (m *FiringModel) FiringDuration() float64 { return m.blockPeriod }

// ReturnDelay is the fixed offset of a second return relative to the first.
func (m *FiringModel) ReturnDelay() float64 { return m.returnDelay }

// FiringOrder returns the slots of a block in the order they fire.
func (m *FiringModel) FiringOrder() []int {
	out := make([]int, SLOTS_PER_BLOCK)
	copy(out, m.order[:])
	return out
}

// FiringIndex maps a block index onto its firing position for mode.
func FiringIndex(block int, mode ReturnMode) int {
	return block / mode.Returns()
}

func microseconds(us float64) time.Duration {
	return time.Duration(us*float64(time.Microsecond) + 0.5)
}
