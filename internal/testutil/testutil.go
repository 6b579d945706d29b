// Package testutil provides shared test utilities and fixtures.
//
// PacketBuilder writes raw Velodyne data packets byte by byte so that tests
// exercise the decoder against the wire format rather than its own types.
package testutil

import (
	"encoding/binary"
	"testing"
)

// Wire layout of a Velodyne data packet.
const (
	PacketSize    = 1206
	Blocks        = 12
	Slots         = 32
	blockSize     = 100
	footerStart   = Blocks * blockSize
	FlagUpper     = 0xEEFF // 0xFF 0xEE on the wire
	FlagLower     = 0xDDFF // 0xFF 0xDD on the wire
	ModeStrongest = 0x37
	ModeLast      = 0x38
	ModeDual      = 0x39
	FactoryVLP16  = 0x22
	FactoryHDL32E = 0x21
	FactoryVLP32C = 0x28
	FactoryHiRes  = 0x24
)

// PacketBuilder assembles a data packet. Every block starts with the upper
// bank flag, azimuth 0 and empty samples; the footer reports strongest-return
// mode from a VLP-16.
type PacketBuilder struct {
	buf [PacketSize]byte
}

// NewPacketBuilder returns a builder for an otherwise empty packet.
func NewPacketBuilder() *PacketBuilder {
	b := &PacketBuilder{}
	for i := 0; i < Blocks; i++ {
		b.Flag(i, FlagUpper)
	}
	b.ReturnMode(ModeStrongest)
	b.Factory(FactoryVLP16)
	return b
}

// Flag sets the bank flag of block.
func (b *PacketBuilder) Flag(block int, flag uint16) *PacketBuilder {
	binary.LittleEndian.PutUint16(b.buf[block*blockSize:], flag)
	return b
}

// Azimuth sets the azimuth of block in centi-degrees.
func (b *PacketBuilder) Azimuth(block int, azimuth uint16) *PacketBuilder {
	binary.LittleEndian.PutUint16(b.buf[block*blockSize+2:], azimuth)
	return b
}

// Azimuths sets block azimuths to start, start+step, ... wrapping at 36000.
// perFiring repeats each azimuth for that many consecutive blocks, which is
// 2 for dual-return packets.
func (b *PacketBuilder) Azimuths(start, step uint16, perFiring int) *PacketBuilder {
	if perFiring < 1 {
		perFiring = 1
	}
	for i := 0; i < Blocks; i++ {
		az := (int(start) + (i/perFiring)*int(step)) % 36000
		b.Azimuth(i, uint16(az))
	}
	return b
}

// Sample sets one slot of block.
func (b *PacketBuilder) Sample(block, slot int, distance uint16, reflectivity uint8) *PacketBuilder {
	off := block*blockSize + 4 + slot*3
	binary.LittleEndian.PutUint16(b.buf[off:], distance)
	b.buf[off+2] = reflectivity
	return b
}

// FillSamples sets every slot of every block.
func (b *PacketBuilder) FillSamples(distance uint16, reflectivity uint8) *PacketBuilder {
	for block := 0; block < Blocks; block++ {
		for slot := 0; slot < Slots; slot++ {
			b.Sample(block, slot, distance, reflectivity)
		}
	}
	return b
}

// Timestamp sets the footer timestamp in microseconds past the hour.
func (b *PacketBuilder) Timestamp(us uint32) *PacketBuilder {
	binary.LittleEndian.PutUint32(b.buf[footerStart:], us)
	return b
}

// ReturnMode sets the footer return-mode byte.
func (b *PacketBuilder) ReturnMode(mode byte) *PacketBuilder {
	b.buf[footerStart+4] = mode
	return b
}

// Factory sets the footer factory byte.
func (b *PacketBuilder) Factory(factory byte) *PacketBuilder {
	b.buf[footerStart+5] = factory
	return b
}

// Bytes returns a copy of the packet.
func (b *PacketBuilder) Bytes() []byte {
	out := make([]byte, PacketSize)
	copy(out, b.buf[:])
	return out
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
