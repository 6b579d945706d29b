package velodyne

import (
	"encoding/binary"
)

// Sample is the raw measurement from one block slot.
type Sample struct {
	Distance     uint16 // raw distance in resolution units (0 = no return)
	Reflectivity uint8  // calibrated reflectivity (0-255)
}

// DataBlock is one 100-byte block: a bank flag, the azimuth at which the
// firing started and one sample per slot.
type DataBlock struct {
	Flag    uint16                  // BANK_UPPER or BANK_LOWER
	Azimuth uint16                  // 0.01-degree units, 0-35999
	Samples [SLOTS_PER_BLOCK]Sample // in firing order
}

// Footer is the trailing 6 bytes of a data packet.
type Footer struct {
	Timestamp  uint32     // microseconds since the top of the hour
	ReturnMode ReturnMode // 0x37 / 0x38 / 0x39
	Factory    byte       // product ID
}

// Packet is a structurally validated data packet. Values are left in raw
// integer form; unit conversion happens in the decoder.
type Packet struct {
	Blocks [BLOCKS_PER_PACKET]DataBlock
	Footer Footer
}

// PacketMeta summarises a decoded packet for stream-level consumers.
type PacketMeta struct {
	Azimuth    uint16 // azimuth of the first block
	Timestamp  uint32
	ReturnMode ReturnMode
	Factory    byte
}

// Meta returns the packet summary.
func (p *Packet) Meta() PacketMeta {
	return PacketMeta{
		Azimuth:    p.Blocks[0].Azimuth,
		Timestamp:  p.Footer.Timestamp,
		ReturnMode: p.Footer.ReturnMode,
		Factory:    p.Footer.Factory,
	}
}

// ParsePacket validates and decomposes a raw buffer. It never retains buf.
func ParsePacket(buf []byte, spec ModelSpec) (*Packet, error) {
	if len(buf) != spec.PacketSize {
		return nil, packetErr(ErrMalformedPacket, -1, len(buf))
	}

	pkt := &Packet{}
	pkt.Footer = parseFooter(buf[FOOTER_START : FOOTER_START+FOOTER_SIZE])

	mode := pkt.Footer.ReturnMode
	if !mode.Valid() || (mode == ReturnDual && !spec.DualReturn) {
		return nil, packetErr(ErrUnrecognizedReturnMode, -1, int(mode))
	}

	for blockIdx := 0; blockIdx < spec.BlocksPerPacket; blockIdx++ {
		offset := blockIdx * BLOCK_SIZE
		if err := parseDataBlock(buf[offset:offset+BLOCK_SIZE], &pkt.Blocks[blockIdx]); err != nil {
			if pe, ok := err.(*PacketError); ok {
				pe.Block = blockIdx
			}
			return nil, err
		}
	}

	return pkt, nil
}

// parseDataBlock fills block from a single 100-byte data block.
func parseDataBlock(data []byte, block *DataBlock) error {
	flag := binary.LittleEndian.Uint16(data[0:2])
	if flag != BANK_UPPER && flag != BANK_LOWER {
		return packetErr(ErrUnrecognizedBlockFlag, 0, int(flag))
	}
	azimuth := binary.LittleEndian.Uint16(data[2:4])
	if azimuth >= ROTATION_MAX_UNITS {
		return packetErr(ErrMalformedPacket, 0, int(azimuth))
	}
	block.Flag = flag
	block.Azimuth = azimuth

	slotOffset := BLOCK_FLAG_SIZE + AZIMUTH_SIZE
	for i := 0; i < SLOTS_PER_BLOCK; i++ {
		block.Samples[i] = Sample{
			Distance:     binary.LittleEndian.Uint16(data[slotOffset : slotOffset+2]),
			Reflectivity: data[slotOffset+2],
		}
		slotOffset += BYTES_PER_SLOT
	}
	return nil
}

func parseFooter(data []byte) Footer {
	return Footer{
		Timestamp:  binary.LittleEndian.Uint32(data[0:4]),
		ReturnMode: ReturnMode(data[4]),
		Factory:    data[5],
	}
}
