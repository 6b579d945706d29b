package velodyne

import (
	"errors"
	"fmt"
)

// Decoder error taxonomy. ErrUnsupportedModel is a construction-time failure;
// the rest abort decoding of a single packet only.
var (
	ErrUnsupportedModel       = errors.New("unsupported sensor model")
	ErrMalformedPacket        = errors.New("malformed packet")
	ErrUnrecognizedBlockFlag  = errors.New("unrecognized block flag")
	ErrUnrecognizedReturnMode = errors.New("unrecognized return mode")
	ErrInvalidChannel         = errors.New("invalid channel")
)

// PacketError carries the location of a per-packet failure. It unwraps to one
// of the sentinel errors above so callers can use errors.Is.
type PacketError struct {
	Err   error
	Block int // -1 when the failure is not tied to a data block
	Value int // offending raw value (length, flag, mode byte or channel)
}

func (e *PacketError) Error() string {
	if e.Block < 0 {
		return fmt.Sprintf("%v (value 0x%X)", e.Err, e.Value)
	}
	return fmt.Sprintf("%v in block %d (value 0x%X)", e.Err, e.Block, e.Value)
}

func (e *PacketError) Unwrap() error { return e.Err }

func packetErr(err error, block, value int) error {
	return &PacketError{Err: err, Block: block, Value: value}
}
