package velodyne

import (
	"fmt"
	"iter"

	"github.com/banshee-data/velodyne/internal/lidar"
)

// Decoder converts raw packets from one sensor model into points. A Decoder
// holds only immutable state after New returns, so one instance may be
// shared by any number of goroutines.
type Decoder struct {
	spec          ModelSpec
	calib         *CalibrationTable
	timing        *FiringModel
	policy        DualPolicy
	strictFactory bool
}

// Option configures a Decoder.
type Option func(*Decoder) error

// WithCalibration replaces the compiled-in calibration. The table must cover
// at least the model's channel count.
func WithCalibration(table *CalibrationTable) Option {
	return func(d *Decoder) error {
		if table == nil {
			return fmt.Errorf("nil calibration table")
		}
		d.calib = table
		return nil
	}
}

// WithCalibrationFile loads the calibration from path (see LoadCalibrationFile).
func WithCalibrationFile(path string) Option {
	return func(d *Decoder) error {
		table, err := LoadCalibrationFile(path, d.spec.Model)
		if err != nil {
			return err
		}
		d.calib = table
		return nil
	}
}

// WithDualPolicy selects how identical dual returns are reported.
func WithDualPolicy(p DualPolicy) Option {
	return func(d *Decoder) error {
		d.policy = p
		return nil
	}
}

// WithStrictFactory rejects packets whose factory byte announces a
// different model with ErrMalformedPacket.
func WithStrictFactory(strict bool) Option {
	return func(d *Decoder) error {
		d.strictFactory = strict
		return nil
	}
}

// New creates a decoder for model. It fails with ErrUnsupportedModel for an
// unknown model.
func New(model Model, opts ...Option) (*Decoder, error) {
	spec, err := model.Spec()
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		spec:   spec,
		timing: NewFiringModel(spec),
		policy: CollapseIdentical,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("configure %v decoder: %w", model, err)
		}
	}

	if d.calib == nil {
		d.calib, err = DefaultCalibration(model)
		if err != nil {
			return nil, err
		}
	}
	if d.calib.Len() < spec.ChannelCount {
		return nil, fmt.Errorf("calibration covers %d channels, %v needs %d: %w", d.calib.Len(), model, spec.ChannelCount, ErrInvalidChannel)
	}
	return d, nil
}

// Model returns the decoder's sensor model.
func (d *Decoder) Model() Model { return d.spec.Model }

// Spec returns the decoder's model description.
func (d *Decoder) Spec() ModelSpec { return d.spec }

// Calibration returns the calibration table in use.
func (d *Decoder) Calibration() *CalibrationTable { return d.calib }

// Timing returns the firing timing model in use.
func (d *Decoder) Timing() *FiringModel { return d.timing }

// DualPolicy returns the identical dual-return policy.
func (d *Decoder) DualPolicy() DualPolicy { return d.policy }

// Parse validates buf and resolves every channel the packet references
// against the calibration table. buf is not retained.
func (d *Decoder) Parse(buf []byte) (*Packet, error) {
	pkt, err := ParsePacket(buf, d.spec)
	if err != nil {
		return nil, err
	}

	if d.strictFactory && pkt.Footer.Factory != d.spec.FactoryByte {
		return nil, packetErr(ErrMalformedPacket, -1, int(pkt.Footer.Factory))
	}

	// Channel lookups are checked up front so that a bad packet fails before
	// any point is produced.
	last := d.spec.SlotsPerSequence - 1
	for i := range pkt.Blocks {
		if ch := d.spec.ChannelForSlot(pkt.Blocks[i].Flag, last); ch >= d.calib.Len() {
			return nil, packetErr(ErrInvalidChannel, i, ch)
		}
	}
	return pkt, nil
}

// Decode parses buf and returns a lazy, single-pass sequence of points in
// firing order. Per-packet failures are returned before any point is
// produced; the sequence itself cannot fail. Decoding the same buffer again
// yields an identical sequence.
func (d *Decoder) Decode(buf []byte) (iter.Seq[lidar.Point], error) {
	pkt, err := d.Parse(buf)
	if err != nil {
		return nil, err
	}
	return func(yield func(lidar.Point) bool) {
		d.synthesize(pkt, yield)
	}, nil
}

// DecodeAppend decodes buf and appends its points to dst.
func (d *Decoder) DecodeAppend(dst []lidar.Point, buf []byte) ([]lidar.Point, PacketMeta, error) {
	pkt, err := d.Parse(buf)
	if err != nil {
		return dst, PacketMeta{}, err
	}
	d.synthesize(pkt, func(p lidar.Point) bool {
		dst = append(dst, p)
		return true
	})
	return dst, pkt.Meta(), nil
}
