package velodyne

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/velodyne/internal/testutil"
)

// FuzzDecode checks that arbitrary input either fails with one of the packet
// errors or decodes into a bounded number of finite points.
func FuzzDecode(f *testing.F) {
	f.Add(testutil.NewPacketBuilder().Azimuths(0, 20, 1).FillSamples(1000, 50).Bytes())
	f.Add(testutil.NewPacketBuilder().ReturnMode(testutil.ModeDual).Azimuths(35900, 20, 2).FillSamples(60000, 255).Bytes())
	f.Add(testutil.NewPacketBuilder().Flag(3, testutil.FlagLower).Bytes())
	f.Add([]byte{0xFF, 0xEE})

	decoders := make([]*Decoder, 0, len(Models))
	for _, m := range Models {
		dec, err := New(m)
		if err != nil {
			f.Fatal(err)
		}
		decoders = append(decoders, dec)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		for _, dec := range decoders {
			seq, err := dec.Decode(data)
			if err != nil {
				if !errors.Is(err, ErrMalformedPacket) &&
					!errors.Is(err, ErrUnrecognizedBlockFlag) &&
					!errors.Is(err, ErrUnrecognizedReturnMode) &&
					!errors.Is(err, ErrInvalidChannel) {
					t.Fatalf("%v: unexpected error %v", dec.Model(), err)
				}
				continue
			}

			n := 0
			for p := range seq {
				n++
				if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) || math.IsInf(p.X, 0) {
					t.Fatalf("%v: non-finite point %+v", dec.Model(), p)
				}
				if p.Azimuth < 0 || p.Azimuth >= 360 {
					t.Fatalf("%v: azimuth %f out of range", dec.Model(), p.Azimuth)
				}
				if p.Channel < 0 || p.Channel >= dec.Calibration().Len() {
					t.Fatalf("%v: channel %d out of range", dec.Model(), p.Channel)
				}
			}
			if n > maxPointsPerPacket {
				t.Fatalf("%v: %d points from one packet", dec.Model(), n)
			}
		}
	})
}
