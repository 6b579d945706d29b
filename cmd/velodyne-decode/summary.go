package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/velodyne/internal/lidar/turns"
	"github.com/banshee-data/velodyne/internal/lidar/velodyne"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// maxRangeSamples caps the ranges kept per channel for the percentile
// estimates. Counts, extremes, means and deviations cover every point.
const maxRangeSamples = 1 << 18

// Summary is the JSON document written by -format summary.
type Summary struct {
	RunID         string         `json:"run_id"`
	Source        string         `json:"source"`
	Model         string         `json:"model"`
	DualPolicy    string         `json:"dual_policy"`
	Packets       int            `json:"packets"`
	Rejected      int            `json:"rejected"`
	RejectReasons map[string]int `json:"reject_reasons,omitempty"`
	ReturnModes   map[string]int `json:"return_modes"`
	Factories     map[string]int `json:"factories"`
	Points        int            `json:"points"`
	FirstCapture  *time.Time     `json:"first_capture,omitempty"`
	LastCapture   *time.Time     `json:"last_capture,omitempty"`
	Turns         TurnStats      `json:"turns"`
	Channels      []ChannelStats `json:"channels"`
}

// TurnStats describes the completed rotations.
type TurnStats struct {
	Count            int     `json:"count"`
	MeanPoints       float64 `json:"mean_points"`
	StdDevPoints     float64 `json:"stddev_points"`
	MeanPackets      float64 `json:"mean_packets"`
	MeanDurationSecs float64 `json:"mean_duration_secs"`
}

// ChannelStats summarises the ranges and intensities of one laser.
type ChannelStats struct {
	Channel       int     `json:"channel"`
	Elevation     float64 `json:"elevation_deg"`
	Points        int     `json:"points"`
	MinRange      float64 `json:"min_range_m"`
	MaxRange      float64 `json:"max_range_m"`
	MeanRange     float64 `json:"mean_range_m"`
	StdDevRange   float64 `json:"stddev_range_m"`
	P50Range      float64 `json:"p50_range_m"`
	P95Range      float64 `json:"p95_range_m"`
	MeanIntensity float64 `json:"mean_intensity"`
}

type channelAccumulator struct {
	points       int
	intensitySum float64

	// Welford running moments of the range.
	minRange, maxRange float64
	meanRange, m2Range float64

	ranges []float64
}

func (a *channelAccumulator) addRange(r float64, limit int) {
	if a.points == 1 || r < a.minRange {
		a.minRange = r
	}
	if a.points == 1 || r > a.maxRange {
		a.maxRange = r
	}
	delta := r - a.meanRange
	a.meanRange += delta / float64(a.points)
	a.m2Range += delta * (r - a.meanRange)

	if len(a.ranges) < limit {
		a.ranges = append(a.ranges, r)
	}
}

// stdDevRange is the sample standard deviation, zero below two points.
func (a *channelAccumulator) stdDevRange() float64 {
	if a.points < 2 {
		return 0
	}
	return math.Sqrt(a.m2Range / float64(a.points-1))
}

// summarySink aggregates the stream and writes one Summary on Close.
type summarySink struct {
	out      io.Writer
	summary  Summary
	channels []channelAccumulator
	elev     []float64
	rangeCap int

	turnPoints   []float64
	turnPackets  []float64
	turnDuration []float64
}

func newSummarySink(out io.Writer, dec *velodyne.Decoder, source string) *summarySink {
	entries := dec.Calibration().Entries()
	s := &summarySink{
		out: out,
		summary: Summary{
			RunID:         uuid.NewString(),
			Source:        source,
			Model:         dec.Model().String(),
			DualPolicy:    dec.DualPolicy().String(),
			RejectReasons: make(map[string]int),
			ReturnModes:   make(map[string]int),
			Factories:     make(map[string]int),
		},
		channels: make([]channelAccumulator, len(entries)),
		elev:     make([]float64, len(entries)),
		rangeCap: maxRangeSamples,
	}
	for i, e := range entries {
		s.elev[i] = e.VertCorrection
	}
	return s
}

func (s *summarySink) Packet(_ int, res velodyne.Result) error {
	s.summary.Packets++
	s.summary.Points += len(res.Points)
	s.summary.ReturnModes[res.Meta.ReturnMode.String()]++
	s.summary.Factories[factoryName(res.Meta.Factory)]++
	s.noteCapture(res.CaptureTime)

	for i := range res.Points {
		p := &res.Points[i]
		acc := &s.channels[p.Channel]
		acc.points++
		acc.intensitySum += float64(p.Intensity)
		acc.addRange(p.Distance, s.rangeCap)
	}
	return nil
}

func (s *summarySink) Rejected(res velodyne.Result) error {
	s.summary.Packets++
	s.summary.Rejected++
	s.summary.RejectReasons[rejectReason(res.Err)]++
	s.noteCapture(res.CaptureTime)
	return nil
}

func (s *summarySink) Turn(_ int, t turns.Turn) error {
	s.turnPoints = append(s.turnPoints, float64(len(t.Points)))
	s.turnPackets = append(s.turnPackets, float64(t.Packets))
	d := t.End - t.Start
	if d < 0 {
		// The turn spans the top of the hour.
		d += time.Hour
	}
	s.turnDuration = append(s.turnDuration, d.Seconds())
	return nil
}

func (s *summarySink) noteCapture(t time.Time) {
	if t.IsZero() {
		return
	}
	t = t.UTC()
	if s.summary.FirstCapture == nil {
		first := t
		s.summary.FirstCapture = &first
	}
	last := t
	s.summary.LastCapture = &last
}

// Build computes the final statistics.
func (s *summarySink) Build() Summary {
	out := s.summary
	out.Turns = TurnStats{Count: len(s.turnPoints)}
	if len(s.turnPoints) > 0 {
		out.Turns.MeanPoints, out.Turns.StdDevPoints = meanStdDev(s.turnPoints)
		out.Turns.MeanPackets = stat.Mean(s.turnPackets, nil)
		out.Turns.MeanDurationSecs = stat.Mean(s.turnDuration, nil)
	}

	out.Channels = make([]ChannelStats, 0, len(s.channels))
	for ch := range s.channels {
		acc := &s.channels[ch]
		cs := ChannelStats{Channel: ch, Elevation: s.elev[ch], Points: acc.points}
		if acc.points > 0 {
			cs.MinRange = acc.minRange
			cs.MaxRange = acc.maxRange
			cs.MeanRange = acc.meanRange
			cs.StdDevRange = acc.stdDevRange()
			sort.Float64s(acc.ranges)
			cs.P50Range = stat.Quantile(0.5, stat.Empirical, acc.ranges, nil)
			cs.P95Range = stat.Quantile(0.95, stat.Empirical, acc.ranges, nil)
			cs.MeanIntensity = acc.intensitySum / float64(acc.points)
		}
		out.Channels = append(out.Channels, cs)
	}
	return out
}

func (s *summarySink) Close() error {
	data, err := json.MarshalIndent(s.Build(), "", "  ")
	if err != nil {
		return fmt.Errorf("JSON marshal: %w", err)
	}
	data = append(data, '\n')
	_, err = s.out.Write(data)
	return err
}

// meanStdDev wraps stat.MeanStdDev, which reports NaN deviation for a
// single sample.
func meanStdDev(x []float64) (mean, std float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

func factoryName(b byte) string {
	if m, ok := velodyne.ModelForFactory(b); ok {
		return m.String()
	}
	return fmt.Sprintf("0x%02X", b)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, velodyne.ErrUnrecognizedBlockFlag):
		return "unrecognized_block_flag"
	case errors.Is(err, velodyne.ErrUnrecognizedReturnMode):
		return "unrecognized_return_mode"
	case errors.Is(err, velodyne.ErrInvalidChannel):
		return "invalid_channel"
	case errors.Is(err, velodyne.ErrMalformedPacket):
		return "malformed_packet"
	default:
		return "other"
	}
}
