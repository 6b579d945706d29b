package velodyne

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

//go:embed calibration/*.csv
var embeddedCalibrations embed.FS

// Two-point distance correction constants (meters), from the HDL-64E
// calibration procedure. A raw range below TWO_POINT_SWITCH selects the near
// correction, which is interpolated between the near calibration targets and
// TWO_POINT_CROSSOVER against the measured x/y extent.
const (
	TWO_POINT_SWITCH    = 25.0
	TWO_POINT_CROSSOVER = 25.04
	TWO_POINT_X_NEAR    = 2.4
	TWO_POINT_Y_NEAR    = 1.93
)

// CalibrationEntry holds the per-laser geometric corrections supplied by the
// sensor manufacturer.
type CalibrationEntry struct {
	Channel         int     // zero-based laser index
	VertCorrection  float64 // vertical angle in degrees (signed)
	RotCorrection   float64 // rotational (azimuth) correction in degrees
	DistCorrection  float64 // far distance correction in meters
	DistCorrectionX float64 // near distance correction along x in meters
	DistCorrectionY float64 // near distance correction along y in meters
	VertOffset      float64 // vertical lever-arm offset in meters
	HorizOffset     float64 // horizontal lever-arm offset in meters
	FocalDistance   float64 // meters
	FocalSlope      float64
	MinIntensity    uint8
	MaxIntensity    uint8

	sinVert, cosVert float64
	sinRot, cosRot   float64
}

// CalibrationTable is an immutable, complete set of calibration entries
// indexed by channel. It is safe for concurrent use.
type CalibrationTable struct {
	entries  []CalibrationEntry
	twoPoint bool
}

// NewCalibrationTable builds a table from entries in any order. Every channel
// in [0, len(entries)) must appear exactly once.
func NewCalibrationTable(entries []CalibrationEntry) (*CalibrationTable, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("calibration table is empty")
	}

	table := &CalibrationTable{entries: make([]CalibrationEntry, len(entries))}
	seen := make([]bool, len(entries))
	for _, e := range entries {
		if e.Channel < 0 || e.Channel >= len(entries) {
			return nil, fmt.Errorf("calibration channel %d out of range [0,%d): %w", e.Channel, len(entries), ErrInvalidChannel)
		}
		if seen[e.Channel] {
			return nil, fmt.Errorf("duplicate calibration for channel %d", e.Channel)
		}
		seen[e.Channel] = true

		if e.MaxIntensity == 0 {
			e.MaxIntensity = 255
		}
		if e.MinIntensity > e.MaxIntensity {
			return nil, fmt.Errorf("channel %d: min intensity %d above max %d", e.Channel, e.MinIntensity, e.MaxIntensity)
		}
		if e.DistCorrectionX != 0 || e.DistCorrectionY != 0 {
			table.twoPoint = true
		}

		vert := e.VertCorrection * math.Pi / 180.0
		rot := e.RotCorrection * math.Pi / 180.0
		e.sinVert, e.cosVert = math.Sincos(vert)
		e.sinRot, e.cosRot = math.Sincos(rot)
		table.entries[e.Channel] = e
	}
	return table, nil
}

// Len returns the number of channels covered by the table.
func (t *CalibrationTable) Len() int { return len(t.entries) }

// TwoPointCorrection reports whether any entry carries near (x/y) distance
// corrections.
func (t *CalibrationTable) TwoPointCorrection() bool { return t.twoPoint }

// EntryFor returns the calibration for channel, or ErrInvalidChannel.
func (t *CalibrationTable) EntryFor(channel int) (CalibrationEntry, error) {
	if channel < 0 || channel >= len(t.entries) {
		return CalibrationEntry{}, fmt.Errorf("channel %d not in [0,%d): %w", channel, len(t.entries), ErrInvalidChannel)
	}
	return t.entries[channel], nil
}

// Entries returns a copy of all entries in channel order.
func (t *CalibrationTable) Entries() []CalibrationEntry {
	out := make([]CalibrationEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// DefaultCalibration returns the compiled-in nominal calibration for model.
// Nominal values come from the product manuals; units shipped with a
// calibration file should load that instead.
func DefaultCalibration(model Model) (*CalibrationTable, error) {
	spec, err := model.Spec()
	if err != nil {
		return nil, err
	}

	file, err := embeddedCalibrations.Open("calibration/" + model.String() + ".csv")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded calibration for %v: %w", model, err)
	}
	defer file.Close()

	table, err := ReadCSVCalibration(file)
	if err != nil {
		return nil, fmt.Errorf("embedded calibration for %v: %w", model, err)
	}
	if table.Len() != spec.ChannelCount {
		return nil, fmt.Errorf("embedded calibration for %v has %d channels, want %d", model, table.Len(), spec.ChannelCount)
	}
	return table, nil
}

var csvCalibrationHeader = []string{"channel", "vertical", "rotation", "vertoffset", "horizoffset"}

// ReadCSVCalibration parses a calibration CSV with the header
// Channel,Vertical,Rotation,VertOffset,HorizOffset (degrees, degrees, meters, meters).
func ReadCSVCalibration(r io.Reader) (*CalibrationTable, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration CSV: %w", err)
	}

	// Skip header row
	if len(records) < 2 {
		return nil, fmt.Errorf("insufficient data in calibration file")
	}

	header := records[0]
	if len(header) != len(csvCalibrationHeader) {
		return nil, fmt.Errorf("invalid header in calibration file, expected: Channel,Vertical,Rotation,VertOffset,HorizOffset")
	}
	for i, name := range csvCalibrationHeader {
		if strings.ToLower(strings.TrimSpace(header[i])) != name {
			return nil, fmt.Errorf("invalid header in calibration file, expected: Channel,Vertical,Rotation,VertOffset,HorizOffset")
		}
	}

	entries := make([]CalibrationEntry, 0, len(records)-1)
	for i, record := range records[1:] {
		line := i + 2
		if len(record) != len(csvCalibrationHeader) {
			return nil, fmt.Errorf("invalid record at line %d: expected %d fields", line, len(csvCalibrationHeader))
		}

		channel, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid channel number at line %d: %v", line, err)
		}

		var values [4]float64
		for j := range values {
			values[j], err = strconv.ParseFloat(strings.TrimSpace(record[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s at line %d: %v", csvCalibrationHeader[j+1], line, err)
			}
		}

		entries = append(entries, CalibrationEntry{
			Channel:        channel,
			VertCorrection: values[0],
			RotCorrection:  values[1],
			VertOffset:     values[2],
			HorizOffset:    values[3],
		})
	}

	return NewCalibrationTable(entries)
}
