package velodyne

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxCalibrationFileSize bounds calibration files read from disk.
const maxCalibrationFileSize = 1 * 1024 * 1024

// LoadCalibrationFile reads a calibration file, choosing the format from the
// extension: .yaml/.yml (velodyne_pointcloud), .xml (db.xml) or .csv.
// The table must cover exactly the model's channel count.
func LoadCalibrationFile(path string, model Model) (*CalibrationTable, error) {
	spec, err := model.Spec()
	if err != nil {
		return nil, err
	}

	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	if info.Size() > maxCalibrationFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", info.Size(), maxCalibrationFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration file: %w", err)
	}
	defer f.Close()

	var table *CalibrationTable
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yaml", ".yml":
		table, err = ReadYAMLCalibration(f)
	case ".xml":
		table, err = ReadXMLCalibration(f)
	case ".csv":
		table, err = ReadCSVCalibration(f)
	default:
		return nil, fmt.Errorf("unsupported calibration file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}

	if table.Len() != spec.ChannelCount {
		return nil, fmt.Errorf("%s: calibration covers %d channels, %v has %d", cleanPath, table.Len(), model, spec.ChannelCount)
	}
	return table, nil
}

// yamlCalibration mirrors the velodyne_pointcloud calibration format. Angles
// are radians and distances meters.
type yamlCalibration struct {
	NumLasers          int         `yaml:"num_lasers"`
	DistanceResolution float64     `yaml:"distance_resolution"`
	Lasers             []yamlLaser `yaml:"lasers"`
}

type yamlLaser struct {
	LaserID               int     `yaml:"laser_id"`
	RotCorrection         float64 `yaml:"rot_correction"`
	VertCorrection        float64 `yaml:"vert_correction"`
	DistCorrection        float64 `yaml:"dist_correction"`
	DistCorrectionX       float64 `yaml:"dist_correction_x"`
	DistCorrectionY       float64 `yaml:"dist_correction_y"`
	VertOffsetCorrection  float64 `yaml:"vert_offset_correction"`
	HorizOffsetCorrection float64 `yaml:"horiz_offset_correction"`
	FocalDistance         float64 `yaml:"focal_distance"`
	FocalSlope            float64 `yaml:"focal_slope"`
	MinIntensity          *int    `yaml:"min_intensity"`
	MaxIntensity          *int    `yaml:"max_intensity"`
}

// ReadYAMLCalibration parses a velodyne_pointcloud YAML calibration.
func ReadYAMLCalibration(r io.Reader) (*CalibrationTable, error) {
	var doc yamlCalibration
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode calibration YAML: %w", err)
	}
	if doc.NumLasers != 0 && doc.NumLasers != len(doc.Lasers) {
		return nil, fmt.Errorf("num_lasers is %d but %d lasers listed", doc.NumLasers, len(doc.Lasers))
	}
	if doc.DistanceResolution != 0 && math.Abs(doc.DistanceResolution-DISTANCE_RESOLUTION) > 1e-9 {
		return nil, fmt.Errorf("distance_resolution %g not supported (want %g)", doc.DistanceResolution, DISTANCE_RESOLUTION)
	}

	entries := make([]CalibrationEntry, 0, len(doc.Lasers))
	for _, l := range doc.Lasers {
		e := CalibrationEntry{
			Channel:         l.LaserID,
			VertCorrection:  l.VertCorrection * 180.0 / math.Pi,
			RotCorrection:   l.RotCorrection * 180.0 / math.Pi,
			DistCorrection:  l.DistCorrection,
			DistCorrectionX: l.DistCorrectionX,
			DistCorrectionY: l.DistCorrectionY,
			VertOffset:      l.VertOffsetCorrection,
			HorizOffset:     l.HorizOffsetCorrection,
			FocalDistance:   l.FocalDistance,
			FocalSlope:      l.FocalSlope,
		}
		if l.MinIntensity != nil {
			e.MinIntensity = clampIntensity(*l.MinIntensity)
		}
		if l.MaxIntensity != nil {
			e.MaxIntensity = clampIntensity(*l.MaxIntensity)
		}
		entries = append(entries, e)
	}
	return NewCalibrationTable(entries)
}

func clampIntensity(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

// xmlCalibration mirrors the boost-serialised db.xml shipped with HDL
// sensors. Angles are degrees and distances centimetres.
type xmlCalibration struct {
	DB struct {
		DistLSB      float64    `xml:"distLSB_"`
		Points       []xmlPoint `xml:"points_>item>px"`
		MinIntensity []int      `xml:"minIntensity_>item"`
		MaxIntensity []int      `xml:"maxIntensity_>item"`
	} `xml:"DB"`
}

type xmlPoint struct {
	ID                    int     `xml:"id_"`
	RotCorrection         float64 `xml:"rotCorrection_"`
	VertCorrection        float64 `xml:"vertCorrection_"`
	DistCorrection        float64 `xml:"distCorrection_"`
	DistCorrectionX       float64 `xml:"distCorrectionX_"`
	DistCorrectionY       float64 `xml:"distCorrectionY_"`
	VertOffsetCorrection  float64 `xml:"vertOffsetCorrection_"`
	HorizOffsetCorrection float64 `xml:"horizOffsetCorrection_"`
	FocalDistance         float64 `xml:"focalDistance_"`
	FocalSlope            float64 `xml:"focalSlope_"`
}

// ReadXMLCalibration parses a db.xml calibration database.
func ReadXMLCalibration(r io.Reader) (*CalibrationTable, error) {
	var doc xmlCalibration
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode calibration XML: %w", err)
	}
	db := doc.DB
	if len(db.Points) == 0 {
		return nil, fmt.Errorf("calibration XML has no points_")
	}
	if db.DistLSB != 0 && math.Abs(db.DistLSB/100.0-DISTANCE_RESOLUTION) > 1e-9 {
		return nil, fmt.Errorf("distLSB_ %g cm not supported (want %g)", db.DistLSB, DISTANCE_RESOLUTION*100)
	}
	if n := len(db.MinIntensity); n != 0 && n != len(db.Points) {
		return nil, fmt.Errorf("minIntensity_ has %d items for %d points", n, len(db.Points))
	}
	if n := len(db.MaxIntensity); n != 0 && n != len(db.Points) {
		return nil, fmt.Errorf("maxIntensity_ has %d items for %d points", n, len(db.Points))
	}

	const cm = 0.01
	entries := make([]CalibrationEntry, 0, len(db.Points))
	for i, p := range db.Points {
		e := CalibrationEntry{
			Channel:         p.ID,
			VertCorrection:  p.VertCorrection,
			RotCorrection:   p.RotCorrection,
			DistCorrection:  p.DistCorrection * cm,
			DistCorrectionX: p.DistCorrectionX * cm,
			DistCorrectionY: p.DistCorrectionY * cm,
			VertOffset:      p.VertOffsetCorrection * cm,
			HorizOffset:     p.HorizOffsetCorrection * cm,
			FocalDistance:   p.FocalDistance * cm,
			FocalSlope:      p.FocalSlope,
		}
		// Intensity arrays are indexed by position, matching the points_ order.
		if len(db.MinIntensity) > 0 {
			e.MinIntensity = clampIntensity(db.MinIntensity[i])
		}
		if len(db.MaxIntensity) > 0 {
			e.MaxIntensity = clampIntensity(db.MaxIntensity[i])
		}
		entries = append(entries, e)
	}
	return NewCalibrationTable(entries)
}
