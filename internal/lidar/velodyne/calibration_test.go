package velodyne

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCalibration(t *testing.T) {
	for _, m := range Models {
		t.Run(m.String(), func(t *testing.T) {
			table, err := DefaultCalibration(m)
			require.NoError(t, err)
			spec, _ := m.Spec()
			assert.Equal(t, spec.ChannelCount, table.Len())
			assert.False(t, table.TwoPointCorrection())

			for ch, e := range table.Entries() {
				assert.Equal(t, ch, e.Channel)
				assert.Equal(t, uint8(255), e.MaxIntensity)
			}
		})
	}

	_, err := DefaultCalibration(ModelUnknown)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestDefaultCalibrationVLP16Angles(t *testing.T) {
	table, err := DefaultCalibration(VLP16)
	require.NoError(t, err)

	// Interleaved -15, 1, -13, 3, ... 15.
	for ch := 0; ch < 16; ch++ {
		e, err := table.EntryFor(ch)
		require.NoError(t, err)
		want := float64(-15 + ch)
		if ch%2 == 1 {
			want = float64(ch)
		}
		assert.Equal(t, want, e.VertCorrection, "channel %d", ch)
	}
}

func TestEntryForInvalidChannel(t *testing.T) {
	table, err := DefaultCalibration(VLP16)
	require.NoError(t, err)

	for _, ch := range []int{-1, 16, 32, 47} {
		_, err := table.EntryFor(ch)
		assert.ErrorIs(t, err, ErrInvalidChannel, "channel %d", ch)
	}
}

func TestNewCalibrationTable(t *testing.T) {
	t.Run("any order", func(t *testing.T) {
		table, err := NewCalibrationTable([]CalibrationEntry{
			{Channel: 1, VertCorrection: 2},
			{Channel: 0, VertCorrection: -2},
		})
		require.NoError(t, err)
		e, _ := table.EntryFor(0)
		assert.Equal(t, -2.0, e.VertCorrection)
	})

	t.Run("two point", func(t *testing.T) {
		table, err := NewCalibrationTable([]CalibrationEntry{{Channel: 0, DistCorrectionX: 0.01}})
		require.NoError(t, err)
		assert.True(t, table.TwoPointCorrection())
	})

	errorCases := []struct {
		name    string
		entries []CalibrationEntry
		want    string
	}{
		{"empty", nil, "empty"},
		{"gap", []CalibrationEntry{{Channel: 0}, {Channel: 2}}, "out of range"},
		{"duplicate", []CalibrationEntry{{Channel: 0}, {Channel: 0}}, "duplicate"},
		{"intensity", []CalibrationEntry{{Channel: 0, MinIntensity: 200, MaxIntensity: 100}}, "min intensity"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCalibrationTable(tt.entries)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadCSVCalibration(t *testing.T) {
	good := "Channel,Vertical,Rotation,VertOffset,HorizOffset\n" +
		"0,-15,0.5,0.0112,0.01\n" +
		"1,1,0,-0.0007,0\n"
	table, err := ReadCSVCalibration(strings.NewReader(good))
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	e, _ := table.EntryFor(0)
	assert.Equal(t, -15.0, e.VertCorrection)
	assert.Equal(t, 0.5, e.RotCorrection)
	assert.Equal(t, 0.0112, e.VertOffset)
	assert.Equal(t, 0.01, e.HorizOffset)

	bad := []struct {
		name string
		data string
		want string
	}{
		{"header only", "Channel,Vertical,Rotation,VertOffset,HorizOffset\n", "insufficient data"},
		{"wrong header", "id,vert,rot,vo,ho\n0,0,0,0,0\n", "invalid header"},
		{"short header", "Channel,Vertical\n0,0\n", "invalid header"},
		{"bad channel", "Channel,Vertical,Rotation,VertOffset,HorizOffset\nx,0,0,0,0\n", "invalid channel number at line 2"},
		{"bad float", "Channel,Vertical,Rotation,VertOffset,HorizOffset\n0,up,0,0,0\n", "invalid vertical at line 2"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSVCalibration(strings.NewReader(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

const yamlCalibrationFixture = `num_lasers: 2
distance_resolution: 0.002
lasers:
- laser_id: 0
  rot_correction: 0.0
  vert_correction: -0.2617993877991494
  dist_correction: 1.2
  dist_correction_x: 1.25
  dist_correction_y: 1.22
  vert_offset_correction: 0.0112
  horiz_offset_correction: 0.0
  focal_distance: 0.0
  focal_slope: 0.0
  min_intensity: 10
  max_intensity: 300
- laser_id: 1
  rot_correction: 0.0
  vert_correction: 0.017453292519943295
  dist_correction: 0.0
  vert_offset_correction: -0.0007
  horiz_offset_correction: 0.0
`

func TestReadYAMLCalibration(t *testing.T) {
	table, err := ReadYAMLCalibration(strings.NewReader(yamlCalibrationFixture))
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.True(t, table.TwoPointCorrection())

	e, _ := table.EntryFor(0)
	assert.InDelta(t, -15.0, e.VertCorrection, 1e-9)
	assert.Equal(t, 1.2, e.DistCorrection)
	assert.Equal(t, 1.25, e.DistCorrectionX)
	assert.Equal(t, uint8(10), e.MinIntensity)
	assert.Equal(t, uint8(255), e.MaxIntensity, "clamped to a byte")

	e, _ = table.EntryFor(1)
	assert.InDelta(t, 1.0, e.VertCorrection, 1e-9)
	assert.Equal(t, uint8(255), e.MaxIntensity, "defaulted")

	_, err = ReadYAMLCalibration(strings.NewReader("num_lasers: 3\nlasers:\n- laser_id: 0\n"))
	assert.ErrorContains(t, err, "num_lasers is 3")

	_, err = ReadYAMLCalibration(strings.NewReader("distance_resolution: 0.004\nlasers:\n- laser_id: 0\n"))
	assert.ErrorContains(t, err, "distance_resolution")

	_, err = ReadYAMLCalibration(strings.NewReader("lasers: [unclosed"))
	assert.ErrorContains(t, err, "failed to decode calibration YAML")
}

const xmlCalibrationFixture = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>
<!DOCTYPE boost_serialization>
<boost_serialization signature="serialization::archive" version="4">
<DB class_id="0" tracking_level="0" version="0">
	<distLSB_>0.200000003</distLSB_>
	<points_ class_id="2" tracking_level="0" version="0">
		<count>2</count>
		<item class_id="3" tracking_level="0" version="0">
			<px class_id="4" tracking_level="0" version="0">
				<id_>0</id_>
				<rotCorrection_>-1.5</rotCorrection_>
				<vertCorrection_>-30.67</vertCorrection_>
				<distCorrection_>111.5</distCorrection_>
				<distCorrectionX_>118.2</distCorrectionX_>
				<distCorrectionY_>117.1</distCorrectionY_>
				<vertOffsetCorrection_>21.56</vertOffsetCorrection_>
				<horizOffsetCorrection_>2.6</horizOffsetCorrection_>
				<focalDistance_>10.5</focalDistance_>
				<focalSlope_>1.2</focalSlope_>
			</px>
		</item>
		<item>
			<px>
				<id_>1</id_>
				<rotCorrection_>0</rotCorrection_>
				<vertCorrection_>-9.33</vertCorrection_>
				<distCorrection_>120</distCorrection_>
				<distCorrectionX_>0</distCorrectionX_>
				<distCorrectionY_>0</distCorrectionY_>
				<vertOffsetCorrection_>20.0</vertOffsetCorrection_>
				<horizOffsetCorrection_>-2.6</horizOffsetCorrection_>
				<focalDistance_>0</focalDistance_>
				<focalSlope_>0</focalSlope_>
			</px>
		</item>
	</points_>
	<minIntensity_ class_id="5" tracking_level="0" version="0">
		<count>2</count>
		<item>5</item>
		<item>0</item>
	</minIntensity_>
	<maxIntensity_>
		<count>2</count>
		<item>230</item>
		<item>255</item>
	</maxIntensity_>
</DB>
</boost_serialization>
`

func TestReadXMLCalibration(t *testing.T) {
	table, err := ReadXMLCalibration(strings.NewReader(xmlCalibrationFixture))
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.True(t, table.TwoPointCorrection())

	e, _ := table.EntryFor(0)
	assert.Equal(t, -30.67, e.VertCorrection)
	assert.Equal(t, -1.5, e.RotCorrection)
	assert.InDelta(t, 1.115, e.DistCorrection, 1e-12)
	assert.InDelta(t, 0.2156, e.VertOffset, 1e-12)
	assert.InDelta(t, 0.105, e.FocalDistance, 1e-12)
	assert.Equal(t, 1.2, e.FocalSlope)
	assert.Equal(t, uint8(5), e.MinIntensity)
	assert.Equal(t, uint8(230), e.MaxIntensity)

	e, _ = table.EntryFor(1)
	assert.InDelta(t, -0.026, e.HorizOffset, 1e-12)

	_, err = ReadXMLCalibration(strings.NewReader("<boost_serialization><DB></DB></boost_serialization>"))
	assert.ErrorContains(t, err, "no points_")

	_, err = ReadXMLCalibration(strings.NewReader("<boost_serialization><DB>"))
	assert.ErrorContains(t, err, "failed to decode calibration XML")
}

func TestLoadCalibrationFile(t *testing.T) {
	dir := t.TempDir()

	write := func(name, data string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
		return path
	}

	// A full 16-channel table rendered from the default.
	def, err := DefaultCalibration(VLP16)
	require.NoError(t, err)
	var sb strings.Builder
	sb.WriteString("Channel,Vertical,Rotation,VertOffset,HorizOffset\n")
	for _, e := range def.Entries() {
		sb.WriteString(strings.Join([]string{
			strconv.Itoa(e.Channel),
			strconv.FormatFloat(e.VertCorrection, 'g', -1, 64),
			strconv.FormatFloat(e.RotCorrection, 'g', -1, 64),
			strconv.FormatFloat(e.VertOffset, 'g', -1, 64),
			strconv.FormatFloat(e.HorizOffset, 'g', -1, 64),
		}, ","))
		sb.WriteString("\n")
	}
	csvPath := write("vlp16.csv", sb.String())

	table, err := LoadCalibrationFile(csvPath, VLP16)
	require.NoError(t, err)
	assert.Equal(t, def.Entries(), table.Entries())

	// The same file cannot serve a 32-channel model.
	_, err = LoadCalibrationFile(csvPath, HDL32E)
	assert.ErrorContains(t, err, "covers 16 channels")

	_, err = LoadCalibrationFile(write("two.yaml", yamlCalibrationFixture), VLP16)
	assert.ErrorContains(t, err, "covers 2 channels")

	_, err = LoadCalibrationFile(write("cal.txt", "x"), VLP16)
	assert.ErrorContains(t, err, "unsupported calibration file extension")

	_, err = LoadCalibrationFile(filepath.Join(dir, "missing.csv"), VLP16)
	assert.ErrorContains(t, err, "failed to stat")

	big := write("big.csv", strings.Repeat("#", maxCalibrationFileSize+1))
	_, err = LoadCalibrationFile(big, VLP16)
	assert.ErrorContains(t, err, "too large")

	_, err = LoadCalibrationFile(csvPath, ModelUnknown)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}
