// Package config loads the JSON decoder configuration used by the
// command-line tools.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/velodyne/internal/lidar"
	"github.com/banshee-data/velodyne/internal/lidar/velodyne"
)

// EnvModel overrides the configured sensor model when set.
const EnvModel = "VELODYNE_MODEL"

// Defaults applied by the Get* methods when a field is omitted.
const (
	DefaultModel         = "VLP-16"
	DefaultListenAddress = ":2368"
	DefaultRcvBuf        = 4 << 20
	DefaultStatsInterval = time.Minute
)

// DecoderConfig is the root configuration. Every field is optional; omitted
// fields fall back to the defaults returned by the Get* methods, so partial
// configs are safe.
type DecoderConfig struct {
	// Sensor
	Model           *string `json:"model,omitempty"`            // e.g. "VLP-16", "HDL-32E"
	CalibrationFile *string `json:"calibration_file,omitempty"` // .yaml, .xml or .csv
	DualPolicy      *string `json:"dual_policy,omitempty"`      // "collapse" or "duplicate"
	StrictFactory   *bool   `json:"strict_factory,omitempty"`

	// Packet sources
	ListenAddress  *string  `json:"listen_address,omitempty"`
	RcvBuf         *int     `json:"rcv_buf,omitempty"`
	ForwardAddress *string  `json:"forward_address,omitempty"`
	ReplaySpeed    *float64 `json:"replay_speed,omitempty"` // 0 replays captures as fast as possible

	// Processing
	Workers       *int     `json:"workers,omitempty"`        // 0 uses GOMAXPROCS
	SplitAzimuth  *float64 `json:"split_azimuth,omitempty"`  // degrees
	StatsInterval *string  `json:"stats_interval,omitempty"` // duration string like "60s"

	// Optional sensor-to-site pose.
	Pose *PoseConfig `json:"pose,omitempty"`
}

// PoseConfig places the sensor in a site frame. Angles are degrees and
// translations meters.
type PoseConfig struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	RMSE  float64 `json:"rmse,omitempty"`
}

// LoadDecoderConfig loads a DecoderConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadDecoderConfig(path string) (*DecoderConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DecoderConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides using lookup (normally os.LookupEnv).
func (c *DecoderConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvModel); ok && v != "" {
		c.Model = &v
	}
}

// Validate checks that the configuration values are valid.
func (c *DecoderConfig) Validate() error {
	if c.Model != nil {
		if _, err := velodyne.ParseModel(*c.Model); err != nil {
			return err
		}
	}

	if c.DualPolicy != nil {
		if _, err := parseDualPolicy(*c.DualPolicy); err != nil {
			return err
		}
	}

	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.ReplaySpeed != nil && *c.ReplaySpeed < 0 {
		return fmt.Errorf("replay_speed must be non-negative, got %f", *c.ReplaySpeed)
	}
	if c.SplitAzimuth != nil && (*c.SplitAzimuth < 0 || *c.SplitAzimuth >= 360) {
		return fmt.Errorf("split_azimuth must be in [0, 360), got %f", *c.SplitAzimuth)
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		d, err := time.ParseDuration(*c.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("stats_interval must be positive, got %s", d)
		}
	}

	if c.Pose != nil {
		if err := c.GetPose().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func parseDualPolicy(s string) (velodyne.DualPolicy, error) {
	switch strings.ToLower(s) {
	case "", "collapse":
		return velodyne.CollapseIdentical, nil
	case "duplicate":
		return velodyne.DuplicateIdentical, nil
	}
	return velodyne.CollapseIdentical, fmt.Errorf("dual_policy must be \"collapse\" or \"duplicate\", got %q", s)
}

// GetModel returns the parsed sensor model or the default.
func (c *DecoderConfig) GetModel() velodyne.Model {
	name := DefaultModel
	if c.Model != nil && *c.Model != "" {
		name = *c.Model
	}
	m, err := velodyne.ParseModel(name)
	if err != nil {
		return velodyne.VLP16
	}
	return m
}

// GetCalibrationFile returns the calibration path, or "" for the built-in table.
func (c *DecoderConfig) GetCalibrationFile() string {
	if c.CalibrationFile == nil {
		return ""
	}
	return *c.CalibrationFile
}

// GetDualPolicy returns the identical dual-return policy or the default.
func (c *DecoderConfig) GetDualPolicy() velodyne.DualPolicy {
	if c.DualPolicy == nil {
		return velodyne.CollapseIdentical
	}
	p, _ := parseDualPolicy(*c.DualPolicy)
	return p
}

// GetStrictFactory returns the strict_factory value or the default.
func (c *DecoderConfig) GetStrictFactory() bool {
	if c.StrictFactory == nil {
		return false
	}
	return *c.StrictFactory
}

// GetListenAddress returns the UDP listen address or the default.
func (c *DecoderConfig) GetListenAddress() string {
	if c.ListenAddress == nil || *c.ListenAddress == "" {
		return DefaultListenAddress
	}
	return *c.ListenAddress
}

// GetRcvBuf returns the socket receive buffer size or the default.
func (c *DecoderConfig) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return DefaultRcvBuf
	}
	return *c.RcvBuf
}

// GetForwardAddress returns the forward address, or "" when forwarding is off.
func (c *DecoderConfig) GetForwardAddress() string {
	if c.ForwardAddress == nil {
		return ""
	}
	return *c.ForwardAddress
}

// GetReplaySpeed returns the capture replay speed (0 = unpaced).
func (c *DecoderConfig) GetReplaySpeed() float64 {
	if c.ReplaySpeed == nil {
		return 0
	}
	return *c.ReplaySpeed
}

// GetWorkers returns the decode worker count (0 = GOMAXPROCS).
func (c *DecoderConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetSplitAzimuth returns the turn split azimuth in centi-degrees.
func (c *DecoderConfig) GetSplitAzimuth() uint16 {
	if c.SplitAzimuth == nil {
		return 0
	}
	return uint16(*c.SplitAzimuth*100+0.5) % velodyne.ROTATION_MAX_UNITS
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *DecoderConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return DefaultStatsInterval
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil || d <= 0 {
		return DefaultStatsInterval
	}
	return d
}

// GetPose returns the configured pose, or the identity pose.
func (c *DecoderConfig) GetPose() lidar.Pose {
	if c.Pose == nil {
		return lidar.IdentityPose()
	}
	p := lidar.PoseFromEuler(c.Pose.Yaw, c.Pose.Pitch, c.Pose.Roll, c.Pose.X, c.Pose.Y, c.Pose.Z)
	p.RootMeanSquareErrorMeters = c.Pose.RMSE
	return p
}

// HasPose reports whether a site pose is configured.
func (c *DecoderConfig) HasPose() bool { return c.Pose != nil }
