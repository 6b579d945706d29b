package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/velodyne/internal/lidar"
	"github.com/banshee-data/velodyne/internal/lidar/velodyne"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &DecoderConfig{}

	if cfg.GetModel() != velodyne.VLP16 {
		t.Errorf("GetModel() = %v, want VLP-16", cfg.GetModel())
	}
	if cfg.GetDualPolicy() != velodyne.CollapseIdentical {
		t.Errorf("GetDualPolicy() = %v, want collapse", cfg.GetDualPolicy())
	}
	if cfg.GetListenAddress() != ":2368" {
		t.Errorf("GetListenAddress() = %q, want :2368", cfg.GetListenAddress())
	}
	if cfg.GetRcvBuf() != DefaultRcvBuf {
		t.Errorf("GetRcvBuf() = %d, want %d", cfg.GetRcvBuf(), DefaultRcvBuf)
	}
	if cfg.GetStatsInterval() != time.Minute {
		t.Errorf("GetStatsInterval() = %v, want 1m", cfg.GetStatsInterval())
	}
	if cfg.GetWorkers() != 0 || cfg.GetReplaySpeed() != 0 || cfg.GetSplitAzimuth() != 0 {
		t.Error("expected zero workers, replay speed and split azimuth")
	}
	if cfg.GetStrictFactory() || cfg.GetCalibrationFile() != "" || cfg.GetForwardAddress() != "" {
		t.Error("expected optional features disabled by default")
	}
	if cfg.HasPose() || cfg.GetPose() != lidar.IdentityPose() {
		t.Error("expected identity pose by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
}

func TestLoadDecoderConfig(t *testing.T) {
	path := writeConfig(t, "decoder.json", `{
  "model": "hdl-32e",
  "dual_policy": "duplicate",
  "strict_factory": true,
  "workers": 4,
  "split_azimuth": 90.5,
  "stats_interval": "10s",
  "forward_address": "127.0.0.1:2369",
  "pose": {"yaw": 90, "x": 1.5, "z": 3.2, "rmse": 0.04}
}`)

	cfg, err := LoadDecoderConfig(path)
	if err != nil {
		t.Fatalf("LoadDecoderConfig failed: %v", err)
	}

	if cfg.GetModel() != velodyne.HDL32E {
		t.Errorf("GetModel() = %v, want HDL-32E", cfg.GetModel())
	}
	if cfg.GetDualPolicy() != velodyne.DuplicateIdentical {
		t.Errorf("GetDualPolicy() = %v, want duplicate", cfg.GetDualPolicy())
	}
	if !cfg.GetStrictFactory() {
		t.Error("expected strict factory")
	}
	if cfg.GetWorkers() != 4 {
		t.Errorf("GetWorkers() = %d, want 4", cfg.GetWorkers())
	}
	if cfg.GetSplitAzimuth() != 9050 {
		t.Errorf("GetSplitAzimuth() = %d, want 9050", cfg.GetSplitAzimuth())
	}
	if cfg.GetStatsInterval() != 10*time.Second {
		t.Errorf("GetStatsInterval() = %v, want 10s", cfg.GetStatsInterval())
	}
	if cfg.GetForwardAddress() != "127.0.0.1:2369" {
		t.Errorf("GetForwardAddress() = %q", cfg.GetForwardAddress())
	}
	// Unset fields keep defaults.
	if cfg.GetListenAddress() != DefaultListenAddress {
		t.Errorf("GetListenAddress() = %q, want default", cfg.GetListenAddress())
	}

	pose := cfg.GetPose()
	if pose.Quality() != lidar.PoseQualityExcellent {
		t.Errorf("pose quality = %s, want excellent", pose.Quality())
	}
	x, y, z := lidar.ApplyPose(0, 0, 0, pose.T)
	if x != 1.5 || y != 0 || z != 3.2 {
		t.Errorf("pose translation = (%v,%v,%v), want (1.5,0,3.2)", x, y, z)
	}
}

func TestLoadDecoderConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadDecoderConfig("../../config/decoder.example.json")
	if err != nil {
		t.Fatalf("example config failed to load: %v", err)
	}
	if cfg.GetModel() != velodyne.VLP16 {
		t.Errorf("example model = %v, want VLP-16", cfg.GetModel())
	}
}

func TestLoadDecoderConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "decoder.yaml", `{}`, ".json extension"},
		{"bad json", "decoder.json", `{"model":`, "failed to parse"},
		{"unknown field", "decoder.json", `{"modle": "VLP-16"}`, "unknown field"},
		{"unknown model", "decoder.json", `{"model": "HDL-64E"}`, "unsupported sensor model"},
		{"bad policy", "decoder.json", `{"dual_policy": "average"}`, "dual_policy"},
		{"negative workers", "decoder.json", `{"workers": -1}`, "workers"},
		{"negative rcv_buf", "decoder.json", `{"rcv_buf": -1}`, "rcv_buf"},
		{"negative speed", "decoder.json", `{"replay_speed": -2}`, "replay_speed"},
		{"split out of range", "decoder.json", `{"split_azimuth": 360}`, "split_azimuth"},
		{"bad interval", "decoder.json", `{"stats_interval": "soon"}`, "stats_interval"},
		{"zero interval", "decoder.json", `{"stats_interval": "0s"}`, "stats_interval"},
		{"poor pose", "decoder.json", `{"pose": {"rmse": 0.5}}`, "pose quality is poor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadDecoderConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadDecoderConfig_TooLarge(t *testing.T) {
	body := `{"model": "VLP-16", "calibration_file": "` + strings.Repeat("a", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", body)
	_, err := LoadDecoderConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestLoadDecoderConfig_Missing(t *testing.T) {
	_, err := LoadDecoderConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	model := "VLP-16"
	cfg := &DecoderConfig{Model: &model}

	env := map[string]string{EnvModel: "VLP-32C"}
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.GetModel() != velodyne.VLP32C {
		t.Errorf("GetModel() = %v, want VLP-32C after env override", cfg.GetModel())
	}

	cfg.ApplyEnv(func(string) (string, bool) { return "", false })
	if cfg.GetModel() != velodyne.VLP32C {
		t.Error("missing env var should not change the model")
	}
}
