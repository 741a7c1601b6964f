package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Hour, cfg.Cache.DownloadTimeout)
	assert.Equal(t, AnchorCorner, cfg.Detection.Anchors)
	assert.Equal(t, float32(0.4), cfg.Detection.NMSThreshold)
	assert.Equal(t, ImageOpsOpenCV, cfg.Backend.ImageOps)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faceswap.yaml")
	err := os.WriteFile(path, []byte(`
models:
  parser: https://example.test/parser.onnx
detection:
  conf_threshold: 0.35
  anchors: center
cache:
  download_timeout: 30m
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/parser.onnx", cfg.Models.Parser)
	assert.Equal(t, float32(0.35), cfg.Detection.ConfThreshold)
	assert.Equal(t, AnchorCenter, cfg.Detection.Anchors)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DownloadTimeout)
	// untouched fields keep their defaults
	assert.Equal(t, defaultSwapperURL, cfg.Models.Swapper)
	assert.Equal(t, 640, cfg.Detection.InputSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FACESWAP_CACHE_DIR", "/tmp/models")
	t.Setenv("FACESWAP_THREADS", "4")
	t.Setenv("FACESWAP_DEVICE_ID", "not-a-number")
	t.Setenv("FACESWAP_ACCELERATED", "false")
	t.Setenv("FACESWAP_DOWNLOAD_TIMEOUT", "5m")
	t.Setenv("FACESWAP_CONF_THRESHOLD", "0.6")
	t.Setenv("FACESWAP_IMAGE_OPS", "reference")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "/tmp/models", cfg.Cache.Dir)
	assert.Equal(t, 4, cfg.Backend.Threads)
	assert.Equal(t, 0, cfg.Backend.DeviceID)
	assert.False(t, cfg.Backend.PreferAccelerated)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DownloadTimeout)
	assert.InDelta(t, 0.6, cfg.Detection.ConfThreshold, 1e-6)
	assert.Equal(t, ImageOpsReference, cfg.Backend.ImageOps)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing swapper", func(c *Config) { c.Models.Swapper = "" }},
		{"odd input size", func(c *Config) { c.Detection.InputSize = 600 }},
		{"threshold above one", func(c *Config) { c.Detection.ConfThreshold = 1.5 }},
		{"zero nms", func(c *Config) { c.Detection.NMSThreshold = 0 }},
		{"unknown anchors", func(c *Config) { c.Detection.Anchors = "middle" }},
		{"zero timeout", func(c *Config) { c.Cache.DownloadTimeout = 0 }},
		{"unknown image ops", func(c *Config) { c.Backend.ImageOps = "metal" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
