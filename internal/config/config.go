// Package config holds the face-swap pipeline configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AnchorMode pins where detector anchors sit inside a feature-grid cell.
type AnchorMode string

const (
	// AnchorCorner places anchors at (x*stride, y*stride). This matches the
	// InsightFace det_10g weights.
	AnchorCorner AnchorMode = "corner"
	// AnchorCenter places anchors at ((x+0.5)*stride, (y+0.5)*stride).
	AnchorCenter AnchorMode = "center"
)

// ImageOps selects the image kernel backend.
type ImageOps string

const (
	// ImageOpsOpenCV runs warps, resizes and mask kernels through OpenCV.
	ImageOpsOpenCV ImageOps = "opencv"
	// ImageOpsReference uses the pure-Go kernels.
	ImageOpsReference ImageOps = "reference"
	// ImageOpsAuto uses OpenCV only alongside an accelerated inference
	// provider.
	ImageOpsAuto ImageOps = "auto"
)

// Config is the complete pipeline configuration.
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Cache     CacheConfig     `yaml:"cache"`
	Backend   BackendConfig   `yaml:"backend"`
	Detection DetectionConfig `yaml:"detection"`
	Blend     BlendConfig     `yaml:"blend"`
	Enhancer  EnhancerConfig  `yaml:"enhancer"`
}

// ModelsConfig lists the artifact URLs. Emap and Parser are optional: an
// empty Emap means "extract from the swapper model", an empty Parser means
// "use the landmark ellipse mask".
type ModelsConfig struct {
	Detector string `yaml:"detector"`
	Embedder string `yaml:"embedder"`
	Swapper  string `yaml:"swapper"`
	Emap     string `yaml:"emap"`
	Parser   string `yaml:"parser"`
	Enhancer string `yaml:"enhancer"`
}

type CacheConfig struct {
	Dir             string        `yaml:"dir"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

type BackendConfig struct {
	LibraryPath       string   `yaml:"library_path"`       // onnxruntime shared library
	PreferAccelerated bool     `yaml:"prefer_accelerated"` // try CUDA/CoreML before CPU
	DeviceID          int      `yaml:"device_id"`
	Threads           int      `yaml:"threads"` // intra-op threads, 0 = runtime default
	ImageOps          ImageOps `yaml:"image_ops"`
}

type DetectionConfig struct {
	InputSize     int        `yaml:"input_size"`
	ConfThreshold float32    `yaml:"conf_threshold"`
	NMSThreshold  float32    `yaml:"nms_threshold"`
	Anchors       AnchorMode `yaml:"anchors"`
}

type BlendConfig struct {
	ColorMatchLimit float32 `yaml:"color_match_limit"` // max relative per-channel gain
}

type EnhancerConfig struct {
	InputSize int `yaml:"input_size"`
}

const (
	defaultDetectorURL = "https://huggingface.co/fofr/comfyui/resolve/main/insightface/models/buffalo_l/det_10g.onnx"
	defaultEmbedderURL = "https://huggingface.co/fofr/comfyui/resolve/main/insightface/models/buffalo_l/w600k_r50.onnx"
	defaultSwapperURL  = "https://huggingface.co/ezioruan/inswapper_128.onnx/resolve/main/inswapper_128.onnx"
)

// Default returns the built-in configuration.
func Default() *Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return &Config{
		Models: ModelsConfig{
			Detector: defaultDetectorURL,
			Embedder: defaultEmbedderURL,
			Swapper:  defaultSwapperURL,
		},
		Cache: CacheConfig{
			Dir:             filepath.Join(cacheDir, "faceswap", "models"),
			DownloadTimeout: time.Hour,
		},
		Backend: BackendConfig{
			PreferAccelerated: true,
			ImageOps:          ImageOpsOpenCV,
		},
		Detection: DetectionConfig{
			InputSize:     640,
			ConfThreshold: 0.5,
			NMSThreshold:  0.4,
			Anchors:       AnchorCorner,
		},
		Blend: BlendConfig{
			ColorMatchLimit: 0.2,
		},
		Enhancer: EnhancerConfig{
			InputSize: 512,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// envInt reads an environment variable as a non-negative integer, returning
// defaultVal when unset or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float32) float32 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return float32(f)
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// ApplyEnv overrides fields from FACESWAP_* environment variables.
func (c *Config) ApplyEnv() {
	c.Models.Detector = envString("FACESWAP_DETECTOR_URL", c.Models.Detector)
	c.Models.Embedder = envString("FACESWAP_EMBEDDER_URL", c.Models.Embedder)
	c.Models.Swapper = envString("FACESWAP_SWAPPER_URL", c.Models.Swapper)
	c.Models.Emap = envString("FACESWAP_EMAP_URL", c.Models.Emap)
	c.Models.Parser = envString("FACESWAP_PARSER_URL", c.Models.Parser)
	c.Models.Enhancer = envString("FACESWAP_ENHANCER_URL", c.Models.Enhancer)

	c.Cache.Dir = envString("FACESWAP_CACHE_DIR", c.Cache.Dir)
	if s := os.Getenv("FACESWAP_DOWNLOAD_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			c.Cache.DownloadTimeout = d
		}
	}

	c.Backend.LibraryPath = envString("ORT_LIBRARY_PATH", c.Backend.LibraryPath)
	if s := os.Getenv("FACESWAP_ACCELERATED"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			c.Backend.PreferAccelerated = b
		}
	}
	c.Backend.DeviceID = envInt("FACESWAP_DEVICE_ID", c.Backend.DeviceID)
	c.Backend.Threads = envInt("FACESWAP_THREADS", c.Backend.Threads)
	c.Backend.ImageOps = ImageOps(envString("FACESWAP_IMAGE_OPS", string(c.Backend.ImageOps)))

	c.Detection.ConfThreshold = envFloat("FACESWAP_CONF_THRESHOLD", c.Detection.ConfThreshold)
	c.Detection.NMSThreshold = envFloat("FACESWAP_NMS_THRESHOLD", c.Detection.NMSThreshold)
	c.Detection.Anchors = AnchorMode(envString("FACESWAP_ANCHORS", string(c.Detection.Anchors)))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Models.Detector == "" || c.Models.Embedder == "" || c.Models.Swapper == "" {
		errs = append(errs, errors.New("detector, embedder and swapper model URLs are required"))
	}
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache dir is required"))
	}
	if c.Cache.DownloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("download timeout must be positive, got %s", c.Cache.DownloadTimeout))
	}
	if c.Detection.InputSize <= 0 || c.Detection.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("detection input size must be a positive multiple of 32, got %d", c.Detection.InputSize))
	}
	if c.Detection.ConfThreshold < 0 || c.Detection.ConfThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold must be in [0,1], got %g", c.Detection.ConfThreshold))
	}
	if c.Detection.NMSThreshold <= 0 || c.Detection.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("nms threshold must be in (0,1], got %g", c.Detection.NMSThreshold))
	}
	if c.Detection.Anchors != AnchorCorner && c.Detection.Anchors != AnchorCenter {
		errs = append(errs, fmt.Errorf("unknown anchor mode %q", c.Detection.Anchors))
	}
	switch c.Backend.ImageOps {
	case ImageOpsOpenCV, ImageOpsReference, ImageOpsAuto:
	default:
		errs = append(errs, fmt.Errorf("unknown image ops backend %q", c.Backend.ImageOps))
	}
	if c.Blend.ColorMatchLimit < 0 || c.Blend.ColorMatchLimit >= 1 {
		errs = append(errs, fmt.Errorf("color match limit must be in [0,1), got %g", c.Blend.ColorMatchLimit))
	}
	if c.Enhancer.InputSize <= 0 {
		errs = append(errs, fmt.Errorf("enhancer input size must be positive, got %d", c.Enhancer.InputSize))
	}
	return errors.Join(errs...)
}
