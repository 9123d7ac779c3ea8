package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
// This is the single source of truth for all default pipeline values.
const DefaultConfigPath = "config/mvlm.defaults.json"

// Recognised enumeration values. The pipeline maps these strings onto typed
// enums once at start-up; nothing downstream looks them up by name.
var (
	ImageChannelModes = []string{"geometry", "RGB", "depth", "RGB+depth"}
	ViewLayouts       = []string{"sphere", "face"}
	Projections       = []string{"perspective", "orthographic"}
	LineModes         = []string{"ray", "depth"}
	OracleKinds       = []string{"synthetic", "remote"}
	Models            = []string{"MVLMModel_DTU3D", "MVLMModel_BU_3DFE"}
	Devices           = []string{"cpu", "accelerated"}
)

// Config represents the root configuration for a landmarking run.
// Every field is optional; the Get* accessors supply defaults for fields
// missing from the JSON file, so partial configs are safe.
type Config struct {
	// Rendering
	ImageChannels  *string  `json:"image_channels,omitempty"`
	ImageSize      *int     `json:"image_size,omitempty"`
	ViewCount      *int     `json:"view_count,omitempty"`
	ViewLayout     *string  `json:"view_layout,omitempty"`
	FaceConeDeg    *float64 `json:"face_cone_deg,omitempty"`
	Projection     *string  `json:"projection,omitempty"`
	FieldOfViewDeg *float64 `json:"field_of_view_deg,omitempty"`

	// View lines and fusion
	LineMode                   *string  `json:"line_mode,omitempty"`
	ConfidenceThreshold        *float64 `json:"confidence_threshold,omitempty"`
	OutlierThreshold           *float64 `json:"outlier_threshold,omitempty"` // absolute, mesh units; overrides the relative value
	OutlierThresholdRelative   *float64 `json:"outlier_threshold_relative,omitempty"`
	ParallelToleranceDeg       *float64 `json:"parallel_tolerance_deg,omitempty"`
	MaxSurfaceDistanceRelative *float64 `json:"max_surface_distance_relative,omitempty"`

	// Oracle
	Oracle             *string `json:"oracle,omitempty"`
	OracleURL          *string `json:"oracle_url,omitempty"`
	OracleTimeout      *string `json:"oracle_timeout,omitempty"` // duration string like "30s"
	OracleInputSize    *int    `json:"oracle_input_size,omitempty"`
	SyntheticLandmarks *string `json:"synthetic_landmarks,omitempty"` // point file with known 3D landmarks
	Model              *string `json:"model,omitempty"`

	// Compute
	Device        *string `json:"device,omitempty"`
	NGPU          *int    `json:"n_gpu,omitempty"`
	RenderWorkers *int    `json:"render_workers,omitempty"`
	OracleWorkers *int    `json:"oracle_workers,omitempty"`
	FusionWorkers *int    `json:"fusion_workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields set to nil.
// Use LoadConfig to load actual values from the defaults file.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from cmd/mvlm/ and deeper packages
		"../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func oneOf(field, v string, allowed []string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, v)
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	enums := []struct {
		field   string
		value   *string
		allowed []string
	}{
		{"image_channels", c.ImageChannels, ImageChannelModes},
		{"view_layout", c.ViewLayout, ViewLayouts},
		{"projection", c.Projection, Projections},
		{"line_mode", c.LineMode, LineModes},
		{"oracle", c.Oracle, OracleKinds},
		{"model", c.Model, Models},
		{"device", c.Device, Devices},
	}
	for _, e := range enums {
		if e.value == nil {
			continue
		}
		if err := oneOf(e.field, *e.value, e.allowed); err != nil {
			return err
		}
	}

	if c.ImageSize != nil && (*c.ImageSize < 16 || *c.ImageSize > 4096) {
		return fmt.Errorf("image_size must be between 16 and 4096, got %d", *c.ImageSize)
	}
	if c.ViewCount != nil && *c.ViewCount < 1 {
		return fmt.Errorf("view_count must be positive, got %d", *c.ViewCount)
	}
	if c.FaceConeDeg != nil && (*c.FaceConeDeg <= 0 || *c.FaceConeDeg > 180) {
		return fmt.Errorf("face_cone_deg must be in (0, 180], got %f", *c.FaceConeDeg)
	}
	if c.FieldOfViewDeg != nil && (*c.FieldOfViewDeg <= 0 || *c.FieldOfViewDeg >= 180) {
		return fmt.Errorf("field_of_view_deg must be in (0, 180), got %f", *c.FieldOfViewDeg)
	}
	if c.ConfidenceThreshold != nil && (*c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1) {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
	}
	if c.OutlierThreshold != nil && *c.OutlierThreshold < 0 {
		return fmt.Errorf("outlier_threshold must be non-negative, got %f", *c.OutlierThreshold)
	}
	if c.OutlierThresholdRelative != nil && *c.OutlierThresholdRelative <= 0 {
		return fmt.Errorf("outlier_threshold_relative must be positive, got %f", *c.OutlierThresholdRelative)
	}
	if c.ParallelToleranceDeg != nil && (*c.ParallelToleranceDeg < 0 || *c.ParallelToleranceDeg >= 90) {
		return fmt.Errorf("parallel_tolerance_deg must be in [0, 90), got %f", *c.ParallelToleranceDeg)
	}
	if c.MaxSurfaceDistanceRelative != nil && *c.MaxSurfaceDistanceRelative <= 0 {
		return fmt.Errorf("max_surface_distance_relative must be positive, got %f", *c.MaxSurfaceDistanceRelative)
	}
	if c.OracleTimeout != nil && *c.OracleTimeout != "" {
		if _, err := time.ParseDuration(*c.OracleTimeout); err != nil {
			return fmt.Errorf("invalid oracle_timeout '%s': %w", *c.OracleTimeout, err)
		}
	}
	if c.OracleInputSize != nil && *c.OracleInputSize < 0 {
		return fmt.Errorf("oracle_input_size must be non-negative, got %d", *c.OracleInputSize)
	}
	if c.NGPU != nil && *c.NGPU < 0 {
		return fmt.Errorf("n_gpu must be non-negative, got %d", *c.NGPU)
	}
	for _, w := range []struct {
		field string
		value *int
	}{
		{"render_workers", c.RenderWorkers},
		{"oracle_workers", c.OracleWorkers},
		{"fusion_workers", c.FusionWorkers},
	} {
		if w.value != nil && *w.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", w.field, *w.value)
		}
	}

	// The BU-3DFE model was only trained on RGB renderings.
	if c.GetModel() == "MVLMModel_BU_3DFE" && c.GetImageChannels() != "RGB" {
		return fmt.Errorf("model %s has no trained variant for channels %q", c.GetModel(), c.GetImageChannels())
	}

	return nil
}

// GetImageChannels returns the image_channels value or the default.
func (c *Config) GetImageChannels() string {
	if c.ImageChannels == nil {
		return "geometry"
	}
	return *c.ImageChannels
}

// GetImageSize returns the image_size value or the default.
func (c *Config) GetImageSize() int {
	if c.ImageSize == nil {
		return 256
	}
	return *c.ImageSize
}

// GetViewCount returns the view_count value or the default.
func (c *Config) GetViewCount() int {
	if c.ViewCount == nil {
		return 100
	}
	return *c.ViewCount
}

// GetViewLayout returns the view_layout value or the default.
func (c *Config) GetViewLayout() string {
	if c.ViewLayout == nil {
		return "face"
	}
	return *c.ViewLayout
}

// GetFaceConeDeg returns the face_cone_deg value or the default.
func (c *Config) GetFaceConeDeg() float64 {
	if c.FaceConeDeg == nil {
		return 75
	}
	return *c.FaceConeDeg
}

// GetProjection returns the projection value or the default.
func (c *Config) GetProjection() string {
	if c.Projection == nil {
		return "perspective"
	}
	return *c.Projection
}

// GetFieldOfViewDeg returns the field_of_view_deg value or the default.
func (c *Config) GetFieldOfViewDeg() float64 {
	if c.FieldOfViewDeg == nil {
		return 30
	}
	return *c.FieldOfViewDeg
}

// GetLineMode returns the line_mode value or the default.
func (c *Config) GetLineMode() string {
	if c.LineMode == nil {
		return "ray"
	}
	return *c.LineMode
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.4
	}
	return *c.ConfidenceThreshold
}

// GetOutlierThreshold returns the absolute outlier distance for a mesh with
// the given bounding-box diagonal. An explicit outlier_threshold wins over
// the relative setting.
func (c *Config) GetOutlierThreshold(diagonal float64) float64 {
	if c.OutlierThreshold != nil && *c.OutlierThreshold > 0 {
		return *c.OutlierThreshold
	}
	return c.GetOutlierThresholdRelative() * diagonal
}

// GetOutlierThresholdRelative returns the outlier_threshold_relative value or the default.
func (c *Config) GetOutlierThresholdRelative() float64 {
	if c.OutlierThresholdRelative == nil {
		return 0.02
	}
	return *c.OutlierThresholdRelative
}

// GetParallelToleranceDeg returns the parallel_tolerance_deg value or the default.
func (c *Config) GetParallelToleranceDeg() float64 {
	if c.ParallelToleranceDeg == nil {
		return 1.0
	}
	return *c.ParallelToleranceDeg
}

// GetMaxSurfaceDistanceRelative returns the max_surface_distance_relative value or the default.
func (c *Config) GetMaxSurfaceDistanceRelative() float64 {
	if c.MaxSurfaceDistanceRelative == nil {
		return 0.05
	}
	return *c.MaxSurfaceDistanceRelative
}

// GetOracle returns the oracle value or the default.
func (c *Config) GetOracle() string {
	if c.Oracle == nil {
		return "remote"
	}
	return *c.Oracle
}

// GetOracleURL returns the oracle_url value or the default.
func (c *Config) GetOracleURL() string {
	if c.OracleURL == nil {
		return "http://127.0.0.1:8500/predict"
	}
	return *c.OracleURL
}

// GetOracleTimeout parses and returns the OracleTimeout as a time.Duration.
func (c *Config) GetOracleTimeout() time.Duration {
	if c.OracleTimeout == nil || *c.OracleTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.OracleTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetOracleInputSize returns the oracle_input_size value, falling back to
// the render size when unset or zero.
func (c *Config) GetOracleInputSize() int {
	if c.OracleInputSize == nil || *c.OracleInputSize == 0 {
		return c.GetImageSize()
	}
	return *c.OracleInputSize
}

// GetSyntheticLandmarks returns the synthetic_landmarks path or "".
func (c *Config) GetSyntheticLandmarks() string {
	if c.SyntheticLandmarks == nil {
		return ""
	}
	return *c.SyntheticLandmarks
}

// GetModel returns the model value or the default.
func (c *Config) GetModel() string {
	if c.Model == nil {
		return "MVLMModel_DTU3D"
	}
	return *c.Model
}

// GetDevice returns the device value or the default.
func (c *Config) GetDevice() string {
	if c.Device == nil {
		return "cpu"
	}
	return *c.Device
}

// GetNGPU returns the n_gpu value or the default.
func (c *Config) GetNGPU() int {
	if c.NGPU == nil {
		return 0
	}
	return *c.NGPU
}

// GetRenderWorkers returns the render_workers value or the default.
func (c *Config) GetRenderWorkers() int {
	if c.RenderWorkers == nil {
		return 4
	}
	return *c.RenderWorkers
}

// GetOracleWorkers returns the oracle_workers value or the default.
func (c *Config) GetOracleWorkers() int {
	if c.OracleWorkers == nil {
		return 4
	}
	return *c.OracleWorkers
}

// GetFusionWorkers returns the fusion_workers value or the default.
func (c *Config) GetFusionWorkers() int {
	if c.FusionWorkers == nil {
		return 8
	}
	return *c.FusionWorkers
}
