package pipeline

import (
	"fmt"

	"github.com/banshee-data/mvlm/internal/camera"
	"github.com/banshee-data/mvlm/internal/config"
	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/oracle"
	"github.com/banshee-data/mvlm/internal/pointio"
	"github.com/banshee-data/mvlm/internal/render"
)

// OptionsFromConfig resolves a validated Config into pipeline Options. This
// is the only place configuration strings become typed values.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := render.ParseChannelMode(cfg.GetImageChannels())
	if err != nil {
		return Options{}, err
	}
	layout, err := camera.ParseLayout(cfg.GetViewLayout())
	if err != nil {
		return Options{}, err
	}
	proj, err := camera.ParseProjection(cfg.GetProjection())
	if err != nil {
		return Options{}, err
	}
	lineMode, err := landmark.ParseLineMode(cfg.GetLineMode())
	if err != nil {
		return Options{}, err
	}

	size := cfg.GetImageSize()
	var absolute float64
	if cfg.OutlierThreshold != nil {
		absolute = *cfg.OutlierThreshold
	}
	return Options{
		Render: render.Options{
			Mode: mode,
			Lens: camera.Lens{
				Projection:     proj,
				FieldOfViewDeg: cfg.GetFieldOfViewDeg(),
				Width:          size,
				Height:         size,
			},
			Layout:  layout,
			Views:   cfg.GetViewCount(),
			ConeDeg: cfg.GetFaceConeDeg(),
			Workers: cfg.GetRenderWorkers(),
		},
		Lines: landmark.LineOptions{
			Mode:                lineMode,
			ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		},
		OutlierThreshold:           absolute,
		OutlierThresholdRelative:   cfg.GetOutlierThresholdRelative(),
		ParallelToleranceDeg:       cfg.GetParallelToleranceDeg(),
		MaxSurfaceDistanceRelative: cfg.GetMaxSurfaceDistanceRelative(),
		OracleWorkers:              cfg.GetOracleWorkers(),
		FusionWorkers:              cfg.GetFusionWorkers(),
	}, nil
}

// OracleFromConfig builds the configured oracle. have describes the
// accelerators the caller found on the host; the pipeline never probes.
func OracleFromConfig(cfg *config.Config, have oracle.Accelerators) (oracle.Oracle, error) {
	kind, err := oracle.ParseKind(cfg.GetOracle())
	if err != nil {
		return nil, err
	}
	model, err := oracle.ParseModel(cfg.GetModel())
	if err != nil {
		return nil, err
	}
	mode, err := render.ParseChannelMode(cfg.GetImageChannels())
	if err != nil {
		return nil, err
	}

	opts := oracle.Options{Kind: kind, Model: model, Channels: mode}
	switch kind {
	case oracle.KindSynthetic:
		path := cfg.GetSyntheticLandmarks()
		if path == "" {
			return nil, fmt.Errorf("synthetic oracle needs synthetic_landmarks")
		}
		pts, err := pointio.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load synthetic landmarks: %w", err)
		}
		opts.Landmarks = pts
	case oracle.KindRemote:
		dev, err := oracle.NegotiateDevice(cfg.GetDevice(), cfg.GetNGPU(), have)
		if err != nil {
			return nil, err
		}
		opts.URL = cfg.GetOracleURL()
		opts.Timeout = cfg.GetOracleTimeout()
		opts.InputSize = cfg.GetOracleInputSize()
		opts.Device = dev
	}
	return oracle.New(opts)
}
