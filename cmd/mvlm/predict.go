package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/mvlm/internal/config"
	"github.com/banshee-data/mvlm/internal/db"
	"github.com/banshee-data/mvlm/internal/oracle"
	"github.com/banshee-data/mvlm/internal/pipeline"
	"github.com/banshee-data/mvlm/internal/pointio"
	"github.com/banshee-data/mvlm/internal/report"
	"github.com/banshee-data/mvlm/internal/security"
)

func runPredict(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON config file (default "+config.DefaultConfigPath+" when present)")
	in := fs.String("in", "", "Mesh file or directory of meshes")
	out := fs.String("out", ".", "Directory for landmark files")
	format := fs.String("format", "vtk", "Landmark file format: vtk, txt or json")
	dbPath := fs.String("db", "", "Record each run in this SQLite database")
	withReport := fs.Bool("report", false, "Write an HTML scatter and a support chart per mesh")
	gpus := fs.Int("gpus", 0, "Accelerators present on this host")
	gpuCapability := fs.Int("gpu-capability", 0, "Accelerator compute capability as major*10+minor")
	ov := addOverrides(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("predict needs -in")
	}
	suffix := "_landmarks." + *format
	if _, err := pointio.FormatFor(suffix); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := ov.apply(fs, cfg); err != nil {
		return err
	}
	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	orc, err := pipeline.OracleFromConfig(cfg, oracle.Accelerators{Count: *gpus, Capability: *gpuCapability})
	if err != nil {
		return err
	}
	p, err := pipeline.New(opts, orc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	var store *db.DB
	if *dbPath != "" {
		if store, err = db.NewDB(*dbPath); err != nil {
			return fmt.Errorf("open results database: %w", err)
		}
		defer store.Close()
	}

	save := func(path string, res *pipeline.Result) error {
		dst, err := security.OutputPath(*out, path, suffix)
		if err != nil {
			return err
		}
		if err := pointio.WriteFile(dst, res.Landmarks); err != nil {
			return err
		}
		if store != nil {
			run := &db.Run{
				Mesh:             res.Mesh,
				Vertices:         res.Vertices,
				Faces:            res.Faces,
				Views:            res.Views,
				Diagonal:         res.Diagonal,
				OutlierThreshold: res.OutlierThreshold,
				Oracle:           cfg.GetOracle(),
				Model:            cfg.GetModel(),
				Channels:         cfg.GetImageChannels(),
				LineMode:         cfg.GetLineMode(),
				Started:          res.Started,
				Duration:         res.Duration,
			}
			id, err := store.RecordRun(ctx, run, res.Landmarks)
			if err != nil {
				return fmt.Errorf("record run: %w", err)
			}
			fmt.Fprintf(stdout, "run %s\n", id)
		}
		if *withReport {
			base, err := security.OutputPath(*out, path, "_report")
			if err != nil {
				return err
			}
			if _, err := report.WriteFiles(base, res.Source, res.Landmarks); err != nil {
				return err
			}
		}
		fused, single, missing := res.Counts()
		fmt.Fprintf(stdout, "%s: fused=%d single-view=%d missing=%d -> %s\n", res.Mesh, fused, single, missing, dst)
		return nil
	}

	info, err := os.Stat(*in)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		res, err := p.PredictFile(ctx, *in)
		if err != nil {
			return err
		}
		return save(*in, res)
	}

	summary, err := p.PredictDir(ctx, *in, save)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d of %d meshes landmarked\n", summary.Succeeded, summary.Files)
	if summary.Succeeded == 0 {
		return fmt.Errorf("every mesh in %s failed", *in)
	}
	return nil
}
