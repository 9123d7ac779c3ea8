package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/mvlm/internal/fsutil"
	"github.com/banshee-data/mvlm/internal/mesh"
	"github.com/banshee-data/mvlm/internal/pipeline"
	"github.com/banshee-data/mvlm/internal/render"
)

// runRender writes the views the oracle would see, for checking camera
// placement and channel modes by eye.
func runRender(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON config file")
	in := fs.String("in", "", "Mesh file")
	out := fs.String("out", "views", "Directory for the PNG files")
	ov := addOverrides(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("render needs -in")
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
	r, err := render.New(opts.Render)
	if err != nil {
		return err
	}
	m, err := mesh.Load(*in)
	if err != nil {
		return err
	}
	images, _, err := r.Render(ctx, m)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	for i, img := range images {
		path := filepath.Join(*out, fmt.Sprintf("view_%03d.png", i))
		if err := fsutil.WriteAtomic(path, func(w io.Writer) error { return png.Encode(w, img.ToImage()) }); err != nil {
			return err
		}
		if img.Mode == render.RGBDepth {
			depth := filepath.Join(*out, fmt.Sprintf("view_%03d_depth.png", i))
			if err := fsutil.WriteAtomic(depth, func(w io.Writer) error { return png.Encode(w, img.ChannelImage(3)) }); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(stdout, "%d views of %s written to %s\n", len(images), m.Name, *out)
	return nil
}
