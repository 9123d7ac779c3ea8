// Command mvlm places 3D landmarks on surface meshes by rendering them from
// many directions, detecting landmarks in each view and fusing the
// detections back onto the surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/mvlm/internal/config"
	"github.com/banshee-data/mvlm/internal/db"
	"github.com/banshee-data/mvlm/internal/version"
)

const usage = `Usage: mvlm <command> [flags]

Commands:
  predict    Place landmarks on a mesh file or every mesh in a directory
  render     Write the rendered views of a mesh as PNG files
  serve      Serve stored runs over HTTP
  migrate    Manage the results database schema
  version    Print build information

Run "mvlm <command> -h" for the flags of a command.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("mvlm: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "predict":
		return runPredict(ctx, rest, stdout)
	case "render":
		return runRender(ctx, rest, stdout)
	case "serve":
		return runServe(ctx, rest)
	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
		dbPath := fs.String("db", "mvlm.db", "Results database")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadConfig reads path, or the defaults file when path is empty and the
// defaults file is present, or else starts from an empty config.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.EmptyConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadConfig(path)
}

// overrides are the config fields that may be set from the command line.
type overrides struct {
	channels, layout, lineMode, oracle, oracleURL, synthetic, model, device *string
	views, size, nGPU                                                       *int
	confidence                                                              *float64
}

func addOverrides(fs *flag.FlagSet) *overrides {
	return &overrides{
		channels:   fs.String("channels", "", "Image channels: geometry, RGB, depth or RGB+depth"),
		layout:     fs.String("layout", "", "Camera layout: sphere or face"),
		lineMode:   fs.String("line-mode", "", "View line mode: ray or depth"),
		oracle:     fs.String("oracle", "", "Landmark oracle: remote or synthetic"),
		oracleURL:  fs.String("oracle-url", "", "Remote oracle endpoint"),
		synthetic:  fs.String("synthetic", "", "Point file of known landmarks for the synthetic oracle"),
		model:      fs.String("model", "", "Detector model name"),
		device:     fs.String("device", "", "Inference device: cpu or accelerated"),
		views:      fs.Int("views", 0, "Number of rendered views"),
		size:       fs.Int("size", 0, "Rendered image size in pixels"),
		nGPU:       fs.Int("n-gpu", 0, "Accelerators to request"),
		confidence: fs.Float64("confidence", 0, "Minimum detection confidence"),
	}
}

// apply copies the flags the user actually set into cfg and revalidates it.
func (o *overrides) apply(fs *flag.FlagSet, cfg *config.Config) error {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "channels":
			cfg.ImageChannels = o.channels
		case "layout":
			cfg.ViewLayout = o.layout
		case "line-mode":
			cfg.LineMode = o.lineMode
		case "oracle":
			cfg.Oracle = o.oracle
		case "oracle-url":
			cfg.OracleURL = o.oracleURL
		case "synthetic":
			cfg.SyntheticLandmarks = o.synthetic
		case "model":
			cfg.Model = o.model
		case "device":
			cfg.Device = o.device
		case "views":
			cfg.ViewCount = o.views
		case "size":
			cfg.ImageSize = o.size
		case "n-gpu":
			cfg.NGPU = o.nGPU
		case "confidence":
			cfg.ConfidenceThreshold = o.confidence
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
