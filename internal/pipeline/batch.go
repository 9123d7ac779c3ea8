package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/banshee-data/mvlm/internal/mesh"
	"github.com/banshee-data/mvlm/internal/monitoring"
)

// MeshFiles lists the supported mesh files directly inside dir, sorted by
// name. Subdirectories are not searched.
func MeshFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !mesh.SupportedExtension(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// BatchSummary reports the outcome of PredictDir.
type BatchSummary struct {
	Files     int
	Succeeded int
	Failed    map[string]error
}

// PredictDir predicts every mesh file in dir in name order and hands each
// result to fn. A file that fails is logged and skipped; an error from fn or
// a cancelled context stops the batch.
func (p *Predictor) PredictDir(ctx context.Context, dir string, fn func(path string, res *Result) error) (*BatchSummary, error) {
	files, err := MeshFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no mesh files in %s", dir)
	}

	sum := &BatchSummary{Files: len(files), Failed: make(map[string]error)}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		p.logf("(%d/%d) %s", i+1, len(files), filepath.Base(path))
		res, err := p.PredictFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			monitoring.Warnf("%s: %v", path, err)
			sum.Failed[path] = err
			continue
		}
		if fn != nil {
			if err := fn(path, res); err != nil {
				return sum, fmt.Errorf("%s: %w", path, err)
			}
		}
		sum.Succeeded++
	}
	p.logf("batch done: %d of %d files succeeded", sum.Succeeded, sum.Files)
	return sum, nil
}
