package driver

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Options controls a directory conversion run.
type Options struct {
	// MaxDiagnostics caps the diagnostics collected per input file.
	MaxDiagnostics int

	// Jobs limits the conversion parallelism; <= 0 means GOMAXPROCS.
	Jobs int

	// ArtifactDir, when set, receives one serialized artifact per
	// successfully converted function.
	ArtifactDir string
}

// ListFiles returns the sorted list of function description files under
// dir.
func ListFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".toml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// deterministic order regardless of walk details
	sort.Strings(files)
	return files, nil
}

// ConvertDir converts every description file under dir in parallel.
// Results come back in file order; per-file problems live in each
// result's bag, a non-nil error means the run itself failed.
func ConvertDir(ctx context.Context, dir string, opts Options) ([]*Result, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	// indices are unique per goroutine, no mutex needed
	results := make([]*Result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(files)))

	for i, path := range files {
		g.Go(func(i int, path string) func() error {
			return func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				res := Convert(path, opts.MaxDiagnostics)
				results[i] = res

				if opts.ArtifactDir != "" && res.OK() {
					a := NewArtifact(res)
					if err := a.WriteFile(ArtifactPath(opts.ArtifactDir, res.Fn.Name)); err != nil {
						return err
					}
				}
				return nil
			}
		}(i, path))
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
