// Package batch runs a directory (or explicit list) of statement files
// through the parsing pipeline with bounded concurrency. Ballot links
// come from an optional CSV manifest keyed by filename; per-document
// reports can be written alongside the run summary.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/civiclab/sopn/internal/pipeline"
)

// Run discovers the statement files under paths and processes each one
// through the pipeline. The returned summary always covers every
// discovered file; the error reports setup problems, an aborted run, or
// nothing when ContinueOnError absorbed the per-file failures.
func Run(ctx context.Context, pl *pipeline.Pipeline, paths []string, cfg Config) (*Summary, error) {
	files, err := Discover(paths, cfg.Recursive, includePatterns(cfg), cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("discover statement files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no statement files found")
	}

	manifest := Manifest{}
	if cfg.ManifestPath != "" {
		manifest, err = LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers(len(files))
	}

	progress := cfg.Progress
	if progress == nil {
		if cfg.ShowProgress && !cfg.Quiet {
			progress = NewConsoleProgress(os.Stderr, "Parsing: ").WithInterval(cfg.ProgressInterval)
		} else {
			progress = NoOpProgress{}
		}
	}

	start := time.Now()
	items, runErr := processFiles(ctx, pl, files, manifest, cfg, progress)

	summary := &Summary{
		Items:    items,
		Duration: time.Since(start),
		Workers:  cfg.Workers,
	}
	return summary, runErr
}

func includePatterns(cfg Config) []string {
	if len(cfg.IncludePatterns) > 0 {
		return cfg.IncludePatterns
	}
	return DefaultIncludePatterns
}

func defaultWorkers(files int) int {
	return max(min(runtime.NumCPU(), files), 1)
}
