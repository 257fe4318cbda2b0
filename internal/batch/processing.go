package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/civiclab/sopn/internal/export"
	"github.com/civiclab/sopn/internal/pipeline"
)

// processFiles runs the files through the pipeline with cfg.Workers
// goroutines. The returned slice is ordered like files; when the run
// aborts early the unprocessed entries carry the cancellation error.
func processFiles(ctx context.Context, pl *pipeline.Pipeline, files []string,
	manifest Manifest, cfg Config, progress ProgressCallback,
) ([]Item, error) {
	items := make([]Item, len(files))
	var done atomic.Int64

	progress.OnStart(len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i] = Item{Path: path, Error: err.Error()}
				return nil
			}

			item, err := processOne(gctx, pl, path, manifest, cfg)
			items[i] = item
			progress.OnProgress(int(done.Add(1)), len(files))
			if err != nil {
				progress.OnError(path, err)
				if !cfg.ContinueOnError {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	progress.OnComplete()
	return items, err
}

// processOne parses a single statement file and, when configured,
// writes its report. The returned item always carries the outcome; the
// error signals the failure to the run loop.
func processOne(ctx context.Context, pl *pipeline.Pipeline, path string,
	manifest Manifest, cfg Config,
) (Item, error) {
	item := Item{Path: path}

	entry := manifest.For(path)
	meta := pipeline.Meta{
		ElectionDate: entry.ElectionDate,
		Country:      cfg.Country,
	}
	if meta.ElectionDate == "" {
		meta.ElectionDate = cfg.ElectionDate
	}

	res, err := pl.ProcessFile(ctx, path, entry.Ballots, meta, nil)
	if err != nil {
		item.Error = err.Error()
		return item, err
	}

	item.DocumentID = res.Document.ID
	item.Ballots = len(res.Ballots)
	item.Candidates = len(res.Candidates)
	item.Warnings = res.Warnings

	if cfg.OutputDir != "" {
		reportPath, err := writeReport(cfg.OutputDir, cfg.Format, res)
		if err != nil {
			item.Warnings = append(item.Warnings, fmt.Sprintf("report not written: %v", err))
		} else {
			item.ReportPath = reportPath
		}
	}

	return item, nil
}

// writeReport renders one parsed document into the output directory,
// named after the source file.
func writeReport(dir string, format export.Format, res *pipeline.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	base := filepath.Base(res.Document.Filename)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + format.Extension()
	outPath := filepath.Join(dir, name)

	f, err := os.Create(outPath) //nolint:gosec // G304: path derives from the output-dir flag
	if err != nil {
		return "", err
	}
	if err := export.Write(f, format, res.Export()); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}
