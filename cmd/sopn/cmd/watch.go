package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/civiclab/sopn/internal/store"
	"github.com/civiclab/sopn/internal/watch"
	"github.com/spf13/cobra"
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a drop directory and parse new statements",
	Long: `Watch a directory and parse statement files dropped into it.

New files are picked up once writes have settled (debounced), ingested,
and parsed. Files whose name matches an already stored document are
skipped, so re-copying a processed file is harmless. Ballot links are
not assigned; use a later parse or the manifest-driven batch command
for that.

The directory defaults to watch.dir from the configuration.

Examples:
  sopn watch ./inbox
  sopn watch ./inbox --recursive --debounce 1s
  sopn watch --sync-existing`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runWatchCommand,
}

func runWatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	dir := cfg.Watch.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return errors.New("no directory to watch (pass one or set watch.dir)")
	}

	recursive := cfg.Watch.Recursive
	if cmd.Flags().Changed("recursive") {
		recursive, _ = cmd.Flags().GetBool("recursive")
	}
	debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
	if cmd.Flags().Changed("debounce") {
		debounce, _ = cmd.Flags().GetDuration("debounce")
	}
	syncExisting, _ := cmd.Flags().GetBool("sync-existing")
	electionDate, _ := cmd.Flags().GetString("election-date")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pl, err := buildPipeline(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	logger := slog.Default()
	meta := pipeline.Meta{
		ElectionDate: electionDate,
		Country:      cfg.Election.Country,
	}
	handler := func(path string) {
		ingestDropped(ctx, pl, path, meta, logger)
	}

	w, err := watch.New(watch.Options{
		Dirs:      []string{dir},
		Recursive: recursive,
		Debounce:  debounce,
	}, handler, logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if syncExisting {
		w.SyncExisting()
	}

	<-ctx.Done()
	logger.Info("shutting down watcher")
	return nil
}

// ingestDropped parses one dropped file, skipping filenames that are
// already stored.
func ingestDropped(ctx context.Context, pl *pipeline.Pipeline, path string, meta pipeline.Meta, logger *slog.Logger) {
	filename := filepath.Base(path)
	if _, err := pl.Store().GetDocumentByFilename(ctx, filename); err == nil {
		logger.Info("skipping already stored statement", "file", filename)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Error("lookup failed", "file", filename, "error", err)
		return
	}

	res, err := pl.ProcessFile(ctx, path, nil, meta, pipeline.LogProgress(logger))
	if err != nil {
		logger.Error("parsing dropped statement failed", "file", filename, "error", err)
		return
	}
	logger.Info("parsed dropped statement",
		"file", filename,
		"document_id", res.Document.ID,
		"pages", len(res.Pages),
		"candidates", len(res.Candidates),
	)
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolP("recursive", "r", false, "watch subdirectories too")
	watchCmd.Flags().Duration("debounce", 0, "quiet period before a file is picked up (default from config)")
	watchCmd.Flags().Bool("sync-existing", false, "also process files already present at startup")
	watchCmd.Flags().String("election-date", "", "election date applied to every ingested document")
}
