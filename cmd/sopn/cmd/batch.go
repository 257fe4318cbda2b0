package cmd

import (
	"fmt"
	"runtime"

	"github.com/civiclab/sopn/internal/batch"
	"github.com/civiclab/sopn/internal/config"
	"github.com/civiclab/sopn/internal/export"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command for bulk statement processing.
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Parse statement files in bulk with bounded concurrency",
	Long: `Parse many Statement of Persons Nominated files in one run.

Paths may be files or directories; directories are scanned for
supported statement formats. Files are processed by parallel workers,
individual failures are collected without stopping the run, and the
exit status is non-zero when any file failed.

Ballot links come from an optional CSV manifest mapping filenames to
ballot paper IDs.

Examples:
  sopn batch ./sopns --recursive
  sopn batch a.pdf b.pdf --workers 8 --format json
  sopn batch ./sopns --manifest ballots.csv --output-dir reports/
  sopn batch ./sopns --quiet --continue-on-error=false`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config.
// CLI flags override config file values through Viper's precedence system.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) (batch.Config, error) {
	batchConfig := batch.FromConfig(cfg)

	if cmd.Flags().Changed("workers") {
		batchConfig.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("continue-on-error") {
		batchConfig.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}
	if cmd.Flags().Changed("recursive") {
		batchConfig.Recursive, _ = cmd.Flags().GetBool("recursive")
	}
	if cmd.Flags().Changed("include") {
		batchConfig.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	}
	if cmd.Flags().Changed("exclude") {
		batchConfig.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	}
	if cmd.Flags().Changed("output-dir") {
		batchConfig.OutputDir, _ = cmd.Flags().GetString("output-dir")
	}
	if cmd.Flags().Changed("country") {
		batchConfig.Country, _ = cmd.Flags().GetString("country")
	}
	if cmd.Flags().Changed("format") {
		raw, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(raw)
		if err != nil {
			return batchConfig, err
		}
		batchConfig.Format = format
	}

	// Manifest, election date, and progress settings are CLI-only
	batchConfig.ManifestPath, _ = cmd.Flags().GetString("manifest")
	batchConfig.ElectionDate, _ = cmd.Flags().GetString("election-date")
	batchConfig.ShowProgress, _ = cmd.Flags().GetBool("progress")
	batchConfig.Quiet, _ = cmd.Flags().GetBool("quiet")

	return batchConfig, nil
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	// Get configuration from centralized system (includes CLI flags, config file, env vars, and defaults)
	cfg := GetConfig()

	batchConfig, err := configToBatchConfig(cfg, cmd)
	if err != nil {
		return err
	}

	forceDetection, _ := cmd.Flags().GetBool("force-detection")
	ctx := cmd.Context()
	pl, err := buildPipeline(ctx, cfg, forceDetection)
	if err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	if !batchConfig.Quiet {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Processing %d path(s)...\n", len(args))
	}

	summary, err := batch.Run(ctx, pl, args, batchConfig)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}

	outputFile, _ := cmd.Flags().GetString("output")
	if err := summary.SaveResults(batchConfig.Format, outputFile, batchConfig.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	summary.PrintStats(batchConfig.Quiet)

	// Per-file failures absorbed by ContinueOnError still fail the run
	return summary.Err()
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntP("workers", "w", 0,
		fmt.Sprintf("number of parallel workers (default: %d)", runtime.NumCPU()))
	batchCmd.Flags().Bool("continue-on-error", true, "continue past individual file failures")
	batchCmd.Flags().Bool("force-detection", false, "skip the embedded text layer and use cloud detection")

	// File discovery flags
	batchCmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	batchCmd.Flags().StringSlice("include", nil, "file patterns to include (default: supported statement formats)")
	batchCmd.Flags().StringSlice("exclude", nil, "file patterns to exclude")

	// Ballot linking flags
	batchCmd.Flags().String("manifest", "", "CSV manifest mapping filenames to ballot paper IDs")
	batchCmd.Flags().String("election-date", "", "election date applied to every ingested document")
	batchCmd.Flags().String("country", "", "country profile for header anchors")

	// Output flags
	batchCmd.Flags().StringP("format", "f", "text", "summary and report format ("+formatList()+")")
	batchCmd.Flags().StringP("output", "o", "", "summary output file (default: stdout)")
	batchCmd.Flags().String("output-dir", "", "directory for per-document reports")

	// Progress flags
	batchCmd.Flags().Bool("progress", false, "show progress on stderr")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress progress and stats output")
}
