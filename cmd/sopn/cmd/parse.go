package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/civiclab/sopn/internal/convert"
	"github.com/civiclab/sopn/internal/export"
	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/spf13/cobra"
)

// parseCmd represents the parse command.
var parseCmd = &cobra.Command{
	Use:   "parse [files...]",
	Short: "Parse statement files into structured candidate tables",
	Long: `Parse one or more Statement of Persons Nominated files.

Each file is converted to a canonical PDF, stored, and run through the
parsing pipeline: text extraction (embedded text layer or cloud
detection), page segmentation, ballot page assignment, and candidate
table reconstruction.

Supported formats: PDF, JPEG, PNG, TIFF, BMP, WebP, DOCX

Examples:
  sopn parse statement.pdf
  sopn parse statement.pdf --ballots local.ely.2026-05-07 --format json
  sopn parse scan.png --force-detection
  sopn parse *.pdf --output results.json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runParseCommand,
}

func runParseCommand(cmd *cobra.Command, args []string) error {
	// Get configuration (includes CLI flags, config file, env vars, and defaults)
	cfg := GetConfig()

	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	country := cfg.Election.Country
	if cmd.Flags().Changed("country") {
		country, _ = cmd.Flags().GetString("country")
	}

	exportFormat, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	// A workbook cannot be concatenated, so xlsx is limited to one input
	// written to a file.
	if exportFormat == export.FormatXLSX {
		if len(args) > 1 {
			return errors.New("xlsx output supports a single input file")
		}
		if outputFile == "" {
			return errors.New("xlsx output requires --output")
		}
	}

	ballots, _ := cmd.Flags().GetStringSlice("ballots")
	electionDate, _ := cmd.Flags().GetString("election-date")
	sourceURL, _ := cmd.Flags().GetString("source-url")
	forceDetection, _ := cmd.Flags().GetBool("force-detection")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx := cmd.Context()
	pl, err := buildPipeline(ctx, cfg, forceDetection)
	if err != nil {
		return err
	}
	defer func() {
		if err := pl.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing pipeline: %v\n", err)
		}
	}()

	meta := pipeline.Meta{
		SourceURL:    sourceURL,
		ElectionDate: electionDate,
		Country:      country,
	}

	var progress pipeline.ProgressFunc
	if !quiet {
		progress = stageProgress(cmd.ErrOrStderr())
	}

	out := cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile) //nolint:gosec // G304: user-chosen output path
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	for _, path := range args {
		res, err := pl.ProcessFile(ctx, path, ballots, meta, progress)
		if err != nil {
			var convErr *convert.ConversionError
			if errors.As(err, &convErr) {
				return fmt.Errorf("%s: %s", path, convErr.Message())
			}
			return fmt.Errorf("parsing %s failed: %w", path, err)
		}
		if err := export.Write(out, exportFormat, res.Export()); err != nil {
			return fmt.Errorf("format %s failed: %w", exportFormat, err)
		}
	}
	if outputFile != "" && !quiet {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", outputFile)
	}
	return nil
}

// stageProgress prints one line per pipeline stage transition.
func stageProgress(w io.Writer) pipeline.ProgressFunc {
	return func(ev pipeline.Event) {
		line := fmt.Sprintf("  %-8s %s", ev.Stage, ev.Status)
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		if ev.Err != nil {
			line += ": " + ev.Err.Error()
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringP("format", "f", "text", "output format ("+formatList()+")")
	parseCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	parseCmd.Flags().StringSlice("ballots", nil, "ballot paper IDs covered by the document (comma-separated)")
	parseCmd.Flags().String("election-date", "", "election date (YYYY-MM-DD, display only)")
	parseCmd.Flags().String("country", "", "country profile for header anchors")
	parseCmd.Flags().String("source-url", "", "source URL recorded with the document")
	parseCmd.Flags().Bool("force-detection", false, "skip the embedded text layer and use cloud detection")
	parseCmd.Flags().BoolP("quiet", "q", false, "suppress stage progress output")
}

func formatList() string {
	names := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
