package cmd

import (
	"fmt"
	"os"

	"github.com/civiclab/sopn/internal/export"
	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/spf13/cobra"
)

// exportCmd represents the export command.
var exportCmd = &cobra.Command{
	Use:   "export <document-id>",
	Short: "Export a parsed document's results",
	Long: `Export the stored parse results of a document.

The argument is a stored document ID or filename. The parsed pages,
ballot assignments, and candidate table render in the chosen format.
With --split-dir the source PDF is additionally split into one PDF per
ballot following the recorded page assignments; with --preview a
first-page thumbnail is written.

Examples:
  sopn export 6b9f6f2a-6f0e-4d55-9032-1f1b38a2a46d
  sopn export statement.pdf --format xlsx --output statement.xlsx
  sopn export statement.pdf --split-dir ballots/
  sopn export statement.pdf --preview thumb.png`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runExportCommand,
}

func runExportCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	exportFormat, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	if exportFormat == export.FormatXLSX && outputFile == "" {
		return fmt.Errorf("xlsx output requires --output")
	}

	splitDir, _ := cmd.Flags().GetString("split-dir")
	previewPath, _ := cmd.Flags().GetString("preview")
	previewWidth, _ := cmd.Flags().GetInt("preview-width")
	previewHeight, _ := cmd.Flags().GetInt("preview-height")

	ctx := cmd.Context()
	pl, err := buildPipeline(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	doc, err := resolveDocument(cmd, pl, args[0], pipeline.Meta{})
	if err != nil {
		return err
	}

	st := pl.Store()
	res := &export.Result{Document: doc}
	if res.Ballots, err = st.ListDocumentBallots(ctx, doc.ID); err != nil {
		return err
	}
	if res.Pages, err = st.GetPages(ctx, doc.ID); err != nil {
		return err
	}
	if res.Candidates, err = st.ListCandidates(ctx, doc.ID); err != nil {
		return err
	}

	if splitDir != "" {
		written, err := pl.SplitBallots(ctx, doc, splitDir)
		if err != nil {
			return fmt.Errorf("splitting ballots failed: %w", err)
		}
		for _, path := range written {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
		}
	}
	if previewPath != "" {
		if err := pl.WritePreview(ctx, doc, previewPath, previewWidth, previewHeight); err != nil {
			return fmt.Errorf("writing preview failed: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", previewPath)
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
	if err := export.Write(out, exportFormat, res); err != nil {
		return fmt.Errorf("format %s failed: %w", exportFormat, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("format", "f", "text", "output format ("+formatList()+")")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().String("split-dir", "", "write one PDF per ballot into this directory")
	exportCmd.Flags().String("preview", "", "write a first-page thumbnail to this path")
	exportCmd.Flags().Int("preview-width", 600, "maximum preview width in pixels")
	exportCmd.Flags().Int("preview-height", 800, "maximum preview height in pixels")
}
