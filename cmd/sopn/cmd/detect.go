package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/civiclab/sopn/internal/store"
	"github.com/spf13/cobra"
)

// detectCmd represents the detect command.
var detectCmd = &cobra.Command{
	Use:   "detect [file|document-id]",
	Short: "Run cloud text detection on a statement",
	Long: `Start an asynchronous cloud detection job for a statement.

The argument is either a file to ingest or the ID of an already stored
document. The source PDF is uploaded to object storage and submitted to
the detection service; with --wait the command polls until the job
reaches a terminal state.

Requires textract.enabled in the configuration.

Examples:
  sopn detect scan.pdf --wait
  sopn detect 6b9f6f2a-6f0e-4d55-9032-1f1b38a2a46d
  sopn detect scan.png --election-date 2026-05-07`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runDetectCommand,
}

func runDetectCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	wait, _ := cmd.Flags().GetBool("wait")
	electionDate, _ := cmd.Flags().GetString("election-date")
	sourceURL, _ := cmd.Flags().GetString("source-url")

	ctx := cmd.Context()
	pl, err := buildPipeline(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	if !pl.DetectionEnabled() {
		return errors.New("cloud detection is not configured (set textract.enabled)")
	}

	doc, err := resolveDocument(cmd, pl, args[0], pipeline.Meta{
		SourceURL:    sourceURL,
		ElectionDate: electionDate,
		Country:      cfg.Election.Country,
	})
	if err != nil {
		return err
	}

	job, err := pl.Detect(ctx, doc, wait)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Document: %s (%s)\n", doc.ID, doc.Filename)
	_, _ = fmt.Fprintf(out, "Job:      %s\n", job.ID)
	_, _ = fmt.Fprintf(out, "Status:   %s\n", job.Status)
	if wait {
		_, _ = fmt.Fprintf(out, "Blocks:   %d\n", len(job.Blocks))
	}
	if job.Message != "" {
		_, _ = fmt.Fprintf(out, "Message:  %s\n", job.Message)
	}
	return nil
}

// resolveDocument treats an existing path as a file to ingest and
// anything else as a stored document ID or filename.
func resolveDocument(cmd *cobra.Command, pl *pipeline.Pipeline, arg string, meta pipeline.Meta) (*store.Document, error) {
	ctx := cmd.Context()
	if _, err := os.Stat(arg); err == nil {
		return pl.Ingest(ctx, arg, meta)
	}
	doc, err := pl.Store().GetDocument(ctx, arg)
	if errors.Is(err, store.ErrNotFound) {
		doc, err = pl.Store().GetDocumentByFilename(ctx, arg)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no such file or stored document: %s", arg)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().BoolP("wait", "w", false, "poll until the job reaches a terminal state")
	detectCmd.Flags().String("election-date", "", "election date recorded when ingesting a new file")
	detectCmd.Flags().String("source-url", "", "source URL recorded when ingesting a new file")
}
