package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/civiclab/sopn/internal/store"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// pagesCmd represents the pages command.
var pagesCmd = &cobra.Command{
	Use:   "pages <document-id>",
	Short: "Show ballot page assignments for a parsed document",
	Long: `Show which pages of a parsed document belong to which ballot.

The argument is a stored document ID or filename. Each linked ballot is
listed with its relevant pages: "all" for single-ballot documents, a
comma-joined page list for multi-ballot documents, or unassigned when
segmentation could not match the ballot.

Examples:
  sopn pages 6b9f6f2a-6f0e-4d55-9032-1f1b38a2a46d
  sopn pages statement.pdf --format json`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runPagesCommand,
}

func runPagesCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	format, _ := cmd.Flags().GetString("format")
	if format != outputFormatText && format != outputFormatJSON {
		return fmt.Errorf("invalid output format: %s (must be one of: text, json)", format)
	}

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
	links, err := pl.Store().ListDocumentBallots(ctx, doc.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == outputFormatJSON {
		obj := struct {
			DocumentID string                 `json:"document_id"`
			Filename   string                 `json:"filename"`
			PageCount  int                    `json:"page_count"`
			Ballots    []store.DocumentBallot `json:"ballots"`
		}{doc.ID, doc.Filename, doc.PageCount, links}
		bts, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(bts))
		return nil
	}

	_, _ = fmt.Fprintf(out, "Document: %s (%s, %d pages, %s)\n", doc.ID, doc.Filename, doc.PageCount, doc.Status)
	if len(links) == 0 {
		_, _ = fmt.Fprintln(out, "No ballots linked")
		return nil
	}
	for _, link := range links {
		pages := link.RelevantPages
		if pages == "" {
			pages = "unassigned"
		}
		_, _ = fmt.Fprintf(out, "  %-40s %s\n", link.BallotPaperID, pages)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(pagesCmd)

	pagesCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
}
