package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// searchCmd represents the search command.
var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search parsed statements",
	Long: `Full-text search over parsed page text and candidate names.

Requires the search index to be enabled (search.index_path in the
configuration). Hits list the matching document, page, and a text
fragment.

Examples:
  sopn search McFADDEN
  sopn search "mid ulster" --limit 5
  sopn search sinn fein --format json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runSearchCommand,
}

func runSearchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return fmt.Errorf("invalid limit: %d (must be positive)", limit)
	}
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

	index := pl.SearchIndex()
	if index == nil {
		return errors.New("search index is not configured (set search.index_path)")
	}

	query := strings.Join(args, " ")
	hits, err := index.Search(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if format == outputFormatJSON {
		bts, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(bts))
		return nil
	}

	if len(hits) == 0 {
		_, _ = fmt.Fprintf(out, "No matches for %q\n", query)
		return nil
	}
	for _, hit := range hits {
		_, _ = fmt.Fprintf(out, "%s  %s p.%d  (%.2f)\n", hit.DocumentID, hit.Filename, hit.Page, hit.Score)
		if hit.Fragment != "" {
			_, _ = fmt.Fprintf(out, "    %s\n", hit.Fragment)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntP("limit", "n", 10, "maximum number of hits")
	searchCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
}
