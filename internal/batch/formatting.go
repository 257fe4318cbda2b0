package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/civiclab/sopn/internal/export"
)

// formatSummary renders the per-file outcomes in the requested format.
// Formats without a sensible run-summary rendering fall back to text.
func formatSummary(s *Summary, format export.Format) (string, error) {
	switch format {
	case export.FormatJSON:
		return summaryJSON(s)
	case export.FormatCSV:
		return summaryCSV(s)
	default: // text
		return summaryText(s), nil
	}
}

func summaryJSON(s *Summary) (string, error) {
	view := struct {
		Files      []Item `json:"files"`
		Total      int    `json:"total"`
		Parsed     int    `json:"parsed"`
		Failed     int    `json:"failed"`
		Candidates int    `json:"candidates"`
		Workers    int    `json:"workers"`
		Duration   string `json:"duration"`
	}{
		Files:      s.Items,
		Total:      len(s.Items),
		Parsed:     s.Succeeded(),
		Failed:     s.Failed(),
		Candidates: s.Candidates(),
		Workers:    s.Workers,
		Duration:   s.Duration.Round(time.Millisecond).String(),
	}

	bts, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bts) + "\n", nil
}

func summaryCSV(s *Summary) (string, error) {
	rows := [][]string{
		{"path", "document_id", "ballots", "candidates", "warnings", "report_path", "error"},
	}
	for _, it := range s.Items {
		rows = append(rows, []string{
			it.Path,
			it.DocumentID,
			strconv.Itoa(it.Ballots),
			strconv.Itoa(it.Candidates),
			strings.Join(it.Warnings, "; "),
			it.ReportPath,
			it.Error,
		})
	}

	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func summaryText(s *Summary) string {
	var output strings.Builder
	for i, it := range s.Items {
		if i > 0 {
			output.WriteString("\n")
		}
		fmt.Fprintf(&output, "# %s\n", it.Path)
		if it.Failed() {
			fmt.Fprintf(&output, "error: %s\n", it.Error)
			continue
		}
		fmt.Fprintf(&output, "document: %s\n", it.DocumentID)
		fmt.Fprintf(&output, "ballots: %d  candidates: %d\n", it.Ballots, it.Candidates)
		for _, w := range it.Warnings {
			fmt.Fprintf(&output, "warning: %s\n", w)
		}
		if it.ReportPath != "" {
			fmt.Fprintf(&output, "report: %s\n", it.ReportPath)
		}
	}
	return output.String()
}
