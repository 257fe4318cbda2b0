// Package export renders parse results as text, JSON, CSV or XLSX.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/civiclab/sopn/internal/store"
)

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Formats lists the supported output formats.
var Formats = []Format{FormatText, FormatJSON, FormatCSV, FormatXLSX}

// ParseFormat validates a format name from a flag or request parameter.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, known := range Formats {
		names[i] = string(known)
	}
	return "", fmt.Errorf("invalid output format: %s (must be one of: %s)", s, strings.Join(names, ", "))
}

// Extension returns the conventional file extension for the format.
func (f Format) Extension() string {
	if f == FormatText {
		return ".txt"
	}
	return "." + string(f)
}

// Result is the renderable outcome of parsing one document.
type Result struct {
	Document   *store.Document        `json:"document"`
	Ballots    []store.DocumentBallot `json:"ballots,omitempty"`
	Pages      []store.Page           `json:"pages,omitempty"`
	Candidates []store.Candidate      `json:"candidates,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// Write renders res in the given format.
func Write(w io.Writer, format Format, res *Result) error {
	switch format {
	case FormatJSON:
		s, err := ToJSON(res)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, s)
		return err
	case FormatCSV:
		s, err := ToCSV(res)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, s)
		return err
	case FormatXLSX:
		return WriteXLSX(w, res)
	case FormatText:
		s, err := ToText(res)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, s)
		return err
	default:
		return fmt.Errorf("invalid output format: %s", format)
	}
}

// ToJSON serializes the result to pretty JSON.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// ToText renders a human-readable summary: document header, ballot page
// assignments, then the candidate table.
func ToText(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var b strings.Builder

	if doc := res.Document; doc != nil {
		fmt.Fprintf(&b, "Document: %s\n", doc.Filename)
		fmt.Fprintf(&b, "ID:       %s\n", doc.ID)
		fmt.Fprintf(&b, "Status:   %s\n", doc.Status)
		if doc.PageCount > 0 {
			fmt.Fprintf(&b, "Pages:    %d\n", doc.PageCount)
		}
	}

	if len(res.Ballots) > 0 {
		b.WriteString("\nBallots:\n")
		width := 0
		for _, db := range res.Ballots {
			if len(db.BallotPaperID) > width {
				width = len(db.BallotPaperID)
			}
		}
		for _, db := range res.Ballots {
			pages := db.RelevantPages
			if pages == "" {
				pages = "(unmatched)"
			}
			fmt.Fprintf(&b, "  %-*s  pages %s\n", width, db.BallotPaperID, pages)
		}
	}

	if len(res.Candidates) > 0 {
		fmt.Fprintf(&b, "\nCandidates (%d):\n", len(res.Candidates))
		width := 0
		for _, c := range res.Candidates {
			if len(c.Name) > width {
				width = len(c.Name)
			}
		}
		for _, c := range res.Candidates {
			fmt.Fprintf(&b, "  %2d. %-*s  %s", c.Position, width, c.Name, c.Description)
			if c.Address != "" {
				fmt.Fprintf(&b, "  (%s)", c.Address)
			}
			fmt.Fprintf(&b, "  [page %d]\n", c.Page)
		}
	} else {
		b.WriteString("\nNo candidates extracted.\n")
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(&b, "\nWarning: %s\n", warning)
	}
	return b.String(), nil
}

// ToCSV exports the candidate rows as CSV with a header line.
func ToCSV(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"page", "position", "name", "description", "address"})
	for _, c := range res.Candidates {
		_ = w.Write([]string{
			strconv.Itoa(c.Page),
			strconv.Itoa(c.Position),
			c.Name,
			c.Description,
			c.Address,
		})
	}
	w.Flush()
	return buf.String(), w.Error()
}

// WriteXLSX writes a workbook with a Candidates sheet and a Ballots
// sheet.
func WriteXLSX(w io.Writer, res *Result) error {
	if res == nil {
		return errors.New("nil result")
	}
	f := excelize.NewFile()
	defer f.Close()

	const candidateSheet = "Candidates"
	if err := f.SetSheetName("Sheet1", candidateSheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if err := setRow(f, candidateSheet, 1, []any{"Page", "Position", "Name", "Description", "Address"}); err != nil {
		return err
	}
	for i, c := range res.Candidates {
		row := []any{c.Page, c.Position, c.Name, c.Description, c.Address}
		if err := setRow(f, candidateSheet, i+2, row); err != nil {
			return err
		}
	}

	const ballotSheet = "Ballots"
	if _, err := f.NewSheet(ballotSheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if err := setRow(f, ballotSheet, 1, []any{"Ballot paper ID", "Election date", "Relevant pages"}); err != nil {
		return err
	}
	for i, db := range res.Ballots {
		row := []any{db.BallotPaperID, db.ElectionDate, db.RelevantPages}
		if err := setRow(f, ballotSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	return nil
}
