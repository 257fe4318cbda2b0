package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/civiclab/sopn/internal/config"
	"github.com/civiclab/sopn/internal/export"
)

// Config holds all configuration for a batch run.
type Config struct {
	// Parallel processing settings
	Workers         int
	ContinueOnError bool

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Ballot linking settings
	ManifestPath string
	ElectionDate string
	Country      string

	// Report settings
	OutputDir string
	Format    export.Format

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration

	// Progress overrides the callback derived from ShowProgress/Quiet.
	Progress ProgressCallback
}

// DefaultConfig returns the batch defaults used when no application
// configuration is loaded.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		ContinueOnError:  true,
		Format:           export.FormatText,
		ShowProgress:     true,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// FromConfig maps the application configuration onto batch settings.
func FromConfig(app *config.Config) Config {
	cfg := DefaultConfig()
	if app == nil {
		return cfg
	}
	cfg.Workers = app.Batch.Workers
	cfg.ContinueOnError = app.Batch.ContinueOnError
	cfg.Recursive = app.Batch.Recursive
	cfg.IncludePatterns = app.Batch.IncludePatterns
	cfg.ExcludePatterns = app.Batch.ExcludePatterns
	cfg.OutputDir = app.Batch.OutputDir
	cfg.Country = app.Election.Country
	if format, err := export.ParseFormat(app.Output.Format); err == nil {
		cfg.Format = format
	}
	return cfg
}

// Item records the outcome of one statement file.
type Item struct {
	Path       string   `json:"path"`
	DocumentID string   `json:"document_id,omitempty"`
	Ballots    int      `json:"ballots"`
	Candidates int      `json:"candidates"`
	Warnings   []string `json:"warnings,omitempty"`
	ReportPath string   `json:"report_path,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Failed reports whether the file could not be parsed.
func (it Item) Failed() bool { return it.Error != "" }

// Summary holds the outcome of a batch run.
type Summary struct {
	Items    []Item
	Duration time.Duration
	Workers  int
}

// Succeeded counts the files that parsed cleanly.
func (s *Summary) Succeeded() int { return len(s.Items) - s.Failed() }

// Failed counts the files that did not parse.
func (s *Summary) Failed() int {
	n := 0
	for _, it := range s.Items {
		if it.Failed() {
			n++
		}
	}
	return n
}

// Candidates totals the extracted candidates across the run.
func (s *Summary) Candidates() int {
	n := 0
	for _, it := range s.Items {
		n += it.Candidates
	}
	return n
}

// Err reports the run as an error when any file failed, for callers
// that turn the summary into an exit status.
func (s *Summary) Err() error {
	if failed := s.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(s.Items))
	}
	return nil
}

// FormatResults renders the per-file outcomes in the given format.
func (s *Summary) FormatResults(format export.Format) (string, error) {
	return formatSummary(s, format)
}

// SaveResults writes the formatted outcomes to a file or stdout.
func (s *Summary) SaveResults(format export.Format, outputFile string, quiet bool) error {
	output, err := s.FormatResults(format)
	if err != nil {
		return fmt.Errorf("format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(os.Stdout, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprint(os.Stdout, output)
	}

	return nil
}

// PrintStats prints run statistics to stdout.
func (s *Summary) PrintStats(quiet bool) {
	if quiet {
		return
	}
	avg := time.Duration(0)
	rate := 0.0
	if n := len(s.Items); n > 0 && s.Duration > 0 {
		avg = s.Duration / time.Duration(n)
		rate = float64(n) / s.Duration.Seconds()
	}
	_, _ = fmt.Fprintf(os.Stdout, "\nBatch statistics:\n")
	_, _ = fmt.Fprintf(os.Stdout, "  Total files: %d\n", len(s.Items))
	_, _ = fmt.Fprintf(os.Stdout, "  Parsed: %d\n", s.Succeeded())
	_, _ = fmt.Fprintf(os.Stdout, "  Failed: %d\n", s.Failed())
	_, _ = fmt.Fprintf(os.Stdout, "  Candidates: %d\n", s.Candidates())
	_, _ = fmt.Fprintf(os.Stdout, "  Workers: %d\n", s.Workers)
	_, _ = fmt.Fprintf(os.Stdout, "  Duration: %v\n", s.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(os.Stdout, "  Avg per file: %v\n", avg.Round(time.Millisecond))
	_, _ = fmt.Fprintf(os.Stdout, "  Throughput: %.1f files/sec\n", rate)
}
