package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ManifestEntry links a statement file to its ballots.
type ManifestEntry struct {
	Ballots      []string
	ElectionDate string
}

// Manifest maps statement file base names to ballot links.
type Manifest map[string]ManifestEntry

// For returns the entry for a file path, matching on the base name.
func (m Manifest) For(path string) ManifestEntry {
	return m[filepath.Base(path)]
}

// LoadManifest reads a ballot manifest from a CSV file. The header row
// is required:
//
//	filename,ballots,election_date
//
// The ballots cell holds one or more ballot paper IDs separated by
// semicolons. A filename may also repeat across rows; its ballot lists
// are merged and the first non-empty election date wins.
func LoadManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	manifest, err := readManifest(f)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return manifest, nil
}

func readManifest(r io.Reader) (Manifest, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, err
	}
	if err := checkManifestHeader(header); err != nil {
		return nil, err
	}

	manifest := Manifest{}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		name := filepath.Base(strings.TrimSpace(record[0]))
		if name == "" || name == "." {
			return nil, fmt.Errorf("row %d: empty filename", line)
		}

		entry := manifest[name]
		entry.Ballots = append(entry.Ballots, splitBallots(record[1])...)
		if entry.ElectionDate == "" {
			entry.ElectionDate = strings.TrimSpace(record[2])
		}
		manifest[name] = entry
	}
	return manifest, nil
}

func checkManifestHeader(header []string) error {
	want := []string{"filename", "ballots", "election_date"}
	if len(header) != len(want) {
		return fmt.Errorf("header row must be %q", strings.Join(want, ","))
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(col), want[i]) {
			return fmt.Errorf("header row must be %q", strings.Join(want, ","))
		}
	}
	return nil
}

func splitBallots(cell string) []string {
	var ballots []string
	for _, id := range strings.Split(cell, ";") {
		if id = strings.TrimSpace(id); id != "" {
			ballots = append(ballots, id)
		}
	}
	return ballots
}
