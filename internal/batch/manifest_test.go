package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `filename,ballots,election_date
bundle.pdf,local.mid-ulster.2026-05-07;local.torrent-valley.2026-05-07,2026-05-07
single.pdf,parl.north-antrim.2026-05-07,
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m, 2)

	entry := m.For("/incoming/bundle.pdf")
	assert.Equal(t, []string{"local.mid-ulster.2026-05-07", "local.torrent-valley.2026-05-07"}, entry.Ballots)
	assert.Equal(t, "2026-05-07", entry.ElectionDate)

	entry = m.For("single.pdf")
	assert.Equal(t, []string{"parl.north-antrim.2026-05-07"}, entry.Ballots)
	assert.Empty(t, entry.ElectionDate)

	assert.Empty(t, m.For("unknown.pdf").Ballots)
}

func TestLoadManifestMergesRepeatedFilenames(t *testing.T) {
	path := writeManifest(t, `filename,ballots,election_date
bundle.pdf,local.mid-ulster.2026-05-07,2026-05-07
bundle.pdf,local.torrent-valley.2026-05-07,
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m, 1)

	entry := m.For("bundle.pdf")
	assert.Equal(t, []string{"local.mid-ulster.2026-05-07", "local.torrent-valley.2026-05-07"}, entry.Ballots)
	assert.Equal(t, "2026-05-07", entry.ElectionDate)
}

func TestLoadManifestBaseNamesKeys(t *testing.T) {
	path := writeManifest(t, `filename,ballots,election_date
incoming/2026/bundle.pdf,local.mid-ulster.2026-05-07,2026-05-07
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.For("bundle.pdf").Ballots, 1)
}

func TestLoadManifestHeaderRequired(t *testing.T) {
	path := writeManifest(t, `bundle.pdf,local.mid-ulster.2026-05-07,2026-05-07
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header row")
}

func TestLoadManifestEmptyFile(t *testing.T) {
	path := writeManifest(t, "")

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header row")
}

func TestLoadManifestHeaderOnly(t *testing.T) {
	path := writeManifest(t, "filename,ballots,election_date\n")

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadManifestEmptyFilename(t *testing.T) {
	path := writeManifest(t, `filename,ballots,election_date
,local.mid-ulster.2026-05-07,2026-05-07
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2: empty filename")
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open manifest")
}
