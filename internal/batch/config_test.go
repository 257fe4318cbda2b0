package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/civiclab/sopn/internal/config"
	"github.com/civiclab/sopn/internal/export"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.ContinueOnError)
	assert.Equal(t, export.FormatText, cfg.Format)
	assert.True(t, cfg.ShowProgress)
	assert.Equal(t, 100*time.Millisecond, cfg.ProgressInterval)
	assert.False(t, cfg.Recursive)
	assert.Empty(t, cfg.IncludePatterns)
}

func TestFromConfig(t *testing.T) {
	app := config.DefaultConfig()
	app.Batch.Workers = 8
	app.Batch.ContinueOnError = false
	app.Batch.Recursive = true
	app.Batch.IncludePatterns = []string{"*.pdf"}
	app.Batch.ExcludePatterns = []string{"*-draft.pdf"}
	app.Batch.OutputDir = "reports"
	app.Election.Country = "ni"
	app.Output.Format = "json"

	cfg := FromConfig(&app)

	assert.Equal(t, 8, cfg.Workers)
	assert.False(t, cfg.ContinueOnError)
	assert.True(t, cfg.Recursive)
	assert.Equal(t, []string{"*.pdf"}, cfg.IncludePatterns)
	assert.Equal(t, []string{"*-draft.pdf"}, cfg.ExcludePatterns)
	assert.Equal(t, "reports", cfg.OutputDir)
	assert.Equal(t, "ni", cfg.Country)
	assert.Equal(t, export.FormatJSON, cfg.Format)
}

func TestFromConfigNil(t *testing.T) {
	cfg := FromConfig(nil)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestFromConfigBadFormatKeepsDefault(t *testing.T) {
	app := config.DefaultConfig()
	app.Output.Format = "yaml"

	cfg := FromConfig(&app)
	assert.Equal(t, export.FormatText, cfg.Format)
}
