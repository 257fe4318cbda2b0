package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/civiclab/sopn/internal/store"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "data", cfg.DataDir)

	assert.Equal(t, "uk", cfg.Election.Country)
	assert.Empty(t, cfg.Election.HeaderAnchors)

	assert.Equal(t, store.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "data/sopn.db", cfg.Storage.DSN)

	assert.Equal(t, "local", cfg.Blob.Backend)
	assert.Equal(t, "data/documents", cfg.Blob.Dir)

	assert.False(t, cfg.Textract.Enabled)
	assert.Equal(t, 5, cfg.Textract.PollIntervalSec)
	assert.Equal(t, 60, cfg.Textract.MaxPolls)

	assert.InDelta(t, 0.4, cfg.Segmenter.HeadingBand, 1e-9)
	assert.InDelta(t, 0.75, cfg.Segmenter.SimilarityThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Segmenter.BlankTokenMin)

	assert.InDelta(t, 0.012, cfg.Table.RowTolerance, 1e-9)
	assert.InDelta(t, 0.05, cfg.Table.ColumnGapThreshold, 1e-9)

	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Server.MaxUploadMB)
	assert.Equal(t, "data/index.bleve", cfg.Search.IndexPath)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.True(t, cfg.Batch.ContinueOnError)
	assert.Equal(t, 400, cfg.Watch.DebounceMs)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "invalid log level",
		},
		{
			name:    "invalid storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "mysql" },
			wantErr: "invalid storage driver",
		},
		{
			name:    "invalid blob backend",
			mutate:  func(c *Config) { c.Blob.Backend = "gcs" },
			wantErr: "invalid blob backend",
		},
		{
			name: "s3 blob backend requires bucket",
			mutate: func(c *Config) {
				c.Blob.Backend = "s3"
				c.Blob.Bucket = ""
			},
			wantErr: "requires blob.bucket",
		},
		{
			name: "s3 blob backend with bucket is valid",
			mutate: func(c *Config) {
				c.Blob.Backend = "s3"
				c.Blob.Bucket = "sopn-docs"
			},
		},
		{
			name:    "textract enabled without bucket",
			mutate:  func(c *Config) { c.Textract.Enabled = true },
			wantErr: "textract.bucket",
		},
		{
			name: "textract enabled with bucket is valid",
			mutate: func(c *Config) {
				c.Textract.Enabled = true
				c.Textract.Bucket = "sopn-detect"
			},
		},
		{
			name:    "heading band above one",
			mutate:  func(c *Config) { c.Segmenter.HeadingBand = 1.2 },
			wantErr: "segmenter.heading_band",
		},
		{
			name:    "similarity threshold negative",
			mutate:  func(c *Config) { c.Segmenter.SimilarityThreshold = -0.1 },
			wantErr: "segmenter.similarity_threshold",
		},
		{
			name:    "blank token min zero",
			mutate:  func(c *Config) { c.Segmenter.BlankTokenMin = 0 },
			wantErr: "blank_token_min",
		},
		{
			name:    "row tolerance above one",
			mutate:  func(c *Config) { c.Table.RowTolerance = 2 },
			wantErr: "table.row_tolerance",
		},
		{
			name:    "invalid output format",
			mutate:  func(c *Config) { c.Output.Format = "xml" },
			wantErr: "invalid output format",
		},
		{
			name:   "empty output format is valid",
			mutate: func(c *Config) { c.Output.Format = "" },
		},
		{
			name:    "server port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "server port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "max upload zero",
			mutate:  func(c *Config) { c.Server.MaxUploadMB = 0 },
			wantErr: "max upload",
		},
		{
			name:    "timeout zero",
			mutate:  func(c *Config) { c.Server.TimeoutSec = 0 },
			wantErr: "invalid timeout",
		},
		{
			name:    "batch workers zero",
			mutate:  func(c *Config) { c.Batch.Workers = 0 },
			wantErr: "batch workers",
		},
		{
			name:    "negative watch debounce",
			mutate:  func(c *Config) { c.Watch.DebounceMs = -10 },
			wantErr: "watch debounce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestToStoreConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Driver = store.DriverPostgres
	cfg.Storage.DSN = "postgres://sopn@localhost/sopn"

	sc := cfg.ToStoreConfig()
	assert.Equal(t, store.DriverPostgres, sc.Driver)
	assert.Equal(t, "postgres://sopn@localhost/sopn", sc.DSN)
}

func TestToSegmentOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Segmenter.HeadingBand = 0.35
	cfg.Segmenter.SimilarityThreshold = 0.8
	cfg.Segmenter.BlankTokenMin = 5

	opts := cfg.ToSegmentOptions()
	assert.InDelta(t, 0.35, opts.HeadingBand, 1e-9)
	assert.InDelta(t, 0.8, opts.SimilarityThreshold, 1e-9)
	assert.Equal(t, 5, opts.BlankTokenMin)
}

func TestToTableOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Table.RowTolerance = 0.02
	cfg.Election.HeaderAnchors = []string{"ainm an iarrthora"}

	opts := cfg.ToTableOptions()
	assert.InDelta(t, 0.02, opts.RowTolerance, 1e-9)
	assert.Equal(t, []string{"ainm an iarrthora"}, opts.ExtraHeaderAnchors)
}

func TestToDetectOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Textract.Bucket = "sopn-detect"
	cfg.Textract.KeyPrefix = "uploads"
	cfg.Textract.PollIntervalSec = 2
	cfg.Textract.MaxPolls = 10

	opts := cfg.ToDetectOptions()
	assert.Equal(t, "sopn-detect", opts.Bucket)
	assert.Equal(t, "uploads", opts.KeyPrefix)
	assert.Equal(t, 2*time.Second, opts.PollInterval)
	assert.Equal(t, 10, opts.MaxPolls)
}

func TestRenderYAML(t *testing.T) {
	cfg := DefaultConfig()

	data, err := cfg.RenderYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "log_level: info")
	assert.Contains(t, string(data), "heading_band: 0.4")

	var roundTrip Config
	require.NoError(t, yaml.Unmarshal(data, &roundTrip))
	assert.Equal(t, cfg.Storage, roundTrip.Storage)
	assert.Equal(t, cfg.Segmenter, roundTrip.Segmenter)
	assert.Equal(t, cfg.Server, roundTrip.Server)
}

func TestContains(t *testing.T) {
	slice := []string{"text", "json", "csv"}

	assert.True(t, contains(slice, "json"))
	assert.False(t, contains(slice, "xlsx"))
	assert.False(t, contains(nil, "text"))
}

func TestValidateFraction(t *testing.T) {
	assert.NoError(t, validateFraction(0, "f"))
	assert.NoError(t, validateFraction(0.5, "f"))
	assert.NoError(t, validateFraction(1, "f"))
	assert.Error(t, validateFraction(-0.01, "f"))
	assert.Error(t, validateFraction(1.01, "f"))
}
