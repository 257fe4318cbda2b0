// Package config defines the typed configuration for the sopn toolkit
// and its loader. Deployment-specific capabilities (country profile,
// detection credentials, storage locations) are resolved here once at
// startup and injected into components; nothing downstream re-reads the
// environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/civiclab/sopn/internal/detect"
	"github.com/civiclab/sopn/internal/segment"
	"github.com/civiclab/sopn/internal/store"
	"github.com/civiclab/sopn/internal/table"
)

// Config is the complete configuration for the sopn application. It
// covers all commands (parse, detect, pages, batch, serve, export,
// search, watch) and loads from configuration files, environment
// variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	DataDir  string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`

	// Deployment election profile
	Election ElectionConfig `mapstructure:"election" yaml:"election" json:"election"`

	// Persistence
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`

	// Object storage for uploaded documents
	Blob BlobConfig `mapstructure:"blob" yaml:"blob" json:"blob"`

	// Cloud text detection
	Textract TextractConfig `mapstructure:"textract" yaml:"textract" json:"textract"`

	// Page grouping tunables
	Segmenter SegmenterConfig `mapstructure:"segmenter" yaml:"segmenter" json:"segmenter"`

	// Table reconstruction tunables
	Table TableConfig `mapstructure:"table" yaml:"table" json:"table"`

	// Upload conversion
	Convert ConvertConfig `mapstructure:"convert" yaml:"convert" json:"convert"`

	// Output formatting
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// HTTP server (serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Full-text search index
	Search SearchConfig `mapstructure:"search" yaml:"search" json:"search"`

	// Bulk processing (batch command)
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// Drop-directory ingestion (watch command)
	Watch WatchConfig `mapstructure:"watch" yaml:"watch" json:"watch"`
}

// ElectionConfig is the per-deployment election profile. The original
// deployment selected country-specific behaviour dynamically; here the
// profile is explicit configuration resolved once at startup.
type ElectionConfig struct {
	// Country tags parsed documents and log output.
	Country string `mapstructure:"country" yaml:"country" json:"country"`
	// HeaderAnchors are additional normalized phrases that identify a
	// statement header row on this deployment's forms, on top of the
	// built-in anchors.
	HeaderAnchors []string `mapstructure:"header_anchors" yaml:"header_anchors" json:"header_anchors"`
}

// StorageConfig selects the database backend.
type StorageConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	// DSN is the database file path for SQLite or a connection URL for
	// Postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// BlobConfig selects the object storage backend for uploaded documents.
type BlobConfig struct {
	// Backend is "local" or "s3".
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`
	// Dir is the root directory of the local backend.
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
	// Bucket and Region locate the S3 backend.
	Bucket string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Region string `mapstructure:"region" yaml:"region" json:"region"`
}

// TextractConfig configures the asynchronous detection service.
type TextractConfig struct {
	// Enabled turns cloud detection on. Disabled deployments still parse
	// PDFs that carry an embedded text layer.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Region is the AWS region of the Textract endpoint.
	Region string `mapstructure:"region" yaml:"region" json:"region"`
	// Bucket is the S3 bucket documents are analyzed from. Also bound to
	// the TEXTRACT_S3_BUCKET_NAME environment variable.
	Bucket string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	// KeyPrefix is prepended to stored filenames when deriving object
	// keys.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	// PollIntervalSec is the delay between status polls.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec" json:"poll_interval_sec"`
	// MaxPolls bounds a blocking wait for completion.
	MaxPolls int `mapstructure:"max_polls" yaml:"max_polls" json:"max_polls"`
}

// SegmenterConfig carries the page-grouping tunables. The defaults are
// calibrated against sample statements; override only after checking a
// representative set of real documents.
type SegmenterConfig struct {
	HeadingBand         float64 `mapstructure:"heading_band" yaml:"heading_band" json:"heading_band"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold" json:"similarity_threshold"`
	BlankTokenMin       int     `mapstructure:"blank_token_min" yaml:"blank_token_min" json:"blank_token_min"`
}

// TableConfig carries the table reconstruction tunables.
type TableConfig struct {
	RowTolerance       float64 `mapstructure:"row_tolerance" yaml:"row_tolerance" json:"row_tolerance"`
	ColumnGapThreshold float64 `mapstructure:"column_gap_threshold" yaml:"column_gap_threshold" json:"column_gap_threshold"`
}

// ConvertConfig configures the upload conversion boundary.
type ConvertConfig struct {
	// Pandoc is the binary used for word-processor formats; resolved on
	// PATH when not absolute.
	Pandoc string `mapstructure:"pandoc" yaml:"pandoc" json:"pandoc"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	// Format is text, json, csv or xlsx.
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	// File is the output path; empty writes to stdout.
	File string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Rate limiting
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// SearchConfig locates the full-text index.
type SearchConfig struct {
	IndexPath string `mapstructure:"index_path" yaml:"index_path" json:"index_path"`
}

// BatchConfig contains bulk processing settings.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	OutputDir       string   `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	ContinueOnError bool     `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
	Recursive       bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns" json:"exclude_patterns"`
}

// WatchConfig contains drop-directory ingestion settings.
type WatchConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir" json:"dir"`
	DebounceMs int    `mapstructure:"debounce_ms" yaml:"debounce_ms" json:"debounce_ms"`
	Recursive  bool   `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
}

// DefaultConfig returns a configuration with sensible defaults. Paths
// derive from the data directory so a fresh checkout works without any
// configuration file.
func DefaultConfig() Config {
	dataDir := "data"
	return Config{
		LogLevel: "info",
		Verbose:  false,
		DataDir:  dataDir,
		Election: ElectionConfig{
			Country: "uk",
		},
		Storage: StorageConfig{
			Driver: store.DriverSQLite,
			DSN:    filepath.Join(dataDir, "sopn.db"),
		},
		Blob: BlobConfig{
			Backend: "local",
			Dir:     filepath.Join(dataDir, "documents"),
		},
		Textract: TextractConfig{
			Enabled:         false,
			KeyPrefix:       "sopn",
			PollIntervalSec: 5,
			MaxPolls:        60,
		},
		Segmenter: SegmenterConfig{
			HeadingBand:         0.4,
			SimilarityThreshold: 0.75,
			BlankTokenMin:       3,
		},
		Table: TableConfig{
			RowTolerance:       0.012,
			ColumnGapThreshold: 0.05,
		},
		Convert: ConvertConfig{
			Pandoc: "pandoc",
		},
		Output: OutputConfig{
			Format: "text",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,

			RateLimitEnabled:  false,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     1024 * 1024 * 1024,
		},
		Search: SearchConfig{
			IndexPath: filepath.Join(dataDir, "index.bleve"),
		},
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: true,
		},
		Watch: WatchConfig{
			DebounceMs: 400,
			Recursive:  false,
		},
	}
}

// Validate validates the configuration and returns the first problem
// found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validDrivers := []string{store.DriverSQLite, store.DriverPostgres}
	if !contains(validDrivers, c.Storage.Driver) {
		return fmt.Errorf("invalid storage driver: %s (must be one of: %s)",
			c.Storage.Driver, strings.Join(validDrivers, ", "))
	}

	validBackends := []string{"local", "s3"}
	if !contains(validBackends, c.Blob.Backend) {
		return fmt.Errorf("invalid blob backend: %s (must be one of: %s)",
			c.Blob.Backend, strings.Join(validBackends, ", "))
	}
	if c.Blob.Backend == "s3" && c.Blob.Bucket == "" {
		return fmt.Errorf("blob backend s3 requires blob.bucket")
	}

	if c.Textract.Enabled && c.Textract.Bucket == "" {
		return fmt.Errorf("textract requires textract.bucket (or TEXTRACT_S3_BUCKET_NAME)")
	}

	if err := validateFraction(c.Segmenter.HeadingBand, "segmenter.heading_band"); err != nil {
		return err
	}
	if err := validateFraction(c.Segmenter.SimilarityThreshold, "segmenter.similarity_threshold"); err != nil {
		return err
	}
	if c.Segmenter.BlankTokenMin < 1 {
		return fmt.Errorf("invalid segmenter.blank_token_min: %d (must be positive)", c.Segmenter.BlankTokenMin)
	}
	if err := validateFraction(c.Table.RowTolerance, "table.row_tolerance"); err != nil {
		return err
	}
	if err := validateFraction(c.Table.ColumnGapThreshold, "table.column_gap_threshold"); err != nil {
		return err
	}

	validFormats := []string{"text", "json", "csv", "xlsx"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)",
			c.Output.Format, strings.Join(validFormats, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("invalid watch debounce: %d (must not be negative)", c.Watch.DebounceMs)
	}

	return nil
}

// ToStoreConfig converts to the store backend configuration.
func (c *Config) ToStoreConfig() store.Config {
	return store.Config{
		Driver: c.Storage.Driver,
		DSN:    c.Storage.DSN,
	}
}

// ToSegmentOptions converts to the segmenter tunables.
func (c *Config) ToSegmentOptions() segment.Options {
	return segment.Options{
		HeadingBand:         c.Segmenter.HeadingBand,
		SimilarityThreshold: c.Segmenter.SimilarityThreshold,
		BlankTokenMin:       c.Segmenter.BlankTokenMin,
	}
}

// ToTableOptions converts to the table reconstruction tunables,
// including the deployment's extra header anchors.
func (c *Config) ToTableOptions() table.Options {
	return table.Options{
		RowTolerance:       c.Table.RowTolerance,
		ColumnGapThreshold: c.Table.ColumnGapThreshold,
		ExtraHeaderAnchors: c.Election.HeaderAnchors,
	}
}

// ToDetectOptions converts to the detection orchestrator options.
func (c *Config) ToDetectOptions() detect.Options {
	return detect.Options{
		Bucket:       c.Textract.Bucket,
		KeyPrefix:    c.Textract.KeyPrefix,
		PollInterval: time.Duration(c.Textract.PollIntervalSec) * time.Second,
		MaxPolls:     c.Textract.MaxPolls,
	}
}

// RenderYAML renders the configuration as a YAML document, suitable for
// writing a starter config file.
func (c *Config) RenderYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return data, nil
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateFraction validates that a value is between 0.0 and 1.0.
func validateFraction(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.3f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
