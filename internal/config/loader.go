package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without
	// extension).
	ConfigFileName = "sopn"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SOPN"

	// EnvTextractBucket is the legacy environment variable naming the
	// detection bucket, honored alongside SOPN_TEXTRACT_BUCKET.
	EnvTextractBucket = "TEXTRACT_S3_BUCKET_NAME"
)

// Loader handles loading configuration from files, environment
// variables and defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a configuration loader on the global viper instance
// so cobra flag bindings are visible to it.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// Load loads configuration from the default search paths, environment
// variables and defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironment()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and environment cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return l.unmarshalAndValidate()
}

// LoadWithoutValidation loads configuration like Load but skips
// validation, for inspecting a broken configuration.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironment()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path, falling
// back to Load when the path is empty.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}

	if err := l.readConfigFile(configFile); err != nil {
		return nil, err
	}
	return l.unmarshalAndValidate()
}

// LoadWithFileWithoutValidation loads from a specific file path without
// validating the result.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}

	if err := l.readConfigFile(configFile); err != nil {
		return nil, err
	}
	return l.unmarshal()
}

func (l *Loader) readConfigFile(configFile string) error {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironment()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", configFile, err)
	}
	return nil
}

func (l *Loader) unmarshal() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &config, nil
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	config, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for flag binding.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}

	l.v.AddConfigPath("/etc/sopn")

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		l.v.AddConfigPath(filepath.Join(configDir, "sopn"))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "sopn"))
	}
}

// setupEnvironment configures environment variable handling. A .env
// file in the working directory is folded into the process environment
// first so local development credentials load without exporting.
func (l *Loader) setupEnvironment() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// The detection bucket has a well-known legacy variable name.
	_ = l.v.BindEnv("textract.bucket", EnvPrefix+"_TEXTRACT_BUCKET", EnvTextractBucket)
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)
	l.v.SetDefault("data_dir", defaults.DataDir)

	l.v.SetDefault("election.country", defaults.Election.Country)

	l.v.SetDefault("storage.driver", defaults.Storage.Driver)
	l.v.SetDefault("storage.dsn", defaults.Storage.DSN)

	l.v.SetDefault("blob.backend", defaults.Blob.Backend)
	l.v.SetDefault("blob.dir", defaults.Blob.Dir)
	l.v.SetDefault("blob.bucket", defaults.Blob.Bucket)
	l.v.SetDefault("blob.region", defaults.Blob.Region)

	l.v.SetDefault("textract.enabled", defaults.Textract.Enabled)
	l.v.SetDefault("textract.region", defaults.Textract.Region)
	l.v.SetDefault("textract.bucket", defaults.Textract.Bucket)
	l.v.SetDefault("textract.key_prefix", defaults.Textract.KeyPrefix)
	l.v.SetDefault("textract.poll_interval_sec", defaults.Textract.PollIntervalSec)
	l.v.SetDefault("textract.max_polls", defaults.Textract.MaxPolls)

	l.v.SetDefault("segmenter.heading_band", defaults.Segmenter.HeadingBand)
	l.v.SetDefault("segmenter.similarity_threshold", defaults.Segmenter.SimilarityThreshold)
	l.v.SetDefault("segmenter.blank_token_min", defaults.Segmenter.BlankTokenMin)

	l.v.SetDefault("table.row_tolerance", defaults.Table.RowTolerance)
	l.v.SetDefault("table.column_gap_threshold", defaults.Table.ColumnGapThreshold)

	l.v.SetDefault("convert.pandoc", defaults.Convert.Pandoc)

	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit_enabled", defaults.Server.RateLimitEnabled)
	l.v.SetDefault("server.requests_per_minute", defaults.Server.RequestsPerMinute)
	l.v.SetDefault("server.requests_per_hour", defaults.Server.RequestsPerHour)
	l.v.SetDefault("server.max_requests_per_day", defaults.Server.MaxRequestsPerDay)
	l.v.SetDefault("server.max_data_per_day", defaults.Server.MaxDataPerDay)

	l.v.SetDefault("search.index_path", defaults.Search.IndexPath)

	l.v.SetDefault("batch.workers", defaults.Batch.Workers)
	l.v.SetDefault("batch.output_dir", defaults.Batch.OutputDir)
	l.v.SetDefault("batch.continue_on_error", defaults.Batch.ContinueOnError)
	l.v.SetDefault("batch.recursive", defaults.Batch.Recursive)

	l.v.SetDefault("watch.dir", defaults.Watch.Dir)
	l.v.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)
	l.v.SetDefault("watch.recursive", defaults.Watch.Recursive)
}

// GetConfigSearchPaths returns the paths where configuration files are
// searched, for help output.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home, filepath.Join(home, ".config", "sopn"))
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "sopn"))
	}

	return append(paths, "/etc/sopn")
}

// WriteDefaultConfigFile writes a starter configuration file rendered
// from the defaults.
func WriteDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	defaults := DefaultConfig()
	data, err := defaults.RenderYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("write config file %s: %w", filename, err)
	}
	return nil
}
