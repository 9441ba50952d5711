package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"fxbuckets/internal/bucketing"
	"fxbuckets/internal/correlation"
	apperrors "fxbuckets/internal/errors"
)

// EnvPrefix namespaces every environment variable, e.g. FXB_OPTIMIZER_BUCKETS
const EnvPrefix = "FXB"

// Config represents the complete application configuration
type Config struct {
	Optimizer OptimizerConfig `yaml:"optimizer" envconfig:"OPTIMIZER"`
	Input     InputConfig     `yaml:"input" envconfig:"INPUT"`
	Output    OutputConfig    `yaml:"output" envconfig:"OUTPUT"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// OptimizerConfig controls the bucket search
type OptimizerConfig struct {
	Buckets   int           `yaml:"buckets" envconfig:"BUCKETS"`
	Restarts  int           `yaml:"restarts" envconfig:"RESTARTS"`
	Threshold float64       `yaml:"threshold" envconfig:"THRESHOLD"`
	Seed      int64         `yaml:"seed" envconfig:"SEED"`
	Workers   int           `yaml:"workers" envconfig:"WORKERS"`
	MaxPasses int           `yaml:"max_passes" envconfig:"MAX_PASSES"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// InputConfig describes where the correlation table lives and how to read it
type InputConfig struct {
	Path         string `yaml:"path" envconfig:"PATH"`
	FirstColumn  string `yaml:"first_column" envconfig:"FIRST_COLUMN"`
	SecondColumn string `yaml:"second_column" envconfig:"SECOND_COLUMN"`
	// ValueColumn is a header name or a zero-based column index.
	ValueColumn string `yaml:"value_column" envconfig:"VALUE_COLUMN"`
	Sheet       string `yaml:"sheet" envconfig:"SHEET"`
}

// OutputConfig lists report destinations; empty entries are skipped
type OutputConfig struct {
	Markdown string `yaml:"markdown" envconfig:"MARKDOWN"`
	CSV      string `yaml:"csv" envconfig:"CSV"`
	XLSX     string `yaml:"xlsx" envconfig:"XLSX"`
}

// StorageConfig contains S3-compatible object storage settings used for s3:// inputs
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Region    string `yaml:"region" envconfig:"REGION"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	MaxItems        int             `yaml:"max_items" envconfig:"MAX_ITEMS"`
	AllowedOrigins  []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled" envconfig:"ENABLED"`
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// Bucketing converts the optimizer section into the search configuration
func (o OptimizerConfig) Bucketing() bucketing.Config {
	return bucketing.Config{
		Buckets:   o.Buckets,
		Restarts:  o.Restarts,
		Threshold: o.Threshold,
		Seed:      o.Seed,
		Workers:   o.Workers,
		MaxPasses: o.MaxPasses,
		Timeout:   o.Timeout,
	}
}

// Table converts the input section into loader options
func (i InputConfig) Table() correlation.TableOptions {
	return correlation.TableOptions{
		FirstColumn:  i.FirstColumn,
		SecondColumn: i.SecondColumn,
		ValueColumn:  i.ValueColumn,
		Sheet:        i.Sheet,
	}
}

// Options converts the storage section into loader options
func (s StorageConfig) Options() correlation.StorageOptions {
	return correlation.StorageOptions{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Region:    s.Region,
		UseSSL:    s.UseSSL,
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// FXB_* environment variables, in increasing order of precedence.
// An empty path falls back to the first config file found in the usual locations.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("failed to load config file %s", path), err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file keep their values
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// Validate checks the configuration and normalizes logging settings
func (c *Config) Validate() error {
	if err := c.Optimizer.Bucketing().Validate(); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperrors.NewConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return apperrors.NewConfigError("server read and write timeouts must be positive", nil)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return apperrors.NewConfigError("server max body size must be positive", nil)
	}
	if c.Server.MaxItems <= 0 {
		return apperrors.NewConfigError("server max items must be positive", nil)
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		return apperrors.NewConfigError("rate limit rps and burst must be positive when enabled", nil)
	}

	if c.Input.FirstColumn == "" || c.Input.SecondColumn == "" || c.Input.ValueColumn == "" {
		return apperrors.NewConfigError("input column names must not be empty", nil)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return apperrors.NewConfigError(fmt.Sprintf("telemetry sample ratio out of range: %v", c.Telemetry.SampleRatio), nil)
	}

	c.Logging.Format = "json"
	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/fxbuckets.log"
	}

	return nil
}

// getConfigFilePath returns the first config file found, or "" to use env vars only
func getConfigFilePath() string {
	locations := []string{
		"fxbuckets.yaml",
		"configs/fxbuckets.yaml",
		"../configs/fxbuckets.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Optimizer: OptimizerConfig{
			Buckets:   bucketing.DefaultBuckets,
			Restarts:  bucketing.DefaultRestarts,
			Threshold: bucketing.DefaultThreshold,
			Workers:   1,
		},
		Input: InputConfig{
			FirstColumn:  "pair1",
			SecondColumn: "pair2",
			ValueColumn:  "6",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  90 * time.Second,
			MaxBodyBytes:    4 << 20, // 4MB
			MaxItems:        200,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			ServiceName:    "fxbuckets",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
