package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "prepfetch"

// Environment variables that override the configuration file.
const (
	EnvBaseDir        = "PREPPER_EXTERNAL_CONTENT"
	EnvTimeout        = "PREPFETCH_TIMEOUT"
	EnvChunkSize      = "PREPFETCH_CHUNK_SIZE"
	EnvMaxConcurrency = "PREPFETCH_MAX_CONCURRENCY"
	EnvMaxRetries     = "PREPFETCH_MAX_RETRIES"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the configuration options for the application.
type Config struct {
	BaseDir         string        `yaml:"baseDir,omitempty"`
	MaxConcurrency  int           `yaml:"maxConcurrency,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	StatusInterval  time.Duration `yaml:"statusInterval,omitempty"`
	ContinueOnError bool          `yaml:"continueOnError,omitempty"`
	Sequential      bool          `yaml:"sequential,omitempty"`
	Http            *HttpConfig   `yaml:"http,omitempty"`
}

// HttpConfig holds configuration options for chunked HTTP transfers.
type HttpConfig struct {
	ChunkSize    int64             `yaml:"chunkSize,omitempty"`
	Connections  int               `yaml:"connections,omitempty"`
	MaxRetries   int               `yaml:"maxRetries,omitempty"`
	RetryDelay   time.Duration     `yaml:"retryDelay,omitempty"`
	ChunkTimeout time.Duration     `yaml:"chunkTimeout,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

// Path returns the location of the configuration file.
func Path() string {
	return filepath.Join(xdg.ConfigHome, configFileName)
}

// Load reads the configuration file and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	defaults := DefaultConfig()

	b, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	httpCfg := zeroOr(cfg.Http, defaults.Http)

	return &Config{
		BaseDir:         zeroOr(cfg.BaseDir, defaults.BaseDir),
		MaxConcurrency:  zeroOr(cfg.MaxConcurrency, defaults.MaxConcurrency),
		Timeout:         cfg.Timeout,
		StatusInterval:  zeroOr(cfg.StatusInterval, defaults.StatusInterval),
		ContinueOnError: cfg.ContinueOnError,
		Sequential:      cfg.Sequential,
		Http: &HttpConfig{
			ChunkSize:    zeroOr(httpCfg.ChunkSize, defaults.Http.ChunkSize),
			Connections:  zeroOr(httpCfg.Connections, defaults.Http.Connections),
			MaxRetries:   zeroOr(httpCfg.MaxRetries, defaults.Http.MaxRetries),
			RetryDelay:   zeroOr(httpCfg.RetryDelay, defaults.Http.RetryDelay),
			ChunkTimeout: zeroOr(httpCfg.ChunkTimeout, defaults.Http.ChunkTimeout),
			Headers:      httpCfg.Headers,
		},
	}, nil
}

func DefaultConfig() Config {
	return Config{
		BaseDir:        baseDir,
		MaxConcurrency: maxConcurrency,
		StatusInterval: statusInterval,
		Http: &HttpConfig{
			ChunkSize:    chunkSize,
			Connections:  httpConnections,
			MaxRetries:   maxRetries,
			RetryDelay:   retryDelay,
			ChunkTimeout: chunkTimeout,
		},
	}
}

// ApplyEnv overrides fields from the environment. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBaseDir); ok && v != "" {
		c.BaseDir = v
	}

	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvTimeout, v, err)
		}

		c.Timeout = d
	}

	if v, ok := lookup(EnvChunkSize); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvChunkSize, v, err)
		}

		c.http().ChunkSize = n
	}

	if v, ok := lookup(EnvMaxConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvMaxConcurrency, v, err)
		}

		c.MaxConcurrency = n
	}

	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvMaxRetries, v, err)
		}

		c.http().MaxRetries = n
	}

	return nil
}

// Validate rejects values the downloader cannot work with.
func (c *Config) Validate() error {
	h := c.http()

	switch {
	case c.BaseDir == "":
		return fmt.Errorf("%w: base directory is empty", ErrInvalidConfig)
	case h.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, h.ChunkSize)
	case h.Connections <= 0:
		return fmt.Errorf("%w: connections must be positive, got %d", ErrInvalidConfig, h.Connections)
	case c.MaxConcurrency <= 0:
		return fmt.Errorf("%w: max concurrency must be positive, got %d", ErrInvalidConfig, c.MaxConcurrency)
	case h.MaxRetries <= 0:
		return fmt.Errorf("%w: max retries must be positive, got %d", ErrInvalidConfig, h.MaxRetries)
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout)
	}

	return nil
}

func (c *Config) http() *HttpConfig {
	if c.Http == nil {
		c.Http = DefaultConfig().Http
	}

	return c.Http
}

// parseDuration accepts Go durations ("90s", "1h") and plain seconds ("3600").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return time.ParseDuration(v)
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
