package http

import (
	"time"
)

const (
	DefaultChunkSize int64 = 4 * 1024 * 1024

	defaultConnections      = 4
	defaultMaxRetries       = 3
	defaultRetryDelay       = 2 * time.Second
	defaultChunkTimeout     = 5 * time.Minute
	defaultLockTimeout      = 100 * time.Millisecond
	defaultLedgerFlushEvery = 1
)

type ConfigOption func(*Config)

type Config struct {
	ChunkSize        int64             `json:"chunkSize"`
	Connections      int               `json:"connections"`
	Headers          map[string]string `json:"headers,omitempty"`
	MaxRetries       int               `json:"maxRetries"`
	RetryDelay       time.Duration     `json:"retryDelay,omitempty"`
	ChunkTimeout     time.Duration     `json:"chunkTimeout,omitempty"`
	ArtifactTimeout  time.Duration     `json:"artifactTimeout,omitempty"`
	LockTimeout      time.Duration     `json:"lockTimeout,omitempty"`
	LedgerFlushEvery int               `json:"ledgerFlushEvery"`
}

func defaultConfig() *Config {
	return &Config{
		ChunkSize:        DefaultChunkSize,
		Connections:      defaultConnections,
		Headers:          make(map[string]string),
		MaxRetries:       defaultMaxRetries,
		RetryDelay:       defaultRetryDelay,
		ChunkTimeout:     defaultChunkTimeout,
		LockTimeout:      defaultLockTimeout,
		LedgerFlushEvery: defaultLedgerFlushEvery,
	}
}

// NewConfig returns the default configuration with opts applied.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

func WithChunkSize(chunkSize int64) ConfigOption {
	return func(cfg *Config) {
		if chunkSize <= 0 {
			chunkSize = DefaultChunkSize
		}

		cfg.ChunkSize = chunkSize
	}
}

func WithConnections(connections int) ConfigOption {
	return func(cfg *Config) {
		if connections <= 0 {
			connections = defaultConnections
		}

		cfg.Connections = connections
	}
}

func WithHeaders(headers map[string]string) ConfigOption {
	return func(cfg *Config) {
		cfg.Headers = headers
	}
}

func WithMaxRetries(maxRetries int) ConfigOption {
	return func(cfg *Config) {
		if maxRetries <= 0 {
			maxRetries = 1
		}

		cfg.MaxRetries = maxRetries
	}
}

func WithRetryDelay(retryDelay time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.RetryDelay = retryDelay
	}
}

func WithChunkTimeout(timeout time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.ChunkTimeout = timeout
	}
}

// WithArtifactTimeout bounds one artifact attempt. Zero disables the bound.
func WithArtifactTimeout(timeout time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.ArtifactTimeout = timeout
	}
}

func WithLockTimeout(timeout time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.LockTimeout = timeout
	}
}

// WithLedgerFlushEvery sets how many completed chunks are batched per ledger commit.
func WithLedgerFlushEvery(n int) ConfigOption {
	return func(cfg *Config) {
		if n <= 0 {
			n = defaultLedgerFlushEvery
		}

		cfg.LedgerFlushEvery = n
	}
}
