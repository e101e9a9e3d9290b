package engine

import (
	"time"

	httpDownloader "github.com/NamanBalaji/prepfetch/internal/http"
	httpClient "github.com/NamanBalaji/prepfetch/pkg/http"
)

// Config contains the engine configuration
type Config struct {
	BaseDir         string
	MaxConcurrency  int           // Artifacts downloaded at the same time across modules
	Connections     int           // Chunk requests in flight per artifact
	ChunkSize       int64         // Bytes per ranged request
	MaxRetries      int           // Attempts per request before giving up
	RetryDelay      time.Duration // Initial backoff between attempts
	ChunkTimeout    time.Duration // Per request timeout, a transient failure
	ArtifactTimeout time.Duration // Per artifact timeout, 0 means none
	StatusInterval  time.Duration // How often the status file is refreshed, negative disables it
	ContinueOnError bool          // Let siblings of a failed artifact finish
	Sequential      bool          // Run modules one at a time in order
	Headers         map[string]string
	Client          *httpClient.Client
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		BaseDir:        ".",
		MaxConcurrency: 2,
		Connections:    4,
		ChunkSize:      httpDownloader.DefaultChunkSize,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		ChunkTimeout:   5 * time.Minute,
		StatusInterval: time.Second,
	}
}

func (c *Config) workerOptions() []httpDownloader.ConfigOption {
	opts := []httpDownloader.ConfigOption{
		httpDownloader.WithChunkSize(c.ChunkSize),
		httpDownloader.WithConnections(c.Connections),
		httpDownloader.WithMaxRetries(c.MaxRetries),
		httpDownloader.WithRetryDelay(c.RetryDelay),
		httpDownloader.WithChunkTimeout(c.ChunkTimeout),
		httpDownloader.WithArtifactTimeout(c.ArtifactTimeout),
	}

	if len(c.Headers) > 0 {
		opts = append(opts, httpDownloader.WithHeaders(c.Headers))
	}

	return opts
}
