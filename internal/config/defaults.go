package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrency  = 2
	statusInterval  = time.Second
	chunkSize       = 4 * 1024 * 1024
	httpConnections = 4
	maxRetries      = 3
	retryDelay      = 2 * time.Second
	chunkTimeout    = 5 * time.Minute
)

var baseDir = filepath.Join(xdg.DataHome, configFileName)
