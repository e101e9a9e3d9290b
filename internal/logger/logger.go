package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = newLogger(os.Stderr, nil, zerolog.InfoLevel)

	DebugEnabled = false

	logFile *os.File
)

func newLogger(console io.Writer, file io.Writer, level zerolog.Level) zerolog.Logger {
	var out io.Writer = zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	if file != nil {
		out = zerolog.MultiLevelWriter(out, file)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// InitLogging sets up logging based on configuration. Human readable output
// always goes to stderr; logPath, when set, additionally receives JSON lines.
func InitLogging(debugMode bool, logPath string) error {
	level := zerolog.InfoLevel
	if debugMode {
		level = zerolog.DebugLevel
	}

	var file io.Writer

	if logPath != "" {
		logDir := filepath.Dir(logPath)
		err := os.MkdirAll(logDir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		file = f

		mu.Lock()
		logFile = f
		mu.Unlock()
	}

	mu.Lock()
	DebugEnabled = debugMode
	root = newLogger(os.Stderr, file, level)
	mu.Unlock()

	return nil
}

// SetOutput redirects console output, keeping the current level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	root = newLogger(w, nil, root.GetLevel())
}

// Close closes the log file if open.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	root = newLogger(os.Stderr, nil, root.GetLevel())
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := root

	return &l
}

// With returns a logger tagged with a component name for structured fields.
func With(component string) zerolog.Logger {
	return current().With().Str("component", component).Logger()
}

func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Errorf logs an error message.
func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}

func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}
