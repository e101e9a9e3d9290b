package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/NamanBalaji/prepfetch/internal/filesystem"
	"github.com/NamanBalaji/prepfetch/internal/logger"
)

// StatusFileName is the snapshot written into the base directory.
const StatusFileName = "download_status.json"

const defaultInterval = time.Second

// Publisher periodically writes tracker snapshots to a JSON file.
type Publisher struct {
	tracker  *Tracker
	path     string
	interval time.Duration
	fs       *filesystem.OSFileSystem

	lastVersion uint64
	written     bool
}

func NewPublisher(tracker *Tracker, path string, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Publisher{
		tracker:  tracker,
		path:     path,
		interval: interval,
		fs:       filesystem.NewOSFileSystem(),
	}
}

// Run publishes on every tick until ctx is done, then publishes once more.
// It must not be called concurrently with Publish.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.Publish(); err != nil {
				logger.Errorf("Failed to publish final status snapshot: %v", err)
			}

			return
		case <-ticker.C:
			if err := p.publishIfChanged(); err != nil {
				logger.Warnf("Failed to publish status snapshot: %v", err)
			}
		}
	}
}

func (p *Publisher) publishIfChanged() error {
	snap := p.tracker.Snapshot()
	if p.written && snap.Version == p.lastVersion {
		return nil
	}

	return p.write(snap)
}

// Publish writes the current snapshot unconditionally.
func (p *Publisher) Publish() error {
	return p.write(p.tracker.Snapshot())
}

func (p *Publisher) write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := p.fs.WriteFileAtomic(p.path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.path, err)
	}

	p.lastVersion = snap.Version
	p.written = true

	return nil
}

// Load reads a published snapshot.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &snap, nil
}
