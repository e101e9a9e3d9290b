package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/prepfetch/internal/common"
	"github.com/NamanBalaji/prepfetch/internal/status"
)

// Entry is the observable state of one artifact.
type Entry struct {
	ID           string       `json:"id"`
	Module       string       `json:"module,omitempty"`
	Name         string       `json:"name,omitempty"`
	URL          string       `json:"url"`
	Destination  string       `json:"destination"`
	State        status.State `json:"state"`
	TotalBytes   int64        `json:"total_bytes"`
	WrittenBytes int64        `json:"written_bytes"`
	ChunksTotal  int          `json:"chunks_total"`
	ChunksDone   int          `json:"chunks_done"`
	Resumed      bool         `json:"resumed,omitempty"`
	Skipped      bool         `json:"skipped,omitempty"`
	Unverified   bool         `json:"unverified,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	StartedAt    time.Time    `json:"started_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Percentage returns completion in [0, 100], or 0 when the size is unknown.
func (e Entry) Percentage() float64 {
	if e.State == status.Published {
		return 100
	}

	if e.TotalBytes <= 0 {
		return 0
	}

	return min(float64(e.WrittenBytes)/float64(e.TotalBytes)*100, 100)
}

// Summary aggregates entries by outcome.
type Summary struct {
	Total        int   `json:"total"`
	Published    int   `json:"published"`
	Failed       int   `json:"failed"`
	Cancelled    int   `json:"cancelled"`
	Active       int   `json:"active"`
	Unverified   int   `json:"unverified"`
	BytesWritten int64 `json:"bytes_written"`
	BytesTotal   int64 `json:"bytes_total"`
}

// Snapshot is a point-in-time copy of the tracker that observers may keep.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []Entry   `json:"entries"`
	Summary   Summary   `json:"summary"`
}

// Tracker records artifact progress for a run. Each entry is mutated by the
// coordinator of its artifact; readers only get copies.
type Tracker struct {
	mu      sync.RWMutex
	runID   uuid.UUID
	version uint64
	entries map[string]*Entry
}

func NewTracker() *Tracker {
	return &Tracker{
		runID:   uuid.New(),
		entries: make(map[string]*Entry),
	}
}

// RunID identifies the run across published snapshots.
func (t *Tracker) RunID() string {
	return t.runID.String()
}

// Register adds an artifact in the PENDING state. Registering an ID twice resets it.
func (t *Tracker) Register(a common.Artifact, dest string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[a.ID()] = &Entry{
		ID:          a.ID(),
		Module:      a.Module,
		Name:        a.Name,
		URL:         a.URL,
		Destination: dest,
		State:       status.Pending,
		TotalBytes:  a.Size,
		UpdatedAt:   time.Now(),
	}
	t.version++
}

// SetState moves an artifact to next. Transitions the state machine forbids are rejected.
func (t *Tracker) SetState(id string, next status.State, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return fmt.Errorf("artifact %s is not tracked", id)
	}

	if !e.State.CanTransition(next) {
		return fmt.Errorf("artifact %s: invalid transition %s -> %s", id, e.State, next)
	}

	now := time.Now()
	if e.State == status.Pending {
		e.StartedAt = now
	}

	e.State = next
	if reason != "" {
		e.Reason = reason
	}
	e.UpdatedAt = now
	t.version++

	return nil
}

// Update applies fn to the artifact's entry under the tracker lock.
func (t *Tracker) Update(id string, fn func(e *Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return
	}

	state := e.State
	fn(e)
	e.State = state
	e.UpdatedAt = time.Now()
	t.version++
}

// AddChunks records written bytes and completed chunks.
func (t *Tracker) AddChunks(id string, bytes int64, chunks int) {
	t.Update(id, func(e *Entry) {
		e.WrittenBytes += bytes
		e.ChunksDone += chunks
	})
}

// Get returns a copy of one entry.
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return Entry{}, false
	}

	return *e, true
}

// Snapshot returns a deep copy of all entries sorted by ID.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		RunID:     t.runID.String(),
		Version:   t.version,
		UpdatedAt: time.Now(),
		Entries:   make([]Entry, 0, len(t.entries)),
	}

	for _, e := range t.entries {
		s.Entries = append(s.Entries, *e)
	}

	sort.Slice(s.Entries, func(i, j int) bool {
		return s.Entries[i].ID < s.Entries[j].ID
	})

	s.Summary = summarize(s.Entries)

	return s
}

func summarize(entries []Entry) Summary {
	var sum Summary

	for _, e := range entries {
		sum.Total++
		sum.BytesWritten += e.WrittenBytes
		sum.BytesTotal += e.TotalBytes

		if e.Unverified {
			sum.Unverified++
		}

		switch e.State {
		case status.Published:
			sum.Published++
		case status.Failed:
			sum.Failed++
		case status.Cancelled:
			sum.Cancelled++
		case status.Probing, status.Downloading, status.Verifying:
			sum.Active++
		}
	}

	return sum
}
