// Package engine materializes manifest modules and direct URLs through a shared
// artifact pool.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/NamanBalaji/prepfetch/internal/common"
	"github.com/NamanBalaji/prepfetch/internal/errors"
	httpDownloader "github.com/NamanBalaji/prepfetch/internal/http"
	"github.com/NamanBalaji/prepfetch/internal/logger"
	"github.com/NamanBalaji/prepfetch/internal/manifest"
	"github.com/NamanBalaji/prepfetch/internal/progress"
	"github.com/NamanBalaji/prepfetch/internal/status"
	"github.com/NamanBalaji/prepfetch/internal/verify"
)

var (
	// ErrSiblingFailed is the cancellation cause of artifacts whose module already failed
	ErrSiblingFailed = errors.New("sibling artifact failed")

	// ErrInvalidDigest is returned for a sha256 that is not 64 hex characters
	ErrInvalidDigest = errors.New("invalid sha256 digest")
)

// Selection chooses the manifest modules of a run. The zero value selects the
// manifest's default module.
type Selection struct {
	Modules []string
	All     bool
}

type Engine struct {
	config  *Config
	worker  *httpDownloader.Worker
	tracker *progress.Tracker
	log     zerolog.Logger
}

// New creates a new Engine instance
func New(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}

	if config.BaseDir == "" {
		config.BaseDir = DefaultConfig().BaseDir
	}

	tracker := progress.NewTracker()

	return &Engine{
		config:  config,
		worker:  httpDownloader.New(config.Client, tracker, config.workerOptions()...),
		tracker: tracker,
		log:     logger.With("engine"),
	}
}

// Tracker returns the tracker the status file is published from.
func (e *Engine) Tracker() *progress.Tracker {
	return e.tracker
}

// StatusPath is where the status snapshot is published.
func (e *Engine) StatusPath() string {
	return filepath.Join(e.config.BaseDir, progress.StatusFileName)
}

// Destination is where an artifact of a manifest module is published.
func (e *Engine) Destination(a common.Artifact) string {
	return filepath.Join(e.config.BaseDir, a.Module, a.Filename)
}

// DownloadURL downloads a single file. An empty dest places the file in the base
// directory under the name the server reports. The artifact is identified by the
// last element of the URL path.
func (e *Engine) DownloadURL(ctx context.Context, rawURL, dest, sha256 string) (*Outcome, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewPermanent(fmt.Errorf("%w: %q", errors.ErrInvalidURL, rawURL), rawURL)
	}

	if sha256 != "" && !verify.ValidDigest(sha256) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDigest, sha256)
	}

	name := path.Base(u.Path)
	if dest != "" {
		name = filepath.Base(dest)
	} else if name == "." || name == ".." || name == "/" {
		name = u.Host
	}

	filename := ""
	if dest != "" {
		filename = name
	}

	job := httpDownloader.Job{
		Artifact: common.Artifact{
			Name:     name,
			URL:      rawURL,
			Filename: filename,
			SHA256:   strings.ToLower(sha256),
		},
		Dest: dest,
		Dir:  e.config.BaseDir,
	}

	return e.execute(ctx, []*moduleRun{newModuleRun("", 0, []httpDownloader.Job{job})}), nil
}

// DownloadManifest downloads the selected modules of m. A failed artifact cancels
// the rest of its module unless ContinueOnError is set.
func (e *Engine) DownloadManifest(ctx context.Context, m *manifest.Manifest, sel Selection) (*Outcome, error) {
	names, err := m.Select(sel.Modules, sel.All)
	if err != nil {
		return nil, err
	}

	runs := make([]*moduleRun, 0, len(names))

	for rank, name := range names {
		artifacts, err := m.Artifacts(name)
		if err != nil {
			return nil, err
		}

		jobs := make([]httpDownloader.Job, 0, len(artifacts))
		for _, a := range artifacts {
			jobs = append(jobs, httpDownloader.Job{Artifact: a, Dest: e.Destination(a)})
		}

		runs = append(runs, newModuleRun(name, rank, jobs))
	}

	return e.execute(ctx, runs), nil
}

func (e *Engine) execute(ctx context.Context, runs []*moduleRun) *Outcome {
	for _, run := range runs {
		for _, job := range run.jobs {
			e.tracker.Register(job.Artifact, job.Dest)
		}
	}

	stopPublisher := e.startPublisher(ctx)
	defer stopPublisher()

	queue := NewQueueProcessor(e.config.MaxConcurrency, e.runArtifact)

	for _, run := range runs {
		run.start(ctx, !e.config.ContinueOnError)

		e.log.Info().Str("module", run.name).Int("files", len(run.jobs)).Msg("queued module")

		for i, job := range run.jobs {
			queue.Enqueue(run.ctx, job, run.rank, run.recorder(i))
		}

		if e.config.Sequential {
			queue.Drain()
		}
	}

	queue.Drain()

	for _, run := range runs {
		run.cancel(nil)
	}

	stopPublisher()

	outcome := &Outcome{
		RunID:       e.tracker.RunID(),
		Interrupted: ctx.Err() != nil,
		Summary:     e.tracker.Snapshot().Summary,
	}

	for _, run := range runs {
		outcome.Modules = append(outcome.Modules, ModuleOutcome{Name: run.name, Results: run.results})
	}

	e.log.Info().
		Int("published", outcome.Summary.Published).
		Int("failed", outcome.Summary.Failed).
		Int("cancelled", outcome.Summary.Cancelled).
		Int("unverified", outcome.Summary.Unverified).
		Msg("run finished")

	return outcome
}

// runArtifact skips the worker for artifacts cancelled before they got a slot,
// so no ledger is created for them.
func (e *Engine) runArtifact(ctx context.Context, job httpDownloader.Job) httpDownloader.Result {
	if ctx.Err() == nil {
		return e.worker.Run(ctx, job)
	}

	id := job.Artifact.ID()
	cause := context.Cause(ctx)

	if err := e.tracker.SetState(id, status.Cancelled, cause.Error()); err != nil {
		logger.Debugf("Tracker rejected state change: %v", err)
	}

	return httpDownloader.Result{
		Artifact: job.Artifact,
		Dest:     job.Dest,
		State:    status.Cancelled,
		Err:      errors.WithArtifact(errors.NewCancelled(cause, job.Artifact.URL), id),
		Reason:   cause.Error(),
	}
}

func (e *Engine) startPublisher(ctx context.Context) func() {
	if e.config.StatusInterval < 0 {
		return func() {}
	}

	pubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	publisher := progress.NewPublisher(e.tracker, e.StatusPath(), e.config.StatusInterval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		publisher.Run(pubCtx)
	}()

	return sync.OnceFunc(func() {
		cancel()
		<-done
	})
}

// moduleRun is the per-module state of one execution.
type moduleRun struct {
	name    string
	rank    int
	jobs    []httpDownloader.Job
	results []httpDownloader.Result

	ctx    context.Context
	cancel context.CancelCauseFunc
	abort  bool
}

func newModuleRun(name string, rank int, jobs []httpDownloader.Job) *moduleRun {
	return &moduleRun{
		name:    name,
		rank:    rank,
		jobs:    jobs,
		results: make([]httpDownloader.Result, len(jobs)),
	}
}

func (r *moduleRun) start(parent context.Context, abortOnFailure bool) {
	r.ctx, r.cancel = context.WithCancelCause(parent)
	r.abort = abortOnFailure
}

// recorder stores the result of job i. The first failure becomes the cause
// that cancels the remaining siblings.
func (r *moduleRun) recorder(i int) func(httpDownloader.Result) {
	return func(res httpDownloader.Result) {
		r.results[i] = res

		if r.abort && res.State == status.Failed {
			r.cancel(fmt.Errorf("%w: %s", ErrSiblingFailed, res.Artifact.ID()))
		}
	}
}
