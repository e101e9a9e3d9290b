package http

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/prepfetch/internal/common"
	"github.com/NamanBalaji/prepfetch/internal/errors"
	"github.com/NamanBalaji/prepfetch/internal/filesystem"
	"github.com/NamanBalaji/prepfetch/internal/ledger"
	"github.com/NamanBalaji/prepfetch/internal/logger"
	"github.com/NamanBalaji/prepfetch/internal/plan"
	"github.com/NamanBalaji/prepfetch/internal/progress"
	"github.com/NamanBalaji/prepfetch/internal/retry"
	"github.com/NamanBalaji/prepfetch/internal/status"
	"github.com/NamanBalaji/prepfetch/internal/verify"
	httpPkg "github.com/NamanBalaji/prepfetch/pkg/http"
)

var (
	// ErrArtifactTimeout is the cancellation cause of an attempt that ran out of time.
	ErrArtifactTimeout = errors.New("timeout")

	ErrChunksIncomplete = errors.New("not all chunks completed successfully")
)

// Job is one artifact to materialize at Dest.
type Job struct {
	Artifact common.Artifact
	Dest     string
	Dir      string // With an empty Dest the file is placed in Dir under the name the server reports
}

// Result is the outcome of one attempt.
type Result struct {
	Artifact     common.Artifact
	Dest         string
	Resource     common.RemoteResource
	State        status.State
	Verified     bool
	Unverified   bool
	Skipped      bool
	Resumed      bool
	Recovered    bool
	Fetched      []int
	BytesWritten int64
	Err          error
	Reason       string
}

// OK reports whether the artifact ended up published.
func (r Result) OK() bool {
	return r.State == status.Published
}

type chunkResult struct {
	rng   plan.Range
	bytes int64
}

// Worker runs artifact attempts. One Worker may serve many artifacts concurrently.
type Worker struct {
	fetcher *Fetcher
	config  *Config
	fs      *filesystem.OSFileSystem
	tracker *progress.Tracker
	log     zerolog.Logger
}

func New(client *httpPkg.Client, tracker *progress.Tracker, opts ...ConfigOption) *Worker {
	cfg := NewConfig(opts...)

	if tracker == nil {
		tracker = progress.NewTracker()
	}

	return &Worker{
		fetcher: NewFetcher(client, cfg),
		config:  cfg,
		fs:      filesystem.NewOSFileSystem(),
		tracker: tracker,
		log:     logger.With("worker"),
	}
}

// Tracker returns the progress tracker the worker reports to.
func (w *Worker) Tracker() *progress.Tracker {
	return w.tracker
}

// Run materializes one artifact. The destination is only created after the
// bytes were verified; on failure or cancellation the temp file and ledger
// stay behind for the next attempt.
func (w *Worker) Run(ctx context.Context, job Job) Result {
	id := job.Artifact.ID()
	res := Result{Artifact: job.Artifact, Dest: job.Dest, State: status.Pending}

	if e, ok := w.tracker.Get(id); !ok || e.State.IsTerminal() {
		w.tracker.Register(job.Artifact, job.Dest)
	}

	if w.config.ArtifactTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, w.config.ArtifactTimeout, ErrArtifactTimeout)
		defer cancel()
	}

	err := w.run(ctx, job, &res)
	if err != nil {
		w.fail(ctx, &res, err)
	}

	return res
}

func (w *Worker) run(ctx context.Context, job Job, res *Result) error {
	id := job.Artifact.ID()
	log := w.log.With().Str("artifact", id).Logger()

	var probed *common.RemoteResource

	if job.Dest == "" {
		w.transition(res, status.Probing, "")

		resource, err := w.fetcher.Probe(ctx, job.Artifact.URL)
		if err != nil {
			return err
		}

		job.Dest = filepath.Join(job.Dir, resource.Filename)
		job.Artifact.Filename = resource.Filename
		res.Dest = job.Dest
		res.Artifact.Filename = resource.Filename
		w.tracker.Update(id, func(e *progress.Entry) { e.Destination = job.Dest })
		log.Debug().Str("path", job.Dest).Msg("destination inferred from response")

		probed = &resource
	}

	if err := w.fs.EnsureDirectory(filepath.Dir(job.Dest)); err != nil {
		return errors.NewIOError(err, job.Dest)
	}

	ledgerPath := filesystem.LedgerPath(job.Dest)
	tempPath := filesystem.TempPath(job.Dest)

	store, err := ledger.Open(ledgerPath, w.config.LockTimeout)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close ledger")
		}
	}()

	res.Recovered = store.Recovered()

	if done, err := w.alreadyPresent(store, job, res); done || err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var resource common.RemoteResource

	if probed != nil {
		resource = *probed
	} else {
		w.transition(res, status.Probing, "")

		if resource, err = w.fetcher.Probe(ctx, job.Artifact.URL); err != nil {
			return err
		}
	}

	resource.ExpectedDigest = job.Artifact.SHA256

	if declared := job.Artifact.Size; declared > 0 {
		switch {
		case resource.ExpectedSize == 0:
			resource.ExpectedSize = declared
		case resource.ExpectedSize != declared:
			return errors.NewPermanent(fmt.Errorf("%w: server reports %d bytes, manifest declares %d",
				ErrSizeMismatch, resource.ExpectedSize, declared), resource.URL)
		}
	}

	res.Resource = resource

	p, err := plan.New(resource, w.config.ChunkSize)
	if err != nil {
		return errors.NewPermanent(err, resource.URL)
	}

	l, err := w.prepareLedger(store, p, resource, tempPath, log)
	if err != nil {
		return err
	}

	res.Recovered = store.Recovered()
	res.Resumed = l.CompletedCount() > 0

	file, _, err := w.fs.OpenPartial(tempPath, p.TotalSize)
	if err != nil {
		return errors.NewIOError(err, tempPath)
	}

	closed := false
	closeFile := func() error {
		if closed {
			return nil
		}

		closed = true

		return file.Close()
	}
	defer closeFile()

	w.transition(res, status.Downloading, "")
	w.tracker.Update(res.Artifact.ID(), func(e *progress.Entry) {
		e.TotalBytes = p.TotalSize
		e.ChunksTotal = p.Count()
		e.ChunksDone = l.CompletedCount()
		e.WrittenBytes = p.Bytes(l.IsComplete)
		e.Resumed = res.Resumed
	})

	if res.Resumed {
		log.Info().Int("completed", l.CompletedCount()).Int("chunks", p.Count()).Msg("resuming download")
		w.transition(res, status.Downloading, "")
	}

	if p.Resumable() {
		err = w.fetchChunks(ctx, file, store, l, p, resource, res, log)
	} else {
		err = w.stream(ctx, file, resource, res)
	}

	if err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return errors.NewIOError(err, tempPath)
	}

	if err := closeFile(); err != nil {
		return errors.NewIOError(err, tempPath)
	}

	if p.TotalSize > 0 {
		info, err := w.fs.GetFileInfo(tempPath)
		if err != nil {
			return errors.NewIOError(err, tempPath)
		}

		if info.Size() != p.TotalSize {
			return errors.NewPermanent(fmt.Errorf("%w: temp file has %d bytes, expected %d",
				ErrSizeMismatch, info.Size(), p.TotalSize), resource.URL)
		}
	}

	if job.Artifact.SHA256 != "" {
		w.transition(res, status.Verifying, "")

		if _, err := verify.Verify(tempPath, job.Artifact.SHA256); err != nil {
			return err
		}

		res.Verified = true
	} else {
		res.Unverified = true
		log.Warn().Str("url", resource.URL).Msg("no digest supplied, publishing unverified")
	}

	return w.publish(store, job, res)
}

// alreadyPresent skips artifacts whose final file already matches the digest,
// or the declared size when no digest is known.
func (w *Worker) alreadyPresent(store *ledger.Store, job Job, res *Result) (bool, error) {
	info, err := w.fs.GetFileInfo(job.Dest)
	if err != nil || info.IsDir() {
		return false, nil
	}

	a := job.Artifact

	switch {
	case a.SHA256 != "":
		ok, err := verify.Verify(job.Dest, a.SHA256)
		if !ok {
			if errors.IsIntegrity(err) {
				w.log.Warn().Str("artifact", a.ID()).Str("path", job.Dest).Msg("existing file does not match digest, downloading again")
			}

			return false, nil
		}

		w.transition(res, status.Verifying, "")
		res.Verified = true
	case a.Size > 0 && info.Size() == a.Size:
		res.Unverified = true
	default:
		return false, nil
	}

	res.Skipped = true

	w.tracker.Update(a.ID(), func(e *progress.Entry) {
		e.TotalBytes = info.Size()
		e.WrittenBytes = info.Size()
		e.Skipped = true
		e.Unverified = res.Unverified
	})
	w.transition(res, status.Published, "")

	w.log.Info().Str("artifact", a.ID()).Str("path", job.Dest).Msg("already downloaded")

	if err := w.fs.DeleteFile(filesystem.TempPath(job.Dest)); err != nil {
		w.log.Warn().Err(err).Msg("failed to remove stale temp file")
	}

	w.clearLedger(store, job.Dest)

	return true, nil
}

func (w *Worker) prepareLedger(store *ledger.Store, p plan.ChunkPlan, resource common.RemoteResource, tempPath string, log zerolog.Logger) (*ledger.Ledger, error) {
	l, err := store.Load()
	if err != nil {
		return nil, err
	}

	reason := ""

	switch {
	case !p.Resumable():
		reason = "resource cannot be fetched in ranges"
	case l.Empty():
		reason = "no previous progress"
	case !l.Describes(resource, p.ChunkSize):
		reason = "remote resource changed since the last attempt"
	default:
		exists, err := w.fs.FileExists(tempPath)
		if err != nil {
			return nil, errors.NewIOError(err, tempPath)
		}

		if !exists {
			reason = "temp file is missing"
		}
	}

	if reason == "" {
		return l, nil
	}

	if !l.Empty() && l.CompletedCount() > 0 {
		log.Info().Str("reason", reason).Msg("discarding previous progress")
	}

	if err := w.fs.DeleteFile(tempPath); err != nil {
		return nil, errors.NewIOError(err, tempPath)
	}

	return store.Reset(resource, p.ChunkSize)
}

// fetchChunks downloads outstanding chunks through a bounded pool. Workers write
// their bytes at disjoint offsets and report to this goroutine, the only
// mutator of the ledger and the tracker counters for the artifact.
func (w *Worker) fetchChunks(ctx context.Context, file *os.File, store *ledger.Store, l *ledger.Ledger,
	p plan.ChunkPlan, resource common.RemoteResource, res *Result, log zerolog.Logger,
) error {
	outstanding := p.Outstanding(l.IsComplete)
	if len(outstanding) == 0 {
		return nil
	}

	results := make(chan chunkResult)
	errCh := make(chan error, 1)

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Connections)

	go func() {
		for _, r := range outstanding {
			if groupCtx.Err() != nil {
				break
			}

			g.Go(func() error {
				data, err := w.fetcher.FetchWithRetry(groupCtx, resource, r)
				if err != nil {
					return errors.WithOffset(err, r.Start)
				}

				if _, err := file.WriteAt(data, r.Start); err != nil {
					return errors.WithOffset(errors.NewIOError(err, file.Name()), r.Start)
				}

				results <- chunkResult{rng: r, bytes: int64(len(data))}

				return nil
			})
		}

		errCh <- g.Wait()
		close(results)
	}()

	written := make(map[int]struct{}, len(outstanding))
	pending := make([]int, 0, w.config.LedgerFlushEvery)

	flush := func() {
		if len(pending) == 0 {
			return
		}

		if err := file.Sync(); err != nil {
			log.Warn().Err(err).Msg("failed to sync temp file, chunks will be fetched again")
			pending = pending[:0]

			return
		}

		err := retry.Do(context.WithoutCancel(ctx), w.commitPolicy(), func(context.Context, int) error {
			return store.RecordChunkComplete(l, pending...)
		})
		if err != nil {
			log.Warn().Err(err).Ints("chunks", pending).Msg("failed to record progress, chunks will be fetched again")
		}

		pending = pending[:0]
	}

	for cr := range results {
		written[cr.rng.Ordinal] = struct{}{}
		res.Fetched = append(res.Fetched, cr.rng.Ordinal)
		res.BytesWritten += cr.bytes
		pending = append(pending, cr.rng.Ordinal)

		w.tracker.AddChunks(res.Artifact.ID(), cr.bytes, 1)
		log.Debug().Int("chunk", cr.rng.Ordinal).Int64("offset", cr.rng.Start).Int64("bytes", cr.bytes).Msg("chunk written")

		if len(pending) >= w.config.LedgerFlushEvery {
			flush()
		}
	}

	flush()
	slices.Sort(res.Fetched)

	if err := <-errCh; err != nil {
		return err
	}

	for _, r := range p.Ranges {
		if _, ok := written[r.Ordinal]; ok || l.IsComplete(r.Ordinal) {
			continue
		}

		// Dispatch stops early once ctx is done.
		if ctx.Err() != nil {
			return errors.NewCancelled(context.Cause(ctx), resource.URL)
		}

		return fmt.Errorf("%w: chunk %d missing", ErrChunksIncomplete, r.Ordinal)
	}

	return nil
}

func (w *Worker) commitPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: w.config.MaxRetries,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
		Retryable:   errors.IsIO,
	}
}

func (w *Worker) stream(ctx context.Context, file *os.File, resource common.RemoteResource, res *Result) error {
	n, err := w.fetcher.Stream(ctx, resource, file)
	if err != nil {
		return err
	}

	res.Fetched = []int{0}
	res.BytesWritten = n

	w.tracker.Update(res.Artifact.ID(), func(e *progress.Entry) {
		e.WrittenBytes = n
		e.ChunksDone = 1
		if e.TotalBytes == 0 {
			e.TotalBytes = n
		}
	})

	return nil
}

func (w *Worker) publish(store *ledger.Store, job Job, res *Result) error {
	tempPath := filesystem.TempPath(job.Dest)

	if err := w.fs.Publish(tempPath, job.Dest); err != nil {
		return errors.NewIOError(fmt.Errorf("failed to publish: %w", err), job.Dest)
	}

	w.tracker.Update(res.Artifact.ID(), func(e *progress.Entry) {
		e.Unverified = res.Unverified
	})
	w.transition(res, status.Published, "")

	w.log.Info().Str("artifact", res.Artifact.ID()).Str("path", job.Dest).Bool("verified", res.Verified).Msg("published")

	w.clearLedger(store, job.Dest)

	return nil
}

// clearLedger closes store and deletes the ledger file. The artifact is
// already published so failures are only logged.
func (w *Worker) clearLedger(store *ledger.Store, dest string) {
	if err := store.Close(); err != nil {
		w.log.Warn().Err(err).Msg("failed to close ledger")
	}

	if err := ledger.Clear(filesystem.LedgerPath(dest)); err != nil {
		w.log.Warn().Err(err).Msg("failed to remove ledger")
	}
}

func (w *Worker) fail(ctx context.Context, res *Result, err error) {
	id := res.Artifact.ID()
	res.Err = errors.WithArtifact(err, id)

	if ctx.Err() != nil || errors.IsCancelled(err) {
		res.Reason = "cancelled"
		if cause := context.Cause(ctx); cause != nil {
			res.Reason = cause.Error()
		}

		w.transition(res, status.Cancelled, res.Reason)
		w.log.Warn().Str("artifact", id).Str("reason", res.Reason).Msg("download cancelled, progress kept for resume")

		return
	}

	res.Reason = res.Err.Error()
	w.transition(res, status.Failed, res.Reason)
	w.log.Error().Str("artifact", id).Str("kind", string(errors.KindOf(err))).Err(err).Msg("download failed")
}

func (w *Worker) transition(res *Result, next status.State, reason string) {
	if err := w.tracker.SetState(res.Artifact.ID(), next, reason); err != nil {
		logger.Debugf("Tracker rejected state change: %v", err)
	}

	res.State = next
}
