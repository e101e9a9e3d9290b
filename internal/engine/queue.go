package engine

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	httpDownloader "github.com/NamanBalaji/prepfetch/internal/http"
)

// queuedJob represents an artifact waiting for a pool slot
type queuedJob struct {
	ctx  context.Context
	job  httpDownloader.Job
	rank int // Lower runs first
	seq  int
	done func(httpDownloader.Result)
}

// QueueProcessor runs queued artifacts in rank order with a bounded number in flight
type QueueProcessor struct {
	maxConcurrent int
	runFn         func(context.Context, httpDownloader.Job) httpDownloader.Result

	mu     sync.Mutex
	queued []*queuedJob
	seq    int
}

// NewQueueProcessor creates a new queue processor
func NewQueueProcessor(maxConcurrent int, runFn func(context.Context, httpDownloader.Job) httpDownloader.Result) *QueueProcessor {
	return &QueueProcessor{
		maxConcurrent: max(maxConcurrent, 1),
		runFn:         runFn,
	}
}

// Enqueue adds a job. done receives its result once Drain has run it.
func (q *QueueProcessor) Enqueue(ctx context.Context, job httpDownloader.Job, rank int, done func(httpDownloader.Result)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queued = append(q.queued, &queuedJob{
		ctx:  ctx,
		job:  job,
		rank: rank,
		seq:  q.seq,
		done: done,
	})
	q.seq++
}

// Len returns the number of jobs waiting to run
func (q *QueueProcessor) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queued)
}

// Drain runs every queued job and returns once all of them reported. Jobs whose
// context is already done still run so they can report cancellation.
func (q *QueueProcessor) Drain() {
	q.mu.Lock()
	jobs := q.queued
	q.queued = nil
	q.mu.Unlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].rank != jobs[j].rank {
			return jobs[i].rank < jobs[j].rank
		}

		return jobs[i].seq < jobs[j].seq
	})

	var g errgroup.Group
	g.SetLimit(q.maxConcurrent)

	for _, qj := range jobs {
		g.Go(func() error {
			qj.done(q.runFn(qj.ctx, qj.job))
			return nil
		})
	}

	_ = g.Wait()
}
