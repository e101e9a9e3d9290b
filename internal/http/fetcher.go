package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/NamanBalaji/prepfetch/internal/common"
	"github.com/NamanBalaji/prepfetch/internal/errors"
	"github.com/NamanBalaji/prepfetch/internal/logger"
	"github.com/NamanBalaji/prepfetch/internal/plan"
	"github.com/NamanBalaji/prepfetch/internal/retry"
	httpPkg "github.com/NamanBalaji/prepfetch/pkg/http"
)

const backoffJitter = 0.2

var ErrSizeMismatch = errors.New("response size differs from the expected size")

// Sink receives a streamed body. Truncate is called before every attempt.
type Sink interface {
	io.WriterAt
	Truncate(size int64) error
}

// Fetcher issues probe and chunk requests. It has no side effects beyond network I/O
// and the sink it is handed.
type Fetcher struct {
	client *httpPkg.Client
	config *Config
	log    zerolog.Logger
}

func NewFetcher(client *httpPkg.Client, cfg *Config) *Fetcher {
	if client == nil {
		client = httpPkg.NewClient()
	}

	if cfg == nil {
		cfg = defaultConfig()
	}

	return &Fetcher{
		client: client,
		config: cfg,
		log:    logger.With("fetcher"),
	}
}

func (f *Fetcher) policy(url string) retry.Policy {
	return retry.Policy{
		MaxAttempts: f.config.MaxRetries,
		BaseDelay:   f.config.RetryDelay,
		Jitter:      backoffJitter,
		Retryable:   errors.IsTransient,
		OnRetry: func(next int, delay time.Duration, err error) {
			f.log.Debug().Str("url", url).Int("attempt", next+1).Dur("backoff", delay).Err(err).Msg("retrying request")
		},
	}
}

// Probe discovers size, range support and validators of url. Servers that reject
// HEAD are probed with a one byte range request, then with a plain GET.
func (f *Fetcher) Probe(ctx context.Context, url string) (common.RemoteResource, error) {
	var res common.RemoteResource

	err := retry.Do(ctx, f.policy(url), func(ctx context.Context, _ int) error {
		r, err := f.probeOnce(ctx, url)
		if err != nil {
			return f.classify(ctx, err, url)
		}

		res = r

		return nil
	})

	return res, err
}

func (f *Fetcher) probeOnce(ctx context.Context, url string) (common.RemoteResource, error) {
	resp, err := f.client.Head(ctx, url, f.config.Headers)
	if err == nil {
		defer resp.Body.Close()

		size := max(resp.ContentLength, 0)
		ranged := strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes") && size > 0

		return describe(resp, size, ranged), nil
	}

	if !httpPkg.IsFallbackError(err) {
		return common.RemoteResource{}, err
	}

	logger.Debugf("HEAD request failed for %s, falling back to range GET: %v", url, err)

	resp, err = f.client.Range(ctx, url, 0, 0, f.config.Headers)
	if err == nil {
		defer resp.Body.Close()

		_, _, total, crErr := httpPkg.ParseContentRange(resp.Header.Get("Content-Range"))
		if crErr != nil {
			logger.Warnf("Failed to parse size from Content-Range header: %s", resp.Header.Get("Content-Range"))
			return common.RemoteResource{}, crErr
		}

		size := max(total, 0)

		return describe(resp, size, size > 0), nil
	}

	if !httpPkg.IsFallbackError(err) {
		return common.RemoteResource{}, err
	}

	logger.Debugf("Range GET request failed for %s, falling back to GET: %v", url, err)

	resp, err = f.client.Get(ctx, url, f.config.Headers)
	if err != nil {
		return common.RemoteResource{}, err
	}
	defer resp.Body.Close()

	return describe(resp, max(resp.ContentLength, 0), false), nil
}

func describe(resp *http.Response, size int64, ranged bool) common.RemoteResource {
	return common.RemoteResource{
		URL:                 resp.Request.URL.String(),
		ExpectedSize:        size,
		SupportsRangedFetch: ranged,
		ETag:                resp.Header.Get("ETag"),
		LastModified:        httpPkg.ParseLastModified(resp.Header.Get("Last-Modified")),
		Filename:            httpPkg.GetFilename(resp),
	}
}

// Fetch performs one ranged request for exactly r and returns its bytes.
func (f *Fetcher) Fetch(ctx context.Context, res common.RemoteResource, r plan.Range) ([]byte, error) {
	if r.Unbounded() {
		return nil, errors.NewPermanent(fmt.Errorf("cannot fetch unbounded range %s into memory", r.Header()), res.URL)
	}

	reqCtx := ctx
	if f.config.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.config.ChunkTimeout)
		defer cancel()
	}

	data, err := f.fetchOnce(reqCtx, res, r)
	if err != nil {
		return nil, errors.WithOffset(f.classify(ctx, err, res.URL), r.Start)
	}

	return data, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, res common.RemoteResource, r plan.Range) ([]byte, error) {
	var (
		resp *http.Response
		err  error
	)

	if res.SupportsRangedFetch {
		resp, err = f.client.Range(ctx, res.URL, r.Start, r.End, f.config.Headers)
	} else {
		resp, err = f.client.Get(ctx, res.URL, f.config.Headers)
	}

	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if res.SupportsRangedFetch {
		start, _, _, err := httpPkg.ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, err
		}

		if start != r.Start {
			return nil, fmt.Errorf("%w: requested %d, got %d", httpPkg.ErrUnexpectedRangeStart, r.Start, start)
		}
	}

	buf := make([]byte, r.Length())

	n, err := io.ReadFull(resp.Body, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d of %d bytes", httpPkg.ErrShortBody, n, len(buf))
		}

		return nil, httpPkg.ClassifyError(err)
	}

	return buf, nil
}

// FetchWithRetry wraps Fetch in the retry policy. Only transient errors are retried.
func (f *Fetcher) FetchWithRetry(ctx context.Context, res common.RemoteResource, r plan.Range) ([]byte, error) {
	var data []byte

	err := retry.Do(ctx, f.policy(res.URL), func(ctx context.Context, _ int) error {
		var err error
		data, err = f.Fetch(ctx, res, r)

		return err
	})

	return data, err
}

// Stream downloads the whole resource with a plain GET into sink, starting at
// offset zero on every attempt. It returns the number of bytes written.
func (f *Fetcher) Stream(ctx context.Context, res common.RemoteResource, sink Sink) (int64, error) {
	var written int64

	err := retry.Do(ctx, f.policy(res.URL), func(ctx context.Context, _ int) error {
		if err := sink.Truncate(0); err != nil {
			return errors.NewIOError(err, res.URL)
		}

		n, err := f.streamOnce(ctx, res, sink)
		if err != nil {
			return f.classify(ctx, err, res.URL)
		}

		written = n

		return nil
	})

	return written, err
}

func (f *Fetcher) streamOnce(ctx context.Context, res common.RemoteResource, sink Sink) (int64, error) {
	resp, err := f.client.Get(ctx, res.URL, f.config.Headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(&sinkWriter{w: io.NewOffsetWriter(sink, 0)}, resp.Body)
	if err != nil {
		var writeErr *writeError
		if errors.As(err, &writeErr) {
			return n, err
		}

		return n, httpPkg.ClassifyError(err)
	}

	if res.ExpectedSize > 0 {
		if n < res.ExpectedSize {
			return n, fmt.Errorf("%w: got %d of %d bytes", httpPkg.ErrShortBody, n, res.ExpectedSize)
		}

		if n > res.ExpectedSize {
			return n, fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, n, res.ExpectedSize)
		}
	}

	return n, nil
}

// writeError marks failures of the local sink so they are not mistaken for network errors.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type sinkWriter struct {
	w io.Writer
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}

	return n, nil
}

// classify maps a raw request error to the download error taxonomy. parent is
// the caller's context, so a per-request timeout stays transient while a
// cancelled parent is reported as cancellation.
func (f *Fetcher) classify(parent context.Context, err error, url string) error {
	var downloadErr *errors.DownloadError
	if errors.As(err, &downloadErr) {
		return err
	}

	var writeErr *writeError
	if errors.As(err, &writeErr) {
		return errors.NewIOError(err, url)
	}

	if parent.Err() != nil {
		return errors.NewCancelled(fmt.Errorf("%w: %w", context.Cause(parent), err), url)
	}

	if status := httpPkg.StatusCode(err); status != 0 {
		return errors.NewHTTPError(err, url, status)
	}

	if httpPkg.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTransient(err, url)
	}

	return errors.NewPermanent(err, url)
}
