package manifest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/NamanBalaji/prepfetch/internal/errors"
	"github.com/NamanBalaji/prepfetch/internal/filesystem"
	"github.com/NamanBalaji/prepfetch/internal/logger"
	"github.com/NamanBalaji/prepfetch/internal/retry"
	httpPkg "github.com/NamanBalaji/prepfetch/pkg/http"
)

// FileName is the name a fetched manifest is saved under in the base directory.
const FileName = "manifest.json"

const maxManifestSize = 16 << 20

var ErrManifestTooLarge = errors.New("manifest exceeds 16 MiB")

// Load reads a manifest from a local path or an http(s) URL.
func Load(ctx context.Context, source string, client *httpPkg.Client) (*Manifest, error) {
	if !isRemote(source) {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, errors.NewIOError(err, source)
		}

		return Parse(data)
	}

	if client == nil {
		client = httpPkg.NewClient()
	}

	var data []byte

	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Jitter:      0.2,
		Retryable:   errors.IsTransient,
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		b, err := fetch(ctx, client, source)
		if err != nil {
			return err
		}

		data = b

		return nil
	})
	if err != nil {
		return nil, err
	}

	m, err := Parse(data)
	if err != nil {
		return nil, errors.NewPermanent(err, source)
	}

	if m.BaseURL == "" {
		// Relative file URLs of a remote manifest resolve against its own location.
		m.BaseURL = baseOf(source)
	}

	return m, nil
}

func fetch(ctx context.Context, client *httpPkg.Client, source string) ([]byte, error) {
	resp, err := client.Get(ctx, source, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled(err, source)
		}

		if status := httpPkg.StatusCode(err); status != 0 {
			return nil, errors.NewHTTPError(err, source, status)
		}

		if httpPkg.IsRetryable(err) {
			return nil, errors.NewTransient(err, source)
		}

		return nil, errors.NewPermanent(err, source)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return nil, errors.NewTransient(httpPkg.ClassifyError(err), source)
	}

	if len(data) > maxManifestSize {
		return nil, errors.NewPermanent(ErrManifestTooLarge, source)
	}

	logger.Debugf("Fetched manifest %s (%d bytes)", source, len(data))

	return data, nil
}

// Save writes the document the manifest was parsed from to path atomically.
func (m *Manifest) Save(path string) error {
	if err := filesystem.NewOSFileSystem().WriteFileAtomic(path, m.raw); err != nil {
		return errors.NewIOError(fmt.Errorf("failed to save manifest: %w", err), path)
	}

	return nil
}

func isRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}

	return u.Scheme == "http" || u.Scheme == "https"
}

func baseOf(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}

	return u.ResolveReference(&url.URL{Path: "./"}).String()
}
