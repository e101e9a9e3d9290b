package cmd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/prepfetch/internal/config"
	"github.com/NamanBalaji/prepfetch/internal/engine"
	"github.com/NamanBalaji/prepfetch/internal/filesystem"
	"github.com/NamanBalaji/prepfetch/internal/ledger"
)

var testFiles = map[string][]byte{
	"core.zim":   bytes.Repeat([]byte("prepfetch"), 2000),
	"manual.pdf": bytes.Repeat([]byte{0x25, 0x50, 0x44, 0x46}, 1500),
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := testFiles[path.Base(r.URL.Path)]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		http.ServeContent(w, r, path.Base(r.URL.Path), time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	return server
}

// isolate keeps the user's configuration file and environment out of the test.
func isolate(t *testing.T) string {
	t.Helper()

	orig := xdg.ConfigHome
	xdg.ConfigHome = t.TempDir()
	t.Cleanup(func() { xdg.ConfigHome = orig })

	for _, key := range []string{config.EnvBaseDir, config.EnvTimeout, config.EnvChunkSize, config.EnvMaxConcurrency, config.EnvMaxRetries} {
		t.Setenv(key, "")
	}

	return t.TempDir()
}

func runCmd(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(ctx, args, &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

func TestGetDownloadsFile(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	code, out, errOut := runCmd(t, context.Background(),
		"get", server.URL+"/files/core.zim", "--sha256", digestOf(testFiles["core.zim"]),
		"--base-dir", baseDir, "--chunk-size", "4096")
	require.Equal(t, engine.ExitOK, code, errOut)

	got, err := os.ReadFile(filepath.Join(baseDir, "core.zim"))
	require.NoError(t, err)
	assert.Equal(t, testFiles["core.zim"], got)
	assert.Contains(t, out, "PUBLISHED")
	assert.Contains(t, out, "1 published")
}

func TestGetDigestMismatchFails(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)
	dest := filepath.Join(baseDir, "out", "core.zim")

	code, out, _ := runCmd(t, context.Background(),
		"get", server.URL+"/core.zim", "-o", dest, "--sha256", strings.Repeat("a", 64), "--base-dir", baseDir)

	assert.Equal(t, engine.ExitFailure, code)
	assert.Contains(t, out, "FAILED")
	assert.NoFileExists(t, dest)
	assert.FileExists(t, filesystem.TempPath(dest))
}

func TestGetCancelled(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _, _ := runCmd(t, ctx, "get", server.URL+"/core.zim", "-o", filepath.Join(baseDir, "core.zim"), "--base-dir", baseDir)
	assert.Equal(t, engine.ExitCancelled, code)
}

func TestInvalidFlagValue(t *testing.T) {
	baseDir := isolate(t)

	code, _, errOut := runCmd(t, context.Background(), "status", "--base-dir", baseDir, "--connections=-1")
	assert.Equal(t, engine.ExitFailure, code)
	assert.Contains(t, errOut, "connections")
}

func writeManifest(t *testing.T, serverURL string) string {
	t.Helper()

	doc := fmt.Sprintf(`
version: "1.0"
base_url: %s/modules
core:
  description: Essential survival medical content
  files:
    content: {url: core/core.zim, sha256: %s, size: %d}
modules:
  manuals:
    files:
      content: {url: manuals/manual.pdf}
  plants:
    files:
      content: {url: plants/missing.zim}
recommended_order: [core, manuals, plants]
`, serverURL, digestOf(testFiles["core.zim"]), len(testFiles["core.zim"]))

	p := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))

	return p
}

func TestManifestShow(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	code, out, errOut := runCmd(t, context.Background(), "manifest", writeManifest(t, server.URL), "--show", "--base-dir", baseDir)
	require.Equal(t, engine.ExitOK, code, errOut)

	assert.Contains(t, out, "core (default)")
	assert.Contains(t, out, "manuals")
	assert.Contains(t, out, "Essential survival medical content")
	assert.NoFileExists(t, filepath.Join(baseDir, "core", "core.zim"))
}

func TestManifestDefaultModuleThenStatus(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	code, _, errOut := runCmd(t, context.Background(), "manifest", writeManifest(t, server.URL), "--base-dir", baseDir)
	require.Equal(t, engine.ExitOK, code, errOut)
	assert.FileExists(t, filepath.Join(baseDir, "core", "core.zim"))
	assert.NoFileExists(t, filepath.Join(baseDir, "manuals", "manual.pdf"))

	code, out, errOut := runCmd(t, context.Background(), "status", "--base-dir", baseDir)
	require.Equal(t, engine.ExitOK, code, errOut)
	assert.Contains(t, out, "core/content")
	assert.Contains(t, out, "PUBLISHED")
	assert.Contains(t, out, "1 published")
}

func TestManifestPartialSuccess(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	code, out, _ := runCmd(t, context.Background(), "manifest", writeManifest(t, server.URL), "--all", "--base-dir", baseDir)
	assert.Equal(t, engine.ExitPartial, code)
	assert.Contains(t, out, "unverified")
	assert.FileExists(t, filepath.Join(baseDir, "manuals", "manual.pdf"))
}

func TestManifestUnknownModule(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	code, _, errOut := runCmd(t, context.Background(), "manifest", writeManifest(t, server.URL), "-m", "weather", "--base-dir", baseDir)
	assert.Equal(t, engine.ExitFailure, code)
	assert.Contains(t, errOut, "weather")
}

func TestStatusWithoutSnapshot(t *testing.T) {
	baseDir := isolate(t)

	code, _, errOut := runCmd(t, context.Background(), "status", "--base-dir", baseDir)
	assert.Equal(t, engine.ExitFailure, code)
	assert.Contains(t, errOut, "no download status")
}

func TestClean(t *testing.T) {
	baseDir := isolate(t)
	dest := filepath.Join(baseDir, "core.zim")

	require.NoError(t, os.WriteFile(filesystem.TempPath(dest), []byte("partial"), 0o644))
	store, err := ledger.Open(filesystem.LedgerPath(dest), time.Second)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	code, out, errOut := runCmd(t, context.Background(), "clean", dest, "--base-dir", baseDir)
	require.Equal(t, engine.ExitOK, code, errOut)
	assert.Contains(t, out, "removed")
	assert.NoFileExists(t, filesystem.TempPath(dest))
	assert.NoFileExists(t, filesystem.LedgerPath(dest))

	code, out, _ = runCmd(t, context.Background(), "clean", dest, "--base-dir", baseDir)
	assert.Equal(t, engine.ExitOK, code)
	assert.Contains(t, out, "nothing to clean")
}

func TestCleanRefusesRunningDownload(t *testing.T) {
	baseDir := isolate(t)
	dest := filepath.Join(baseDir, "core.zim")

	store, err := ledger.Open(filesystem.LedgerPath(dest), time.Second)
	require.NoError(t, err)
	defer store.Close()

	code, _, errOut := runCmd(t, context.Background(), "clean", dest, "--base-dir", baseDir)
	assert.Equal(t, engine.ExitFailure, code)
	assert.Contains(t, errOut, "locked")
	assert.FileExists(t, filesystem.LedgerPath(dest))
}

func TestStatusReportsFailedRun(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	code, _, _ := runCmd(t, context.Background(),
		"get", server.URL+"/core.zim", "--sha256", strings.Repeat("b", 64), "--base-dir", baseDir)
	require.Equal(t, engine.ExitFailure, code)

	code, out, _ := runCmd(t, context.Background(), "status", "--base-dir", baseDir)
	assert.Equal(t, engine.ExitFailure, code)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "1 failed")
}

func TestStatusReportsPartialRun(t *testing.T) {
	baseDir := isolate(t)
	server := newServer(t)

	code, _, _ := runCmd(t, context.Background(), "manifest", writeManifest(t, server.URL), "--all", "--base-dir", baseDir)
	require.Equal(t, engine.ExitPartial, code)

	code, out, _ := runCmd(t, context.Background(), "status", "--base-dir", baseDir)
	assert.Equal(t, engine.ExitPartial, code)
	assert.Contains(t, out, "plants/content")
	assert.Contains(t, out, "FAILED")
}
