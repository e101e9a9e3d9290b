package http_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

var modTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server

	data []byte

	mu     sync.Mutex
	ranges []string
	gets   int
	heads  int
	hook   func(w http.ResponseWriter, r *http.Request) bool
}

// createTestServer serves data with full range support. A hook may take over
// individual requests by returning true.
func createTestServer(t *testing.T, data []byte) *testServer {
	ts := &testServer{data: data}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		switch r.Method {
		case http.MethodGet:
			ts.gets++
			if rg := r.Header.Get("Range"); rg != "" {
				ts.ranges = append(ts.ranges, rg)
			}
		case http.MethodHead:
			ts.heads++
		}
		hook := ts.hook
		ts.mu.Unlock()

		if hook != nil && hook(w, r) {
			return
		}

		w.Header().Set("ETag", `"v1"`)
		http.ServeContent(w, r, "core.zim", modTime, bytes.NewReader(data))
	}))
	t.Cleanup(ts.Close)

	return ts
}

func (ts *testServer) setHook(hook func(w http.ResponseWriter, r *http.Request) bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.hook = hook
}

func (ts *testServer) reset() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.ranges = nil
	ts.gets = 0
	ts.heads = 0
}

func (ts *testServer) requestedRanges() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return append([]string(nil), ts.ranges...)
}

func (ts *testServer) getCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return ts.gets
}

func randomData(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)

	return data
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
