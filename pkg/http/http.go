package http

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/NamanBalaji/prepfetch/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	responseHeaderTimeout = 60 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "prepfetch/1.0"

	defaultDownloadName = "download"
)

type Client struct {
	*http.Client
}

// NewClient creates a new HTTP client with custom transport settings.
// Request lifetimes are bounded by the caller's context, not the client.
func NewClient() *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		DisableCompression:    true,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	return &Client{
		&http.Client{
			Transport: transport,
		},
	}
}

// Head performs a HEAD request to the specified URL with optional headers.
func (c *Client) Head(ctx context.Context, urlStr string, headers map[string]string) (*http.Response, error) {
	req, err := generateRequest(ctx, urlStr, http.MethodHead, headers)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Sending HEAD request to %s", urlStr)

	return c.send(req)
}

// Range performs a Range GET request for the closed interval [start, end].
// A negative end requests everything from start onwards. Responses other than
// 206 Partial Content are closed and reported as ErrRangesNotSupported.
func (c *Client) Range(ctx context.Context, urlStr string, start, end int64, headers map[string]string) (*http.Response, error) {
	req, err := generateRequest(ctx, urlStr, http.MethodGet, headers)
	if err != nil {
		return nil, err
	}

	rangeVal := fmt.Sprintf("bytes=%d-", start)
	if end >= 0 {
		rangeVal = fmt.Sprintf("bytes=%d-%d", start, end)
	}

	req.Header.Set("Range", rangeVal)
	logger.Debugf("Sending Range GET request to %s (%s)", urlStr, rangeVal)

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPartialContent {
		logger.Warnf("Server doesn't support ranges for %s (status: %d)", urlStr, resp.StatusCode)
		closeBody(resp)

		return nil, fmt.Errorf("%w: status %d", ErrRangesNotSupported, resp.StatusCode)
	}

	return resp, nil
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, urlStr string, headers map[string]string) (*http.Response, error) {
	req, err := generateRequest(ctx, urlStr, http.MethodGet, headers)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Sending GET request to %s", urlStr)

	return c.send(req)
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.Do(req)
	if err != nil {
		logger.Debugf("%s request failed for %s: %v", req.Method, req.URL, err)
		return nil, ClassifyError(err)
	}

	logger.Debugf("%s response for %s: status=%d", req.Method, req.URL, resp.StatusCode)

	if resp.StatusCode >= http.StatusBadRequest {
		closeBody(resp)
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: ClassifyHTTPError(resp.StatusCode)}
	}

	return resp, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Warnf("Failed to close response body: %v", err)
	}
}

// generateRequest creates a new HTTP request with the specified method and URL.
func generateRequest(ctx context.Context, urlStr, method string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestCreation, err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// ParseContentRange parses "bytes start-end/total". total is -1 when the server sends "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}

	interval, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}

	total = -1
	if size != "*" {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
		}
	}

	first, last, ok := strings.Cut(interval, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}

	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, header)
	}

	return start, end, total, nil
}

// GetFilename extracts a file name from the Content-Disposition header, the
// filename query parameter or the URL path, in that order. Names that are not a
// plain base name fall through to the next source.
func GetFilename(resp *http.Response) string {
	if fileName, ok := getFileNameFromContentDisposition(resp.Header.Get("Content-Disposition")); ok {
		if name, ok := baseName(fileName); ok {
			return name
		}
	}

	u := resp.Request.URL
	if name, ok := baseName(u.Query().Get("filename")); ok {
		return name
	}

	if name, ok := baseName(u.Path); ok {
		return name
	}

	return defaultDownloadName
}

// baseName keeps the last element of a server supplied name and rejects
// anything that would leave the download directory.
func baseName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	name = path.Base(name)
	if name == "." || name == ".." || name == "/" || strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return "", false
	}

	return name, true
}

func getFileNameFromContentDisposition(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	if _, params, err := mime.ParseMediaType(header); err == nil {
		if fName, ok := params["filename"]; ok {
			return fName, true
		}

		if fName, ok := params["filename*"]; ok {
			return fName, true
		}
	}

	return "", false
}

// ParseLastModified parses the Last-Modified header.
func ParseLastModified(header string) time.Time {
	if header == "" {
		return time.Time{}
	}

	t, err := http.ParseTime(header)
	if err != nil {
		logger.Debugf("Failed to parse Last-Modified header: %s, error: %v", header, err)
		return time.Time{}
	}

	return t.UTC()
}
