// Package fetch retrieves sensor snapshots from an HTTP endpoint or a local
// file, bypassing caches.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/snapshot"
)

// MaxSnapshotBytes caps how much of a response body is read.
const MaxSnapshotBytes = 16 << 20

// DefaultTimeout bounds a single fetch when the caller sets none.
const DefaultTimeout = 10 * time.Second

// Fetcher retrieves one complete snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*models.SensorSnapshot, error)
}

// NetworkError means the snapshot resource could not be reached or answered
// with a non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// New returns an HTTP fetcher for http(s) sources and a file fetcher for
// anything else. Relative file paths are resolved against baseDir.
func New(source string, baseDir string, timeout time.Duration) (Fetcher, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("snapshot source is empty")
	}

	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return NewHTTPFetcher(source, timeout), nil
	}

	path := strings.TrimPrefix(source, "file://")
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	return NewFileFetcher(path), nil
}

// HTTPFetcher polls a snapshot URL with cache-disabling headers.
type HTTPFetcher struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPFetcher creates an HTTP fetcher for url.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// WithClient swaps the underlying HTTP client.
func (f *HTTPFetcher) WithClient(c *http.Client) *HTTPFetcher {
	f.client = c
	return f
}

// Source returns the fetched URL.
func (f *HTTPFetcher) Source() string {
	return f.url
}

// Fetch performs one no-cache GET and validates the body.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*models.SensorSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &NetworkError{URL: f.url, Err: err}
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: f.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &NetworkError{URL: f.url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxSnapshotBytes+1))
	if err != nil {
		return nil, &NetworkError{URL: f.url, Err: err}
	}
	if len(body) > MaxSnapshotBytes {
		return nil, &snapshot.ValidationError{Reason: fmt.Sprintf("document exceeds %d bytes", MaxSnapshotBytes)}
	}

	return snapshot.Validate(body)
}

// FileFetcher reads a snapshot from a local path on every call.
type FileFetcher struct {
	path string
}

// NewFileFetcher creates a fetcher for path.
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path}
}

// Source returns the file path.
func (f *FileFetcher) Source() string {
	return f.path
}

// Fetch reads and validates the file. A read failure is a NetworkError since
// the resource is unreachable from the viewer's point of view.
func (f *FileFetcher) Fetch(ctx context.Context) (*models.SensorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{URL: f.path, Err: err}
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, &NetworkError{URL: f.path, Err: err}
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, MaxSnapshotBytes+1))
	if err != nil {
		return nil, &NetworkError{URL: f.path, Err: err}
	}
	if len(body) > MaxSnapshotBytes {
		return nil, &snapshot.ValidationError{Reason: fmt.Sprintf("document exceeds %d bytes", MaxSnapshotBytes)}
	}

	return snapshot.Validate(body)
}
