// Package covers downloads cover images for verified books and stores
// them on disk keyed by the book's slug.
package covers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrNoCover marks a permanent miss: the upstream has no image at the
// URL, as opposed to a transient download or storage failure.
var ErrNoCover = errors.New("no cover available")

const (
	downloadTimeout = 30 * time.Second
	// Descriptive agent per the upstream API's polite-crawling guidance.
	userAgent = "Mozilla/5.0 (compatible; RadioReads/1.0)"
)

type Fetcher struct {
	dir        string
	httpClient *http.Client
}

func NewFetcher(dir string) *Fetcher {
	return &Fetcher{
		dir:        dir,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
}

// DownloadAndSave fetches the image bytes and writes them under the
// book's slug, returning the stored filename. Failures are returned to
// the caller to record on the book; they must never abort the
// surrounding extraction.
func (f *Fetcher) DownloadAndSave(ctx context.Context, slug, coverURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build cover request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cover download failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", ErrNoCover
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("cover download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cover dir: %w", err)
	}

	filename := slug + ".jpg"
	path := filepath.Join(f.dir, filename)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create cover file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write cover file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close cover file: %w", err)
	}
	return filename, nil
}
