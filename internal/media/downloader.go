package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/countlessbugs/relaybot/internal/dispatch"
)

// Downloader fetches a pending attachment to a local file and returns a
// cleanup func that removes it (and its containing temp directory). The
// concrete channel adapter that knows how to reach the transport's
// attachment storage implements this; internal/media stays transport-agnostic.
type Downloader interface {
	Download(ctx context.Context, task dispatch.MediaTask) (path string, cleanup func(), err error)
}

// URLResolver turns a MediaTask into a fetchable URL, supplied by whichever
// channel adapter parsed the attachment.
type URLResolver func(task dispatch.MediaTask) (url string, err error)

// URLDownloader is the generic Downloader for any transport that exposes
// attachments as plain HTTP(S) URLs (e.g. Discord CDN links). It downloads
// into a fresh temp directory, mirroring
// original_source/src/core/media_processor.py's download_media
// (tempfile.mkdtemp(prefix="antlerbot_media_") + segment download).
type URLDownloader struct {
	resolve URLResolver
	client  *http.Client
}

// NewURLDownloader builds a URLDownloader using resolve to locate each
// task's source URL.
func NewURLDownloader(resolve URLResolver) *URLDownloader {
	return &URLDownloader{
		resolve: resolve,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *URLDownloader) Download(ctx context.Context, task dispatch.MediaTask) (string, func(), error) {
	url, err := d.resolve(task)
	if err != nil {
		return "", nil, fmt.Errorf("resolving media url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("downloading media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("downloading media: status %d", resp.StatusCode)
	}

	dir, err := os.MkdirTemp("", "relaybot_media_")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp dir: %w", err)
	}

	name := task.Filename
	if name == "" {
		name = "attachment"
	}
	path := filepath.Join(dir, filepath.Base(name))

	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("writing temp file: %w", err)
	}
	f.Close()

	return path, func() { os.RemoveAll(dir) }, nil
}

var _ Downloader = (*URLDownloader)(nil)
