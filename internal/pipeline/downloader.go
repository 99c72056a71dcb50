// Package pipeline downloads, transcodes and uploads media concurrently with
// a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/metrics"
)

// DownloaderConfig bounds a single origin fetch.
type DownloaderConfig struct {
	// MaxBytes caps the payload size; larger responses are rejected.
	MaxBytes int64
	// Timeout bounds one download end to end.
	Timeout   time.Duration
	UserAgent string
}

func (c DownloaderConfig) withDefaults() DownloaderConfig {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 << 20
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"
	}
	return c
}

// Downloader fetches origin media bytes over plain HTTP; the browser session
// is never involved here, so downloads parallelize freely.
type Downloader struct {
	client *http.Client
	cfg    DownloaderConfig
	logger *zap.Logger
}

// NewDownloader builds a Downloader. A nil client gets a default one; the
// per-request timeout comes from the config either way.
func NewDownloader(client *http.Client, cfg DownloaderConfig, logger *zap.Logger) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// Fetch downloads one origin URL, sending the post page as Referer so the CDN
// serves hotlink-protected assets. It returns the bytes and the response
// content type.
func (d *Downloader) Fetch(ctx context.Context, originURL, referer string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, originURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request for %s: %w", originURL, err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: download %s: %v", harvest.ErrTransientFetch, originURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.logger.Debug("close download body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: download %s: status %d", harvest.ErrTransientFetch, originURL, resp.StatusCode)
	}
	if resp.ContentLength > d.cfg.MaxBytes {
		return nil, "", fmt.Errorf("%w: %s declares %d bytes", harvest.ErrPayloadTooLarge, originURL, resp.ContentLength)
	}

	// Read one byte past the cap so undeclared oversize bodies are caught too.
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", harvest.ErrTransientFetch, originURL, err)
	}
	if int64(len(data)) > d.cfg.MaxBytes {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", harvest.ErrPayloadTooLarge, originURL, d.cfg.MaxBytes)
	}
	metrics.ObserveDownloadBytes(len(data))

	return data, resp.Header.Get("Content-Type"), nil
}
