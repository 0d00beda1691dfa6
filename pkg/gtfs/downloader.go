package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Downloader fetches raw source bytes from an http(s) URL or a local path.
type Downloader struct {
	client *http.Client
	logger *slog.Logger
}

func NewDownloader(logger *slog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger.With("component", "downloader"),
	}
}

func IsURL(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Fetch returns the contents of location.
func (d *Downloader) Fetch(ctx context.Context, location string) ([]byte, error) {
	if !IsURL(location) {
		data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", location, err)
		}
		d.logger.Debug("read local file", "path", location, "size_bytes", len(data))
		return data, nil
	}

	start := time.Now()
	d.logger.Info("starting download", "url", location)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Transvisor/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("download failed",
			"url", location,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("download %s: %w", location, err)
	}
	defer resp.Body.Close()

	d.logger.Debug("received HTTP response",
		"status_code", resp.StatusCode,
		"content_length", resp.ContentLength,
		"content_type", resp.Header.Get("Content-Type"),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	d.logger.Info("download completed",
		"url", location,
		"size_mb", fmt.Sprintf("%.2f", float64(len(data))/(1024*1024)),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

// Download fetches a GTFS archive and opens it as a zip.
func (d *Downloader) Download(ctx context.Context, location string) (*zip.Reader, []byte, error) {
	data, err := d.Fetch(ctx, location)
	if err != nil {
		return nil, nil, err
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open zip: %w", err)
	}
	d.logger.Debug("opened GTFS archive", "files_in_archive", len(reader.File))
	return reader, data, nil
}
