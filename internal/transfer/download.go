// Package transfer moves recordings from the meeting platform into object storage
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

const (
	// DefaultChunkSize is the read buffer used while streaming a download
	DefaultChunkSize = 32 * 1024
	// DefaultUserAgent is sent with every download request
	DefaultUserAgent = "meetings-recorder/1.0"
)

// DownloadConfig holds configuration for the downloader
type DownloadConfig struct {
	ChunkSize int           // Size of each read in bytes
	UserAgent string        // User agent string for HTTP requests
	Timeout   time.Duration // HTTP request timeout
}

// DefaultDownloadConfig returns the downloader defaults
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		ChunkSize: DefaultChunkSize,
		UserAgent: DefaultUserAgent,
		Timeout:   60 * time.Second,
	}
}

// DownloadRequest describes one recording to fetch
type DownloadRequest struct {
	MeetingID    string
	Handle       recording.DownloadHandle
	Destination  string
	ExpectedSize int64 // <= 0 when the platform did not report a size
}

// DownloadResult is the outcome of a finished download
type DownloadResult struct {
	Path     string
	Bytes    int64
	Duration time.Duration
}

// Downloader streams a download handle to a staging path
type Downloader struct {
	config     DownloadConfig
	httpClient *http.Client
	logger     logging.Logger
}

// NewDownloader creates a downloader. A nil client gets one with the configured timeout.
func NewDownloader(cfg DownloadConfig, client *http.Client) *Downloader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Downloader{
		config:     cfg,
		httpClient: client,
		logger:     logging.GetDefaultLogger(),
	}
}

// Download fetches the handle URL into req.Destination, replacing any stale file.
// When the expected size is known and the local size differs, the file is removed
// and a SizeMismatchError is returned.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	if req.Handle.URL == "" {
		return nil, fmt.Errorf("download url is empty for meeting %s", req.MeetingID)
	}
	if err := os.MkdirAll(filepath.Dir(req.Destination), 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := os.Remove(req.Destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale file %s: %w", req.Destination, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Handle.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("User-Agent", d.config.UserAgent)
	if req.Handle.Token != "" {
		httpReq.Header.Set("Authorization", req.Handle.Token)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, &recording.TransientNetworkError{Op: "download " + req.MeetingID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &recording.TransientNetworkError{
			Op:         "download " + req.MeetingID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	written, err := d.writeBody(ctx, resp.Body, req.Destination)
	if err != nil {
		os.Remove(req.Destination)
		return nil, err
	}

	if req.ExpectedSize > 0 && written != req.ExpectedSize {
		os.Remove(req.Destination)
		return nil, &recording.SizeMismatchError{
			Path:     req.Destination,
			Expected: req.ExpectedSize,
			Actual:   written,
		}
	}

	duration := time.Since(start)
	d.logger.LogPerformance(logging.PerformanceMetrics{
		Operation:      "download",
		Duration:       duration,
		BytesProcessed: written,
		Success:        true,
		Metadata:       map[string]interface{}{"meeting_id": req.MeetingID},
	})

	return &DownloadResult{Path: req.Destination, Bytes: written, Duration: duration}, nil
}

func (d *Downloader) writeBody(ctx context.Context, body io.Reader, destination string) (int64, error) {
	file, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	buffer := make([]byte, d.config.ChunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, &recording.TransientNetworkError{Op: "download", Err: err}
		}

		n, readErr := body.Read(buffer)
		if n > 0 {
			if _, err := file.Write(buffer[:n]); err != nil {
				return total, fmt.Errorf("failed to write to file: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, &recording.TransientNetworkError{Op: "download", Err: readErr}
		}
	}

	if err := file.Sync(); err != nil {
		return total, fmt.Errorf("failed to sync file: %w", err)
	}
	return total, nil
}
