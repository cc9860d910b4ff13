// Package storage provides object store access for recordings and covers
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
)

// ListPageSize is the number of keys requested per inventory page
const ListPageSize = 1000

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key  string
	Size int64
}

// CompletedPart is an acknowledged part of a multipart upload
type CompletedPart struct {
	Number int    `json:"number"`
	ETag   string `json:"etag"`
	Size   int64  `json:"size"`
}

// Multipart exposes the primitives a checkpointed uploader is built on
type Multipart interface {
	// CreateMultipartUpload starts an upload; the metadata is bound to the final object
	CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, number int, body io.ReadSeeker, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// ObjectStore defines the bucket operations used by the pipeline and the publisher
type ObjectStore interface {
	Multipart

	Bucket() string
	// ListObjects returns the full inventory, consuming every page
	ListObjects(ctx context.Context) ([]ObjectInfo, error)
	PutFile(ctx context.Context, key, localPath, contentType string) error
	DownloadFile(ctx context.Context, key, localPath string) error
	GetObjectMetadata(ctx context.Context, key string) (map[string]string, error)
	// SetObjectMetadata replaces the user metadata of an existing object
	SetObjectMetadata(ctx context.Context, key string, metadata map[string]string) error
}

// New creates the object store selected by cfg.Driver
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "minio":
		return NewMinioStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// ContentType returns the MIME type for a key's extension
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".png":
		return "image/png"
	case ".html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// endpointURL returns an https URL for a bare host endpoint
func endpointURL(endpoint string, insecure bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if insecure {
		return "http://" + endpoint
	}
	return "https://" + endpoint
}

// endpointHost strips any scheme from the endpoint
func endpointHost(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
