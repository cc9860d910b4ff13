package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// MinioStore implements ObjectStore with the MinIO client
type MinioStore struct {
	core   *minio.Core
	bucket string
}

// NewMinioStore creates a MinIO client for the configured endpoint
func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	lookup := minio.BucketLookupAuto
	if cfg.UsePathStyle {
		lookup = minio.BucketLookupPath
	}

	core, err := minio.NewCore(endpointHost(cfg.Endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       !cfg.Insecure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioStore{core: core, bucket: cfg.Bucket}, nil
}

// Bucket returns the bucket name
func (m *MinioStore) Bucket() string {
	return m.bucket
}

// ListObjects returns every object in the bucket
func (m *MinioStore) ListObjects(ctx context.Context) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range m.core.Client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Recursive: true,
		MaxKeys:   ListPageSize,
	}) {
		if obj.Err != nil {
			return nil, &recording.TransientNetworkError{Op: "list objects", Err: obj.Err}
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size})
	}
	return objects, nil
}

// PutFile uploads a local file in one call
func (m *MinioStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	_, err := m.core.Client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return &recording.TransientNetworkError{Op: "put " + key, Err: err}
	}
	return nil
}

// DownloadFile fetches an object to localPath
func (m *MinioStore) DownloadFile(ctx context.Context, key, localPath string) error {
	if err := m.core.Client.FGetObject(ctx, m.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return &recording.TransientNetworkError{Op: "download " + key, Err: err}
	}
	return nil
}

// GetObjectMetadata returns the user metadata of an object
func (m *MinioStore) GetObjectMetadata(ctx context.Context, key string) (map[string]string, error) {
	info, err := m.core.Client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, &recording.TransientNetworkError{Op: "stat " + key, Err: err}
	}
	metadata := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		metadata[k] = v
	}
	return metadata, nil
}

// SetObjectMetadata copies the object onto itself with replaced metadata
func (m *MinioStore) SetObjectMetadata(ctx context.Context, key string, metadata map[string]string) error {
	_, err := m.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          m.bucket,
			Object:          key,
			UserMetadata:    metadata,
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{Bucket: m.bucket, Object: key},
	)
	if err != nil {
		return &recording.TransientNetworkError{Op: "set metadata " + key, Err: err}
	}
	return nil
}

// CreateMultipartUpload starts a multipart upload carrying the metadata
func (m *MinioStore) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	uploadID, err := m.core.NewMultipartUpload(ctx, m.bucket, key, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return "", &recording.TransientNetworkError{Op: "create multipart upload", Err: err}
	}
	if uploadID == "" {
		return "", &recording.UploadAcknowledgementError{Op: "create multipart upload", Detail: "empty upload id"}
	}
	return uploadID, nil
}

// UploadPart sends one part and returns its ETag
func (m *MinioStore) UploadPart(ctx context.Context, key, uploadID string, number int, body io.ReadSeeker, size int64) (string, error) {
	part, err := m.core.PutObjectPart(ctx, m.bucket, key, uploadID, number, body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", &recording.TransientNetworkError{Op: fmt.Sprintf("upload part %d", number), Err: err}
	}
	if part.ETag == "" {
		return "", &recording.UploadAcknowledgementError{Op: fmt.Sprintf("upload part %d", number), Detail: "missing etag"}
	}
	return part.ETag, nil
}

// CompleteMultipartUpload assembles the uploaded parts
func (m *MinioStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, minio.CompletePart{PartNumber: part.Number, ETag: part.ETag})
	}
	if _, err := m.core.CompleteMultipartUpload(ctx, m.bucket, key, uploadID, completed, minio.PutObjectOptions{}); err != nil {
		return &recording.TransientNetworkError{Op: "complete multipart upload", Err: err}
	}
	return nil
}

// AbortMultipartUpload discards an unfinished upload
func (m *MinioStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := m.core.AbortMultipartUpload(ctx, m.bucket, key, uploadID); err != nil {
		return &recording.TransientNetworkError{Op: "abort multipart upload", Err: err}
	}
	return nil
}
