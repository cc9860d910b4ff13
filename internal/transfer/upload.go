package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/storage"
)

const (
	// DefaultPartSize is the multipart chunk size
	DefaultPartSize = 10 * 1024 * 1024
	// DefaultParallelParts bounds concurrent part uploads
	DefaultParallelParts = 10
)

// UploadConfig holds configuration for the uploader
type UploadConfig struct {
	PartSize      int64
	ParallelParts int
}

// UploadResult is the outcome of a finished upload
type UploadResult struct {
	Key      string
	Bytes    int64
	Parts    int
	Resumed  bool
	Duration time.Duration
}

// Uploader sends local files through the multipart primitives with a resumable checkpoint
type Uploader struct {
	store       storage.Multipart
	bucket      string
	checkpoints *CheckpointStore
	config      UploadConfig
	logger      logging.Logger
}

// NewUploader creates an Uploader for bucket
func NewUploader(store storage.Multipart, bucket string, checkpoints *CheckpointStore, cfg UploadConfig) *Uploader {
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.ParallelParts <= 0 {
		cfg.ParallelParts = DefaultParallelParts
	}
	return &Uploader{
		store:       store,
		bucket:      bucket,
		checkpoints: checkpoints,
		config:      cfg,
		logger:      logging.GetDefaultLogger(),
	}
}

// Upload stores localPath under key with metadata attached at creation.
// An existing checkpoint for the same unchanged file resumes the previous upload.
func (u *Uploader) Upload(ctx context.Context, key, localPath string, metadata map[string]string) (*UploadResult, error) {
	start := time.Now()

	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	digest, err := FileDigest(file, info.Size())
	if err != nil {
		return nil, err
	}

	cp, resumed, err := u.prepare(ctx, key, info.Size(), digest, metadata)
	if err != nil {
		return nil, err
	}

	parts, err := u.uploadParts(ctx, file, cp)
	if err != nil {
		return nil, fmt.Errorf("failed to upload parts of %s: %w", key, err)
	}

	if err := u.store.CompleteMultipartUpload(ctx, key, cp.UploadID, parts); err != nil {
		return nil, fmt.Errorf("failed to complete upload of %s: %w", key, err)
	}
	if err := u.checkpoints.Remove(u.bucket, key); err != nil {
		u.logger.Warn("Upload of %s completed but checkpoint remains: %v", key, err)
	}

	result := &UploadResult{
		Key:      key,
		Bytes:    info.Size(),
		Parts:    len(parts),
		Resumed:  resumed,
		Duration: time.Since(start),
	}
	u.logger.LogPerformance(logging.PerformanceMetrics{
		Operation:      "upload",
		Duration:       result.Duration,
		BytesProcessed: result.Bytes,
		Success:        true,
		Metadata:       map[string]interface{}{"key": key, "parts": result.Parts, "resumed": resumed},
	})
	return result, nil
}

// prepare loads a matching checkpoint or starts a new multipart upload
func (u *Uploader) prepare(ctx context.Context, key string, size int64, digest string, metadata map[string]string) (*Checkpoint, bool, error) {
	cp, err := u.checkpoints.Load(u.bucket, key)
	if err != nil {
		return nil, false, err
	}

	if cp != nil {
		if cp.Matches(size, digest, u.config.PartSize) {
			u.logger.Info("Resuming upload of %s with %d completed parts", key, len(cp.Parts))
			return cp, true, nil
		}
		u.logger.Info("Local file changed since checkpoint, aborting stale upload of %s", key)
		if err := u.store.AbortMultipartUpload(ctx, key, cp.UploadID); err != nil {
			u.logger.Warn("Failed to abort stale upload %s: %v", cp.UploadID, err)
		}
		if err := u.checkpoints.Remove(u.bucket, key); err != nil {
			return nil, false, err
		}
	}

	uploadID, err := u.store.CreateMultipartUpload(ctx, key, storage.ContentType(key), metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create upload of %s: %w", key, err)
	}

	cp = &Checkpoint{
		Bucket:   u.bucket,
		Key:      key,
		UploadID: uploadID,
		FileSize: size,
		SHA256:   digest,
		PartSize: u.config.PartSize,
	}
	if err := u.checkpoints.Save(cp); err != nil {
		return nil, false, err
	}
	return cp, false, nil
}

// uploadParts sends the missing parts concurrently and returns the full ordered part list
func (u *Uploader) uploadParts(ctx context.Context, file io.ReaderAt, cp *Checkpoint) ([]storage.CompletedPart, error) {
	count := PartCount(cp.FileSize, cp.PartSize)
	done := cp.Completed()

	var mutex sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.config.ParallelParts)

	for number := 1; number <= count; number++ {
		if _, ok := done[number]; ok {
			continue
		}
		number := number
		offset := int64(number-1) * cp.PartSize
		size := cp.PartSize
		if remaining := cp.FileSize - offset; remaining < size {
			size = remaining
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			section := io.NewSectionReader(file, offset, size)
			etag, err := u.store.UploadPart(gctx, cp.Key, cp.UploadID, number, section, size)
			if err != nil {
				return err
			}

			mutex.Lock()
			defer mutex.Unlock()
			cp.Parts = append(cp.Parts, storage.CompletedPart{Number: number, ETag: etag, Size: size})
			return u.checkpoints.Save(cp)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	parts := make([]storage.CompletedPart, 0, count)
	completed := cp.Completed()
	for number := 1; number <= count; number++ {
		part, ok := completed[number]
		if !ok {
			return nil, fmt.Errorf("part %d missing after upload", number)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// PartCount returns how many parts a file of size splits into. An empty file still needs one part.
func PartCount(size, partSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + partSize - 1) / partSize)
}
