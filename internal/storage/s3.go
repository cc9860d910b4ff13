package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// Ranged download settings for pulling stored videos back out
const (
	downloadPartSize    = 10 * 1024 * 1024
	downloadConcurrency = 5
)

// S3Store implements ObjectStore for S3-compatible endpoints (AWS, OBS)
type S3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
}

// NewS3Store creates an S3 client against the configured endpoint
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.Insecure))
		o.UsePathStyle = cfg.UsePathStyle
	})

	partSize := cfg.PartSize
	return &S3Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = downloadPartSize
			d.Concurrency = downloadConcurrency
		}),
		bucket: cfg.Bucket,
	}, nil
}

// Bucket returns the bucket name
func (s *S3Store) Bucket() string {
	return s.bucket
}

// ListObjects returns every object in the bucket
func (s *S3Store) ListObjects(ctx context.Context) ([]ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(ListPageSize),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &recording.TransientNetworkError{Op: "list objects", Err: err}
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// PutFile uploads a small local file in one managed call
func (s *S3Store) PutFile(ctx context.Context, key, localPath, contentType string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return &recording.TransientNetworkError{Op: "put " + key, Err: err}
	}
	return nil
}

// DownloadFile fetches an object to localPath using parallel ranged reads
func (s *S3Store) DownloadFile(ctx context.Context, key, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = s.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &recording.TransientNetworkError{Op: "download " + key, Err: err}
	}
	return nil
}

// GetObjectMetadata returns the user metadata of an object
func (s *S3Store) GetObjectMetadata(ctx context.Context, key string) (map[string]string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &recording.TransientNetworkError{Op: "head " + key, Err: err}
	}
	if out.Metadata == nil {
		return map[string]string{}, nil
	}
	return out.Metadata, nil
}

// SetObjectMetadata rewrites the object onto itself with replaced metadata
func (s *S3Store) SetObjectMetadata(ctx context.Context, key string, metadata map[string]string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(s.bucket, key)),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
		ContentType:       aws.String(ContentType(key)),
	})
	if err != nil {
		return &recording.TransientNetworkError{Op: "set metadata " + key, Err: err}
	}
	return nil
}

// CreateMultipartUpload starts a multipart upload carrying the metadata
func (s *S3Store) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return "", &recording.TransientNetworkError{Op: "create multipart upload", Err: err}
	}
	if aws.ToString(out.UploadId) == "" {
		return "", &recording.UploadAcknowledgementError{Op: "create multipart upload", Detail: "empty upload id"}
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart sends one part and returns its ETag
func (s *S3Store) UploadPart(ctx context.Context, key, uploadID string, number int, body io.ReadSeeker, size int64) (string, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(number)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", &recording.TransientNetworkError{Op: fmt.Sprintf("upload part %d", number), Err: err}
	}
	if aws.ToString(out.ETag) == "" {
		return "", &recording.UploadAcknowledgementError{Op: fmt.Sprintf("upload part %d", number), Detail: "missing etag"}
	}
	return aws.ToString(out.ETag), nil
}

// CompleteMultipartUpload assembles the uploaded parts
func (s *S3Store) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.Number)),
		})
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return &recording.TransientNetworkError{Op: "complete multipart upload", Err: err}
	}
	return nil
}

// AbortMultipartUpload discards an unfinished upload
func (s *S3Store) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return &recording.TransientNetworkError{Op: "abort multipart upload", Err: err}
	}
	return nil
}

// copySource returns the URL-encoded "bucket/key" copy source
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
