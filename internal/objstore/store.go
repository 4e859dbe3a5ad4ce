// Package objstore wraps the S3 API for a MinIO-compatible object store.
package objstore

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"coinetl/config"
)

// NewSession builds an S3 session against the configured MinIO endpoint.
// Path-style addressing is required for MinIO.
func NewSession(cfg config.MinioConfig) (*session.Session, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String("us-east-1"),
		Endpoint:         aws.String(cfg.Endpoint),
		DisableSSL:       aws.Bool(!cfg.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	})
	return sess, errors.Wrap(err, "create s3 session")
}

// Store is a bucket-scoped object store client.
type Store struct {
	s3         *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	logger     *zap.Logger
}

func New(sess *session.Session, bucket string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		s3:         s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     bucket,
		logger:     logger,
	}
}

func (s *Store) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket when it does not exist yet. Safe to call
// on every run.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.s3.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var aerr awserr.Error
	if !errors.As(err, &aerr) || (aerr.Code() != s3.ErrCodeNoSuchBucket && aerr.Code() != "NotFound") {
		return errors.Wrapf(err, "head bucket %s", s.bucket)
	}

	if _, err := s.s3.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return errors.Wrapf(err, "create bucket %s", s.bucket)
	}
	s.logger.Info("created bucket", zap.String("bucket", s.bucket))
	return nil
}

// Upload stores a local file under key. No retry; errors propagate.
func (s *Store) Upload(ctx context.Context, localPath, key, contentType string) error {
	return s.UploadWithMetadata(ctx, localPath, key, contentType, nil)
}

func (s *Store) UploadWithMetadata(ctx context.Context, localPath, key, contentType string, metadata map[string]*string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", localPath)
	}
	defer f.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	return errors.Wrapf(err, "upload %s to %s/%s", localPath, s.bucket, key)
}

// ListKeys enumerates every object in the bucket, across all partitions.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.s3.ListObjectsPagesWithContext(ctx,
		&s3.ListObjectsInput{Bucket: aws.String(s.bucket)},
		func(page *s3.ListObjectsOutput, lastPage bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			return !lastPage
		})
	if err != nil {
		return nil, errors.Wrapf(err, "list objects in %s", s.bucket)
	}
	return keys, nil
}

// Download fetches an object into memory. Snapshot files are small (one row
// per tracked coin), so buffering whole objects is fine.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	buf := &aws.WriteAtBuffer{}
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "download %s/%s", s.bucket, key)
	}
	return buf.Bytes(), nil
}
