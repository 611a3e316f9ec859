package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3 compatible asset store.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Insecure  bool
	// Prefix is prepended to every object key.
	Prefix string
}

// S3 stores assets as objects in one bucket.
type S3 struct {
	client *minio.Client
	cfg    S3Config
}

// NewS3 creates the client. Credentials fall back to the AWS and MinIO
// environment variables when AccessKey is empty.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("asset: s3 bucket is required")
	}
	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.AccessKey == "" {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		})
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        creds,
		Secure:       !cfg.Insecure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("asset: s3 client: %w", err)
	}
	return &S3{client: client, cfg: cfg}, nil
}

var _ Store = (*S3)(nil)

// EnsureBucket creates the bucket if it does not exist.
func (s *S3) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("asset: bucket %s: %w", s.cfg.Bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("asset: make bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *S3) object(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return s.cfg.Prefix + "/" + key
}

func (s *S3) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (record.Asset, error) {
	key := NewKey(name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, s.object(key), r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return record.Asset{}, fmt.Errorf("asset: s3 put %s: %w", key, err)
	}
	return record.Asset{Key: key, Size: info.Size, ContentType: contentType}, nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, record.Asset, error) {
	if err := validKey(key); err != nil {
		return nil, record.Asset{}, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, record.Asset{}, fmt.Errorf("asset: s3 get %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, record.Asset{}, fmt.Errorf("asset: s3 get %s: %w", key, ErrNotFound)
		}
		return nil, record.Asset{}, fmt.Errorf("asset: s3 stat %s: %w", key, err)
	}
	return obj, record.Asset{Key: key, Size: info.Size, ContentType: info.ContentType}, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, s.object(key), minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("asset: s3 delete %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("asset: s3 stat %s: %w", key, err)
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.object(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("asset: s3 delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}
