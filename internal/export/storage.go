package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"qbank/api/internal/config"
)

// Publisher stores an export and returns a download link.
type Publisher interface {
	Publish(ctx context.Context, key, contentType string, data []byte) (Link, error)
}

// ObjectStore publishes exports to an S3-compatible bucket and hands out
// presigned GET URLs.
type ObjectStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewObjectStore connects to the bucket described by cfg, creating it if
// it does not exist.
func NewObjectStore(ctx context.Context, cfg config.ExportConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (o *ObjectStore) Publish(ctx context.Context, key, contentType string, data []byte) (Link, error) {
	_, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Link{}, fmt.Errorf("upload %s: %w", key, err)
	}

	issued := time.Now()
	u, err := o.client.PresignedGetObject(ctx, o.bucket, key, o.expiry, nil)
	if err != nil {
		return Link{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return Link{URL: u.String(), Key: key, ExpiresAt: issued.Add(o.expiry).UTC()}, nil
}
