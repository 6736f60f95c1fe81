// Package storage copies finished archives to an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/isdelr/ark-warden/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// Mirror receives a copy of every new archive.
type Mirror interface {
	Upload(ctx context.Context, path, name string) error
	Remove(ctx context.Context, name string) error
}

// S3Mirror uploads archives to a MinIO or S3 bucket.
type S3Mirror struct {
	client *minio.Client
	bucket string
}

// NewS3Mirror returns nil, nil when no mirror is configured.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig) (*S3Mirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL || strings.HasPrefix(cfg.Endpoint, "https://"),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	m := &S3Mirror{client: client, bucket: cfg.Bucket}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("endpoint", endpoint).Str("bucket", cfg.Bucket).Msg("Offsite archive mirror enabled")
	return m, nil
}

func (m *S3Mirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Upload streams the archive at path into the bucket under name.
func (m *S3Mirror) Upload(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.bucket, name, f, stat.Size(), minio.PutObjectOptions{ContentType: "application/zip"})
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Remove deletes an evicted archive from the bucket.
func (m *S3Mirror) Remove(ctx context.Context, name string) error {
	return m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{})
}
