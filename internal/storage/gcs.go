package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"mysql-replica-backup/internal/config"
)

// GCSProvider uploads archives to Google Cloud Storage
type GCSProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSProvider creates a GCS provider. Without a credentials file the
// application default credentials are used.
func NewGCSProvider(ctx context.Context, cfg config.GCSConfig, prefix string, opts ...option.ClientOption) (*GCSProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, validationError(fmt.Sprintf("invalid GCS storage configuration: %v", err))
	}

	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, storageError("failed to create GCS client", err)
	}

	return &GCSProvider{client: client, bucketName: cfg.Bucket, prefix: prefix}, nil
}

func (gp *GCSProvider) Name() string { return "gcs" }

func (gp *GCSProvider) Location(key string) string {
	return fmt.Sprintf("gs://%s/%s", gp.bucketName, prefixed(gp.prefix, key))
}

func (gp *GCSProvider) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storageError("failed to open staged archive", err)
	}
	defer f.Close()

	writer := gp.client.Bucket(gp.bucketName).Object(prefixed(gp.prefix, key)).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"

	if _, err := io.Copy(writer, f); err != nil {
		writer.Close()
		return storageError("failed to write archive to GCS", err)
	}
	if err := writer.Close(); err != nil {
		return storageError("failed to upload archive to GCS", err)
	}
	return nil
}

func (gp *GCSProvider) Close() error {
	return gp.client.Close()
}
