package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"mysql-replica-backup/internal/config"
)

// S3Provider uploads archives to Amazon S3 or an S3 compatible endpoint
type S3Provider struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Provider creates an S3 provider. Static keys are used when set,
// otherwise the default AWS credential chain applies.
func NewS3Provider(cfg config.S3Config, prefix string) (*S3Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, validationError(fmt.Sprintf("invalid S3 storage configuration: %v", err))
	}

	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, storageError("failed to create AWS session", err)
	}

	return &S3Provider{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   prefix,
	}, nil
}

func (sp *S3Provider) Name() string { return "s3" }

func (sp *S3Provider) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", sp.bucket, prefixed(sp.prefix, key))
}

func (sp *S3Provider) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storageError("failed to open staged archive", err)
	}
	defer f.Close()

	_, err = sp.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(sp.bucket),
		Key:         aws.String(prefixed(sp.prefix, key)),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return storageError("failed to upload archive to S3", err)
	}
	return nil
}

func (sp *S3Provider) Close() error { return nil }
