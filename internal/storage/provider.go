package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/errors"
)

// Provider stores finished archives
type Provider interface {
	Name() string
	// Upload stores the file at localPath under key
	Upload(ctx context.Context, localPath, key string) error
	// Location renders where key ends up, for logs and manifests
	Location(key string) string
	Close() error
}

// NewProvider creates the provider selected by cfg.Provider
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderLocal, "":
		return NewLocalProvider(cfg.FinalDir)
	case config.ProviderS3:
		return NewS3Provider(cfg.S3, cfg.Prefix)
	case config.ProviderGCS:
		return NewGCSProvider(ctx, cfg.GCS, cfg.Prefix)
	case config.ProviderAzure:
		return NewAzureProvider(cfg.Azure, cfg.Prefix)
	default:
		return nil, validationError(fmt.Sprintf("unsupported storage provider: %s", cfg.Provider))
	}
}

// prefixed joins an optional key prefix with key
func prefixed(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func storageError(message string, err error) error {
	return errors.NewAppError(errors.ErrorTypeStorage, message, err)
}

func validationError(message string) error {
	return errors.NewAppError(errors.ErrorTypeValidation, message, nil)
}
