package config

import (
	"errors"
	"fmt"
	"os"
)

// Storage providers
const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
	ProviderGCS   = "gcs"
	ProviderAzure = "azure"
)

// StorageConfig defines staging directories and where finished archives go
type StorageConfig struct {
	TmpDir   string      `mapstructure:"tmp_dir" yaml:"tmp_dir"`
	FinalDir string      `mapstructure:"final_dir" yaml:"final_dir"`
	Provider string      `mapstructure:"provider" yaml:"provider"`
	Prefix   string      `mapstructure:"prefix" yaml:"prefix"`
	KeepTmp  bool        `mapstructure:"keep_tmp" yaml:"keep_tmp"`
	S3       S3Config    `mapstructure:"s3" yaml:"s3"`
	GCS      GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
	Azure    AzureConfig `mapstructure:"azure" yaml:"azure"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// Validate validates the storage configuration
func (sc *StorageConfig) Validate() error {
	var errs []error

	if sc.TmpDir == "" {
		errs = append(errs, errors.New("tmp dir is required (storage.tmp_dir or TMP_BACKUP_TO_DIR)"))
	}

	switch sc.Provider {
	case ProviderLocal:
		if sc.FinalDir == "" {
			errs = append(errs, errors.New("final dir is required (storage.final_dir or FINAL_COPY_TO_DIR)"))
		}
	case ProviderS3:
		if err := sc.S3.Validate(); err != nil {
			errs = append(errs, err)
		}
	case ProviderGCS:
		if err := sc.GCS.Validate(); err != nil {
			errs = append(errs, err)
		}
	case ProviderAzure:
		if err := sc.Azure.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage provider '%s', must be one of: local, s3, gcs, azure", sc.Provider))
	}

	return errors.Join(errs...)
}

// Validate validates the S3 storage configuration
func (s3c *S3Config) Validate() error {
	if s3c.Bucket == "" {
		return errors.New("bucket is required for S3 storage")
	}
	if s3c.Region == "" {
		return errors.New("region is required for S3 storage")
	}
	return nil
}

// Validate validates the GCS storage configuration
func (gc *GCSConfig) Validate() error {
	if gc.Bucket == "" {
		return errors.New("bucket is required for GCS storage")
	}
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	return nil
}

// Validate validates the Azure storage configuration
func (ac *AzureConfig) Validate() error {
	if ac.AccountName == "" {
		return errors.New("account name is required for Azure storage")
	}
	if ac.AccountKey == "" {
		return errors.New("account key is required for Azure storage")
	}
	if ac.ContainerName == "" {
		return errors.New("container name is required for Azure storage")
	}
	return nil
}
