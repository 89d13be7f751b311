package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"mysql-replica-backup/internal/config"
)

// AzureProvider uploads archives to Azure Blob Storage
type AzureProvider struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureProvider creates an Azure provider using shared key authentication
func NewAzureProvider(cfg config.AzureConfig, prefix string) (*AzureProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, validationError(fmt.Sprintf("invalid Azure storage configuration: %v", err))
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, storageError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, storageError("failed to parse Azure service URL", err)
	}

	return &AzureProvider{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.ContainerName),
		containerName: cfg.ContainerName,
		prefix:        prefix,
	}, nil
}

func (ap *AzureProvider) Name() string { return "azure" }

func (ap *AzureProvider) Location(key string) string {
	return fmt.Sprintf("azure://%s/%s", ap.containerName, prefixed(ap.prefix, key))
}

func (ap *AzureProvider) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storageError("failed to open staged archive", err)
	}
	defer f.Close()

	blobURL := ap.containerURL.NewBlockBlobURL(prefixed(ap.prefix, key))
	_, err = azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return storageError("failed to upload archive to Azure", err)
	}
	return nil
}

func (ap *AzureProvider) Close() error { return nil }
