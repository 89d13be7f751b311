package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalProvider copies archives into a directory tree on the local file system
type LocalProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalProvider creates a provider rooted at basePath
func NewLocalProvider(basePath string) (*LocalProvider, error) {
	if basePath == "" {
		return nil, validationError("final directory is required for local storage")
	}
	return &LocalProvider{basePath: basePath, permissions: 0750}, nil
}

func (lp *LocalProvider) Name() string { return "local" }

func (lp *LocalProvider) Location(key string) string {
	return filepath.Join(lp.basePath, filepath.FromSlash(key))
}

// Upload copies localPath to <basePath>/<key>. The copy is written under a
// temporary name and renamed so a partial file never appears at the target.
func (lp *LocalProvider) Upload(ctx context.Context, localPath, key string) (err error) {
	target := lp.Location(key)
	if err := os.MkdirAll(filepath.Dir(target), lp.permissions); err != nil {
		return storageError("failed to create backup directory", err)
	}

	in, err := os.Open(localPath)
	if err != nil {
		return storageError("failed to open staged archive", err)
	}
	defer in.Close()

	partial := target + ".partial"
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return storageError("failed to create backup file", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(partial)
		}
	}()

	if _, err = io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		return storageError("failed to copy archive", err)
	}
	if err = out.Close(); err != nil {
		return storageError("failed to write backup file", err)
	}
	if err = os.Rename(partial, target); err != nil {
		return storageError("failed to move backup file into place", err)
	}
	return nil
}

func (lp *LocalProvider) Close() error { return nil }

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
