package archive

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mysql-replica-backup/internal/config"
)

// Error reports which archive step failed. Message is safe to show as the
// single-line failure reason for a database.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Archiver compresses a dump file and optionally encrypts the result. The
// source file is removed on success.
type Archiver struct {
	compressor Compressor
	encryptor  *Encryptor
}

// New builds an archiver from the archive configuration
func New(cfg config.ArchiveConfig) (*Archiver, error) {
	compressor, err := NewCompressor(cfg.Compression, cfg.Level)
	if err != nil {
		return nil, err
	}

	a := &Archiver{compressor: compressor}
	if cfg.Encryption.Enabled {
		if a.encryptor, err = NewEncryptor(cfg.Encryption.Passphrase); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// NewWithCompressor builds an archiver around an explicit compressor
func NewWithCompressor(compressor Compressor, encryptor *Encryptor) *Archiver {
	return &Archiver{compressor: compressor, encryptor: encryptor}
}

// Extension is what Archive appends to the source file name
func (a *Archiver) Extension() string {
	ext := a.compressor.Extension()
	if a.encryptor != nil {
		ext += EncryptedExtension
	}
	return ext
}

// Archive compresses src, encrypts if enabled, and returns the final path.
func (a *Archiver) Archive(ctx context.Context, src string) (string, error) {
	compressed := src + a.compressor.Extension()
	if err := a.compressor.CompressFile(ctx, src, compressed); err != nil {
		return "", &Error{Message: a.compressor.Name() + " compression failed", Cause: err}
	}
	if compressed != src {
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", &Error{Message: "failed to remove uncompressed dump", Cause: err}
		}
	}

	if a.encryptor == nil {
		return compressed, nil
	}

	encrypted := compressed + EncryptedExtension
	if err := a.encryptor.EncryptFile(compressed, encrypted); err != nil {
		os.Remove(compressed)
		return "", &Error{Message: "encryption failed", Cause: err}
	}
	if err := os.Remove(compressed); err != nil {
		return "", &Error{Message: "failed to remove unencrypted archive", Cause: err}
	}
	return encrypted, nil
}
