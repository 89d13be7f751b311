package archive

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// Encrypted file layout:
//
//	magic(4) | salt(16) | nonce prefix(4) | frames...
//	frame = flag(1) | length(4, big endian) | ciphertext
//
// Each frame seals up to frameSize plaintext bytes. The flag marks the final
// frame and is authenticated, so truncated files fail to decrypt.
const (
	EncryptedExtension = ".enc"

	frameSize        = 64 * 1024
	saltSize         = 16
	noncePrefixSize  = 4
	pbkdf2Iterations = 100000
	keySize          = 32

	flagMore  byte = 0
	flagFinal byte = 1
)

var magic = []byte("RBK1")

// ErrTruncated is returned when an encrypted stream ends before its final frame
var ErrTruncated = errors.New("encrypted archive is truncated")

// Encryptor seals archives with AES-256-GCM using a key derived from a passphrase
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor creates an encryptor. The passphrase must not be empty.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase is empty")
	}
	return &Encryptor{passphrase: []byte(passphrase)}, nil
}

func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}

func frameNonce(prefix []byte, counter uint64) []byte {
	nonce := make([]byte, 12)
	copy(nonce, prefix)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Encrypt streams src into dst
func (e *Encryptor) Encrypt(dst io.Writer, src io.Reader) error {
	header := make([]byte, 0, len(magic)+saltSize+noncePrefixSize)
	header = append(header, magic...)
	random := make([]byte, saltSize+noncePrefixSize)
	if _, err := io.ReadFull(rand.Reader, random); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	header = append(header, random...)
	salt, prefix := random[:saltSize], random[saltSize:]

	gcm, err := e.aead(salt)
	if err != nil {
		return err
	}
	if _, err := dst.Write(header); err != nil {
		return err
	}

	reader := bufio.NewReaderSize(src, frameSize)
	plain := make([]byte, frameSize)
	var counter uint64

	for {
		n, err := io.ReadFull(reader, plain)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return err
		}

		flag := flagMore
		if err != nil {
			flag = flagFinal
		} else if _, peekErr := reader.Peek(1); peekErr == io.EOF {
			flag = flagFinal
		}

		sealed := gcm.Seal(nil, frameNonce(prefix, counter), plain[:n], []byte{flag})
		frameHeader := make([]byte, 5)
		frameHeader[0] = flag
		binary.BigEndian.PutUint32(frameHeader[1:], uint32(len(sealed)))
		if _, err := dst.Write(frameHeader); err != nil {
			return err
		}
		if _, err := dst.Write(sealed); err != nil {
			return err
		}

		if flag == flagFinal {
			return nil
		}
		counter++
	}
}

// Decrypt streams an encrypted src into dst, verifying every frame
func (e *Encryptor) Decrypt(dst io.Writer, src io.Reader) error {
	header := make([]byte, len(magic)+saltSize+noncePrefixSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return errors.New("not an encrypted archive")
	}
	salt := header[len(magic) : len(magic)+saltSize]
	prefix := header[len(magic)+saltSize:]

	gcm, err := e.aead(salt)
	if err != nil {
		return err
	}

	frameHeader := make([]byte, 5)
	maxSealed := uint32(frameSize + gcm.Overhead())
	var counter uint64

	for {
		if _, err := io.ReadFull(src, frameHeader); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return ErrTruncated
			}
			return err
		}
		flag := frameHeader[0]
		length := binary.BigEndian.Uint32(frameHeader[1:])
		if length > maxSealed {
			return fmt.Errorf("frame %d too large", counter)
		}

		sealed := make([]byte, length)
		if _, err := io.ReadFull(src, sealed); err != nil {
			return ErrTruncated
		}

		plain, err := gcm.Open(nil, frameNonce(prefix, counter), sealed, []byte{flag})
		if err != nil {
			return fmt.Errorf("failed to decrypt frame %d: %w", counter, err)
		}
		if _, err := dst.Write(plain); err != nil {
			return err
		}

		if flag == flagFinal {
			return nil
		}
		counter++
	}
}

// EncryptFile writes the encrypted form of src to dst
func (e *Encryptor) EncryptFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	buffered := bufio.NewWriterSize(out, 1<<20)
	if err = e.Encrypt(buffered, in); err != nil {
		return err
	}
	return buffered.Flush()
}
