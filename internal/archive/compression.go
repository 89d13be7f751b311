// Package archive compresses and optionally encrypts finished dump files.
package archive

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a compression algorithm
type Algorithm string

const (
	AlgorithmZstd     Algorithm = "zstd"
	AlgorithmLZ4      Algorithm = "lz4"
	AlgorithmGzip     Algorithm = "gzip"
	AlgorithmSevenZip Algorithm = "7z"
	AlgorithmNone     Algorithm = "none"
)

// Compressor turns one file into its compressed counterpart
type Compressor interface {
	// Name is used in failure messages, e.g. "7zip compression failed"
	Name() string
	Extension() string
	// CompressFile writes dst from src. src is left in place.
	CompressFile(ctx context.Context, src, dst string) error
}

// NewCompressor returns the compressor for algorithm. level 0 selects the
// algorithm's default.
func NewCompressor(algorithm string, level int) (Compressor, error) {
	switch Algorithm(strings.ToLower(algorithm)) {
	case AlgorithmZstd, "":
		return &ZstdCompressor{level: level}, nil
	case AlgorithmLZ4:
		return &LZ4Compressor{level: level}, nil
	case AlgorithmGzip:
		return &GzipCompressor{level: level}, nil
	case AlgorithmSevenZip:
		return &SevenZipCompressor{Binary: "7z", level: level}, nil
	case AlgorithmNone:
		return NoneCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// streamFile copies src into a writer built by wrap, closing both sides.
func streamFile(ctx context.Context, src, dst string, wrap func(io.Writer) (io.WriteCloser, error)) (err error) {
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
	w, err := wrap(buffered)
	if err != nil {
		return err
	}

	if _, err = io.Copy(w, &ctxReader{ctx: ctx, r: in}); err != nil {
		w.Close()
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}
	return buffered.Flush()
}

// ctxReader stops a long copy once ctx is cancelled
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

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct {
	level int
}

func (zc *ZstdCompressor) Name() string      { return "zstd" }
func (zc *ZstdCompressor) Extension() string { return ".zst" }

func (zc *ZstdCompressor) encoderLevel() zstd.EncoderLevel {
	switch {
	case zc.level <= 0:
		return zstd.SpeedDefault
	case zc.level <= 1:
		return zstd.SpeedFastest
	case zc.level <= 3:
		return zstd.SpeedDefault
	case zc.level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (zc *ZstdCompressor) CompressFile(ctx context.Context, src, dst string) error {
	return streamFile(ctx, src, dst, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zc.encoderLevel()))
	})
}

// LZ4Compressor implements LZ4 frame compression
type LZ4Compressor struct {
	level int
}

func (lc *LZ4Compressor) Name() string      { return "lz4" }
func (lc *LZ4Compressor) Extension() string { return ".lz4" }

func (lc *LZ4Compressor) CompressFile(ctx context.Context, src, dst string) error {
	return streamFile(ctx, src, dst, func(w io.Writer) (io.WriteCloser, error) {
		writer := lz4.NewWriter(w)
		// high compression above 6, fast mode otherwise
		if lc.level > 6 {
			if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, err
			}
		}
		return writer, nil
	})
}

// GzipCompressor implements gzip compression
type GzipCompressor struct {
	level int
}

func (gc *GzipCompressor) Name() string      { return "gzip" }
func (gc *GzipCompressor) Extension() string { return ".gz" }

func (gc *GzipCompressor) CompressFile(ctx context.Context, src, dst string) error {
	level := gc.level
	if level <= 0 || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return streamFile(ctx, src, dst, func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriterLevel(w, level)
	})
}

// SevenZipCompressor shells out to 7z. With -sdel 7z deletes src itself.
type SevenZipCompressor struct {
	Binary string
	level  int
}

func (sc *SevenZipCompressor) Name() string      { return "7zip" }
func (sc *SevenZipCompressor) Extension() string { return ".7z" }

func (sc *SevenZipCompressor) CompressFile(ctx context.Context, src, dst string) error {
	level := sc.level
	if level <= 0 || level > 9 {
		level = 1
	}
	cmd := exec.CommandContext(ctx, sc.Binary, "a", "-sdel", "-mx"+strconv.Itoa(level), dst, src)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("%s failed: %w: %s", sc.Binary, err, firstLine(string(output)))
	}
	return nil
}

// NoneCompressor leaves the dump uncompressed
type NoneCompressor struct{}

func (NoneCompressor) Name() string      { return "none" }
func (NoneCompressor) Extension() string { return "" }

func (NoneCompressor) CompressFile(ctx context.Context, src, dst string) error {
	if src == dst {
		return nil
	}
	return os.Rename(src, dst)
}

// NewDecompressingReader wraps r according to algorithm. 7z archives are not
// streamable and are rejected.
func NewDecompressingReader(r io.Reader, algorithm Algorithm) (io.ReadCloser, error) {
	switch algorithm {
	case AlgorithmZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case AlgorithmLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case AlgorithmGzip:
		return gzip.NewReader(r)
	case AlgorithmNone:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("cannot stream-decompress %s", algorithm)
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
