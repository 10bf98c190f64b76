package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks paths stored zstd-compressed.
const CompressedSuffix = ".zst"

// DefaultFileMode is applied to written documents.
const DefaultFileMode os.FileMode = 0o644

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
)

// FileBackend stores each document in its own file; keys are paths.
type FileBackend struct {
	mode     os.FileMode
	compress *bool
	now      func() time.Time
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithFileMode sets the permission bits of written files.
func WithFileMode(mode os.FileMode) FileOption {
	return func(b *FileBackend) {
		b.mode = mode
	}
}

// WithCompression forces zstd compression on or off. By default only paths
// ending in CompressedSuffix are compressed.
func WithCompression(enabled bool) FileOption {
	return func(b *FileBackend) {
		b.compress = &enabled
	}
}

// NewFileBackend builds a FileBackend.
func NewFileBackend(opts ...FileOption) *FileBackend {
	b := &FileBackend{
		mode: DefaultFileMode,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Compressed reports whether writes to path are zstd-compressed.
func (b *FileBackend) Compressed(path string) bool {
	if b.compress != nil {
		return *b.compress
	}
	return strings.HasSuffix(path, CompressedSuffix)
}

// Read returns the decompressed document stored at path. Compressed files
// are recognized by their zstd frame header regardless of the path suffix.
func (b *FileBackend) Read(ctx context.Context, path string) ([]byte, Meta, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, Meta{}, false, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Meta{}, false, nil
	}
	if err != nil {
		return nil, Meta{}, false, fmt.Errorf("state: read %s: %w", path, err)
	}
	data, err := decompress(raw)
	if err != nil {
		return nil, Meta{}, false, fmt.Errorf("state: decompress %s: %w", path, err)
	}
	meta := describe(data, Meta{})
	if info, err := os.Stat(path); err == nil {
		meta.UpdatedAt = info.ModTime().UTC()
	}
	return data, meta, true, nil
}

// Write replaces the file at path through a temporary file in the same
// directory, creating parent directories as needed.
func (b *FileBackend) Write(ctx context.Context, path string, data []byte, meta Meta) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	if path == "" {
		return Meta{}, fmt.Errorf("state: path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, fmt.Errorf("state: create directory %s: %w", dir, err)
	}

	if meta.ETag != "" {
		_, current, exists, err := b.Read(ctx, path)
		if err != nil {
			return Meta{}, err
		}
		if err := checkPrecondition(path, meta.ETag, current.ETag, exists); err != nil {
			return Meta{}, err
		}
	}

	payload := data
	if b.Compressed(path) {
		encoder, err := zstdEncoder()
		if err != nil {
			return Meta{}, fmt.Errorf("state: zstd encoder: %w", err)
		}
		payload = encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	if err := writeAtomic(path, payload, b.mode); err != nil {
		return Meta{}, err
	}

	stored := describe(data, cloneMeta(meta))
	stored.UpdatedAt = b.now().UTC()
	return stored, nil
}

// Stat reports metadata for path. The ETag requires reading the file.
func (b *FileBackend) Stat(ctx context.Context, path string) (Meta, bool, error) {
	_, meta, ok, err := b.Read(ctx, path)
	return meta, ok, err
}

func writeAtomic(path string, payload []byte, mode os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp file for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("state: write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("state: sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("state: close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("state: chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("state: replace %s: %w", path, err)
	}
	return nil
}

func decompress(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, zstdMagic) {
		return raw, nil
	}
	decoder, err := zstdDecoder()
	if err != nil {
		return nil, err
	}
	return decoder.DecodeAll(raw, nil)
}
