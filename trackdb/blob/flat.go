package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

type FlatConfig struct {
	CompressionLevel int
	FilePerm         os.FileMode
	DirPerm          os.FileMode
}

func DefaultFlatConfig() *FlatConfig {
	return &FlatConfig{
		CompressionLevel: gzip.BestSpeed,
		FilePerm:         0660,
		DirPerm:          0770,
	}
}

// Flat stores raw files gzipped on the local filesystem under a root directory.
type Flat struct {
	root   string
	config *FlatConfig
}

func NewFlatWithRoot(root string, config *FlatConfig) *Flat {
	root = filepath.Clean(root)
	// If root is not absolute, make it absolute.
	if !filepath.IsAbs(root) {
		root, _ = filepath.Abs(root)
	}
	if config == nil {
		config = DefaultFlatConfig()
	}
	return &Flat{root: root, config: config}
}

func (f *Flat) Root() string {
	return f.root
}

func (f *Flat) pathFor(key string) (string, error) {
	p := filepath.Join(f.root, filepath.FromSlash(key)) + ".gz"
	if !strings.HasPrefix(p, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes store root", key)
	}
	return p, nil
}

// Put writes b to a temporary file and renames it into place, so readers
// never see a partial file.
func (f *Flat) Put(ctx context.Context, key string, b []byte) error {
	p, err := f.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), f.config.DirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	gzw, err := gzip.NewWriterLevel(tmp, f.config.CompressionLevel)
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := gzw.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(f.config.FilePerm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Get reads and decompresses key, holding a shared lock while reading.
func (f *Flat) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer fi.Close()

	if err := syscall.Flock(int(fi.Fd()), syscall.LOCK_SH); err != nil {
		return nil, err
	}
	defer syscall.Flock(int(fi.Fd()), syscall.LOCK_UN)

	gzr, err := gzip.NewReader(fi)
	if err != nil {
		return nil, fmt.Errorf("raw file %s: %w", key, err)
	}
	defer gzr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gzr); err != nil {
		return nil, fmt.Errorf("raw file %s: %w", key, err)
	}
	return buf.Bytes(), ctx.Err()
}

func (f *Flat) Delete(ctx context.Context, key string) error {
	p, err := f.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	// Drop the trip directory once it is empty; failure means it is not.
	_ = os.Remove(filepath.Dir(p))
	return nil
}
