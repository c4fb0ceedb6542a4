package cache

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Cache lays blobs out under {root}/{bucket}/{object_key}. The root is
// shared by every process on the host; minting of parent directories is on
// demand and whole-file writes go through a temp path and rename.
type Cache struct {
	root string
}

// New returns a cache rooted at root.
func New(root string) *Cache {
	return &Cache{root: root}
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// LocalPath maps an object to its on-disk location.
func (c *Cache) LocalPath(bucket, key string) string {
	return filepath.Join(c.root, bucket, filepath.FromSlash(key))
}

// Exists reports whether the object's bytes are present locally.
func (c *Cache) Exists(bucket, key string) bool {
	_, err := os.Stat(c.LocalPath(bucket, key))
	return err == nil
}

// EnsureDir creates the object's parent directory.
func (c *Cache) EnsureDir(bucket, key string) error {
	dir := filepath.Dir(c.LocalPath(bucket, key))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

// Unlink removes the local copy. A missing file is not an error.
func (c *Cache) Unlink(bucket, key string) error {
	err := os.Remove(c.LocalPath(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to unlink %s: %w", c.LocalPath(bucket, key), err)
	}
	return nil
}

// Touch ensures the local file exists, optionally seeding it with contents.
// Used when the bytes are produced out-of-band.
func (c *Cache) Touch(bucket, key, contents string) error {
	if err := c.EnsureDir(bucket, key); err != nil {
		return err
	}
	fp, err := os.OpenFile(c.LocalPath(bucket, key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to touch %s: %w", c.LocalPath(bucket, key), err)
	}
	defer fp.Close()

	if contents != "" {
		if _, err := fp.WriteString(contents); err != nil {
			return fmt.Errorf("failed to write %s: %w", c.LocalPath(bucket, key), err)
		}
	}
	return fp.Sync()
}

// WriteFile atomically replaces the object's local bytes: write to a temp
// path in the same directory, then rename.
func (c *Cache) WriteFile(bucket, key string, data []byte) error {
	if err := c.EnsureDir(bucket, key); err != nil {
		return err
	}
	target := c.LocalPath(bucket, key)

	tmp, err := os.CreateTemp(filepath.Dir(target), ".s3repo-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into cache: %w", err)
	}
	return nil
}

// OpenRead opens the local copy for reading, transparently decompressing
// when the object key ends in .gz.
func (c *Cache) OpenRead(bucket, key string) (io.ReadCloser, error) {
	fp, err := os.Open(c.LocalPath(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.LocalPath(bucket, key), err)
	}
	if !strings.HasSuffix(key, ".gz") {
		return fp, nil
	}

	zr, err := gzip.NewReader(fp)
	if err != nil {
		fp.Close()
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return &gzipReadCloser{zr: zr, fp: fp}, nil
}

// OpenWrite opens the local copy for writing, creating parent directories
// and transparently compressing when the object key ends in .gz.
func (c *Cache) OpenWrite(bucket, key string) (io.WriteCloser, error) {
	if err := c.EnsureDir(bucket, key); err != nil {
		return nil, err
	}
	fp, err := os.Create(c.LocalPath(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", c.LocalPath(bucket, key), err)
	}
	if !strings.HasSuffix(key, ".gz") {
		return fp, nil
	}
	return &gzipWriteCloser{zw: gzip.NewWriter(fp), fp: fp}, nil
}

type gzipReadCloser struct {
	zr *gzip.Reader
	fp *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipReadCloser) Close() error {
	zerr := g.zr.Close()
	ferr := g.fp.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

type gzipWriteCloser struct {
	zw *gzip.Writer
	fp *os.File
}

func (g *gzipWriteCloser) Write(p []byte) (int, error) { return g.zw.Write(p) }

func (g *gzipWriteCloser) Close() error {
	zerr := g.zw.Close()
	ferr := g.fp.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}
