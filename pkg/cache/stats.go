package cache

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Stats describes a local file's bytes: md5 as hex and base64, and size.
// Computed in a single streaming pass before upload, and recomputed after
// download for integrity checks.
type Stats struct {
	MD5  string
	B64  string
	Size int64
}

// FileStats streams the file once, computing its digest and size.
func FileStats(path string) (Stats, error) {
	fp, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fp.Close()

	h := md5.New()
	size, err := io.Copy(h, fp)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to digest %s: %w", path, err)
	}

	sum := h.Sum(nil)
	return Stats{
		MD5:  hex.EncodeToString(sum),
		B64:  base64.StdEncoding.EncodeToString(sum),
		Size: size,
	}, nil
}
