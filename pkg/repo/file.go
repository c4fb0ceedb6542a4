package repo

import (
	"context"
	"fmt"
	"io"

	"github.com/wizzat/s3repo/pkg/cache"
	"github.com/wizzat/s3repo/pkg/metrics"
	"github.com/wizzat/s3repo/pkg/types"
)

// File is a live handle on one file row. Mutating operations write through
// the repository's ambient transaction and refresh the embedded row.
type File struct {
	types.File

	repo *Repository
}

// BucketName resolves the file's bucket name.
func (f *File) BucketName(ctx context.Context) (string, error) {
	bucket, err := f.repo.stores.Buckets.FindByID(ctx, f.BucketID)
	if err != nil {
		return "", err
	}
	if bucket == nil {
		return "", fmt.Errorf("file %d references missing bucket %d", f.FileID, f.BucketID)
	}
	return bucket.BucketName, nil
}

// Path resolves the file's logical path.
func (f *File) Path(ctx context.Context) (string, error) {
	path, err := f.repo.stores.Paths.FindByID(ctx, f.PathID)
	if err != nil {
		return "", err
	}
	if path == nil {
		return "", fmt.Errorf("file %d references missing path %d", f.FileID, f.PathID)
	}
	return path.LocalPath, nil
}

// S3Path renders the object-store location.
func (f *File) S3Path(ctx context.Context) (string, error) {
	bucket, err := f.BucketName(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", bucket, f.ObjectKey), nil
}

// LocalPath returns the file's location in the host cache.
func (f *File) LocalPath(ctx context.Context) (string, error) {
	bucket, err := f.BucketName(ctx)
	if err != nil {
		return "", err
	}
	return f.repo.cache.LocalPath(bucket, f.ObjectKey), nil
}

func (f *File) update(ctx context.Context) error {
	updated, err := f.repo.stores.Files.Update(ctx, &f.File)
	if err != nil {
		return err
	}
	f.File = *updated
	return nil
}

// Publish makes this file the current version of its path. The previous
// current version is expired in the same transaction, so a committed publish
// is atomic from any other host's view. Re-publishing a current file does
// not move date_published.
func (f *File) Publish(ctx context.Context) error {
	now := f.repo.clock.Now()

	if f.Expired() || !f.Published {
		current, err := f.repo.stores.Files.FindCurrent(ctx, f.PathID)
		if err != nil {
			return err
		}
		if current != nil && current.FileID != f.FileID {
			prev := f.repo.file(current)
			if err := prev.Expire(ctx); err != nil {
				return err
			}
		}

		f.Published = true
		f.DateExpired = nil
		f.DatePublished = &now
		metrics.FilesPublished.Inc()
	}

	if err := f.Upload(ctx); err != nil {
		return err
	}
	return f.update(ctx)
}

// Expire retires the file from its path, keeping the row for audit. The
// first expiry pins date_expired; re-expiring does not move it.
func (f *File) Expire(ctx context.Context) error {
	f.Published = false
	if f.DateExpired == nil {
		now := f.repo.clock.Now()
		f.DateExpired = &now
	}
	metrics.FilesExpired.Inc()
	return f.update(ctx)
}

// Upload computes the file's stats and sends its bytes to the object store.
// Idempotent: a second upload is a no-op. The local copy must exist on this
// host.
func (f *File) Upload(ctx context.Context) error {
	if f.Uploaded() {
		return nil
	}

	bucket, err := f.BucketName(ctx)
	if err != nil {
		return err
	}
	localPath := f.repo.cache.LocalPath(bucket, f.ObjectKey)
	if !f.repo.cache.Exists(bucket, f.ObjectKey) {
		return fmt.Errorf("%w: %s", ErrFileMissingLocally, localPath)
	}

	if f.FileSize == 0 || f.MD5 == "" {
		stats, err := cache.FileStats(localPath)
		if err != nil {
			return err
		}
		f.MD5 = stats.MD5
		f.B64 = stats.B64
		f.FileSize = stats.Size
	}

	if err := f.repo.store.PutFile(ctx, bucket, f.ObjectKey, localPath); err != nil {
		metrics.UploadsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	metrics.UploadsTotal.WithLabelValues("success").Inc()
	metrics.BytesUploaded.Add(float64(f.FileSize))

	now := f.repo.clock.Now()
	f.DateUploaded = &now
	if err := f.update(ctx); err != nil {
		return err
	}

	// The origin host holds the bytes it just uploaded.
	host, err := f.repo.CurrentHost(ctx)
	if err != nil {
		return err
	}
	return f.repo.stores.Downloads.Record(ctx, f.FileID, host.HostID, now)
}

// Download fetches the file's bytes into the host cache and records the
// download. A present local copy is a no-op. The persisted digest is
// verified against the retrieved bytes; a mismatch fails without retry.
func (f *File) Download(ctx context.Context) error {
	if !f.Uploaded() {
		return fmt.Errorf("%w: file %d", ErrFileNotUploaded, f.FileID)
	}

	bucket, err := f.BucketName(ctx)
	if err != nil {
		return err
	}
	if f.repo.cache.Exists(bucket, f.ObjectKey) {
		return nil
	}

	localPath := f.repo.cache.LocalPath(bucket, f.ObjectKey)
	if err := f.repo.store.GetFile(ctx, bucket, f.ObjectKey, localPath); err != nil {
		metrics.DownloadsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	if f.MD5 != "" {
		stats, err := cache.FileStats(localPath)
		if err != nil {
			return err
		}
		if stats.MD5 != f.MD5 {
			metrics.DownloadsTotal.WithLabelValues("mismatch").Inc()
			// Drop the corrupt copy rather than poison the cache.
			_ = f.repo.cache.Unlink(bucket, f.ObjectKey)
			return fmt.Errorf("%w: file %d: got %s, want %s", ErrDownloadMismatch, f.FileID, stats.MD5, f.MD5)
		}
	}
	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	metrics.BytesDownloaded.Add(float64(f.FileSize))

	host, err := f.repo.CurrentHost(ctx)
	if err != nil {
		return err
	}
	return f.repo.stores.Downloads.Record(ctx, f.FileID, host.HostID, f.repo.clock.Now())
}

// Purge deletes the file row, its object-store bytes, and the local copy.
// Published files cannot be purged.
func (f *File) Purge(ctx context.Context) error {
	if f.Published {
		return fmt.Errorf("%w: file %d", ErrPurgingPublished, f.FileID)
	}

	bucket, err := f.BucketName(ctx)
	if err != nil {
		return err
	}

	count, err := f.repo.stores.Files.Delete(ctx, f.FileID)
	if err != nil {
		return err
	}
	if count != 1 {
		f.repo.logger.Warn().Int64("file_id", f.FileID).Int64("deleted", count).Msg("purge deleted unexpected row count")
	}

	if err := f.repo.store.Delete(ctx, bucket, f.ObjectKey); err != nil {
		return err
	}
	metrics.FilesPurged.Inc()
	return f.repo.cache.Unlink(bucket, f.ObjectKey)
}

// Unlink drops the local copy and its download row. Database state is
// otherwise unchanged.
func (f *File) Unlink(ctx context.Context) error {
	host, err := f.repo.CurrentHost(ctx)
	if err != nil {
		return err
	}
	if err := f.repo.stores.Downloads.Remove(ctx, f.FileID, host.HostID); err != nil {
		return err
	}

	bucket, err := f.BucketName(ctx)
	if err != nil {
		return err
	}
	metrics.FilesUnlinked.Inc()
	return f.repo.cache.Unlink(bucket, f.ObjectKey)
}

// OpenRead opens the file for reading, downloading first when the bytes are
// not yet local. The stream is transparently decompressed for .gz keys.
func (f *File) OpenRead(ctx context.Context) (io.ReadCloser, error) {
	if f.Uploaded() {
		if err := f.Download(ctx); err != nil {
			return nil, err
		}
	}
	if err := f.touchAccess(ctx); err != nil {
		return nil, err
	}

	bucket, err := f.BucketName(ctx)
	if err != nil {
		return nil, err
	}
	return f.repo.cache.OpenRead(bucket, f.ObjectKey)
}

// OpenWrite opens the file for writing, creating parent directories. The
// stream is transparently compressed for .gz keys.
func (f *File) OpenWrite(ctx context.Context) (io.WriteCloser, error) {
	bucket, err := f.BucketName(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.touchAccess(ctx); err != nil {
		return nil, err
	}
	return f.repo.cache.OpenWrite(bucket, f.ObjectKey)
}

// touchAccess refreshes the download row's last_access. Download rows exist
// only for uploaded files, so drafts being written are skipped.
func (f *File) touchAccess(ctx context.Context) error {
	if !f.Uploaded() {
		return nil
	}
	host, err := f.repo.CurrentHost(ctx)
	if err != nil {
		return err
	}
	return f.repo.stores.Downloads.Touch(ctx, f.FileID, host.HostID, f.repo.clock.Now())
}

// Touch ensures the local file exists, optionally seeding contents. Used
// when the bytes are produced out-of-band.
func (f *File) Touch(ctx context.Context, contents string) error {
	bucket, err := f.BucketName(ctx)
	if err != nil {
		return err
	}
	return f.repo.cache.Touch(bucket, f.ObjectKey, contents)
}
