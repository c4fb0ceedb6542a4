package repo

import (
	"errors"

	"github.com/wizzat/s3repo/pkg/config"
	"github.com/wizzat/s3repo/pkg/db"
)

// Semantic error kinds. Callers classify with errors.Is; everything else
// bubbles to the transaction boundary wrapped.
var (
	// ErrRepoAlreadyExists is returned when creating a schema that exists.
	ErrRepoAlreadyExists = errors.New("repository already exists")

	// ErrNoBackups is returned by restore when no backup objects exist.
	ErrNoBackups = errors.New("no backups found")

	// ErrFileNotUploaded is returned by operations requiring uploaded bytes.
	ErrFileNotUploaded = errors.New("file not uploaded")

	// ErrFileAlreadyExists is returned when a (bucket, object_key) row
	// already exists.
	ErrFileAlreadyExists = errors.New("file already exists")

	// ErrConcurrentInsertion is returned when another writer won the race
	// for a (bucket, object_key) row.
	ErrConcurrentInsertion = errors.New("concurrent insertion")

	// ErrFileMissingLocally is returned when upload finds no local bytes.
	ErrFileMissingLocally = errors.New("file does not exist locally")

	// ErrUploadFailed wraps a failed object-store put.
	ErrUploadFailed = errors.New("upload failed")

	// ErrDownloadFailed wraps a failed object-store get.
	ErrDownloadFailed = errors.New("download failed")

	// ErrDownloadMismatch is returned when a downloaded file's digest does
	// not match the persisted md5. Never retried.
	ErrDownloadMismatch = errors.New("download digest mismatch")

	// ErrPurgingPublished is returned when purging a published file.
	ErrPurgingPublished = errors.New("purging published file")

	// ErrAPIMisuse flags a structurally invalid request, e.g. a tag query
	// excluding without any positive predicate.
	ErrAPIMisuse = errors.New("api misuse")

	// ErrNoConfiguration re-exports the config sentinel.
	ErrNoConfiguration = config.ErrNoConfiguration

	// ErrLockUnavailable re-exports the row lock sentinel.
	ErrLockUnavailable = db.ErrLockUnavailable
)
