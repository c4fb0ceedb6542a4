package types

import (
	"fmt"
	"time"
)

// Bucket represents a logical object-store namespace. Buckets are created by
// find-or-create and never deleted.
type Bucket struct {
	BucketID   int64
	BucketName string
}

// Path is a client-visible logical name. Many historical file versions may
// share one path; at most one of them is current.
type Path struct {
	PathID    int64
	LocalPath string
}

// Host represents one participating machine. MaxCacheBytes of zero means the
// host has no cache budget and the pruner only evicts stale files.
type Host struct {
	HostID        int64
	Hostname      string
	MaxCacheBytes int64
}

// Tag is an interned tag string. Tags are created on first use and never
// deleted implicitly.
type Tag struct {
	TagID   int64
	TagName string
}

// File is one immutable artifact: a metadata row whose bytes live in the
// object store at {bucket}/{object_key}.
type File struct {
	FileID        int64
	BucketID      int64
	ObjectKey     string
	PathID        int64
	Published     bool
	Origin        int64
	MD5           string
	B64           string
	GUID          string
	FileSize      int64
	DateCreated   time.Time
	DateUploaded  *time.Time
	DatePublished *time.Time
	DateArchived  *time.Time
	DateExpired   *time.Time
}

// Uploaded reports whether the file's bytes have reached the object store.
func (f *File) Uploaded() bool {
	return f.DateUploaded != nil
}

// Expired reports whether the file has been retired from its path.
func (f *File) Expired() bool {
	return f.DateExpired != nil
}

// IsCurrent reports whether the file is the current version of its path.
func (f *File) IsCurrent() bool {
	return f.Published && f.DateExpired == nil
}

func (f *File) String() string {
	return fmt.Sprintf("File(%d, key=%q, guid=%s)", f.FileID, f.ObjectKey, f.GUID)
}

// FileTag links a tag to one specific file version.
type FileTag struct {
	FileID     int64
	TagID      int64
	DateTagged time.Time
}

// PathTag links a tag to every version at a path.
type PathTag struct {
	PathID     int64
	TagID      int64
	DateTagged time.Time
}

// Download records that a host currently holds a file's bytes locally.
type Download struct {
	FileID       int64
	HostID       int64
	DownloadedAt time.Time
	LastAccess   time.Time
}

// Declared column orders. These are the contract for COPY-style backup dumps
// and must not be reordered.
var (
	BucketColumns = []string{"bucket_id", "bucket_name"}
	PathColumns   = []string{"path_id", "local_path"}
	HostColumns   = []string{"host_id", "hostname", "max_cache_bytes"}
	TagColumns    = []string{"tag_id", "tag_name"}

	FileColumns = []string{
		"file_id",
		"bucket_id",
		"object_key",
		"path_id",
		"published",
		"origin",
		"md5",
		"b64",
		"guid",
		"file_size",
		"date_created",
		"date_uploaded",
		"date_published",
		"date_archived",
		"date_expired",
	}

	FileTagColumns  = []string{"file_id", "tag_id", "date_tagged"}
	PathTagColumns  = []string{"path_id", "tag_id", "date_tagged"}
	DownloadColumns = []string{"file_id", "host_id", "downloaded_at", "last_access"}
)
