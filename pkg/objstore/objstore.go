package objstore

import "context"

// Store is the byte-transfer surface the repository consumes. Paths are
// {bucket}/{key}; content is opaque. Integrity is the caller's concern: the
// lifecycle engine verifies md5 digests around Put and Get.
type Store interface {
	// PutFile uploads the local file to {bucket}/{key}.
	PutFile(ctx context.Context, bucket, key, localPath string) error

	// GetFile downloads {bucket}/{key} to the local path, creating parent
	// directories as needed.
	GetFile(ctx context.Context, bucket, key, localPath string) error

	// Delete removes {bucket}/{key}. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, bucket, key string) error

	// List returns the keys under {bucket}/{prefix}.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}
