/*
Package cache manages the host-local blob cache.

Every file maps to {local_root}/{bucket}/{object_key}. The root is shared by
all processes on a host, so whole-file writes go through a temp path in the
target directory and rename into place. OpenRead and OpenWrite are
transparently gzip-aware for object keys ending in .gz.

FileStats computes md5 (hex and base64) and size in one streaming pass; the
lifecycle engine calls it before upload and again after download to detect
corruption.
*/
package cache
