/*
Package objstore abstracts the S3-compatible byte store behind the Store
interface.

Two implementations exist. S3 wraps a minio-go client and retries transient
failures (network errors, throttling, 5xx) with bounded exponential backoff;
4xx responses and context cancellation are permanent. Null is the offline
implementation selected under OFFLINE=1: every call succeeds without network
traffic, so metadata transitions remain exercisable in tests and degraded
operation.

Digest verification does not live here. The lifecycle engine computes and
checks md5 around transfers, and a digest mismatch is never retried.
*/
package objstore
