/*
Package entity maps rows of the s3_repo schema to the structs in pkg/types.

Each table gets a store with the operations the lifecycle engine needs:
find-by-id and find-by-key lookups, equality filters (FindBy), raw
parameterized queries (FindBySQL), race-safe FindOrCreate, Insert, Update,
Delete, and RowLock on files.

FindOrCreate follows one shape everywhere: probe by key, then
INSERT ... ON CONFLICT DO NOTHING RETURNING, then re-probe when the insert
returned nothing. The result is always the winning row, never the loser's
candidate values; file creation relies on this to detect a lost
(bucket_id, object_key) race by GUID comparison.

The dimension stores (bucket, path, host, tag) memoize name-to-id mappings
for the session. Stores.InvalidateCaches drops them and must be wired to the
session's rollback hook, since cached rows may describe undone inserts.
*/
package entity
