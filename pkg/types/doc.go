/*
Package types defines the row structs for the s3_repo schema.

Each struct mirrors one table: Bucket, Path, Host, Tag, File, FileTag,
PathTag, and Download. Nullable timestamps are *time.Time; a nil pointer is
SQL NULL. The *Columns variables declare the column order used by the entity
layer for scans and inserts and by backup dumps as the serialization
contract.

File carries the lifecycle state machine flags: a file progresses from
created through uploaded and published to expired, and IsCurrent reports
whether it is the unique current version of its path.
*/
package types
