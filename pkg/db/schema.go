package db

import (
	"context"
	"fmt"
)

// Schema is the namespace holding every repository table.
const Schema = "s3_repo"

// ddl is executed in order by CreateSchema. Sequences back the surrogate
// keys; the partial unique index on files is what serializes racing
// publishers of the same path.
var ddl = []string{
	`CREATE SCHEMA IF NOT EXISTS s3_repo`,

	`CREATE SEQUENCE s3_repo.bucket_id_seq`,
	`CREATE SEQUENCE s3_repo.path_id_seq`,
	`CREATE SEQUENCE s3_repo.host_id_seq`,
	`CREATE SEQUENCE s3_repo.file_id_seq`,
	`CREATE SEQUENCE s3_repo.tag_id_seq`,

	`CREATE TABLE s3_repo.s3_buckets (
		bucket_id   BIGINT PRIMARY KEY DEFAULT nextval('s3_repo.bucket_id_seq'),
		bucket_name VARCHAR(64) NOT NULL UNIQUE
	)`,

	`CREATE TABLE s3_repo.paths (
		path_id    BIGINT PRIMARY KEY DEFAULT nextval('s3_repo.path_id_seq'),
		local_path VARCHAR(1024) NOT NULL UNIQUE
	)`,

	`CREATE TABLE s3_repo.hosts (
		host_id         BIGINT PRIMARY KEY DEFAULT nextval('s3_repo.host_id_seq'),
		hostname        TEXT NOT NULL UNIQUE,
		max_cache_bytes BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE s3_repo.files (
		file_id        BIGINT PRIMARY KEY DEFAULT nextval('s3_repo.file_id_seq'),
		bucket_id      BIGINT NOT NULL REFERENCES s3_repo.s3_buckets (bucket_id),
		object_key     VARCHAR(1024) NOT NULL,
		path_id        BIGINT NOT NULL REFERENCES s3_repo.paths (path_id),
		published      BOOLEAN NOT NULL DEFAULT FALSE,
		-- origin is attribution, not a hard reference: it must survive
		-- decommissioning of the originating host.
		origin         BIGINT NOT NULL,
		md5            TEXT,
		b64            TEXT,
		guid           TEXT NOT NULL,
		file_size      BIGINT NOT NULL DEFAULT 0,
		date_created   TIMESTAMPTZ NOT NULL DEFAULT now(),
		date_uploaded  TIMESTAMPTZ,
		date_published TIMESTAMPTZ,
		date_archived  TIMESTAMPTZ,
		date_expired   TIMESTAMPTZ
	)`,

	`CREATE UNIQUE INDEX unq_bucket_key ON s3_repo.files (bucket_id, object_key)`,

	`CREATE UNIQUE INDEX unq_current_path ON s3_repo.files (path_id)
		WHERE published AND date_expired IS NULL`,

	`CREATE TABLE s3_repo.tags (
		tag_id   BIGINT PRIMARY KEY DEFAULT nextval('s3_repo.tag_id_seq'),
		tag_name TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE s3_repo.file_tags (
		file_id     BIGINT NOT NULL REFERENCES s3_repo.files (file_id) ON DELETE CASCADE,
		tag_id      BIGINT NOT NULL REFERENCES s3_repo.tags (tag_id),
		date_tagged TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (file_id, tag_id)
	)`,

	`CREATE TABLE s3_repo.path_tags (
		path_id     BIGINT NOT NULL REFERENCES s3_repo.paths (path_id),
		tag_id      BIGINT NOT NULL REFERENCES s3_repo.tags (tag_id),
		date_tagged TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (path_id, tag_id)
	)`,

	`CREATE TABLE s3_repo.downloads (
		file_id       BIGINT NOT NULL REFERENCES s3_repo.files (file_id) ON DELETE CASCADE,
		host_id       BIGINT NOT NULL REFERENCES s3_repo.hosts (host_id) ON DELETE CASCADE,
		downloaded_at TIMESTAMPTZ NOT NULL,
		last_access   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (file_id, host_id)
	)`,

	`CREATE VIEW s3_repo.current_files AS
		SELECT *
		FROM s3_repo.files
		WHERE published AND date_expired IS NULL`,

	// Untagged files appear with a NULL tag_id so that an empty tag
	// predicate still selects them.
	`CREATE VIEW s3_repo.all_file_tags AS
		SELECT f.file_id, t.tag_id
		FROM s3_repo.files f
			LEFT OUTER JOIN (
				SELECT file_id, tag_id
				FROM s3_repo.file_tags
				UNION
				SELECT f2.file_id, pt.tag_id
				FROM s3_repo.files f2
					JOIN s3_repo.path_tags pt USING (path_id)
			) t USING (file_id)`,

	`CREATE VIEW s3_repo.current_file_tags AS
		SELECT aft.file_id, aft.tag_id
		FROM s3_repo.all_file_tags aft
			JOIN s3_repo.current_files cf USING (file_id)`,

	`CREATE VIEW s3_repo.deletable_files AS
		SELECT f.*
		FROM s3_repo.files f
		WHERE NOT f.published
			AND f.date_expired IS NOT NULL
			AND NOT EXISTS (
				SELECT 1
				FROM s3_repo.downloads d
				WHERE d.file_id = f.file_id
			)`,

	`CREATE VIEW s3_repo.host_cache_stats AS
		SELECT h.host_id,
			coalesce(sum(f.file_size), 0)::bigint AS cache_bytes,
			(coalesce(sum(f.file_size), 0) - h.max_cache_bytes)::bigint AS overflow_bytes
		FROM s3_repo.hosts h
			LEFT OUTER JOIN s3_repo.downloads d USING (host_id)
			LEFT OUTER JOIN s3_repo.files f USING (file_id)
		GROUP BY h.host_id, h.max_cache_bytes`,
}

var dropDDL = []string{
	`DROP SCHEMA IF EXISTS s3_repo CASCADE`,
}

// SchemaExists reports whether the files table is present.
func SchemaExists(ctx context.Context, q Querier) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = 'files'
		)
	`, Schema).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schema: %w", err)
	}
	return exists, nil
}

// CreateSchema creates every table, sequence, index, and view. The caller is
// expected to have checked SchemaExists first.
func CreateSchema(ctx context.Context, q Querier) error {
	for _, stmt := range ddl {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", Classify(err))
		}
	}
	return nil
}

// DropSchema removes the whole namespace. Used by operators and tests.
func DropSchema(ctx context.Context, q Querier) error {
	for _, stmt := range dropDDL {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop schema: %w", Classify(err))
		}
	}
	return nil
}

// TruncateAll empties every table while keeping the schema.
func TruncateAll(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, `
		TRUNCATE TABLE
			s3_repo.downloads,
			s3_repo.file_tags,
			s3_repo.path_tags,
			s3_repo.tags,
			s3_repo.files,
			s3_repo.hosts,
			s3_repo.paths,
			s3_repo.s3_buckets
	`)
	if err != nil {
		return fmt.Errorf("failed to truncate: %w", Classify(err))
	}
	return nil
}
