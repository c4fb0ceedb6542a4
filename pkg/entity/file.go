package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wizzat/s3repo/pkg/db"
	"github.com/wizzat/s3repo/pkg/types"
)

// fileSelect is the canonical select list, in declared column order.
// md5 and b64 are nullable in the schema; the empty string means unset.
const fileSelect = `
	file_id, bucket_id, object_key, path_id, published, origin,
	coalesce(md5, ''), coalesce(b64, ''), guid, file_size,
	date_created, date_uploaded, date_published, date_archived, date_expired`

func scanFile(row pgx.Row) (*types.File, error) {
	var f types.File
	err := row.Scan(
		&f.FileID, &f.BucketID, &f.ObjectKey, &f.PathID, &f.Published, &f.Origin,
		&f.MD5, &f.B64, &f.GUID, &f.FileSize,
		&f.DateCreated, &f.DateUploaded, &f.DatePublished, &f.DateArchived, &f.DateExpired,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFiles(rows pgx.Rows) ([]*types.File, error) {
	defer rows.Close()
	var files []*types.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read files: %w", db.Classify(err))
	}
	return files, nil
}

// FileStore is the entity store for file rows.
type FileStore struct {
	q db.Querier
}

// FindByID returns the file row, or nil when absent.
func (s *FileStore) FindByID(ctx context.Context, id int64) (*types.File, error) {
	f, err := scanFile(s.q.QueryRow(ctx, `
		SELECT`+fileSelect+`
		FROM s3_repo.files
		WHERE file_id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file %d: %w", id, db.Classify(err))
	}
	return f, nil
}

// FindByKey returns the file with the given (bucket_id, object_key), or nil.
func (s *FileStore) FindByKey(ctx context.Context, bucketID int64, objectKey string) (*types.File, error) {
	f, err := scanFile(s.q.QueryRow(ctx, `
		SELECT`+fileSelect+`
		FROM s3_repo.files
		WHERE bucket_id = $1 AND object_key = $2
	`, bucketID, objectKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file %d/%q: %w", bucketID, objectKey, db.Classify(err))
	}
	return f, nil
}

// FindBy returns every file matching the equality filter. Slice values
// compile to IN sets, nil values to IS NULL.
func (s *FileStore) FindBy(ctx context.Context, filter map[string]any) ([]*types.File, error) {
	where, args := whereEq(filter, 0)
	rows, err := s.q.Query(ctx, `
		SELECT`+fileSelect+`
		FROM s3_repo.files
		WHERE `+where+`
		ORDER BY file_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", db.Classify(err))
	}
	return scanFiles(rows)
}

// FindBySQL runs a parameterized query whose select list must be the
// canonical file columns (selecting from a files-shaped view is fine).
func (s *FileStore) FindBySQL(ctx context.Context, sql string, args ...any) ([]*types.File, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", db.Classify(err))
	}
	return scanFiles(rows)
}

// FindOrCreate attempts to insert the candidate row and returns the winning
// row for (bucket_id, object_key) — the candidate's on success, the
// concurrent winner's on a lost race. Callers detect loss by comparing GUIDs.
func (s *FileStore) FindOrCreate(ctx context.Context, candidate *types.File) (*types.File, error) {
	if existing, err := s.FindByKey(ctx, candidate.BucketID, candidate.ObjectKey); err != nil || existing != nil {
		return existing, err
	}

	f, err := scanFile(s.q.QueryRow(ctx, `
		INSERT INTO s3_repo.files (
			bucket_id, object_key, path_id, published, origin,
			md5, b64, guid, file_size,
			date_created, date_uploaded, date_published, date_archived, date_expired
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (bucket_id, object_key) DO NOTHING
		RETURNING`+fileSelect,
		candidate.BucketID, candidate.ObjectKey, candidate.PathID, candidate.Published, candidate.Origin,
		candidate.MD5, candidate.B64, candidate.GUID, candidate.FileSize,
		candidate.DateCreated, candidate.DateUploaded, candidate.DatePublished, candidate.DateArchived, candidate.DateExpired,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race; surface the winner.
		return s.FindByKey(ctx, candidate.BucketID, candidate.ObjectKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert file %q: %w", candidate.ObjectKey, db.Classify(err))
	}
	return f, nil
}

// Insert writes an exact row, including its file_id. Used by restore, where
// ids come from the dump.
func (s *FileStore) Insert(ctx context.Context, f *types.File) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO s3_repo.files (
			file_id, bucket_id, object_key, path_id, published, origin,
			md5, b64, guid, file_size,
			date_created, date_uploaded, date_published, date_archived, date_expired
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15)
	`,
		f.FileID, f.BucketID, f.ObjectKey, f.PathID, f.Published, f.Origin,
		f.MD5, f.B64, f.GUID, f.FileSize,
		f.DateCreated, f.DateUploaded, f.DatePublished, f.DateArchived, f.DateExpired,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file %d: %w", f.FileID, db.Classify(err))
	}
	return nil
}

// Update writes the row's mutable fields back and returns the live row.
// guid, bucket_id, object_key, and date_created are immutable after insert.
func (s *FileStore) Update(ctx context.Context, f *types.File) (*types.File, error) {
	updated, err := scanFile(s.q.QueryRow(ctx, `
		UPDATE s3_repo.files
		SET path_id        = $2,
			published      = $3,
			origin         = $4,
			md5            = NULLIF($5, ''),
			b64            = NULLIF($6, ''),
			file_size      = $7,
			date_uploaded  = $8,
			date_published = $9,
			date_archived  = $10,
			date_expired   = $11
		WHERE file_id = $1
		RETURNING`+fileSelect,
		f.FileID, f.PathID, f.Published, f.Origin,
		f.MD5, f.B64, f.FileSize,
		f.DateUploaded, f.DatePublished, f.DateArchived, f.DateExpired,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update file %d: row deleted", f.FileID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update file %d: %w", f.FileID, db.Classify(err))
	}
	return updated, nil
}

// Delete removes the row and returns the deleted count.
func (s *FileStore) Delete(ctx context.Context, fileID int64) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM s3_repo.files WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete file %d: %w", fileID, db.Classify(err))
	}
	return tag.RowsAffected(), nil
}

// RowLock takes a non-blocking exclusive lock on the row for the duration of
// the ambient transaction. Contention surfaces as db.ErrLockUnavailable.
func (s *FileStore) RowLock(ctx context.Context, fileID int64) (*types.File, error) {
	f, err := scanFile(s.q.QueryRow(ctx, `
		SELECT`+fileSelect+`
		FROM s3_repo.files
		WHERE file_id = $1
		FOR UPDATE NOWAIT
	`, fileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock file %d: %w", fileID, db.Classify(err))
	}
	return f, nil
}

// FindCurrent returns the path's current version, or nil.
func (s *FileStore) FindCurrent(ctx context.Context, pathID int64) (*types.File, error) {
	f, err := scanFile(s.q.QueryRow(ctx, `
		SELECT`+fileSelect+`
		FROM s3_repo.current_files
		WHERE path_id = $1
	`, pathID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find current file for path %d: %w", pathID, db.Classify(err))
	}
	return f, nil
}
