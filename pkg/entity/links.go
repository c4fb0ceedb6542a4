package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/wizzat/s3repo/pkg/db"
)

// FileTagStore links tags to specific file versions.
type FileTagStore struct {
	q db.Querier
}

// Attach links every tag id to the file. Already-attached tags are left
// untouched, so re-tagging is idempotent.
func (s *FileTagStore) Attach(ctx context.Context, fileID int64, tagIDs []int64, taggedAt time.Time) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO s3_repo.file_tags (file_id, tag_id, date_tagged)
		SELECT $1, unnest($2::bigint[]), $3
		ON CONFLICT (file_id, tag_id) DO NOTHING
	`, fileID, tagIDs, taggedAt)
	if err != nil {
		return fmt.Errorf("failed to tag file %d: %w", fileID, db.Classify(err))
	}
	return nil
}

// Detach removes the given tag links. Missing links are a no-op.
func (s *FileTagStore) Detach(ctx context.Context, fileID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		DELETE FROM s3_repo.file_tags
		WHERE file_id = $1 AND tag_id = ANY($2)
	`, fileID, tagIDs)
	if err != nil {
		return fmt.Errorf("failed to untag file %d: %w", fileID, db.Classify(err))
	}
	return nil
}

// TagIDs returns the ids of tags attached directly to the file.
func (s *FileTagStore) TagIDs(ctx context.Context, fileID int64) ([]int64, error) {
	rows, err := s.q.Query(ctx, `
		SELECT tag_id
		FROM s3_repo.file_tags
		WHERE file_id = $1
		ORDER BY tag_id
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %d tags: %w", fileID, db.Classify(err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PathTagStore links tags to every version at a path.
type PathTagStore struct {
	q db.Querier
}

// Attach links every tag id to the path, idempotently.
func (s *PathTagStore) Attach(ctx context.Context, pathID int64, tagIDs []int64, taggedAt time.Time) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO s3_repo.path_tags (path_id, tag_id, date_tagged)
		SELECT $1, unnest($2::bigint[]), $3
		ON CONFLICT (path_id, tag_id) DO NOTHING
	`, pathID, tagIDs, taggedAt)
	if err != nil {
		return fmt.Errorf("failed to tag path %d: %w", pathID, db.Classify(err))
	}
	return nil
}

// Detach removes the given tag links. Missing links are a no-op.
func (s *PathTagStore) Detach(ctx context.Context, pathID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		DELETE FROM s3_repo.path_tags
		WHERE path_id = $1 AND tag_id = ANY($2)
	`, pathID, tagIDs)
	if err != nil {
		return fmt.Errorf("failed to untag path %d: %w", pathID, db.Classify(err))
	}
	return nil
}
