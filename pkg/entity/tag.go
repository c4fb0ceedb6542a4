package entity

import (
	"context"
	"fmt"

	"github.com/wizzat/s3repo/pkg/db"
)

// TagStore interns tag names. Tag rows are created on first use and never
// deleted implicitly.
type TagStore struct {
	q      db.Querier
	byName map[string]int64
}

func (s *TagStore) invalidate() { s.byName = map[string]int64{} }

// FindIDs returns the tag ids for the given names. Missing names are
// omitted; this is the query-side resolver where an unknown tag simply
// matches nothing.
func (s *TagStore) FindIDs(ctx context.Context, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(names))
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := s.byName[name]; ok {
			ids = append(ids, id)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return ids, nil
	}

	rows, err := s.q.Query(ctx, `
		SELECT tag_id, tag_name
		FROM s3_repo.tags
		WHERE tag_name = ANY($1)
	`, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tags: %w", db.Classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		s.byName[name] = id
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve tags: %w", db.Classify(err))
	}
	return ids, nil
}

// FindOrCreateIDs bulk-interns tag names: one statement inserts the missing
// names, one select returns every id. This is the tagging-side resolver.
func (s *TagStore) FindOrCreateIDs(ctx context.Context, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO s3_repo.tags (tag_name)
		SELECT unnest($1::text[])
		ON CONFLICT (tag_name) DO NOTHING
	`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to intern tags: %w", db.Classify(err))
	}
	return s.FindIDs(ctx, names)
}
