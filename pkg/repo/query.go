package repo

import (
	"context"
	"fmt"
	"strings"
)

// TagQuery is a tag predicate over the repository. Zero value matches every
// current file.
type TagQuery struct {
	// Any selects files carrying at least one of these tags.
	Any []string

	// All selects files carrying every one of these tags.
	All []string

	// Exclude rejects files carrying any of these tags. Requires a
	// positive predicate (Any or All); excluding alone would scan the
	// world.
	Exclude []string

	// IncludeUnpublished widens the search from current files to every
	// file version.
	IncludeUnpublished bool
}

// FindTagged returns the files satisfying the tag predicate. Tag names that
// were never interned match nothing: an unknown name in All (or an Any set
// that resolves empty) short-circuits to an empty result.
func (r *Repository) FindTagged(ctx context.Context, q TagQuery) ([]*File, error) {
	if len(q.Exclude) > 0 && len(q.Any) == 0 && len(q.All) == 0 {
		return nil, fmt.Errorf("%w: exclude requires any or all", ErrAPIMisuse)
	}

	allIDs, err := r.stores.Tags.FindIDs(ctx, q.All)
	if err != nil {
		return nil, err
	}
	if len(allIDs) < len(dedupe(q.All)) {
		return nil, nil
	}

	anyIDs, err := r.stores.Tags.FindIDs(ctx, q.Any)
	if err != nil {
		return nil, err
	}
	if len(q.Any) > 0 && len(anyIDs) == 0 {
		return nil, nil
	}

	exclIDs, err := r.stores.Tags.FindIDs(ctx, q.Exclude)
	if err != nil {
		return nil, err
	}

	sql, args := compileTagQuery(q.IncludeUnpublished, anyIDs, allIDs, exclIDs)
	rows, err := r.stores.Files.FindBySQL(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return r.files(rows), nil
}

// compileTagQuery renders the grouped predicate over the tag link view.
// The WHERE hint narrows the grouped rows to the mentioned tags whenever a
// positive predicate exists; exclusion counting still works because excluded
// tags are part of the hint set.
func compileTagQuery(includeUnpublished bool, anyIDs, allIDs, exclIDs []int64) (string, []any) {
	sourceView := "s3_repo.current_file_tags"
	if includeUnpublished {
		sourceView = "s3_repo.all_file_tags"
	}

	whereFilters := []string{"TRUE"}
	havingFilters := []string{"TRUE"}
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(allIDs) > 0 {
		havingFilters = append(havingFilters, fmt.Sprintf(
			"sum(CASE WHEN tag_id = ANY(%s) THEN 1 ELSE 0 END) = %s",
			arg(allIDs), arg(len(allIDs)),
		))
	}
	if len(anyIDs) > 0 {
		havingFilters = append(havingFilters, fmt.Sprintf(
			"sum(CASE WHEN tag_id = ANY(%s) THEN 1 ELSE 0 END) >= 1",
			arg(anyIDs),
		))
	}
	if len(exclIDs) > 0 {
		havingFilters = append(havingFilters, fmt.Sprintf(
			"sum(CASE WHEN tag_id = ANY(%s) THEN 1 ELSE 0 END) = 0",
			arg(exclIDs),
		))
	}

	if len(anyIDs) > 0 || len(allIDs) > 0 {
		hint := make([]int64, 0, len(anyIDs)+len(allIDs)+len(exclIDs))
		hint = append(hint, allIDs...)
		hint = append(hint, anyIDs...)
		hint = append(hint, exclIDs...)
		whereFilters = append(whereFilters, fmt.Sprintf("tag_id = ANY(%s)", arg(hint)))
	}

	sql := fmt.Sprintf(`
		SELECT`+fileSelectList+`
		FROM s3_repo.files
		WHERE file_id IN (
			SELECT file_id
			FROM %s
			WHERE %s
			GROUP BY file_id
			HAVING %s
		)
		ORDER BY file_id`,
		sourceView,
		strings.Join(whereFilters, "\n\t\t\t\tAND "),
		strings.Join(havingFilters, "\n\t\t\t\tAND "),
	)
	return sql, args
}

// fileSelectList mirrors the entity layer's canonical select list; queries
// compiled here are executed through FileStore.FindBySQL.
const fileSelectList = `
	file_id, bucket_id, object_key, path_id, published, origin,
	coalesce(md5, ''), coalesce(b64, ''), guid, file_size,
	date_created, date_uploaded, date_published, date_archived, date_expired`

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
