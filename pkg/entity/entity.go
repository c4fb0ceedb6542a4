package entity

import (
	"fmt"
	"strings"

	"github.com/wizzat/s3repo/pkg/db"
)

// Stores bundles one store per entity, all sharing the caller's ambient
// transaction. The dimension stores (bucket, path, host, tag) keep
// per-session identity caches; InvalidateCaches drops them and is wired to
// the session's rollback hook.
type Stores struct {
	Buckets   *BucketStore
	Paths     *PathStore
	Hosts     *HostStore
	Tags      *TagStore
	Files     *FileStore
	FileTags  *FileTagStore
	PathTags  *PathTagStore
	Downloads *DownloadStore
}

// NewStores builds the store set over q.
func NewStores(q db.Querier) *Stores {
	return &Stores{
		Buckets:   &BucketStore{q: q, byName: map[string]int64{}},
		Paths:     &PathStore{q: q, byPath: map[string]int64{}},
		Hosts:     &HostStore{q: q, byName: map[string]int64{}},
		Tags:      &TagStore{q: q, byName: map[string]int64{}},
		Files:     &FileStore{q: q},
		FileTags:  &FileTagStore{q: q},
		PathTags:  &PathTagStore{q: q},
		Downloads: &DownloadStore{q: q},
	}
}

// InvalidateCaches drops every identity cache. Called on rollback: cached
// rows may describe inserts the rollback undid.
func (s *Stores) InvalidateCaches() {
	s.Buckets.invalidate()
	s.Paths.invalidate()
	s.Hosts.invalidate()
	s.Tags.invalidate()
}

// whereEq renders an equality filter over the given columns, starting the
// placeholder numbering at argOffset+1. Slice values compile to = ANY, nil
// values to IS NULL.
func whereEq(filter map[string]any, argOffset int) (string, []any) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	// Deterministic order keeps generated SQL stable for tests and logs.
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sortStrings(cols)

	var (
		clauses []string
		args    []any
	)
	for _, col := range cols {
		v := filter[col]
		switch v.(type) {
		case nil:
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", col))
		case []int64, []string:
			args = append(args, v)
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", col, argOffset+len(args)))
		default:
			args = append(args, v)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, argOffset+len(args)))
		}
	}
	return strings.Join(clauses, " AND "), args
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j] < ss[j-1]; j-- {
			ss[j], ss[j-1] = ss[j-1], ss[j]
		}
	}
}
