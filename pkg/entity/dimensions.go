package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wizzat/s3repo/pkg/db"
	"github.com/wizzat/s3repo/pkg/types"
)

// BucketStore maps bucket names to rows. Buckets are never deleted.
type BucketStore struct {
	q      db.Querier
	byName map[string]int64
}

func (s *BucketStore) invalidate() { s.byName = map[string]int64{} }

// FindByID returns the bucket row, or nil when absent.
func (s *BucketStore) FindByID(ctx context.Context, id int64) (*types.Bucket, error) {
	var b types.Bucket
	err := s.q.QueryRow(ctx, `
		SELECT bucket_id, bucket_name
		FROM s3_repo.s3_buckets
		WHERE bucket_id = $1
	`, id).Scan(&b.BucketID, &b.BucketName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find bucket %d: %w", id, db.Classify(err))
	}
	return &b, nil
}

// FindOrCreate interns a bucket name, surviving a concurrent insert of the
// same name.
func (s *BucketStore) FindOrCreate(ctx context.Context, name string) (*types.Bucket, error) {
	if id, ok := s.byName[name]; ok {
		return &types.Bucket{BucketID: id, BucketName: name}, nil
	}

	var b types.Bucket
	err := s.q.QueryRow(ctx, `
		SELECT bucket_id, bucket_name
		FROM s3_repo.s3_buckets
		WHERE bucket_name = $1
	`, name).Scan(&b.BucketID, &b.BucketName)
	if err == nil {
		s.byName[name] = b.BucketID
		return &b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to find bucket %q: %w", name, db.Classify(err))
	}

	err = s.q.QueryRow(ctx, `
		INSERT INTO s3_repo.s3_buckets (bucket_name)
		VALUES ($1)
		ON CONFLICT (bucket_name) DO NOTHING
		RETURNING bucket_id, bucket_name
	`, name).Scan(&b.BucketID, &b.BucketName)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race; the winner's row is now visible.
		err = s.q.QueryRow(ctx, `
			SELECT bucket_id, bucket_name
			FROM s3_repo.s3_buckets
			WHERE bucket_name = $1
		`, name).Scan(&b.BucketID, &b.BucketName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to intern bucket %q: %w", name, db.Classify(err))
	}
	s.byName[name] = b.BucketID
	return &b, nil
}

// PathStore maps logical paths to rows. Paths are never deleted.
type PathStore struct {
	q      db.Querier
	byPath map[string]int64
}

func (s *PathStore) invalidate() { s.byPath = map[string]int64{} }

// FindByID returns the path row, or nil when absent.
func (s *PathStore) FindByID(ctx context.Context, id int64) (*types.Path, error) {
	var p types.Path
	err := s.q.QueryRow(ctx, `
		SELECT path_id, local_path
		FROM s3_repo.paths
		WHERE path_id = $1
	`, id).Scan(&p.PathID, &p.LocalPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find path %d: %w", id, db.Classify(err))
	}
	return &p, nil
}

// Find returns the path row for a logical path, or nil when absent.
func (s *PathStore) Find(ctx context.Context, localPath string) (*types.Path, error) {
	var p types.Path
	err := s.q.QueryRow(ctx, `
		SELECT path_id, local_path
		FROM s3_repo.paths
		WHERE local_path = $1
	`, localPath).Scan(&p.PathID, &p.LocalPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find path %q: %w", localPath, db.Classify(err))
	}
	return &p, nil
}

// FindOrCreate interns a logical path.
func (s *PathStore) FindOrCreate(ctx context.Context, localPath string) (*types.Path, error) {
	if id, ok := s.byPath[localPath]; ok {
		return &types.Path{PathID: id, LocalPath: localPath}, nil
	}

	p, err := s.Find(ctx, localPath)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.byPath[localPath] = p.PathID
		return p, nil
	}

	var created types.Path
	err = s.q.QueryRow(ctx, `
		INSERT INTO s3_repo.paths (local_path)
		VALUES ($1)
		ON CONFLICT (local_path) DO NOTHING
		RETURNING path_id, local_path
	`, localPath).Scan(&created.PathID, &created.LocalPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.Find(ctx, localPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to intern path %q: %w", localPath, db.Classify(err))
	}
	s.byPath[localPath] = created.PathID
	return &created, nil
}

// HostStore maps hostnames to rows.
type HostStore struct {
	q      db.Querier
	byName map[string]int64
}

func (s *HostStore) invalidate() { s.byName = map[string]int64{} }

// FindByID returns the host row, or nil when absent.
func (s *HostStore) FindByID(ctx context.Context, id int64) (*types.Host, error) {
	var h types.Host
	err := s.q.QueryRow(ctx, `
		SELECT host_id, hostname, max_cache_bytes
		FROM s3_repo.hosts
		WHERE host_id = $1
	`, id).Scan(&h.HostID, &h.Hostname, &h.MaxCacheBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find host %d: %w", id, db.Classify(err))
	}
	return &h, nil
}

// FindOrCreate interns a hostname.
func (s *HostStore) FindOrCreate(ctx context.Context, hostname string) (*types.Host, error) {
	if id, ok := s.byName[hostname]; ok {
		h, err := s.FindByID(ctx, id)
		if err != nil || h != nil {
			return h, err
		}
		// Cached row was deleted out from under us (decommission).
		delete(s.byName, hostname)
	}

	var h types.Host
	err := s.q.QueryRow(ctx, `
		SELECT host_id, hostname, max_cache_bytes
		FROM s3_repo.hosts
		WHERE hostname = $1
	`, hostname).Scan(&h.HostID, &h.Hostname, &h.MaxCacheBytes)
	if err == nil {
		s.byName[hostname] = h.HostID
		return &h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to find host %q: %w", hostname, db.Classify(err))
	}

	err = s.q.QueryRow(ctx, `
		INSERT INTO s3_repo.hosts (hostname)
		VALUES ($1)
		ON CONFLICT (hostname) DO NOTHING
		RETURNING host_id, hostname, max_cache_bytes
	`, hostname).Scan(&h.HostID, &h.Hostname, &h.MaxCacheBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.q.QueryRow(ctx, `
			SELECT host_id, hostname, max_cache_bytes
			FROM s3_repo.hosts
			WHERE hostname = $1
		`, hostname).Scan(&h.HostID, &h.Hostname, &h.MaxCacheBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to intern host %q: %w", hostname, db.Classify(err))
	}
	s.byName[hostname] = h.HostID
	return &h, nil
}

// SetMaxCacheBytes updates a host's cache budget.
func (s *HostStore) SetMaxCacheBytes(ctx context.Context, hostID, maxBytes int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE s3_repo.hosts
		SET max_cache_bytes = $2
		WHERE host_id = $1
	`, hostID, maxBytes)
	if err != nil {
		return fmt.Errorf("failed to update host %d cache budget: %w", hostID, db.Classify(err))
	}
	return nil
}

// Delete removes a host row. Download rows cascade.
func (s *HostStore) Delete(ctx context.Context, hostID int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM s3_repo.hosts WHERE host_id = $1`, hostID)
	if err != nil {
		return fmt.Errorf("failed to delete host %d: %w", hostID, db.Classify(err))
	}
	s.invalidate()
	return nil
}
