package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wizzat/s3repo/pkg/db"
	"github.com/wizzat/s3repo/pkg/types"
)

// DownloadStore tracks which hosts hold which files locally.
type DownloadStore struct {
	q db.Querier
}

// Find returns the download row for (file, host), or nil.
func (s *DownloadStore) Find(ctx context.Context, fileID, hostID int64) (*types.Download, error) {
	var d types.Download
	err := s.q.QueryRow(ctx, `
		SELECT file_id, host_id, downloaded_at, last_access
		FROM s3_repo.downloads
		WHERE file_id = $1 AND host_id = $2
	`, fileID, hostID).Scan(&d.FileID, &d.HostID, &d.DownloadedAt, &d.LastAccess)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find download (%d, %d): %w", fileID, hostID, db.Classify(err))
	}
	return &d, nil
}

// Record upserts the download row for (file, host) with the given times.
// Used when a host fetches or first writes a file's bytes.
func (s *DownloadStore) Record(ctx context.Context, fileID, hostID int64, at time.Time) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO s3_repo.downloads (file_id, host_id, downloaded_at, last_access)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (file_id, host_id) DO UPDATE
		SET last_access = EXCLUDED.last_access
	`, fileID, hostID, at)
	if err != nil {
		return fmt.Errorf("failed to record download (%d, %d): %w", fileID, hostID, db.Classify(err))
	}
	return nil
}

// Touch updates last_access, creating the row if the host acquired the bytes
// out-of-band.
func (s *DownloadStore) Touch(ctx context.Context, fileID, hostID int64, at time.Time) error {
	return s.Record(ctx, fileID, hostID, at)
}

// Remove deletes the download row for (file, host). Missing rows are a
// no-op.
func (s *DownloadStore) Remove(ctx context.Context, fileID, hostID int64) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM s3_repo.downloads
		WHERE file_id = $1 AND host_id = $2
	`, fileID, hostID)
	if err != nil {
		return fmt.Errorf("failed to remove download (%d, %d): %w", fileID, hostID, db.Classify(err))
	}
	return nil
}

// PurgeHost drops every download row for a host. Used by decommission.
func (s *DownloadStore) PurgeHost(ctx context.Context, hostID int64) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM s3_repo.downloads
		WHERE host_id = $1
	`, hostID)
	if err != nil {
		return fmt.Errorf("failed to purge host %d downloads: %w", hostID, db.Classify(err))
	}
	return nil
}
