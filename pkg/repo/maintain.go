package repo

import (
	"context"
	"time"

	"github.com/wizzat/s3repo/pkg/metrics"
)

// MaintainCurrentHost prunes this host's blob cache. Stale files are
// reclaimed first: published files past the published-stale window lose
// their local copy, locally-originated drafts past the unpublished-stale
// window are purged outright. If the cache is still over budget, remaining
// host-local files are unlinked in least-recently-accessed order.
//
// Per-file failures are logged and skipped; accounting is approximate and
// the budget may be overshot transiently.
func (r *Repository) MaintainCurrentHost(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.HostMaintenanceDuration)
		metrics.MaintenanceCyclesTotal.WithLabelValues("host").Inc()
	}()

	host, err := r.CurrentHost(ctx)
	if err != nil {
		return err
	}

	var cacheBytes, overflow int64
	err = r.sess.QueryRow(ctx, `
		SELECT cache_bytes, overflow_bytes
		FROM s3_repo.host_cache_stats
		WHERE host_id = $1
	`, host.HostID).Scan(&cacheBytes, &overflow)
	if err != nil {
		return err
	}
	metrics.CacheBytes.Set(float64(cacheBytes))
	metrics.CacheOverflowBytes.Set(float64(overflow))

	now := r.clock.Now()
	staleBefore := now.Add(-time.Duration(r.cfg.PublishedStaleSeconds) * time.Second)
	draftBefore := now.Add(-time.Duration(r.cfg.UnpublishedStaleSeconds) * time.Second)

	stale, err := r.stores.Files.FindBySQL(ctx, `
		SELECT`+fileSelectList+`
		FROM s3_repo.files f
			LEFT OUTER JOIN (
				SELECT *
				FROM s3_repo.downloads
				WHERE host_id = $1
			) d USING (file_id)
		WHERE d.last_access < $2
			OR (
				NOT f.published
				AND f.origin = $1
				AND f.date_published IS NULL
				AND f.date_created < $3
			)
		ORDER BY f.file_id
	`, host.HostID, staleBefore, draftBefore)
	if err != nil {
		return err
	}

	for _, row := range stale {
		f := r.file(row)
		overflow -= f.FileSize

		var opErr error
		if f.Published {
			opErr = f.Unlink(ctx)
		} else {
			opErr = f.Purge(ctx)
		}
		if opErr != nil {
			metrics.MaintenanceErrorsTotal.WithLabelValues("host").Inc()
			r.logger.Error().Err(opErr).Int64("file_id", f.FileID).Msg("failed to reclaim stale file")
		}
	}

	// A zero budget means the host has none; only stale files are reclaimed.
	if host.MaxCacheBytes == 0 || overflow <= 0 {
		return nil
	}

	// Still over budget: evict by last access.
	local, err := r.stores.Files.FindBySQL(ctx, `
		SELECT`+fileSelectList+`
		FROM s3_repo.files f
			JOIN s3_repo.downloads d USING (file_id)
		WHERE d.host_id = $1
		ORDER BY d.last_access
	`, host.HostID)
	if err != nil {
		return err
	}

	for _, row := range local {
		if overflow <= 0 {
			break
		}
		f := r.file(row)
		if err := f.Unlink(ctx); err != nil {
			metrics.MaintenanceErrorsTotal.WithLabelValues("host").Inc()
			r.logger.Error().Err(err).Int64("file_id", f.FileID).Msg("failed to evict file")
			continue
		}
		overflow -= f.FileSize
	}
	return nil
}

// MaintainDatabase is the cluster-wide sweep: published files superseded at
// their path are expired, and fully retired rows (expired, unpublished,
// unreferenced by any download) are deleted. Safe to run concurrently on
// every host; coordination happens through the relational store.
func (r *Repository) MaintainDatabase(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.DatabaseMaintenanceDuration)
		metrics.MaintenanceCyclesTotal.WithLabelValues("database").Inc()
	}()

	superseded, err := r.stores.Files.FindBySQL(ctx, `
		SELECT`+fileSelectList+`
		FROM s3_repo.files f
			LEFT OUTER JOIN s3_repo.current_files cf USING (file_id)
		WHERE f.published
			AND f.date_expired IS NULL
			AND cf.file_id IS NULL
		ORDER BY f.file_id
	`)
	if err != nil {
		return err
	}
	for _, row := range superseded {
		f := r.file(row)
		if err := f.Expire(ctx); err != nil {
			metrics.MaintenanceErrorsTotal.WithLabelValues("database").Inc()
			r.logger.Error().Err(err).Int64("file_id", f.FileID).Msg("failed to expire superseded file")
		}
	}

	deletable, err := r.stores.Files.FindBySQL(ctx, `
		SELECT`+fileSelectList+`
		FROM s3_repo.deletable_files
		ORDER BY file_id
	`)
	if err != nil {
		return err
	}
	for _, row := range deletable {
		if _, err := r.stores.Files.Delete(ctx, row.FileID); err != nil {
			metrics.MaintenanceErrorsTotal.WithLabelValues("database").Inc()
			r.logger.Error().Err(err).Int64("file_id", row.FileID).Msg("failed to delete retired file")
		}
	}
	return nil
}
