package repo

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wizzat/s3repo/pkg/log"
	"github.com/wizzat/s3repo/pkg/metrics"
)

// Maintainer drives the maintenance loops on a ticker for deployments
// without an external scheduler. One-shot invocation via cron remains the
// documented default; the daemon is a convenience over the same two calls.
type Maintainer struct {
	repo     *Repository
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMaintainer creates a maintainer running every interval.
func NewMaintainer(r *Repository, interval time.Duration) *Maintainer {
	return &Maintainer{
		repo:     r,
		interval: interval,
		logger:   log.WithComponent("maintainer"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the maintenance loop.
func (m *Maintainer) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop stops the maintainer and waits for the current cycle to finish.
func (m *Maintainer) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// ServeMetrics exposes /metrics on addr for the daemonized maintainer.
func (m *Maintainer) ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error().Err(err).Str("addr", addr).Msg("metrics listener failed")
		}
	}()
}

func (m *Maintainer) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("maintainer started")

	// Run immediately on start.
	m.cycle(ctx)

	for {
		select {
		case <-ticker.C:
			m.cycle(ctx)
		case <-m.stopCh:
			m.logger.Info().Msg("maintainer stopped")
			return
		case <-ctx.Done():
			m.logger.Info().Msg("maintainer canceled")
			return
		}
	}
}

// cycle runs both loops in one transaction per cycle. Failures roll back
// and the loop continues at the next tick.
func (m *Maintainer) cycle(ctx context.Context) {
	if err := m.repo.MaintainCurrentHost(ctx); err != nil {
		m.logger.Error().Err(err).Msg("host maintenance failed")
		if rbErr := m.repo.Rollback(ctx); rbErr != nil {
			m.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return
	}
	if err := m.repo.MaintainDatabase(ctx); err != nil {
		m.logger.Error().Err(err).Msg("database maintenance failed")
		if rbErr := m.repo.Rollback(ctx); rbErr != nil {
			m.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return
	}
	if err := m.repo.Commit(ctx); err != nil {
		m.logger.Error().Err(err).Msg("maintenance commit failed")
	}
}
