package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle metrics
	FilesAdded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3repo_files_added_total",
			Help: "Total number of file rows created",
		},
	)

	FilesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3repo_files_published_total",
			Help: "Total number of publish transitions",
		},
	)

	FilesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3repo_files_expired_total",
			Help: "Total number of expire transitions",
		},
	)

	FilesPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3repo_files_purged_total",
			Help: "Total number of purged files",
		},
	)

	// Transfer metrics
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3repo_uploads_total",
			Help: "Total uploads by outcome",
		},
		[]string{"outcome"},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3repo_downloads_total",
			Help: "Total downloads by outcome",
		},
		[]string{"outcome"},
	)

	BytesUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3repo_bytes_uploaded_total",
			Help: "Total bytes sent to the object store",
		},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3repo_bytes_downloaded_total",
			Help: "Total bytes fetched from the object store",
		},
	)

	// Cache metrics
	CacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "s3repo_cache_bytes",
			Help: "Bytes currently accounted to this host's cache",
		},
	)

	CacheOverflowBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "s3repo_cache_overflow_bytes",
			Help: "Bytes over this host's cache budget (negative when under)",
		},
	)

	FilesUnlinked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3repo_files_unlinked_total",
			Help: "Total local copies dropped by the pruner",
		},
	)

	// Maintenance metrics
	HostMaintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "s3repo_host_maintenance_duration_seconds",
			Help:    "Duration of per-host cache maintenance cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	DatabaseMaintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "s3repo_database_maintenance_duration_seconds",
			Help:    "Duration of cluster sweep cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaintenanceCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3repo_maintenance_cycles_total",
			Help: "Total maintenance cycles by kind",
		},
		[]string{"kind"},
	)

	MaintenanceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3repo_maintenance_errors_total",
			Help: "Per-file maintenance failures by kind",
		},
		[]string{"kind"},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3repo_backups_total",
			Help: "Total backup runs by outcome",
		},
		[]string{"outcome"},
	)

	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "s3repo_backup_duration_seconds",
			Help:    "Duration of metadata backups",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(FilesAdded)
	prometheus.MustRegister(FilesPublished)
	prometheus.MustRegister(FilesExpired)
	prometheus.MustRegister(FilesPurged)

	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(BytesUploaded)
	prometheus.MustRegister(BytesDownloaded)

	prometheus.MustRegister(CacheBytes)
	prometheus.MustRegister(CacheOverflowBytes)
	prometheus.MustRegister(FilesUnlinked)

	prometheus.MustRegister(HostMaintenanceDuration)
	prometheus.MustRegister(DatabaseMaintenanceDuration)
	prometheus.MustRegister(MaintenanceCyclesTotal)
	prometheus.MustRegister(MaintenanceErrorsTotal)

	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupDuration)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
