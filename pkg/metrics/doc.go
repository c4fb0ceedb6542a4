/*
Package metrics exposes Prometheus instrumentation for the repository.

Metric families cover the lifecycle engine (adds, publishes, expires,
purges), byte transfer (upload/download counts by outcome, byte volumes), the
host cache (accounted bytes, overflow, unlinks), the two maintenance loops
(cycle durations and per-file error counts), and backups.

All metrics register in init. Handler returns the promhttp handler the
daemonized maintainer serves; one-shot CLI invocations simply never start
the listener. Timer is a small helper for observing operation durations:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HostMaintenanceDuration)
*/
package metrics
