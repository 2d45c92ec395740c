// Package metrics exposes Prometheus instrumentation for backups, restores,
// integrity audits, failure alerts, scheduled jobs and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedesk_backups_total",
			Help: "Total number of backup attempts by type and outcome",
		},
		[]string{"type", "status"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servicedesk_backup_duration_seconds",
			Help:    "Wall-clock duration of backup attempts",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~17m
		},
		[]string{"type"},
	)

	BackupLastSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "servicedesk_backup_last_size_bytes",
			Help: "Size of the most recent successful backup artifact",
		},
		[]string{"type"},
	)

	BackupLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "servicedesk_backup_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful backup",
		},
		[]string{"type"},
	)

	BackupsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "servicedesk_backups_deleted_total",
			Help: "Total number of backups marked deleted",
		},
	)

	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedesk_restores_total",
			Help: "Total number of restore attempts by outcome",
		},
		[]string{"outcome"}, // "committed", "rejected", "rolled_back", "failed"
	)

	IntegrityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedesk_integrity_checks_total",
			Help: "Total number of recorded integrity checks",
		},
		[]string{"check_type", "status"},
	)

	OffsiteUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedesk_offsite_uploads_total",
			Help: "Total number of offsite artifact uploads",
		},
		[]string{"status"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedesk_failure_alerts_total",
			Help: "Total number of backup failure alerts by delivery outcome",
		},
		[]string{"outcome"}, // "sent", "failed", "short_circuited"
	)

	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedesk_scheduled_runs_total",
			Help: "Total number of scheduler job runs",
		},
		[]string{"job", "status"},
	)

	OperationInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "servicedesk_backup_operation_in_progress",
			Help: "1 while a backup or restore holds the live database",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servicedesk_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordBackup records the outcome of one backup attempt.
func RecordBackup(backupType string, duration time.Duration, size int64, err error) {
	BackupsTotal.WithLabelValues(backupType, statusLabel(err)).Inc()
	BackupDuration.WithLabelValues(backupType).Observe(duration.Seconds())
	if err == nil {
		BackupLastSizeBytes.WithLabelValues(backupType).Set(float64(size))
		BackupLastSuccess.WithLabelValues(backupType).Set(float64(time.Now().Unix()))
	}
}

func RecordRestore(outcome string) {
	RestoresTotal.WithLabelValues(outcome).Inc()
}

func RecordIntegrityCheck(checkType, status string) {
	IntegrityChecksTotal.WithLabelValues(checkType, status).Inc()
}

func RecordOffsiteUpload(err error) {
	OffsiteUploads.WithLabelValues(statusLabel(err)).Inc()
}

func RecordAlert(outcome string) {
	AlertsTotal.WithLabelValues(outcome).Inc()
}

func RecordScheduledRun(job string, err error) {
	ScheduledRuns.WithLabelValues(job, statusLabel(err)).Inc()
}

// TrackOperation flips the in-progress gauge around a backup or restore.
func TrackOperation(active bool) {
	if active {
		OperationInProgress.Set(1)
	} else {
		OperationInProgress.Set(0)
	}
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
