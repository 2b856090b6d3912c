// Package metrics exports run statistics in Prometheus textfile format for
// node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/pgsave/internal/logging"
)

// RunMetrics represents the subset of run statistics exported as Prometheus metrics.
type RunMetrics struct {
	Stanza    string
	Operation string
	Hostname  string
	Version   string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode     int
	ErrorCount   int
	WarningCount int

	BackupType      string
	BackupLabel     string
	FilesCopied     int
	FilesReferenced int
	FilesFailed     int
	BytesCopied     int64

	BackupsRetained int
	BackupsExpired  int
	SegmentsExpired int
}

// PrometheusExporter writes run metrics in Prometheus textfile format.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Export writes the given metrics snapshot to pgsave.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}

	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}

	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	tmpPath := filepath.Join(pe.textfileDir, "pgsave.prom.tmp")
	finalPath := filepath.Join(pe.textfileDir, "pgsave.prom")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", tmpPath, err)
	}
	defer f.Close()

	labels := fmt.Sprintf("stanza=%q,operation=%q", m.Stanza, m.Operation)

	// Helper to write a single metric with HELP/TYPE
	writeMetric := func(name, mtype, help, value string) {
		fmt.Fprintf(f, "# HELP %s %s\n", name, help)
		fmt.Fprintf(f, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(f, "%s{%s} %s\n", name, labels, value)
	}

	// Timestamps
	startTs := float64(m.StartTime.Unix())
	endTs := float64(m.EndTime.Unix())
	if m.EndTime.IsZero() && !m.StartTime.IsZero() {
		endTs = float64(m.StartTime.Unix() + int64(m.Duration.Seconds()))
	}

	// Status gauge: 0=success, 1=warning, 2=error
	status := 0
	if m.ExitCode != 0 {
		status = 2
	} else if m.WarningCount > 0 {
		status = 1
	}

	writeMetric(
		"pgsave_run_start_time_seconds",
		"gauge",
		"Unix timestamp of run start",
		fmt.Sprintf("%.0f", startTs),
	)

	writeMetric(
		"pgsave_run_end_time_seconds",
		"gauge",
		"Unix timestamp of run end",
		fmt.Sprintf("%.0f", endTs),
	)

	writeMetric(
		"pgsave_run_duration_seconds",
		"gauge",
		"Duration of last run in seconds",
		fmt.Sprintf("%.2f", m.Duration.Seconds()),
	)

	writeMetric(
		"pgsave_run_exit_code",
		"gauge",
		"Exit code of last run",
		fmt.Sprintf("%d", m.ExitCode),
	)

	writeMetric(
		"pgsave_run_status",
		"gauge",
		"Status of last run (0=success,1=warning,2=error)",
		fmt.Sprintf("%d", status),
	)

	writeMetric(
		"pgsave_run_errors_total",
		"gauge",
		"Total number of errors in last run",
		fmt.Sprintf("%d", m.ErrorCount),
	)

	writeMetric(
		"pgsave_run_warnings_total",
		"gauge",
		"Total number of warnings in last run",
		fmt.Sprintf("%d", m.WarningCount),
	)

	if m.Operation == "backup" {
		writeMetric(
			"pgsave_backup_bytes_copied",
			"gauge",
			"Bytes copied by the last backup",
			fmt.Sprintf("%d", m.BytesCopied),
		)

		writeMetric(
			"pgsave_backup_files_copied_total",
			"gauge",
			"Files copied by the last backup",
			fmt.Sprintf("%d", m.FilesCopied),
		)

		writeMetric(
			"pgsave_backup_files_referenced_total",
			"gauge",
			"Files reused from a prior snapshot by the last backup",
			fmt.Sprintf("%d", m.FilesReferenced),
		)

		writeMetric(
			"pgsave_backup_files_failed_total",
			"gauge",
			"Files that failed to copy during the last backup",
			fmt.Sprintf("%d", m.FilesFailed),
		)
	}

	// Retention counters are meaningful for backup runs too, since a
	// successful backup triggers expiration.
	writeMetric(
		"pgsave_backups_retained",
		"gauge",
		"Backups retained after the last expiration",
		fmt.Sprintf("%d", m.BackupsRetained),
	)

	writeMetric(
		"pgsave_backups_expired_total",
		"gauge",
		"Backups removed by the last expiration",
		fmt.Sprintf("%d", m.BackupsExpired),
	)

	writeMetric(
		"pgsave_archive_segments_expired_total",
		"gauge",
		"Archive segments removed by the last expiration",
		fmt.Sprintf("%d", m.SegmentsExpired),
	)

	// Static info metric with labels
	fmt.Fprintf(f, "# HELP pgsave_info Static information about this instance\n")
	fmt.Fprintf(f, "# TYPE pgsave_info gauge\n")
	fmt.Fprintf(
		f,
		"pgsave_info{stanza=%q,hostname=%q,version=%q,backup_type=%q,backup_label=%q} 1\n",
		m.Stanza,
		m.Hostname,
		m.Version,
		m.BackupType,
		m.BackupLabel,
	)

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync metrics file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename metrics file to %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}

	return nil
}
