// pkg/pipeline/metrics.go
package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a pipeline
type Metrics struct {
	records          *prometheus.CounterVec
	batches          *prometheus.CounterVec
	redactions       *prometheus.CounterVec
	evaluationErrors prometheus.Counter
	actionErrors     prometheus.Counter
	stageDuration    *prometheus.HistogramVec
	projection       prometheus.Gauge
	substituted      prometheus.Gauge
	checkpoint       prometheus.Gauge
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg gets a private registry, so tests never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "piiredact",
			Name:      "records_total",
			Help:      "Records classified, by outcome (clean or quarantined).",
		}, []string{"outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "piiredact",
			Name:      "batches_total",
			Help:      "Batches processed, by status.",
		}, []string{"status"}),
		redactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "piiredact",
			Name:      "redactions_total",
			Help:      "Substituted cells, by reason.",
		}, []string{"reason"}),
		evaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piiredact",
			Name:      "evaluation_errors_total",
			Help:      "Constraint evaluations that errored and were counted as failures.",
		}),
		actionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piiredact",
			Name:      "action_errors_total",
			Help:      "Redaction actions that errored and produced NULL.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "piiredact",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage per batch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"stage"}),
		projection: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "piiredact",
			Name:      "projection_version",
			Help:      "Number of times the redaction projection has been recomputed.",
		}),
		substituted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "piiredact",
			Name:      "substituted_columns",
			Help:      "Columns currently substituted by the redaction projection.",
		}),
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "piiredact",
			Name:      "checkpoint_offset",
			Help:      "Next source offset to process.",
		}),
	}

	reg.MustRegister(
		m.records,
		m.batches,
		m.redactions,
		m.evaluationErrors,
		m.actionErrors,
		m.stageDuration,
		m.projection,
		m.substituted,
		m.checkpoint,
	)
	return m
}

// ObserveStage records the duration of a stage
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordBatch records the counters of a finished batch
func (m *Metrics) RecordBatch(result *BatchResult) {
	if !result.Success {
		m.batches.WithLabelValues("failed").Inc()
		return
	}
	m.batches.WithLabelValues("committed").Inc()
	m.records.WithLabelValues("clean").Add(float64(result.CleanRows))
	m.records.WithLabelValues("quarantined").Add(float64(result.QuarantinedRows))
	m.evaluationErrors.Add(float64(result.EvaluationErrors))
	m.actionErrors.Add(float64(result.ActionErrors))
}

// RecordRedactions counts substituted cells by reason
func (m *Metrics) RecordRedactions(reason string, n int) {
	m.redactions.WithLabelValues(reason).Add(float64(n))
}

// SetProjection records the projection version and its width
func (m *Metrics) SetProjection(version, substituted int) {
	m.projection.Set(float64(version))
	m.substituted.Set(float64(substituted))
}

// SetCheckpoint records the committed source offset
func (m *Metrics) SetCheckpoint(offset int64) {
	m.checkpoint.Set(float64(offset))
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// percentage safely calculates a percentage, avoiding division by zero
func percentage(value, total float64) float64 {
	if total == 0 {
		return 0
	}
	return (value / total) * 100
}

// Report renders a run summary for the console
func (s *RunSummary) Report() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`
Run Report
==========
Run ID:                  %s
Source:                  %s
Duration:                %s
Offsets:                 %d -> %d

Batches
-------
Total Batches:           %d
Committed Batches:       %d (%.1f%%)
Failed Batches:          %d

Records
-------
Total Rows:              %d
Clean Rows:              %d (%.1f%%)
Quarantined Rows:        %d (%.1f%%)
Rows Merged:             %d
Cells Redacted:          %d
Evaluation Errors:       %d
Action Errors:           %d
Average Throughput:      %.2f rows/sec

Projection
----------
Recomputations:          %d
Substituted Columns:     %s
`,
		s.RunID,
		s.Source,
		formatDuration(s.Duration),
		s.StartOffset, s.EndOffset,

		s.Batches,
		s.SuccessfulBatches, s.SuccessRate(),
		s.FailedBatches,

		s.TotalRows,
		s.CleanRows, percentage(float64(s.CleanRows), float64(s.TotalRows)),
		s.QuarantinedRows, percentage(float64(s.QuarantinedRows), float64(s.TotalRows)),
		s.MergedRows,
		s.Redactions,
		s.EvaluationErrors,
		s.ActionErrors,
		s.Throughput,

		s.ProjectionVersions,
		strings.Join(s.SubstitutedColumns, ", "),
	))

	if len(s.ErrorCategories) > 0 {
		sb.WriteString("\nError Distribution\n------------------\n")

		categories := make([]ErrorCategory, 0, len(s.ErrorCategories))
		total := 0
		for category, count := range s.ErrorCategories {
			categories = append(categories, category)
			total += count
		}
		sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

		for _, category := range categories {
			count := s.ErrorCategories[category]
			sb.WriteString(fmt.Sprintf("- %s: %d (%.1f%%)\n",
				category.String(), count, percentage(float64(count), float64(total))))
		}
	}

	return sb.String()
}
