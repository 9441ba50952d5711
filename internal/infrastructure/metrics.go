package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"fxbuckets/internal/bucketing"
	"fxbuckets/internal/correlation"
)

// Restart outcomes used as the "outcome" attribute
const (
	OutcomeCompleted = "completed"
	OutcomeTruncated = "truncated"
	OutcomeFailed    = "failed"
)

// Metrics holds the application's instruments
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// Optimizer metrics
	OptimizationsTotal   metric.Int64Counter
	OptimizationDuration metric.Float64Histogram
	RestartsTotal        metric.Int64Counter
	RestartDuration      metric.Float64Histogram
	AcceptedMoves        metric.Int64Counter
	BestScore            metric.Float64Gauge

	// Table loading metrics
	RowsLoaded  metric.Int64Counter
	RowsSkipped metric.Int64Counter
}

// NewMetrics creates every instrument on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.OptimizationsTotal, err = meter.Int64Counter(
		"bucketing_optimizations_total",
		metric.WithDescription("Total number of partition searches"),
	); err != nil {
		return nil, err
	}
	if m.OptimizationDuration, err = meter.Float64Histogram(
		"bucketing_optimization_duration_seconds",
		metric.WithDescription("Partition search duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.RestartsTotal, err = meter.Int64Counter(
		"bucketing_restarts_total",
		metric.WithDescription("Total number of optimizer restarts by outcome"),
	); err != nil {
		return nil, err
	}
	if m.RestartDuration, err = meter.Float64Histogram(
		"bucketing_restart_duration_seconds",
		metric.WithDescription("Duration of a single optimizer restart in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.AcceptedMoves, err = meter.Int64Counter(
		"bucketing_accepted_moves_total",
		metric.WithDescription("Total number of improving relocations accepted"),
	); err != nil {
		return nil, err
	}
	if m.BestScore, err = meter.Float64Gauge(
		"bucketing_best_score",
		metric.WithDescription("Score of the most recent winning partition"),
	); err != nil {
		return nil, err
	}

	if m.RowsLoaded, err = meter.Int64Counter(
		"correlation_rows_loaded_total",
		metric.WithDescription("Total number of correlation rows read"),
	); err != nil {
		return nil, err
	}
	if m.RowsSkipped, err = meter.Int64Counter(
		"correlation_rows_skipped_total",
		metric.WithDescription("Total number of correlation rows skipped as malformed"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRestart records one finished optimizer restart
func (m *Metrics) RecordRestart(ctx context.Context, rr bucketing.RestartResult) {
	if m == nil {
		return
	}

	outcome := OutcomeCompleted
	switch {
	case rr.Err != nil:
		outcome = OutcomeFailed
	case rr.Truncated:
		outcome = OutcomeTruncated
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	m.RestartsTotal.Add(ctx, 1, attrs)
	m.RestartDuration.Record(ctx, rr.Duration.Seconds(), attrs)
	if rr.Moves > 0 {
		m.AcceptedMoves.Add(ctx, int64(rr.Moves))
	}
}

// RecordOptimization records a finished search; res is nil when it failed
func (m *Metrics) RecordOptimization(ctx context.Context, source string, res *bucketing.Result, duration time.Duration) {
	if m == nil {
		return
	}

	status := "success"
	if res == nil {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	)

	m.OptimizationsTotal.Add(ctx, 1, attrs)
	m.OptimizationDuration.Record(ctx, duration.Seconds(), attrs)
	if res != nil {
		m.BestScore.Record(ctx, res.Score.Value, metric.WithAttributes(attribute.String("source", source)))
	}
}

// RecordLoad records the rows read from one correlation table
func (m *Metrics) RecordLoad(ctx context.Context, stats correlation.LoadStats) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("format", string(stats.Format)))
	m.RowsLoaded.Add(ctx, int64(stats.Rows), attrs)
	if stats.Skipped > 0 {
		m.RowsSkipped.Add(ctx, int64(stats.Skipped), attrs)
	}
}

// RecordHTTPRequest records one served HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}
