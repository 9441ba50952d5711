package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"fxbuckets/internal/bucketing"
	"fxbuckets/internal/config"
	"fxbuckets/internal/correlation"
	"fxbuckets/internal/infrastructure"
	"fxbuckets/internal/report"
)

// TableLoader loads a correlation table from a source location
type TableLoader interface {
	Load(ctx context.Context, source string) (*correlation.Index, correlation.LoadStats, error)
}

// Run is one completed partition search
type Run struct {
	ID          string
	Source      string
	Index       *correlation.Index
	Config      bucketing.Config
	Result      *bucketing.Result
	ValueColumn string
	StartedAt   time.Time
}

// PartitionOptions tunes a single search
type PartitionOptions struct {
	// Source labels the caller in metrics and logs, e.g. "cli" or "http".
	Source string
	// Observer receives every finished restart.
	Observer func(bucketing.RestartResult)
	// ValueColumn names the correlation column in reports.
	ValueColumn string
}

// BucketingService orchestrates loading, optimizing and reporting
type BucketingService struct {
	loader  TableLoader
	metrics *infrastructure.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewBucketingService creates the service; metrics and tracer may be nil
func NewBucketingService(loader TableLoader, metrics *infrastructure.Metrics, tracer trace.Tracer, logger *slog.Logger) *BucketingService {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(infrastructure.InstrumentationName)
	}
	return &BucketingService{
		loader:  loader,
		metrics: metrics,
		tracer:  tracer,
		logger:  infrastructure.WithComponent(logger, "bucketing_service"),
	}
}

// LoadTable reads a correlation table
func (s *BucketingService) LoadTable(ctx context.Context, source string) (*correlation.Index, correlation.LoadStats, error) {
	ctx, span := s.tracer.Start(ctx, "correlation.load", trace.WithAttributes(
		attribute.String("correlation.source", source),
	))
	defer span.End()

	idx, stats, err := s.loader.Load(ctx, source)
	s.metrics.RecordLoad(ctx, stats)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, stats, fmt.Errorf("load correlation table %s: %w", source, err)
	}

	span.SetAttributes(
		attribute.Int("correlation.items", stats.Items),
		attribute.Int("correlation.pairs", stats.Pairs),
		attribute.Int("correlation.skipped", stats.Skipped),
	)
	return idx, stats, nil
}

// Partition runs the optimizer over every item of idx
func (s *BucketingService) Partition(ctx context.Context, idx *correlation.Index, cfg bucketing.Config, opts PartitionOptions) (*Run, error) {
	if opts.Source == "" {
		opts.Source = "api"
	}
	run := &Run{
		ID:          uuid.New().String(),
		Source:      opts.Source,
		Index:       idx,
		Config:      cfg,
		ValueColumn: opts.ValueColumn,
		StartedAt:   time.Now(),
	}

	ctx, span := s.tracer.Start(ctx, "bucketing.optimize", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.source", opts.Source),
		attribute.Int("bucketing.buckets", cfg.Buckets),
		attribute.Int("bucketing.restarts", cfg.Restarts),
		attribute.Int("bucketing.workers", cfg.Workers),
		attribute.Int64("bucketing.seed", cfg.Seed),
	))
	defer span.End()

	logger := s.logger.With(slog.String("run_id", run.ID))

	optimizer, err := bucketing.NewOptimizer(cfg,
		bucketing.WithLogger(logger),
		bucketing.WithRestartObserver(func(rr bucketing.RestartResult) {
			s.metrics.RecordRestart(ctx, rr)
			if opts.Observer != nil {
				opts.Observer(rr)
			}
		}),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	items := idx.Items()
	if missing := len(idx.Missing(items)); missing > 0 {
		logger.WarnContext(ctx, "correlation table has gaps, missing pairs score as maximal",
			slog.Int("missing_pairs", missing),
			slog.Float64("missing_value", correlation.MissingValue),
		)
	}

	res, err := optimizer.Optimize(ctx, items, idx)
	s.metrics.RecordOptimization(ctx, opts.Source, res, time.Since(run.StartedAt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("bucketing.score", res.Score.Value),
		attribute.Int("bucketing.high_count", res.Score.HighCount),
		attribute.Int("bucketing.winning_restart", res.Restart),
		attribute.Int("bucketing.failed", res.Failed),
	)

	run.Config = optimizer.Config()
	run.Result = res
	return run, nil
}

// WriteReports writes every configured report for run; empty paths are skipped
func (s *BucketingService) WriteReports(ctx context.Context, run *Run, out config.OutputConfig) error {
	threshold := run.Config.Threshold
	p := run.Result.Partition

	if out.Markdown != "" {
		opts := report.DefaultMarkdownOptions()
		opts.Threshold = threshold
		if run.ValueColumn != "" {
			opts.ValueColumn = run.ValueColumn
		}
		if err := writeFile(out.Markdown, func(f *os.File) error {
			return report.WriteMarkdown(f, p, run.Index, opts)
		}); err != nil {
			return fmt.Errorf("write markdown report: %w", err)
		}
		s.logger.InfoContext(ctx, "markdown report written", slog.String("path", out.Markdown))
	}

	if out.CSV != "" {
		if err := writeFile(out.CSV, func(f *os.File) error {
			return report.WriteAssignmentCSV(f, p, run.Index, threshold)
		}); err != nil {
			return fmt.Errorf("write assignment csv: %w", err)
		}
		s.logger.InfoContext(ctx, "assignment csv written", slog.String("path", out.CSV))
	}

	if out.XLSX != "" {
		if err := ensureDir(out.XLSX); err != nil {
			return err
		}
		if err := report.WriteWorkbook(out.XLSX, p, run.Index, threshold); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
		s.logger.InfoContext(ctx, "workbook written", slog.String("path", out.XLSX))
	}

	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return nil
}
