package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"fxbuckets/internal/config"
	"fxbuckets/internal/correlation"
	"fxbuckets/internal/infrastructure"
	"fxbuckets/internal/report"
	"fxbuckets/internal/services"
)

// Version is set at compile time
var Version = "dev"

const defaultReportPath = "buckets_report.md"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("fxbuckets failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	in          string
	out         string
	csv         string
	xlsx        string
	valueColumn string
	buckets     int
	restarts    int
	threshold   float64
	seed        int64
	workers     int
	timeout     time.Duration
}

func parseFlags(args []string) (*options, *flag.FlagSet, error) {
	opts := &options{}
	fs := flag.NewFlagSet("fxbuckets", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&opts.in, "in", "", "correlation table: local path, .gz/.zst/.lz4, .xlsx or s3://bucket/key")
	fs.StringVar(&opts.out, "out", "", "markdown report path (defaults to "+defaultReportPath+")")
	fs.StringVar(&opts.csv, "csv", "", "per-item bucket assignment CSV path")
	fs.StringVar(&opts.xlsx, "xlsx", "", "XLSX workbook path")
	fs.StringVar(&opts.valueColumn, "value-column", "", "correlation column: header name or zero-based index")
	fs.IntVar(&opts.buckets, "buckets", 0, "number of buckets")
	fs.IntVar(&opts.restarts, "restarts", 0, "number of random restarts")
	fs.Float64Var(&opts.threshold, "threshold", 0, "absolute correlation at or above which a pair is high")
	fs.Int64Var(&opts.seed, "seed", 0, "random seed; 0 seeds from the clock")
	fs.IntVar(&opts.workers, "workers", 0, "restarts run concurrently")
	fs.DurationVar(&opts.timeout, "timeout", 0, "search deadline, e.g. 30s; the best partition so far is kept")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs, nil
}

// apply overlays explicitly set flags onto cfg
func (o *options) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "in":
			cfg.Input.Path = o.in
		case "out":
			cfg.Output.Markdown = o.out
		case "csv":
			cfg.Output.CSV = o.csv
		case "xlsx":
			cfg.Output.XLSX = o.xlsx
		case "value-column":
			cfg.Input.ValueColumn = o.valueColumn
		case "buckets":
			cfg.Optimizer.Buckets = o.buckets
		case "restarts":
			cfg.Optimizer.Restarts = o.restarts
		case "threshold":
			cfg.Optimizer.Threshold = o.threshold
		case "seed":
			cfg.Optimizer.Seed = o.seed
		case "workers":
			cfg.Optimizer.Workers = o.workers
		case "timeout":
			cfg.Optimizer.Timeout = o.timeout
		}
	})

	if cfg.Output.Markdown == "" && cfg.Output.CSV == "" && cfg.Output.XLSX == "" {
		cfg.Output.Markdown = defaultReportPath
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, fs, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	opts.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Input.Path == "" {
		return fmt.Errorf("no correlation table given: pass -in or set FXB_INPUT_PATH")
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer otelProviders.Shutdown(context.Background())

	ctx = infrastructure.EnsureTraceID(ctx)

	metrics, err := infrastructure.NewMetrics(otelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	loader := correlation.NewLoader(cfg.Input.Table(), cfg.Storage.Options(), logger)
	svc := services.NewBucketingService(loader, metrics, otelProviders.Tracer, logger)

	logger.InfoContext(ctx, "loading correlation table", slog.String("source", cfg.Input.Path))
	idx, stats, err := svc.LoadTable(ctx, cfg.Input.Path)
	if err != nil {
		return err
	}

	runResult, err := svc.Partition(ctx, idx, cfg.Optimizer.Bucketing(), services.PartitionOptions{
		Source:      "cli",
		ValueColumn: stats.ValueColumn,
	})
	if err != nil {
		return err
	}

	if err := svc.WriteReports(ctx, runResult, cfg.Output); err != nil {
		return err
	}

	printSummary(stdout, runResult, stats, cfg.Output)
	return nil
}

func printSummary(w io.Writer, run *services.Run, stats correlation.LoadStats, out config.OutputConfig) {
	res := run.Result

	fmt.Fprintf(w, "\n=== CORRELATION BUCKETS (%d items, %d pairs) ===\n", stats.Items, stats.Pairs)
	for i, bucket := range res.Partition {
		fmt.Fprintf(w, "Bucket %d [%d high]: %s\n", i+1, res.Score.BucketHighCounts[i], strings.Join(bucket, ", "))
	}

	fmt.Fprintln(w, "\n=== SCORE ===")
	fmt.Fprintf(w, "High pairs:        %d (threshold %s)\n", res.Score.HighCount, report.FormatValue(run.Config.Threshold))
	fmt.Fprintf(w, "Worst bucket high: %d\n", res.Score.MaxBucketHigh())
	fmt.Fprintf(w, "Sum |corr|:        %.2f\n", res.Score.SumAbs)
	fmt.Fprintf(w, "Score:             %.2f\n", res.Score.Value)
	fmt.Fprintf(w, "Restarts:          %d completed, %d failed, %d truncated, %d skipped (winner #%d, seed %d)\n",
		res.Completed, res.Failed, res.Truncated, res.Skipped, res.Restart, res.Seed)
	fmt.Fprintf(w, "Duration:          %s\n", res.Duration.Round(time.Millisecond))

	for _, path := range []string{out.Markdown, out.CSV, out.XLSX} {
		if path != "" {
			fmt.Fprintf(w, "Report:            %s\n", path)
		}
	}
}
