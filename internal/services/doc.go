// Package services holds the application logic shared by the CLI and the HTTP
// server: loading a correlation table, running the bucket optimizer with
// tracing and metrics, and writing the configured reports.
//
// Services take their collaborators in the constructor and accept a
// *slog.Logger (nil selects slog.Default()):
//
//	loader := correlation.NewLoader(tableOpts, storageOpts, logger)
//	svc := services.NewBucketingService(loader, metrics, tracer, logger)
//	idx, _, err := svc.LoadTable(ctx, "s3://fx-data/correlation.csv.zst")
//	run, err := svc.Partition(ctx, idx, cfg.Optimizer.Bucketing(), services.PartitionOptions{Source: "cli"})
//	err = svc.WriteReports(ctx, run, cfg.Output)
package services
