// Package config provides centralized configuration management for fxbuckets.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources in increasing order of precedence:
//
//	1. Default values (Default)
//	2. A YAML configuration file (fxbuckets.yaml, configs/fxbuckets.yaml, or an explicit path)
//	3. Environment variables
//
// # Environment Variables
//
// All environment variables follow the pattern FXB_<SECTION>_<KEY>:
//
//	FXB_OPTIMIZER_BUCKETS=5
//	FXB_OPTIMIZER_RESTARTS=100
//	FXB_OPTIMIZER_THRESHOLD=65
//	FXB_OPTIMIZER_SEED=42
//	FXB_INPUT_PATH=s3://correlations/daily.csv.gz
//	FXB_STORAGE_ENDPOINT=minio:9000
//	FXB_LOGGING_LEVEL=debug
//
// # Validation
//
// Load validates the optimizer section through bucketing.Config.Validate, so an
// invalid bucket count, restart count or threshold surfaces as a CONFIG AppError
// before any data is read.
package config
