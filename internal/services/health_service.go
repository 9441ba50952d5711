package services

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"fxbuckets/internal/bucketing"
)

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	optimizer bucketing.Config
	startTime time.Time
	logger    *slog.Logger

	runs     atomic.Int64
	inFlight atomic.Int64
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service for the given build
func NewHealthService(version, buildTime string, optimizer bucketing.Config, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		optimizer: optimizer,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// RunStarted and RunFinished track partition searches in flight
func (hs *HealthService) RunStarted() {
	hs.inFlight.Add(1)
}

// RunFinished marks a search as done
func (hs *HealthService) RunFinished() {
	hs.inFlight.Add(-1)
	hs.runs.Add(1)
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"goroutines":     runtime.NumGoroutine(),
			"runs_completed": hs.runs.Load(),
			"runs_in_flight": hs.inFlight.Load(),
		},
	}
}

// ReadinessCheck reports whether the optimizer can accept work
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  map[string]interface{}{},
	}

	optimizer := ServiceHealth{Status: "ready"}
	if err := hs.optimizer.Validate(); err != nil {
		optimizer = ServiceHealth{Status: "not_ready", Message: err.Error()}
		status.Status = "not_ready"
		hs.logger.WarnContext(ctx, "optimizer configuration invalid", slog.String("error", err.Error()))
	}
	status.Services["optimizer"] = optimizer

	return status
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}
