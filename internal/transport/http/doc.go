// Package http implements the HTTP handlers of the bucketd service.
// Handlers stay thin: they decode and validate requests, delegate to the
// services package and render either JSON, RFC 7807 problem details or a
// report document.
//
// # Endpoints
//
//	POST /api/v1/partitions         run a search, ?format=json|markdown|xlsx
//	GET  /api/v1/partitions/stream  WebSocket: request frame in, restart and result frames out
//	GET  /api/health                liveness and runtime counters
//	GET  /api/health/ready          readiness of the optimizer configuration
//	GET  /api/version               build information
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → BucketingService → Optimizer
//
// Errors from any layer are passed to errors.ErrorHandler, which maps
// AppError kinds to status codes.
package http
