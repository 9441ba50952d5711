// Package app wires the bucketd HTTP service together: configuration,
// logging, OpenTelemetry, the bucketing service, the chi router with its
// middleware chain, and the HTTP server lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, an optional YAML file and FXB_* env vars
//	2. Initialize logging and OpenTelemetry providers
//	3. Create the correlation loader, bucketing and health services
//	4. Set up middleware and routes
//	5. Start the HTTP server and wait for SIGINT/SIGTERM
//
// # Usage
//
//	a, err := app.NewApplication(configPath)
//	if err != nil {
//	    return err
//	}
//	return a.Run()
package app
