package main

import (
	"flag"
	"log/slog"
	"os"

	"fxbuckets/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to fxbuckets.yaml or configs/fxbuckets.yaml)")
	flag.Parse()

	// Create application instance
	application, err := app.NewApplication(*configPath)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start application
	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
