package main

import (
	"net/http"

	"catalogsync/internal/app"
	httphandlers "catalogsync/internal/interfaces/http"
	"catalogsync/internal/interfaces/scheduler"
	"catalogsync/internal/shared/middleware"
	"catalogsync/internal/shared/telemetry"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *app.Dependencies, sched *scheduler.Scheduler) http.Handler {
	mux := http.NewServeMux()

	jobHandler := httphandlers.NewJobHandler(sched)
	catalogHandler := httphandlers.NewCatalogHandler(deps.Stores.Providers, deps.Stores.Buckets, deps.Engine.Names())

	mux.HandleFunc("GET /health", httphandlers.HandleHealth)

	mux.HandleFunc("GET /api/jobs", jobHandler.HandleListJobs)
	mux.HandleFunc("POST /api/jobs/{name}", jobHandler.HandleTriggerJob)

	mux.HandleFunc("GET /api/providers", catalogHandler.HandleListProviders)
	mux.HandleFunc("GET /api/providers/{id}", catalogHandler.HandleGetProvider)
	mux.HandleFunc("GET /api/aggregates/{name}", catalogHandler.HandleListBuckets)

	if deps.Config.Telemetry.Enabled {
		mux.Handle("GET /metrics", telemetry.MetricsHandler())
	}

	return middleware.Chain(mux,
		middleware.Telemetry(deps.Config.Telemetry.ServiceName),
		middleware.Logging,
		middleware.Tracing,
	)
}
