package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"catalogsync/internal/app"
	"catalogsync/internal/infrastructure/postgres/listener"
	"catalogsync/internal/infrastructure/providerfile"
	"catalogsync/internal/interfaces/scheduler"
	"catalogsync/internal/shared/config"
	"catalogsync/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	deps, err := app.NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	pool := scheduler.NewWorkerPool(cfg.Scheduler.WorkerCount, cfg.Scheduler.JobDelay, cfg.Scheduler.QueueSize)
	sched := scheduler.NewScheduler(pool, loc)
	if err := app.RegisterTriggers(sched, deps); err != nil {
		return err
	}

	// Creation events reach consumers through NOTIFY when the store is
	// postgres, otherwise through the worker pool.
	var eventListener *listener.EventListener
	if deps.Processor != nil {
		if cfg.EventLog.Listen {
			eventListener = listener.NewEventListener(cfg.Database.ConnectionString(), deps.Processor, cfg.EventLog.Consumers)
			eventListener.Start(ctx)
		} else {
			deps.EventLog.SetDispatcher(scheduler.NewPoolDispatcher(pool, deps.Processor, cfg.EventLog.Consumers))
		}
	}

	if cfg.Providers.File != "" && cfg.Providers.Watch {
		go func() {
			if err := providerfile.Watch(ctx, deps.Stores.Providers, cfg.Providers.File); err != nil {
				log.Printf("Provider file watch stopped: %v", err)
			}
		}()
	}

	if cfg.Scheduler.Enabled {
		sched.Start(cfg.Scheduler.RunOnStartup)
	} else {
		// Triggers stay available through the job API.
		log.Println("Scheduler is disabled; jobs run on demand only")
		pool.Start()
	}

	handler := SetupRoutes(deps, sched)
	srv := StartServer(cfg.Server.Host+":"+cfg.Server.Port, handler)

	<-ctx.Done()
	GracefulShutdown(srv, sched, eventListener, shutdownTimeout)
	return nil
}
