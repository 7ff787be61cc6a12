// Package app assembles the services shared by the daemon and the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	fb "firebase.google.com/go/v4"

	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/domain/enrichment"
	"catalogsync/internal/domain/eventlog"
	"catalogsync/internal/infrastructure/firebase"
	"catalogsync/internal/infrastructure/memory"
	"catalogsync/internal/infrastructure/postgres"
	"catalogsync/internal/infrastructure/provider"
	"catalogsync/internal/infrastructure/providerfile"
	"catalogsync/internal/shared/config"
)

// Stores is one backend's set of repositories.
type Stores struct {
	Items     catalog.ItemRepository
	Providers catalog.ProviderRepository
	Buckets   aggregation.BucketStore
	Events    eventlog.EventStore
	Leases    eventlog.LeaseStore

	closers []func() error
}

// Close releases backend connections.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Dependencies holds all initialized application components.
type Dependencies struct {
	Config *config.Config
	Stores *Stores

	Client     *provider.Client
	Reconciler *catalogsync.Service
	Enricher   *enrichment.Service
	Engine     *aggregation.Engine
	EventLog   *eventlog.Log
	Processor  *eventlog.Processor

	firebaseApp *fb.App
}

// NewDependencies opens the configured backend and wires the services.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	d := &Dependencies{Config: cfg}

	stores, err := d.openStores(ctx)
	if err != nil {
		return nil, err
	}
	d.Stores = stores

	if cfg.Providers.File != "" {
		n, err := providerfile.Seed(ctx, stores.Providers, cfg.Providers.File)
		if err != nil {
			d.Close()
			return nil, err
		}
		log.Printf("Seeded %d providers from %s", n, cfg.Providers.File)
	}

	d.Client = provider.NewClient(cfg.Sync.RequestTimeout)
	d.Reconciler = catalogsync.NewService(d.Client, stores.Providers, stores.Items, cfg.Sync.UpsertConcurrency)
	d.Enricher = enrichment.NewService(d.Client, stores.Providers, stores.Items, cfg.Enrichment.ParallelLimit, cfg.Enrichment.SequentialRate)

	d.Engine = aggregation.NewEngine(stores.Items, stores.Buckets, aggregation.ProductDefinitions()...)
	d.Engine.SetMaxAttempts(cfg.Aggregation.MaxAttempts)

	if cfg.EventLog.Enabled {
		for _, c := range cfg.EventLog.Consumers {
			if _, err := eventlog.ConsumerDefinition(d.Engine, c); err != nil {
				d.Close()
				return nil, fmt.Errorf("invalid EVENTLOG_CONSUMERS: %w", err)
			}
		}
		d.EventLog = eventlog.NewLog(stores.Events)
		d.Processor = eventlog.NewProcessor(stores.Events, stores.Leases, d.Engine, cfg.EventLog.LeaseTTL)
		d.Reconciler.SetCreatedHook(d.EventLog)
	}

	if cfg.Firebase.AlertTopic != "" {
		if err := d.setupAlerts(ctx); err != nil {
			// Alerts are best effort; the sync still records its summary.
			log.Printf("Warning: Failed to initialize sync alerts: %v", err)
		}
	}

	return d, nil
}

func (d *Dependencies) openStores(ctx context.Context) (*Stores, error) {
	cfg := d.Config
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := postgres.New(cfg.Database.ConnectionString())
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.Println("Connected to database")
		return &Stores{
			Items:     postgres.NewItemRepository(db),
			Providers: postgres.NewProviderRepository(db),
			Buckets:   postgres.NewBucketStore(db),
			Events:    postgres.NewEventStore(db),
			Leases:    postgres.NewLeaseStore(db),
			closers:   []func() error{db.Close},
		}, nil

	case config.BackendFirestore:
		app, err := d.app(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firestore client: %w", err)
		}
		store := firebase.NewStore(client)
		log.Println("Connected to Firestore")
		return &Stores{
			Items:     store.Items(),
			Providers: store.Providers(),
			Buckets:   store.Buckets(),
			Events:    store.Events(),
			Leases:    store.Leases(),
			closers:   []func() error{store.Close},
		}, nil

	case config.BackendMemory:
		store := memory.New()
		log.Println("Using in-memory store")
		return &Stores{
			Items:     store.Items,
			Providers: store.Providers,
			Buckets:   store.Buckets,
			Events:    store.Events,
			Leases:    store.Leases,
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func (d *Dependencies) app(ctx context.Context) (*fb.App, error) {
	if d.firebaseApp != nil {
		return d.firebaseApp, nil
	}
	app, err := firebase.NewApp(ctx, d.Config.Firebase.ProjectID, d.Config.Firebase.CredentialsFile)
	if err != nil {
		return nil, err
	}
	d.firebaseApp = app
	return app, nil
}

func (d *Dependencies) setupAlerts(ctx context.Context) error {
	app, err := d.app(ctx)
	if err != nil {
		return err
	}
	alerter, err := firebase.NewAlerter(ctx, app, d.Config.Firebase.AlertTopic)
	if err != nil {
		return err
	}
	d.Reconciler.SetAlerter(alerter)
	log.Printf("Sync failure alerts enabled on topic %s", d.Config.Firebase.AlertTopic)
	return nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Stores == nil {
		return
	}
	if err := d.Stores.Close(); err != nil {
		log.Printf("Error closing stores: %v", err)
	}
}
