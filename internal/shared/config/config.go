package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Store backends
const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Firebase    FirebaseConfig
	Providers   ProvidersConfig
	Sync        SyncConfig
	Enrichment  EnrichmentConfig
	Aggregation AggregationConfig
	EventLog    EventLogConfig
	Scheduler   SchedulerConfig
	Telemetry   TelemetryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type FirebaseConfig struct {
	CredentialsFile string
	ProjectID       string
	// AlertTopic is the FCM topic failed sync runs are sent to; empty disables alerts.
	AlertTopic string
}

type ProvidersConfig struct {
	// File is a YAML list of provider records seeded into the store at startup.
	File  string
	Watch bool
}

type SyncConfig struct {
	PageSize          int
	UpsertConcurrency int
	RequestTimeout    time.Duration
}

type EnrichmentConfig struct {
	ParallelLimit  int
	SequentialRate float64
}

type AggregationConfig struct {
	MaxAttempts int
}

type EventLogConfig struct {
	Enabled   bool
	LeaseTTL  time.Duration
	Consumers []string
	// Listen delivers triggers through Postgres NOTIFY instead of in process.
	Listen bool
}

// JobSchedule binds a cron expression to the targets of one job: provider
// ids for a sync batch, aggregate names for a rollup.
type JobSchedule struct {
	Spec    string
	Targets []string
}

type SchedulerConfig struct {
	Enabled          bool
	WorkerCount      int
	JobDelay         time.Duration
	QueueSize        int
	RunOnStartup     bool
	Timezone         string
	SyncBatches      []JobSchedule
	EnrichParallel   string
	EnrichSequential string
	Aggregations     []JobSchedule
	ConsumeEvents    string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
}

const (
	defaultSyncBatches  = "0 10 * * *=cba,anz,nab;2 10 * * *=wbc,bw"
	defaultAggregations = "0 11 * * *=productBrands;2 11 * * *=productCategories;4 11 * * *=productEligibility;6 11 * * *=productFeatures;8 11 * * *=productConstraints"
)

func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	pageSize, err := getIntEnv("SYNC_PAGE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	upsertConcurrency, err := getIntEnv("SYNC_UPSERT_CONCURRENCY", 10)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := time.ParseDuration(getEnv("SYNC_REQUEST_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_REQUEST_TIMEOUT: %w", err)
	}

	parallelLimit, err := getIntEnv("ENRICH_PARALLEL_LIMIT", 0)
	if err != nil {
		return nil, err
	}
	sequentialRate, err := strconv.ParseFloat(getEnv("ENRICH_SEQUENTIAL_RATE", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ENRICH_SEQUENTIAL_RATE: %w", err)
	}

	maxAttempts, err := getIntEnv("AGGREGATION_MAX_ATTEMPTS", 8)
	if err != nil {
		return nil, err
	}

	leaseTTL, err := time.ParseDuration(getEnv("EVENTLOG_LEASE_TTL", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVENTLOG_LEASE_TTL: %w", err)
	}

	// Parse scheduler configuration
	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 3)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	syncBatches, err := parseSchedules("SCHEDULER_SYNC_BATCHES", getEnv("SCHEDULER_SYNC_BATCHES", defaultSyncBatches))
	if err != nil {
		return nil, err
	}
	aggregations, err := parseSchedules("SCHEDULER_AGGREGATIONS", getEnv("SCHEDULER_AGGREGATIONS", defaultAggregations))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "catalogsync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "catalogsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			AlertTopic:      getEnv("FIREBASE_ALERT_TOPIC", ""),
		},
		Providers: ProvidersConfig{
			File:  getEnv("PROVIDERS_FILE", ""),
			Watch: getBoolEnv("PROVIDERS_WATCH", false),
		},
		Sync: SyncConfig{
			PageSize:          pageSize,
			UpsertConcurrency: upsertConcurrency,
			RequestTimeout:    requestTimeout,
		},
		Enrichment: EnrichmentConfig{
			ParallelLimit:  parallelLimit,
			SequentialRate: sequentialRate,
		},
		Aggregation: AggregationConfig{
			MaxAttempts: maxAttempts,
		},
		EventLog: EventLogConfig{
			Enabled:   getBoolEnv("EVENTLOG_ENABLED", true),
			LeaseTTL:  leaseTTL,
			Consumers: splitList(getEnv("EVENTLOG_CONSUMERS", "productBrands,productCategories")),
			Listen:    getBoolEnv("EVENTLOG_LISTEN", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getBoolEnv("SCHEDULER_ENABLED", true),
			WorkerCount:      schedulerWorkers,
			JobDelay:         schedulerJobDelay,
			QueueSize:        schedulerQueueSize,
			RunOnStartup:     getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
			Timezone:         getEnv("SCHEDULER_TIMEZONE", "UTC"),
			SyncBatches:      syncBatches,
			EnrichParallel:   getEnv("SCHEDULER_ENRICH_PARALLEL", "30 10 * * *"),
			EnrichSequential: getEnv("SCHEDULER_ENRICH_SEQUENTIAL", "35 10 * * *"),
			Aggregations:     aggregations,
			ConsumeEvents:    getEnv("SCHEDULER_CONSUME_EVENTS", "*/15 * * * *"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "catalogsync"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendPostgres, BackendMemory:
	case BackendFirestore:
		if c.Firebase.ProjectID == "" && c.Firebase.CredentialsFile == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE is required when STORE_BACKEND=firestore")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: want postgres, firestore or memory", c.Store.Backend)
	}

	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be positive")
	}
	if c.EventLog.LeaseTTL <= 0 {
		return fmt.Errorf("EVENTLOG_LEASE_TTL must be positive")
	}
	if c.EventLog.Listen && c.Store.Backend != BackendPostgres {
		c.EventLog.Listen = false
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid SCHEDULER_TIMEZONE: %w", err)
	}
	for name, spec := range map[string]string{
		"SCHEDULER_ENRICH_PARALLEL":   c.Scheduler.EnrichParallel,
		"SCHEDULER_ENRICH_SEQUENTIAL": c.Scheduler.EnrichSequential,
		"SCHEDULER_CONSUME_EVENTS":    c.Scheduler.ConsumeEvents,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// parseSchedules reads "spec=a,b;spec=c" into job schedules.
func parseSchedules(key, value string) ([]JobSchedule, error) {
	var out []JobSchedule
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		spec, targets, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid %s entry %q: want cron=target,...", key, entry)
		}
		spec = strings.TrimSpace(spec)
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid %s cron %q: %w", key, spec, err)
		}
		list := splitList(targets)
		if len(list) == 0 {
			return nil, fmt.Errorf("invalid %s entry %q: no targets", key, entry)
		}
		out = append(out, JobSchedule{Spec: spec, Targets: list})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
