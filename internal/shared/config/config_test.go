package config

import (
	"slices"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "8080")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 5432)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, BackendPostgres)
	}
	if cfg.Sync.PageSize != 1000 {
		t.Errorf("Sync.PageSize = %d, want 1000", cfg.Sync.PageSize)
	}
	if len(cfg.Scheduler.SyncBatches) != 2 {
		t.Fatalf("len(SyncBatches) = %d, want 2", len(cfg.Scheduler.SyncBatches))
	}
	if got := cfg.Scheduler.SyncBatches[1]; got.Spec != "2 10 * * *" || !slices.Equal(got.Targets, []string{"wbc", "bw"}) {
		t.Errorf("SyncBatches[1] = %+v", got)
	}
	if len(cfg.Scheduler.Aggregations) != 5 {
		t.Errorf("len(Aggregations) = %d, want 5", len(cfg.Scheduler.Aggregations))
	}
	if !cfg.EventLog.Listen {
		t.Error("EventLog.Listen should default to true for postgres")
	}
}

func TestLoad_InvalidDBPort(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Error("Load() expected error for invalid DB_PORT, got nil")
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")

	_, err := Load()
	if err == nil {
		t.Error("Load() expected error for unknown STORE_BACKEND, got nil")
	}
}

func TestLoad_FirestoreRequiresProject(t *testing.T) {
	t.Setenv("STORE_BACKEND", "firestore")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error without FIREBASE_PROJECT_ID, got nil")
	}

	t.Setenv("FIREBASE_PROJECT_ID", "catalog-dev")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.EventLog.Listen {
		t.Error("EventLog.Listen must be off outside postgres")
	}
}

func TestLoad_Schedules(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
		want    int
	}{
		{name: "single", value: "0 10 * * *=cba", want: 1},
		{name: "trailing separator", value: "0 10 * * *=cba, anz ;", want: 1},
		{name: "bad cron", value: "every day=cba", wantErr: true},
		{name: "missing targets", value: "0 10 * * *=", wantErr: true},
		{name: "missing separator", value: "0 10 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SCHEDULER_SYNC_BATCHES", tt.value)
			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Error("Load() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if len(cfg.Scheduler.SyncBatches) != tt.want {
				t.Errorf("len(SyncBatches) = %d, want %d", len(cfg.Scheduler.SyncBatches), tt.want)
			}
		})
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	for _, key := range []string{"SYNC_PAGE_SIZE", "SYNC_UPSERT_CONCURRENCY", "ENRICH_PARALLEL_LIMIT", "AGGREGATION_MAX_ATTEMPTS", "SCHEDULER_WORKERS"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "lots")
			if _, err := Load(); err == nil {
				t.Errorf("Load() expected error for %s, got nil", key)
			}
		})
	}
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("FLAG", "YES")
	if !getBoolEnv("FLAG", false) {
		t.Error("getBoolEnv(YES) = false, want true")
	}
	t.Setenv("FLAG", "maybe")
	if getBoolEnv("FLAG", false) {
		t.Error("getBoolEnv(maybe) should fall back to default")
	}
}

func TestConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "n", SSLMode: "require"}
	want := "host=db port=5433 user=u password=p dbname=n sslmode=require"
	if got := c.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
