package providerfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/infrastructure/memory"
)

const seed = `
providers:
  - id: cba
    name: Commonwealth Bank
    apiBaseUrl: https://api.commbank.com.au/public/cds-au/v1/banking
    xv: "3"
  - id: anz
    name: ANZ
    apiBaseUrl: https://api.anz/cds-au/v1/banking
    xv: "3"
    headers:
      x-min-v: "1"
`

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParse(t *testing.T) {
	providers, err := Parse([]byte(seed))
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "cba", providers[0].ID)
	assert.Equal(t, "3", providers[0].APIVersion)
	assert.Equal(t, "1", providers[1].Headers["x-min-v"])
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown field", "providers:\n  - id: a\n    apiBaseUrl: u\n    token: x\n"},
		{"missing id", "providers:\n  - apiBaseUrl: u\n"},
		{"missing url", "providers:\n  - id: a\n"},
		{"duplicate", "providers:\n  - id: a\n    apiBaseUrl: u\n  - id: a\n    apiBaseUrl: v\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSeedKeepsSummary(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProviderRepository()
	path := writeFile(t, t.TempDir(), seed)

	n, err := Seed(ctx, repo, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, repo.SaveRunSummary(ctx, "cba", catalog.RunSummary{ProviderID: "cba", Status: catalog.StatusSuccess}))
	_, err = Seed(ctx, repo, path)
	require.NoError(t, err)

	p, err := repo.Get(ctx, "cba")
	require.NoError(t, err)
	require.NotNil(t, p.LastSync)
	assert.Equal(t, catalog.StatusSuccess, p.LastSync.Status)
}

func TestWatchReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := memory.NewProviderRepository()
	dir := t.TempDir()
	path := writeFile(t, dir, "providers: []\n")

	done := make(chan error, 1)
	go func() { done <- Watch(ctx, repo, path) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, seed)

	assert.Eventually(t, func() bool {
		list, _ := repo.List(ctx)
		return len(list) == 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
