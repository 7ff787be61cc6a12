// Package providerfile loads provider records from a YAML seed file and
// keeps the provider repository in step with it.
package providerfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"catalogsync/internal/domain/catalog"
)

// File is the seed file layout.
type File struct {
	Providers []catalog.Provider `yaml:"providers"`
}

var ErrInvalidProvider = errors.New("invalid provider entry")

// Load reads and validates a seed file. Unknown fields are rejected.
func Load(path string) ([]catalog.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider file: %w", err)
	}
	return Parse(data)
}

// Parse decodes seed file contents.
func Parse(data []byte) ([]catalog.Provider, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse provider file: %w", err)
	}

	seen := make(map[string]bool, len(f.Providers))
	for i, p := range f.Providers {
		switch {
		case p.ID == "":
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidProvider, i)
		case p.APIBaseURL == "":
			return nil, fmt.Errorf("%w: %s has no apiBaseUrl", ErrInvalidProvider, p.ID)
		case seen[p.ID]:
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidProvider, p.ID)
		}
		seen[p.ID] = true
	}
	return f.Providers, nil
}

// Seed writes every provider in the file to repo. Stored run summaries
// are kept by the repository.
func Seed(ctx context.Context, repo catalog.ProviderRepository, path string) (int, error) {
	providers, err := Load(path)
	if err != nil {
		return 0, err
	}
	for i := range providers {
		if err := repo.Put(ctx, &providers[i]); err != nil {
			return i, fmt.Errorf("failed to seed provider %s: %w", providers[i].ID, err)
		}
	}
	return len(providers), nil
}

// debounce collapses the burst of events editors produce on save.
const debounce = 250 * time.Millisecond

// Watch reseeds repo whenever the file changes until ctx is cancelled.
// The parent directory is watched so atomic renames are seen.
func Watch(ctx context.Context, repo catalog.ProviderRepository, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Provider file watcher error: %v", err)
		case <-timer.C:
			n, err := Seed(ctx, repo, path)
			if err != nil {
				log.Printf("Provider file reload failed: %v", err)
				continue
			}
			log.Printf("Provider file reloaded: %d providers", n)
		}
	}
}
