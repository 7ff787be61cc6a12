package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"catalogsync/internal/domain/catalog"
)

// ProviderRepository implements the catalog.ProviderRepository interface for PostgreSQL
type ProviderRepository struct {
	db *DB
}

var _ catalog.ProviderRepository = (*ProviderRepository)(nil)

// NewProviderRepository creates a new PostgreSQL provider repository
func NewProviderRepository(db *DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// Get retrieves a provider by id
func (r *ProviderRepository) Get(ctx context.Context, providerID string) (*catalog.Provider, error) {
	query := `SELECT document, last_sync FROM providers WHERE id = $1`

	var doc, lastSync []byte
	err := r.db.QueryRowContext(ctx, query, providerID).Scan(&doc, &lastSync)
	if isNoRows(err) {
		return nil, catalog.ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return decodeProvider(doc, lastSync)
}

// Put creates or replaces a provider, keeping its last run summary
func (r *ProviderRepository) Put(ctx context.Context, provider *catalog.Provider) error {
	p := *provider
	p.LastSync = nil
	doc, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to marshal provider: %w", err)
	}

	query := `
		INSERT INTO providers (id, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, provider.ID, doc); err != nil {
		return fmt.Errorf("failed to put provider: %w", err)
	}
	return nil
}

// List returns all providers ordered by id
func (r *ProviderRepository) List(ctx context.Context) ([]*catalog.Provider, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT document, last_sync FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*catalog.Provider
	for rows.Next() {
		var doc, lastSync []byte
		if err := rows.Scan(&doc, &lastSync); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		p, err := decodeProvider(doc, lastSync)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate providers: %w", err)
	}
	return providers, nil
}

// SaveRunSummary overwrites the provider's last sync summary
func (r *ProviderRepository) SaveRunSummary(ctx context.Context, providerID string, summary catalog.RunSummary) error {
	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE providers SET last_sync = $2, updated_at = now() WHERE id = $1`,
		providerID, doc)
	if err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return catalog.ErrProviderNotFound
	}
	return nil
}

func decodeProvider(doc, lastSync []byte) (*catalog.Provider, error) {
	var p catalog.Provider
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider: %w", err)
	}
	if len(lastSync) > 0 {
		var s catalog.RunSummary
		if err := json.Unmarshal(lastSync, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
		}
		p.LastSync = &s
	}
	return &p, nil
}
