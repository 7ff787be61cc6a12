package postgres

import "testing"

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT document FROM catalog_items WHERE id = $1", "SELECT document FROM catalog_items WHERE id = $1"},
		{"SELECT * FROM providers WHERE id = 'cba'", "SELECT * FROM providers WHERE id = '?'"},
		{"SELECT 'it''s'", "SELECT '?'"},
		{"SELECT * FROM t LIMIT 10", "SELECT * FROM t LIMIT ?"},
		{"SELECT v2 FROM t", "SELECT v2 FROM t"},
	}
	for _, tt := range tests {
		if got := sanitizeQuery(tt.in); got != tt.want {
			t.Errorf("sanitizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractSQLVerb(t *testing.T) {
	if got := extractSQLVerb("  insert into x values ($1)"); got != "INSERT" {
		t.Errorf("extractSQLVerb = %q, want INSERT", got)
	}
	if got := extractSQLVerb("begin"); got != "BEGIN" {
		t.Errorf("extractSQLVerb = %q, want BEGIN", got)
	}
}

func TestExtractTable(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT document, version FROM aggregate_buckets WHERE aggregate = $1", "aggregate_buckets"},
		{"\n\t\tINSERT INTO catalog_events (id, type) VALUES ($1, $2)", "catalog_events"},
		{"UPDATE providers SET last_sync = $2 WHERE id = $1", "providers"},
		{`SELECT * FROM "Catalog_Items"`, "catalog_items"},
		{"SELECT 1", ""},
	}
	for _, tt := range tests {
		if got := extractTable(tt.in); got != tt.want {
			t.Errorf("extractTable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
