package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/app"
	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/shared/config"
)

func newTestDeps(t *testing.T) *app.Dependencies {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	cfg, err := config.Load()
	require.NoError(t, err)
	d, err := app.NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	return d
}

func execute(t *testing.T, d *app.Dependencies, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&rootOptions{open: func(context.Context) (*app.Dependencies, error) { return d, nil }})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"reconcile"}, {"enrich"}, {"aggregate"}, {"consume"},
		{"providers", "seed"}, {"providers", "list"}, {"buckets", "list"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, newTestDeps(t), "aggregate", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestAggregateAndListBuckets(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()
	require.NoError(t, d.Stores.Items.Put(ctx, &catalog.Item{ItemID: "p-1", Brand: "cba", Category: "TERM_DEPOSITS"}))
	require.NoError(t, d.Stores.Items.Put(ctx, &catalog.Item{ItemID: "p-2", Brand: "cba", Category: "TERM_DEPOSITS"}))

	out, err := execute(t, d, "aggregate", aggregation.ProductBrands, "--format", "json")
	require.NoError(t, err)
	var results []aggregation.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Folded)

	out, err = execute(t, d, "buckets", "list", aggregation.ProductBrands)
	require.NoError(t, err)
	assert.Contains(t, out, "cba\t2\tTERM_DEPOSITS")

	_, err = execute(t, d, "buckets", "list", "productColours")
	assert.ErrorIs(t, err, aggregation.ErrUnknownAggregate)
}

func TestReconcileRequiresTargets(t *testing.T) {
	_, err := execute(t, newTestDeps(t), "reconcile")
	assert.Error(t, err)
}

func TestReconcileMissingProvider(t *testing.T) {
	_, err := execute(t, newTestDeps(t), "reconcile", "cba")
	assert.ErrorContains(t, err, "1 not found")
}

func TestConsumeEmptyLog(t *testing.T) {
	out, err := execute(t, newTestDeps(t), "consume", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, aggregation.ProductBrands)
}
