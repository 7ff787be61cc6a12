package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeta_MarkAggregated(t *testing.T) {
	var m Meta

	assert.True(t, m.MarkAggregated("productBrands"))
	assert.False(t, m.MarkAggregated("productBrands"), "second mark should be a no-op")
	assert.True(t, m.MarkAggregated("productCategories"))

	assert.Equal(t, []string{"productBrands", "productCategories"}, m.Aggregated)
	assert.True(t, m.HasAggregated("productCategories"))

	m.ResetAggregation()
	assert.False(t, m.HasAggregated("productBrands"))
	assert.NotNil(t, m.Aggregated)
}

func TestItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    *Item
		wantErr bool
	}{
		{name: "valid", item: &Item{ItemID: "p-1"}},
		{name: "missing id", item: &Item{}, wantErr: true},
		{name: "nil", item: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidItem)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestItem_CloneIsDeep(t *testing.T) {
	orig := &Item{
		ItemID:      "p-1",
		Eligibility: []Eligibility{{EligibilityType: "BUSINESS"}},
		Meta: Meta{
			Aggregated: []string{"productBrands"},
			Financials: &Financials{PeriodicFee: 120, PeriodicNames: []string{"A"}},
		},
	}

	c := orig.Clone()
	require.NotNil(t, c)

	c.Eligibility[0].EligibilityType = "OTHER"
	c.Meta.Aggregated[0] = "changed"
	c.Meta.Financials.PeriodicNames[0] = "B"

	assert.Equal(t, "BUSINESS", orig.Eligibility[0].EligibilityType)
	assert.Equal(t, "productBrands", orig.Meta.Aggregated[0])
	assert.Equal(t, "A", orig.Meta.Financials.PeriodicNames[0])
}

func TestProvider_RequestConfigIsIndependent(t *testing.T) {
	p := &Provider{
		ID:         "cba",
		APIBaseURL: "https://api.example.com/cds-au/v1/banking",
		APIVersion: "3",
		Headers:    map[string]string{"x-min-v": "1"},
	}

	cfg := p.RequestConfig()
	cfg.Headers["x-min-v"] = "2"

	assert.Equal(t, "1", p.Headers["x-min-v"])
	assert.Equal(t, "cba", cfg.ProviderID)
	assert.Equal(t, "3", cfg.Version)
}
