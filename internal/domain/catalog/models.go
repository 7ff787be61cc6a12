// Package catalog holds the canonical product records shared by the sync,
// enrichment and aggregation services.
package catalog

import (
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// Domain errors
var (
	ErrItemNotFound     = errors.New("item not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalidItem      = errors.New("invalid item")
)

// Run statuses recorded on a provider's sync summary
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Item is the canonical record for one catalog entry, keyed by the
// provider-assigned product id.
type Item struct {
	ItemID      string          `json:"productId"`
	LastUpdated string          `json:"lastUpdated"`
	Brand       string          `json:"brand"`
	BrandName   string          `json:"brandName,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"productCategory"`
	Eligibility []Eligibility   `json:"eligibility,omitempty"`
	Features    []Feature       `json:"features,omitempty"`
	Constraints []Constraint    `json:"constraints,omitempty"`
	Fees        []Fee           `json:"fees,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"` // Full provider document as received
	Meta        Meta            `json:"meta"`
}

// Meta is the engine-owned block of an item.
type Meta struct {
	ProviderID   string      `json:"providerId"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	DetailedAt   *time.Time  `json:"detailedAt,omitempty"`
	HasDetail    bool        `json:"hasDetail"`
	CategoryType string      `json:"categoryType,omitempty"`
	Financials   *Financials `json:"financials,omitempty"`
	Warnings     []string    `json:"warnings,omitempty"`
	// Aggregated is the set of aggregate names this item has been folded into.
	Aggregated []string `json:"aggregated"`
}

// Financials are the indicative annual costs derived from an item's fees.
type Financials struct {
	PeriodicFee   float64  `json:"periodicFee"`
	UpfrontFee    float64  `json:"upfrontFee"`
	ExitFee       float64  `json:"exitFee"`
	PeriodicNames []string `json:"periodicNames,omitempty"`
	UpfrontNames  []string `json:"upfrontNames,omitempty"`
	ExitNames     []string `json:"exitNames,omitempty"`
}

// Eligibility is one eligibility criterion of a product.
type Eligibility struct {
	EligibilityType   string `json:"eligibilityType"`
	AdditionalValue   string `json:"additionalValue,omitempty"`
	AdditionalInfo    string `json:"additionalInfo,omitempty"`
	AdditionalInfoURI string `json:"additionalInfoUri,omitempty"`
}

// Feature is one feature of a product.
type Feature struct {
	FeatureType       string `json:"featureType"`
	AdditionalValue   string `json:"additionalValue,omitempty"`
	AdditionalInfo    string `json:"additionalInfo,omitempty"`
	AdditionalInfoURI string `json:"additionalInfoUri,omitempty"`
}

// Constraint is one constraint of a product (min balance, max limit, ...).
type Constraint struct {
	ConstraintType    string `json:"constraintType"`
	AdditionalValue   string `json:"additionalValue,omitempty"`
	AdditionalInfo    string `json:"additionalInfo,omitempty"`
	AdditionalInfoURI string `json:"additionalInfoUri,omitempty"`
}

// Fee is one fee entry of a product. Amounts and rates are decimal strings
// as published by the provider.
type Fee struct {
	Name            string `json:"name"`
	FeeType         string `json:"feeType"`
	Amount          string `json:"amount,omitempty"`
	BalanceRate     string `json:"balanceRate,omitempty"`
	TransactionRate string `json:"transactionRate,omitempty"`
	AccruedRate     string `json:"accruedRate,omitempty"`
	AccrualFreq     string `json:"accrualFrequency,omitempty"`
	Currency        string `json:"currency,omitempty"`
	AdditionalValue string `json:"additionalValue,omitempty"`
	AdditionalInfo  string `json:"additionalInfo,omitempty"`
}

// Validate checks the fields every stored item must carry.
func (it *Item) Validate() error {
	if it == nil || it.ItemID == "" {
		return ErrInvalidItem
	}
	return nil
}

// HasAggregated reports whether the item was already folded into aggregate.
func (m *Meta) HasAggregated(aggregate string) bool {
	return slices.Contains(m.Aggregated, aggregate)
}

// MarkAggregated adds aggregate to the completed set. It returns false when
// the name was already present.
func (m *Meta) MarkAggregated(aggregate string) bool {
	if m.HasAggregated(aggregate) {
		return false
	}
	m.Aggregated = append(m.Aggregated, aggregate)
	return true
}

// ResetAggregation clears the completed set so every aggregate revisits the item.
func (m *Meta) ResetAggregation() {
	m.Aggregated = []string{}
}

// Clone returns a deep copy so stores never share slices with callers.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	c.Eligibility = slices.Clone(it.Eligibility)
	c.Features = slices.Clone(it.Features)
	c.Constraints = slices.Clone(it.Constraints)
	c.Fees = slices.Clone(it.Fees)
	c.Payload = slices.Clone(it.Payload)
	c.Meta.Warnings = slices.Clone(it.Meta.Warnings)
	c.Meta.Aggregated = slices.Clone(it.Meta.Aggregated)
	if it.Meta.Financials != nil {
		f := *it.Meta.Financials
		f.PeriodicNames = slices.Clone(f.PeriodicNames)
		f.UpfrontNames = slices.Clone(f.UpfrontNames)
		f.ExitNames = slices.Clone(f.ExitNames)
		c.Meta.Financials = &f
	}
	if it.Meta.DetailedAt != nil {
		t := *it.Meta.DetailedAt
		c.Meta.DetailedAt = &t
	}
	return &c
}
