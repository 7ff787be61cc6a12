// Package fees derives indicative annual costs and product classification
// from the fee and category data published by providers. Everything here
// is pure: no I/O, no clocks.
package fees

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"catalogsync/internal/domain/catalog"
)

// Fee types that feed the derived totals
const (
	FeeTypePeriodic = "PERIODIC"
	FeeTypeUpfront  = "UPFRONT"
	FeeTypeExit     = "EXIT"
)

// Rate bases named in warnings for fees without a fixed amount
const (
	BasisBalance     = "balance"
	BasisTransaction = "transaction"
	BasisAccrued     = "accrued"
	BasisUnspecified = "unspecified"
)

var decimalCtx = apd.BaseContext.WithPrecision(34)

// periodsPerYear maps an ISO-8601 frequency to how many times a year it is charged.
var periodsPerYear = map[string]int64{
	"P1Y":  1,
	"P12M": 1,
	"P1M":  12,
	"P3M":  4,
	"P4M":  3,
	"P2M":  6,
	"P6M":  2,
}

// Result is the outcome of one fee computation.
type Result struct {
	Total        *apd.Decimal
	Contributing []string // Fee names that were counted, in first-seen order
	Warnings     []string
}

// Float64 returns the total as a float for storage on the item.
func (r Result) Float64() float64 {
	if r.Total == nil {
		return 0
	}
	f, err := r.Total.Float64()
	if err != nil {
		return 0
	}
	return f
}

// PeriodFrequency returns the yearly multiplier for an ISO-8601 frequency.
func PeriodFrequency(code string) (int64, bool) {
	n, ok := periodsPerYear[strings.ToUpper(strings.TrimSpace(code))]
	return n, ok
}

// candidate is the cheapest fixed amount seen for one fee name.
type candidate struct {
	amount     *apd.Decimal
	multiplier int64
}

// PeriodicTotal sums the indicative annual cost of PERIODIC fees. Only fees
// with a fixed amount and a recognized frequency are counted, and duplicate
// names contribute their minimum amount once.
func PeriodicTotal(fees []catalog.Fee) Result {
	res := Result{Total: new(apd.Decimal)}
	byName := make(map[string]*candidate)
	var order []string

	for _, f := range fees {
		if f.FeeType != FeeTypePeriodic {
			continue
		}
		if strings.TrimSpace(f.Amount) == "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("fee %q has no fixed amount (%s rate based)", f.Name, rateBasis(f)))
			continue
		}
		amount, err := parseAmount(f.Amount)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("fee %q has invalid amount %q", f.Name, f.Amount))
			continue
		}
		multiplier, ok := PeriodFrequency(f.AdditionalValue)
		if !ok {
			if amount.Sign() > 0 {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("fee %q has unrecognized frequency %q", f.Name, f.AdditionalValue))
			}
			continue
		}
		if amount.Sign() <= 0 {
			continue
		}
		c, seen := byName[f.Name]
		if !seen {
			byName[f.Name] = &candidate{amount: amount, multiplier: multiplier}
			order = append(order, f.Name)
			continue
		}
		if amount.Cmp(c.amount) < 0 {
			c.amount = amount
			c.multiplier = multiplier
		}
	}

	for _, name := range order {
		c := byName[name]
		var annual apd.Decimal
		if _, err := decimalCtx.Mul(&annual, c.amount, apd.New(c.multiplier, 0)); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("fee %q could not be annualised: %v", name, err))
			continue
		}
		if _, err := decimalCtx.Add(res.Total, res.Total, &annual); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("fee %q could not be added: %v", name, err))
			continue
		}
		res.Contributing = append(res.Contributing, name)
	}

	return res
}

// UpfrontTotal sums the minimum amount per distinct UPFRONT fee name.
func UpfrontTotal(fees []catalog.Fee) Result {
	return minimumPerName(fees, FeeTypeUpfront)
}

// ExitTotal sums the minimum amount per distinct EXIT fee name.
func ExitTotal(fees []catalog.Fee) Result {
	return minimumPerName(fees, FeeTypeExit)
}

// Derive computes all three totals and packs them for item meta. The
// returned warnings are the concatenation of each computation's warnings.
func Derive(fees []catalog.Fee) (catalog.Financials, []string) {
	periodic := PeriodicTotal(fees)
	upfront := UpfrontTotal(fees)
	exit := ExitTotal(fees)

	warnings := make([]string, 0, len(periodic.Warnings)+len(upfront.Warnings)+len(exit.Warnings))
	warnings = append(warnings, periodic.Warnings...)
	warnings = append(warnings, upfront.Warnings...)
	warnings = append(warnings, exit.Warnings...)

	return catalog.Financials{
		PeriodicFee:   periodic.Float64(),
		UpfrontFee:    upfront.Float64(),
		ExitFee:       exit.Float64(),
		PeriodicNames: periodic.Contributing,
		UpfrontNames:  upfront.Contributing,
		ExitNames:     exit.Contributing,
	}, warnings
}

func minimumPerName(fees []catalog.Fee, feeType string) Result {
	res := Result{Total: new(apd.Decimal)}
	minByName := make(map[string]*apd.Decimal)
	var order []string

	for _, f := range fees {
		if f.FeeType != feeType {
			continue
		}
		if strings.TrimSpace(f.Amount) == "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("fee %q has no fixed amount (%s rate based)", f.Name, rateBasis(f)))
			continue
		}
		amount, err := parseAmount(f.Amount)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("fee %q has invalid amount %q", f.Name, f.Amount))
			continue
		}
		current, seen := minByName[f.Name]
		if !seen {
			minByName[f.Name] = amount
			order = append(order, f.Name)
			continue
		}
		if amount.Cmp(current) < 0 {
			minByName[f.Name] = amount
		}
	}

	for _, name := range order {
		if _, err := decimalCtx.Add(res.Total, res.Total, minByName[name]); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("fee %q could not be added: %v", name, err))
			continue
		}
		res.Contributing = append(res.Contributing, name)
	}

	return res
}

func parseAmount(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	// apd parses Infinity and NaN, which cannot be stored as a float.
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("amount %q is not a finite number", s)
	}
	return d, nil
}

func rateBasis(f catalog.Fee) string {
	switch {
	case f.BalanceRate != "":
		return BasisBalance
	case f.TransactionRate != "":
		return BasisTransaction
	case f.AccruedRate != "":
		return BasisAccrued
	default:
		return BasisUnspecified
	}
}
