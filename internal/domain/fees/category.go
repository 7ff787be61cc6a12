package fees

// Category types stored on enriched items and category buckets
const (
	CategoryDeposit = "Deposit"
	CategoryLending = "Lending"
)

var depositCategories = map[string]struct{}{
	"REGULATED_TRUST_ACCOUNTS":   {},
	"TERM_DEPOSITS":              {},
	"TRANS_AND_SAVINGS_ACCOUNTS": {},
	"TRAVEL_CARDS":               {},
}

// ParseCategoryType classifies a product category as Deposit or Lending.
// Anything not known to be a deposit product is treated as lending.
func ParseCategoryType(category string) string {
	if _, ok := depositCategories[category]; ok {
		return CategoryDeposit
	}
	return CategoryLending
}
