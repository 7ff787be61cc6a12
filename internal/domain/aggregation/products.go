package aggregation

import (
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/domain/fees"
)

// Product rollup names
const (
	ProductBrands      = "productBrands"
	ProductCategories  = "productCategories"
	ProductEligibility = "productEligibility"
	ProductFeatures    = "productFeatures"
	ProductConstraints = "productConstraints"
)

// ProductDefinitions returns the product rollups in their scheduled order.
func ProductDefinitions() []Definition {
	return []Definition{
		Single(ProductBrands, ItemID,
			func(it *catalog.Item) string { return it.Brand },
			func(b *Bucket, it *catalog.Item) {
				b.Name = it.Brand
				if it.BrandName != "" {
					b.SetLabel("brandName", it.BrandName)
				}
				b.AddValue(it.Category)
			},
			func(b *Bucket, it *catalog.Item) { b.AddValue(it.Category) },
		),
		Single(ProductCategories, ItemID,
			func(it *catalog.Item) string { return it.Category },
			func(b *Bucket, it *catalog.Item) {
				b.Name = it.Category
				b.SetLabel("type", fees.ParseCategoryType(it.Category))
			},
			func(*Bucket, *catalog.Item) {},
		),
		FanOut(ProductEligibility, ItemID,
			func(it *catalog.Item) []catalog.Eligibility { return it.Eligibility },
			func(e catalog.Eligibility) string { return e.EligibilityType },
			func(b *Bucket, _ *catalog.Item, e catalog.Eligibility) { b.Name = e.EligibilityType },
			func(*Bucket, *catalog.Item, catalog.Eligibility) {},
		).WithDetail(),
		FanOut(ProductFeatures, ItemID,
			func(it *catalog.Item) []catalog.Feature { return it.Features },
			func(f catalog.Feature) string { return f.FeatureType },
			func(b *Bucket, _ *catalog.Item, f catalog.Feature) { b.Name = f.FeatureType },
			func(*Bucket, *catalog.Item, catalog.Feature) {},
		).WithDetail(),
		FanOut(ProductConstraints, ItemID,
			func(it *catalog.Item) []catalog.Constraint { return it.Constraints },
			func(c catalog.Constraint) string { return c.ConstraintType },
			func(b *Bucket, _ *catalog.Item, c catalog.Constraint) { b.Name = c.ConstraintType },
			func(*Bucket, *catalog.Item, catalog.Constraint) {},
		).WithDetail(),
	}
}
