package aggregation

import "catalogsync/internal/domain/catalog"

// SourceFunc extracts the ledger identity of an item.
type SourceFunc func(item *catalog.Item) string

// ItemID is the default source identity: the item's provider-assigned id.
func ItemID(item *catalog.Item) string { return item.ItemID }

// Contribution is one (bucket key, fold) pair an item makes to an aggregate.
// Seed fills the derived fields of a new bucket, Fold merges into an existing
// one. The engine owns Count and Sources.
type Contribution struct {
	Key  string
	Seed func(b *Bucket)
	Fold func(b *Bucket)
}

// Definition describes one named aggregate.
type Definition struct {
	Name string
	// RequireDetail restricts the scan to enriched items.
	RequireDetail bool
	Source        SourceFunc

	contributions func(item *catalog.Item) []Contribution
}

// Contributions returns the item's contributions with duplicate keys
// removed, keeping the first occurrence of each key.
func (d Definition) Contributions(item *catalog.Item) []Contribution {
	if d.contributions == nil {
		return nil
	}
	all := d.contributions(item)
	seen := make(map[string]struct{}, len(all))
	out := make([]Contribution, 0, len(all))
	for _, c := range all {
		if c.Key == "" {
			continue
		}
		if _, dup := seen[c.Key]; dup {
			continue
		}
		seen[c.Key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Single builds an aggregate where every item contributes to at most one
// bucket. Items with an empty key are ignored.
func Single(
	name string,
	source SourceFunc,
	key func(item *catalog.Item) string,
	seed func(b *Bucket, item *catalog.Item),
	fold func(b *Bucket, item *catalog.Item),
) Definition {
	return Definition{
		Name:   name,
		Source: source,
		contributions: func(item *catalog.Item) []Contribution {
			return []Contribution{{
				Key:  key(item),
				Seed: func(b *Bucket) { seed(b, item) },
				Fold: func(b *Bucket) { fold(b, item) },
			}}
		},
	}
}

// FanOut builds an aggregate where each embedded element of an item
// contributes to the bucket named by keyOf(element). When several elements
// share a key, the first one is folded.
func FanOut[E any](
	name string,
	source SourceFunc,
	elements func(item *catalog.Item) []E,
	keyOf func(elem E) string,
	seed func(b *Bucket, item *catalog.Item, elem E),
	fold func(b *Bucket, item *catalog.Item, elem E),
) Definition {
	return Definition{
		Name:   name,
		Source: source,
		contributions: func(item *catalog.Item) []Contribution {
			elems := elements(item)
			out := make([]Contribution, 0, len(elems))
			for _, e := range elems {
				out = append(out, Contribution{
					Key:  keyOf(e),
					Seed: func(b *Bucket) { seed(b, item, e) },
					Fold: func(b *Bucket) { fold(b, item, e) },
				})
			}
			return out
		},
	}
}

// WithDetail returns a copy of d that only scans enriched items.
func (d Definition) WithDetail() Definition {
	d.RequireDetail = true
	return d
}
