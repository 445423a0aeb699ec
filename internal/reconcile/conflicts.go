package reconcile

import (
	"fmt"

	"storefront-cart/internal/model"
)

// ApplyConflicts adjusts the local side of a login merge with what the
// conflict resolver found, so the max-quantity union cannot resurrect a
// deleted product or exceed the stock the resolver reported.
//
//   - product_deleted: the key is dropped from local
//   - stock_insufficient: local quantity is clamped to the reported stock;
//     zero available drops the key
//   - price_changed: local price takes the new price
func ApplyConflicts(local []model.LineItem, conflicts []model.ConflictReport) []model.LineItem {
	if len(conflicts) == 0 {
		return cloneItems(local)
	}

	byKey := make(map[model.ItemKey][]model.ConflictReport, len(conflicts))
	for _, c := range conflicts {
		byKey[c.Key()] = append(byKey[c.Key()], c)
	}

	out := make([]model.LineItem, 0, len(local))
	for _, item := range local {
		item = item.Clone()
		keep := true
		for _, c := range byKey[item.Key()] {
			switch c.Type {
			case model.ConflictProductDeleted:
				keep = false
			case model.ConflictStockInsufficient:
				item.Stock = c.Available
				item.Quantity = min(item.Quantity, c.Available)
				keep = keep && item.Quantity > 0
			case model.ConflictPriceChanged:
				if c.NewPrice > 0 {
					item.Price = c.NewPrice
				}
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

// ClampToStock enforces 0 < quantity <= stock on every item, dropping items
// that end up empty. Used after merges, whose max rule can exceed stock when
// the two sides disagree about inventory.
func ClampToStock(items []model.LineItem) []model.LineItem {
	out := make([]model.LineItem, 0, len(items))
	for _, item := range items {
		item = item.Clone()
		item.Quantity = min(item.Quantity, item.Stock)
		if item.Quantity > 0 {
			out = append(out, item)
		}
	}
	return out
}

// ConflictCounts groups conflicts by type.
func ConflictCounts(conflicts []model.ConflictReport) map[model.ConflictType]int {
	counts := make(map[model.ConflictType]int)
	for _, c := range conflicts {
		counts[c.Type]++
	}
	return counts
}

// ConflictSummaries renders one message per conflict type present, in a fixed
// order: removals, stock adjustments, price changes.
func ConflictSummaries(conflicts []model.ConflictReport) []string {
	counts := ConflictCounts(conflicts)
	var out []string
	if n := counts[model.ConflictProductDeleted]; n > 0 {
		out = append(out, fmt.Sprintf("%d %s removed (no longer available)", n, plural(n, "product", "products")))
	}
	if n := counts[model.ConflictStockInsufficient]; n > 0 {
		out = append(out, fmt.Sprintf("%d %s stock adjusted", n, plural(n, "item", "items")))
	}
	if n := counts[model.ConflictPriceChanged]; n > 0 {
		out = append(out, fmt.Sprintf("%d %s changed", n, plural(n, "price", "prices")))
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func cloneItems(items []model.LineItem) []model.LineItem {
	out := make([]model.LineItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
