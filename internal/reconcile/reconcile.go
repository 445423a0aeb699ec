// Package reconcile merges and diffs cart and wishlist state.
// Used at login to fold the anonymous local cart into the shopper's server
// cart, and after a pull to report what the server changed.
//
// Everything here is pure: inputs are never mutated and outputs share no
// pointers with them.
package reconcile

import (
	"fmt"
	"time"

	"storefront-cart/internal/model"
)

// LineItemDiff describes how a cart moved from one state to another.
type LineItemDiff struct {
	Added   []model.LineItem // keys in next but not prev
	Removed []model.LineItem // keys in prev but not next
	Updated []QuantityChange // keys in both with different quantities
}

// QuantityChange is a quantity delta for one key.
type QuantityChange struct {
	Key         model.ItemKey
	OldQuantity int
	NewQuantity int
}

// IsEmpty returns true if the two states hold the same keys and quantities.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Summary describes the diff in count form, one phrase per non-empty group.
func (d *LineItemDiff) Summary() []string {
	var out []string
	if n := len(d.Added); n > 0 {
		out = append(out, fmt.Sprintf("%d %s added", n, plural(n, "item", "items")))
	}
	if n := len(d.Removed); n > 0 {
		out = append(out, fmt.Sprintf("%d %s removed", n, plural(n, "item", "items")))
	}
	if n := len(d.Updated); n > 0 {
		out = append(out, fmt.Sprintf("%d %s changed", n, plural(n, "quantity", "quantities")))
	}
	return out
}

// DiffLineItems computes the delta between prev and next.
// Matching is by ItemKey (product + variant signature).
// Output follows the order of next (added, updated) and prev (removed).
func DiffLineItems(prev, next []model.LineItem) *LineItemDiff {
	diff := &LineItemDiff{}

	prevByKey := make(map[model.ItemKey]model.LineItem, len(prev))
	for _, item := range prev {
		prevByKey[item.Key()] = item
	}
	nextByKey := make(map[model.ItemKey]bool, len(next))

	for _, item := range next {
		key := item.Key()
		nextByKey[key] = true
		old, exists := prevByKey[key]
		switch {
		case !exists:
			diff.Added = append(diff.Added, item.Clone())
		case old.Quantity != item.Quantity:
			diff.Updated = append(diff.Updated, QuantityChange{
				Key:         key,
				OldQuantity: old.Quantity,
				NewQuantity: item.Quantity,
			})
		}
	}

	for _, item := range prev {
		if !nextByKey[item.Key()] {
			diff.Removed = append(diff.Removed, item.Clone())
		}
	}

	return diff
}

// MergeLineItems unions local and server items by key.
//
// For a key on both sides the merged quantity is max(local, server): never
// the sum, never the server's value unconditionally. Server metadata (price,
// stock, names) wins for shared keys since it is fresher. Keys on one side
// pass through unchanged. Duplicate keys within one side fold the same way.
//
// Order: local keys first in local order, then server-only keys in server order.
func MergeLineItems(local, server []model.LineItem) []model.LineItem {
	merged := make([]model.LineItem, 0, len(local)+len(server))
	index := make(map[model.ItemKey]int, len(local)+len(server))

	fold := func(item model.LineItem, preferMetadata bool) {
		key := item.Key()
		i, exists := index[key]
		if !exists {
			index[key] = len(merged)
			merged = append(merged, item.Clone())
			return
		}
		qty := max(merged[i].Quantity, item.Quantity)
		if preferMetadata {
			merged[i] = item.Clone()
		}
		merged[i].Quantity = qty
	}

	for _, item := range local {
		fold(item, false)
	}
	for _, item := range server {
		fold(item, true)
	}
	return merged
}

// MergeSaved unions saved-for-later lists by key, local entries first.
// Keys already in the active cart are dropped so an item is never in both.
func MergeSaved(local, server []model.SavedItem, cart []model.LineItem) []model.SavedItem {
	inCart := make(map[model.ItemKey]bool, len(cart))
	for _, item := range cart {
		inCart[item.Key()] = true
	}

	seen := make(map[model.ItemKey]bool, len(local)+len(server))
	merged := make([]model.SavedItem, 0, len(local)+len(server))
	for _, list := range [][]model.SavedItem{local, server} {
		for _, item := range list {
			key := item.Key()
			if inCart[key] || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, model.SavedItem{LineItem: item.LineItem.Clone(), SavedAt: item.SavedAt})
		}
	}
	return merged
}

// PreferCoupon picks the coupon to keep after a merge: the server's, unless
// it has expired, in which case the local one.
func PreferCoupon(local, server *model.Coupon, now time.Time) *model.Coupon {
	chosen := server
	if server == nil || server.Expired(now) {
		chosen = local
	}
	if chosen == nil {
		return nil
	}
	c := *chosen
	return &c
}

// MergeWishlist unions wishlist product IDs, presence only.
//
// Local items keep their full metadata. Product IDs known only to the server
// become stub entries stamped with now. Local order first, then server order.
func MergeWishlist(local []model.WishlistItem, serverIDs []string, now time.Time) []model.WishlistItem {
	seen := make(map[string]bool, len(local)+len(serverIDs))
	merged := make([]model.WishlistItem, 0, len(local)+len(serverIDs))

	for _, item := range local {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		merged = append(merged, item)
	}
	for _, id := range serverIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, model.WishlistItem{ProductID: id, AddedAt: now})
	}
	return merged
}

// ProductIDs lists the wishlist's product IDs in order.
func ProductIDs(items []model.WishlistItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids
}
