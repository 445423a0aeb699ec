package model

import (
	"fmt"
	"strings"
)

// ItemKey identifies a line item: one product in one variant configuration.
// It is comparable, so it can key maps directly.
type ItemKey struct {
	ProductID string
	Variant   string // normalized variant signature, "" when the product has no variant
}

// keySeparator joins product and variant in the string form of a key.
const keySeparator = "@"

// String renders the key for URLs and logs: "prod-1" or "prod-1@sku:ABC".
func (k ItemKey) String() string {
	if k.Variant == "" {
		return k.ProductID
	}
	return k.ProductID + keySeparator + k.Variant
}

// ParseItemKey is the inverse of ItemKey.String.
func ParseItemKey(s string) (ItemKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ItemKey{}, fmt.Errorf("empty item key")
	}
	productID, variant, _ := strings.Cut(s, keySeparator)
	if productID == "" {
		return ItemKey{}, fmt.Errorf("item key %q has no product", s)
	}
	return ItemKey{ProductID: productID, Variant: variant}, nil
}

// Signature returns the normalized form of a variant.
// A SKU identifies the variant on its own and keeps its case, since SKUs are
// opaque catalog identifiers. Otherwise size and color are combined, case
// folded, in a fixed order so that equal selections produce equal signatures.
func (v *Variant) Signature() string {
	if v == nil {
		return ""
	}
	if sku := strings.TrimSpace(v.SKU); sku != "" {
		return "sku:" + sku
	}
	size := strings.ToLower(strings.TrimSpace(v.Size))
	color := strings.ToLower(strings.TrimSpace(v.Color))
	if size == "" && color == "" {
		return ""
	}
	return "size:" + size + "|color:" + color
}
