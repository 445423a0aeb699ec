package pricing

import (
	"fmt"

	"storefront-cart/internal/model"
)

// PromotionKind says where a promotion comes from.
type PromotionKind string

const (
	PromotionAutomatic PromotionKind = "automatic" // compare-at price markdown
	PromotionBadge     PromotionKind = "badge"
	PromotionCoupon    PromotionKind = "coupon"
)

// Promotion is a read-only projection of what is discounting the cart.
// It is recomputed from the snapshot on every call and never stored.
type Promotion struct {
	Kind      PromotionKind `json:"kind"`
	ProductID string        `json:"productId,omitempty"`
	Label     string        `json:"label"`
	Amount    int64         `json:"amount,omitempty"` // minor units, 0 when not monetary
}

// Promotions lists markdowns and badges per line item, then the coupon.
func Promotions(s model.Snapshot) []Promotion {
	promos := []Promotion{}
	for _, item := range s.Items {
		if item.CompareAtPrice != nil && *item.CompareAtPrice > item.Price {
			promos = append(promos, Promotion{
				Kind:      PromotionAutomatic,
				ProductID: item.ProductID,
				Label:     fmt.Sprintf("%s marked down", displayName(item)),
				Amount:    (*item.CompareAtPrice - item.Price) * int64(item.Quantity),
			})
		}
		if item.Badge != "" {
			promos = append(promos, Promotion{
				Kind:      PromotionBadge,
				ProductID: item.ProductID,
				Label:     item.Badge,
			})
		}
	}

	if c := s.AppliedCoupon; c != nil {
		promos = append(promos, Promotion{
			Kind:   PromotionCoupon,
			Label:  couponLabel(c),
			Amount: couponAmount(s, c),
		})
	}
	return promos
}

func couponLabel(c *model.Coupon) string {
	target := "order"
	if c.Scope == model.ScopeShipping {
		target = "shipping"
	}
	if c.Type == model.DiscountPercentage {
		return fmt.Sprintf("%s: %d%% off %s", c.Code, c.Value, target)
	}
	return fmt.Sprintf("%s: %s off %s", c.Code, model.FormatCents(c.Value), target)
}

// couponAmount is the cart-scope discount; shipping coupons report 0 here
// because their effect depends on the shipping estimate.
func couponAmount(s model.Snapshot, c *model.Coupon) int64 {
	return Discount(Subtotal(s.Items), c)
}

func displayName(item model.LineItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ProductID
}
