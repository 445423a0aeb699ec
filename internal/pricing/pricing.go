// Package pricing derives display totals from a cart snapshot.
//
// Every figure here is an ESTIMATE for immediate UI feedback. Zone-specific
// tax and shipping are computed server-side at checkout, which stays the
// source of truth. All amounts are int64 minor units; fractional results are
// rounded half away from zero once, at the end of each step.
package pricing

import (
	"github.com/shopspring/decimal"

	"storefront-cart/internal/model"
)

// Default estimate parameters.
const (
	DefaultFreeShippingThreshold int64 = 5000
	DefaultBaseShipping          int64 = 599
	DefaultTaxRate                     = "0.18"
)

var hundred = decimal.NewFromInt(100)

// Config holds the estimate parameters.
type Config struct {
	FreeShippingThreshold int64
	BaseShipping          int64
	TaxRate               decimal.Decimal
}

// DefaultConfig returns the storefront's standard estimate parameters.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		BaseShipping:          DefaultBaseShipping,
		TaxRate:               decimal.RequireFromString(DefaultTaxRate),
	}
}

// Calculator computes totals for a fixed Config. It holds no cart state.
type Calculator struct {
	cfg Config
}

// New creates a Calculator.
func New(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the parameters the calculator was built with.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Totals is the full estimate for a cart.
type Totals struct {
	ItemCount    int           `json:"itemCount"`
	Subtotal     int64         `json:"subtotal"`
	Discount     int64         `json:"discount"`
	Shipping     int64         `json:"shipping"`
	Tax          int64         `json:"tax"`
	Total        int64         `json:"total"`
	Savings      int64         `json:"savings"` // compare-at savings, informational
	FreeShipping Progress      `json:"freeShipping"`
	Promotions   []Promotion   `json:"promotions"`
	Estimate     bool          `json:"estimate"`
	Coupon       *model.Coupon `json:"coupon,omitempty"`
}

// Progress describes how close the cart is to free shipping.
type Progress struct {
	Percentage float64 `json:"percentage"`
	Remaining  int64   `json:"remaining"`
	Unlocked   bool    `json:"unlocked"`
}

// Totals computes every figure for the snapshot.
func (c *Calculator) Totals(s model.Snapshot) Totals {
	subtotal := Subtotal(s.Items)
	discount := Discount(subtotal, s.AppliedCoupon)
	shipping := c.Shipping(subtotal, s.AppliedCoupon)
	tax := c.Tax(subtotal, discount)

	count := 0
	for _, item := range s.Items {
		count += item.Quantity
	}

	return Totals{
		ItemCount:    count,
		Subtotal:     subtotal,
		Discount:     discount,
		Shipping:     shipping,
		Tax:          tax,
		Total:        subtotal - discount + shipping + tax,
		Savings:      Savings(s.Items),
		FreeShipping: c.Progress(subtotal),
		Promotions:   Promotions(s),
		Estimate:     true,
		Coupon:       s.AppliedCoupon,
	}
}

// Subtotal returns Σ price × quantity.
func Subtotal(items []model.LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}

// Discount returns the cart-scope coupon discount, clamped to [0, subtotal].
// Shipping-scope coupons never discount the subtotal.
func Discount(subtotal int64, coupon *model.Coupon) int64 {
	if coupon == nil || coupon.Scope != model.ScopeCart {
		return 0
	}
	return clamp(reduction(subtotal, coupon), 0, subtotal)
}

// Shipping returns the flat rate below the free-shipping threshold, reduced by
// a shipping-scope coupon and floored at zero.
func (c *Calculator) Shipping(subtotal int64, coupon *model.Coupon) int64 {
	if subtotal >= c.cfg.FreeShippingThreshold {
		return 0
	}
	shipping := c.cfg.BaseShipping
	if coupon != nil && coupon.Scope == model.ScopeShipping {
		shipping -= reduction(shipping, coupon)
	}
	return max(shipping, 0)
}

// Tax returns round(max(0, subtotal-discount) × rate).
// The taxable base is the discounted amount, floored so tax is never negative.
func (c *Calculator) Tax(subtotal, discount int64) int64 {
	base := max(subtotal-discount, 0)
	return decimal.NewFromInt(base).Mul(c.cfg.TaxRate).Round(0).IntPart()
}

// Progress returns the free-shipping progress for subtotal.
func (c *Calculator) Progress(subtotal int64) Progress {
	threshold := c.cfg.FreeShippingThreshold
	if threshold <= 0 {
		return Progress{Percentage: 100, Unlocked: true}
	}
	pct, _ := decimal.NewFromInt(subtotal).
		Div(decimal.NewFromInt(threshold)).
		Mul(hundred).
		Float64()
	return Progress{
		Percentage: min(pct, 100),
		Remaining:  max(threshold-subtotal, 0),
		Unlocked:   subtotal >= threshold,
	}
}

// Savings returns Σ (compareAt - price) × quantity over discounted items.
func Savings(items []model.LineItem) int64 {
	var total int64
	for _, item := range items {
		if item.CompareAtPrice != nil && *item.CompareAtPrice > item.Price {
			total += (*item.CompareAtPrice - item.Price) * int64(item.Quantity)
		}
	}
	return total
}

// reduction returns what coupon takes off amount, before any clamping.
func reduction(amount int64, coupon *model.Coupon) int64 {
	switch coupon.Type {
	case model.DiscountPercentage:
		return decimal.NewFromInt(amount).
			Mul(decimal.NewFromInt(coupon.Value)).
			Div(hundred).
			Round(0).
			IntPart()
	case model.DiscountFixed:
		return coupon.Value
	default:
		return 0
	}
}

func clamp(v, lo, hi int64) int64 {
	return min(max(v, lo), hi)
}
