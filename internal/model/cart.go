// Package model defines the cart, wishlist, and error types shared by the
// stores, the storefront client, and the HTTP surface.
//
// JSON field names follow the storefront API (camelCase).
// Money is always int64 minor units (cents), never floating point.
package model

import (
	"time"
)

// Variant is a purchasable configuration of a product.
type Variant struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
	SKU   string `json:"sku,omitempty"`
}

// LineItem is one entry in the active cart.
// Invariant after every successful mutation: 0 < Quantity <= Stock.
type LineItem struct {
	ProductID      string   `json:"productId"`
	Name           string   `json:"name,omitempty"`
	Slug           string   `json:"slug,omitempty"`
	Image          string   `json:"image,omitempty"`
	Price          int64    `json:"price"` // unit price, minor units
	CompareAtPrice *int64   `json:"compareAtPrice,omitempty"`
	Quantity       int      `json:"quantity"`
	Stock          int      `json:"stock"`
	Variant        *Variant `json:"variant,omitempty"`
	Badge          string   `json:"badge,omitempty"`
}

// Key returns the identity of the line item.
func (li LineItem) Key() ItemKey {
	return ItemKey{ProductID: li.ProductID, Variant: li.Variant.Signature()}
}

// LineTotal returns price * quantity.
func (li LineItem) LineTotal() int64 {
	return li.Price * int64(li.Quantity)
}

// Clone returns a copy that shares no pointers with li.
func (li LineItem) Clone() LineItem {
	out := li
	if li.CompareAtPrice != nil {
		v := *li.CompareAtPrice
		out.CompareAtPrice = &v
	}
	if li.Variant != nil {
		v := *li.Variant
		out.Variant = &v
	}
	return out
}

// SavedItem is a line item parked in saved-for-later.
type SavedItem struct {
	LineItem
	SavedAt time.Time `json:"savedAt"`
}

// DiscountType selects how a coupon value is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage" // Value is a percent (10 = 10%)
	DiscountFixed      DiscountType = "fixed"      // Value is minor units
)

// CouponScope selects what a coupon discounts.
type CouponScope string

const (
	ScopeCart     CouponScope = "cart"
	ScopeShipping CouponScope = "shipping"
)

// Coupon is the single discount code applied to a cart.
type Coupon struct {
	Code      string       `json:"code"`
	Value     int64        `json:"discount"`
	Type      DiscountType `json:"type"`
	Scope     CouponScope  `json:"scope"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

// Expired reports whether the coupon carries an expiry before now.
func (c *Coupon) Expired(now time.Time) bool {
	return c != nil && c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Snapshot is the persisted and synced subset of cart state.
// Transient fields (syncing, pending operations, errors) never appear here.
type Snapshot struct {
	Items         []LineItem  `json:"items"`
	SavedForLater []SavedItem `json:"savedForLater"`
	AppliedCoupon *Coupon     `json:"appliedCoupon"`
}

// Clone returns a deep copy of the snapshot. Nil slices become empty slices.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Items:         make([]LineItem, len(s.Items)),
		SavedForLater: make([]SavedItem, len(s.SavedForLater)),
	}
	for i, item := range s.Items {
		out.Items[i] = item.Clone()
	}
	for i, item := range s.SavedForLater {
		out.SavedForLater[i] = SavedItem{LineItem: item.LineItem.Clone(), SavedAt: item.SavedAt}
	}
	if s.AppliedCoupon != nil {
		c := *s.AppliedCoupon
		out.AppliedCoupon = &c
	}
	return out
}

// WishlistItem is one product on the wishlist. Identity is ProductID alone.
type WishlistItem struct {
	ProductID string    `json:"productId"`
	Name      string    `json:"name,omitempty"`
	Slug      string    `json:"slug,omitempty"`
	Image     string    `json:"image,omitempty"`
	Price     int64     `json:"price,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

// PendingOp is the kind of an optimistic mutation not yet confirmed by the server.
type PendingOp string

const (
	OpAdd     PendingOp = "add"
	OpUpdate  PendingOp = "update"
	OpRemove  PendingOp = "remove"
	OpSave    PendingOp = "save"
	OpRestore PendingOp = "restore"
)

// CartErrorType classifies recorded cart errors.
type CartErrorType string

const (
	CartErrorNetwork    CartErrorType = "network"
	CartErrorStock      CartErrorType = "stock"
	CartErrorValidation CartErrorType = "validation"
	CartErrorUnknown    CartErrorType = "unknown"
)

// CartError is an entry in the cart's error log.
// Entries stay until cleared explicitly.
type CartError struct {
	ID         string        `json:"id"`
	Type       CartErrorType `json:"type"`
	Message    string        `json:"message"`
	Operation  string        `json:"operation"`
	ItemID     string        `json:"itemId,omitempty"`
	RetryCount int           `json:"retryCount"`
	At         time.Time     `json:"at"`
}

// ConflictType names what the conflict resolver found wrong with an item.
type ConflictType string

const (
	ConflictProductDeleted    ConflictType = "product_deleted"
	ConflictStockInsufficient ConflictType = "stock_insufficient"
	ConflictPriceChanged      ConflictType = "price_changed"
)

// ConflictReport describes one conflict returned by the resolve-conflicts endpoint.
type ConflictReport struct {
	Type      ConflictType `json:"type"`
	ProductID string       `json:"productId"`
	Variant   *Variant     `json:"variant,omitempty"`
	Message   string       `json:"message,omitempty"`
	OldPrice  int64        `json:"oldPrice,omitempty"`
	NewPrice  int64        `json:"newPrice,omitempty"`
	Requested int          `json:"requestedQuantity,omitempty"`
	Available int          `json:"availableQuantity,omitempty"`
}

// Key returns the item the conflict refers to.
func (c ConflictReport) Key() ItemKey {
	return ItemKey{ProductID: c.ProductID, Variant: c.Variant.Signature()}
}

// Resolution is the resolve-conflicts endpoint's answer.
type Resolution struct {
	ResolvedItems []LineItem       `json:"resolvedItems"`
	Conflicts     []ConflictReport `json:"conflicts"`
}
