// Package adapter defines the boundary to the storefront's shopper API.
// The cart and wishlist stores depend on this interface only; the HTTP
// implementation lives in internal/storefront.
package adapter

import (
	"context"

	"storefront-cart/internal/model"
)

// Storefront abstracts the /api/user endpoints the stores synchronize with.
//
// Errors are *model.APIError when the server answered with a non-success
// status, so callers can tell a 401 (anonymous shopper) from a failure.
type Storefront interface {
	// SyncCart pushes the full cart snapshot.
	// POST /api/user/cart/sync
	SyncCart(ctx context.Context, snap model.Snapshot) error

	// LoadCart pulls the authoritative server cart.
	// GET /api/user/cart/load
	LoadCart(ctx context.Context) (model.Snapshot, error)

	// ResolveConflicts checks a candidate item pool for deleted products,
	// insufficient stock, and changed prices.
	// POST /api/user/cart/resolve-conflicts
	ResolveConflicts(ctx context.Context, items []model.LineItem) (*model.Resolution, error)

	// SyncWishlist pushes wishlist product IDs. With merge set the server
	// unions them with its own list and returns the result.
	// POST /api/user/wishlist/sync
	SyncWishlist(ctx context.Context, productIDs []string, merge bool) ([]string, error)

	// LoadWishlist pulls the server's wishlist product IDs.
	// GET /api/user/wishlist/sync
	LoadWishlist(ctx context.Context) ([]string, error)
}
