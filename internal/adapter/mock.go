package adapter

import (
	"context"

	"storefront-cart/internal/model"
)

// Mock implements Storefront for testing.
// Each method can be configured via function fields; unset methods succeed
// with empty results.
type Mock struct {
	SyncCartFunc         func(ctx context.Context, snap model.Snapshot) error
	LoadCartFunc         func(ctx context.Context) (model.Snapshot, error)
	ResolveConflictsFunc func(ctx context.Context, items []model.LineItem) (*model.Resolution, error)
	SyncWishlistFunc     func(ctx context.Context, productIDs []string, merge bool) ([]string, error)
	LoadWishlistFunc     func(ctx context.Context) ([]string, error)
}

// SyncCart calls the configured SyncCartFunc or succeeds.
func (m *Mock) SyncCart(ctx context.Context, snap model.Snapshot) error {
	if m.SyncCartFunc != nil {
		return m.SyncCartFunc(ctx, snap)
	}
	return nil
}

// LoadCart calls the configured LoadCartFunc or returns an empty cart.
func (m *Mock) LoadCart(ctx context.Context) (model.Snapshot, error) {
	if m.LoadCartFunc != nil {
		return m.LoadCartFunc(ctx)
	}
	return model.Snapshot{}, nil
}

// ResolveConflicts calls the configured ResolveConflictsFunc or returns the
// items unchanged with no conflicts.
func (m *Mock) ResolveConflicts(ctx context.Context, items []model.LineItem) (*model.Resolution, error) {
	if m.ResolveConflictsFunc != nil {
		return m.ResolveConflictsFunc(ctx, items)
	}
	return &model.Resolution{ResolvedItems: items}, nil
}

// SyncWishlist calls the configured SyncWishlistFunc or echoes the IDs.
func (m *Mock) SyncWishlist(ctx context.Context, productIDs []string, merge bool) ([]string, error) {
	if m.SyncWishlistFunc != nil {
		return m.SyncWishlistFunc(ctx, productIDs, merge)
	}
	return productIDs, nil
}

// LoadWishlist calls the configured LoadWishlistFunc or returns no IDs.
func (m *Mock) LoadWishlist(ctx context.Context) ([]string, error) {
	if m.LoadWishlistFunc != nil {
		return m.LoadWishlistFunc(ctx)
	}
	return nil, nil
}

// Verify Mock implements Storefront interface at compile time.
var _ Storefront = (*Mock)(nil)
