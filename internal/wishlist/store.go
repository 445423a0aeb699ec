// Package wishlist is the shopper's wishlist: a set of products keyed by ID,
// mutated optimistically and synced to the storefront in the background.
package wishlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/analytics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/optimistic"
	"storefront-cart/internal/persist"
	"storefront-cart/internal/reconcile"
	"storefront-cart/internal/retry"
)

// StorageName is the persisted state's name.
const StorageName = "wishlist-storage"

// Config holds the store's collaborators.
type Config struct {
	Storefront adapter.Storefront
	Storage    persist.Storage
	Retry      retry.Policy
	Notifier   notify.Notifier
	Analytics  analytics.Sink
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store holds one shopper's wishlist.
type Store struct {
	storefront adapter.Storefront
	storage    persist.Storage
	policy     retry.Policy
	notifier   notify.Notifier
	analytics  analytics.Sink
	logger     *slog.Logger
	now        func() time.Time

	runner *optimistic.Runner[string]

	mu           sync.RWMutex
	items        []model.WishlistItem
	syncing      int
	lastSyncedAt time.Time

	persistMu sync.Mutex
}

type persisted struct {
	Items []model.WishlistItem `json:"items"`
}

// New creates an empty wishlist.
func New(cfg Config) *Store {
	s := &Store{
		storefront: cfg.Storefront,
		storage:    cfg.Storage,
		policy:     cfg.Retry,
		notifier:   cfg.Notifier,
		analytics:  cfg.Analytics,
		logger:     cfg.Logger,
		now:        cfg.Now,
		items:      []model.WishlistItem{},
	}
	if s.storage == nil {
		s.storage = persist.NewMemory()
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.analytics == nil {
		s.analytics = analytics.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.runner = optimistic.New[string](s.policy, s.logger)
	return s
}

// Restore rehydrates persisted state.
func (s *Store) Restore(ctx context.Context) error {
	var p persisted
	ok, err := s.storage.Load(ctx, StorageName, &p)
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	s.items = reconcile.MergeWishlist(p.Items, nil, s.now())
	s.mu.Unlock()
	return nil
}

// Persist writes the current items.
func (s *Store) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.storage.Save(ctx, StorageName, persisted{Items: s.Items()})
}

func (s *Store) persist(ctx context.Context) {
	if err := s.Persist(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("failed to persist wishlist", slog.String("error", err.Error()))
	}
}

// Items returns a copy of the wishlist in insertion order.
func (s *Store) Items() []model.WishlistItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.WishlistItem{}, s.items...)
}

// Count returns the number of products on the wishlist.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Has reports whether productID is on the wishlist.
func (s *Store) Has(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(productID) >= 0
}

// IsSyncing reports whether a storefront wishlist call is in flight.
func (s *Store) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncing > 0
}

// LastSyncedAt returns when the storefront last accepted the wishlist.
func (s *Store) LastSyncedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncedAt
}

// Wait blocks until background syncs finish or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	return s.runner.Wait(ctx)
}

// InFlight reports how many background syncs have not finished.
func (s *Store) InFlight() int {
	return s.runner.Active()
}

// Add puts item on the wishlist. It reports false when the product was
// already there.
func (s *Store) Add(ctx context.Context, item model.WishlistItem) (bool, error) {
	item.ProductID = strings.TrimSpace(item.ProductID)
	if item.ProductID == "" {
		return false, model.NewValidationError("productId", "is required")
	}

	s.mu.Lock()
	if s.indexLocked(item.ProductID) >= 0 {
		s.mu.Unlock()
		return false, nil
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.now()
	}
	s.items = append(s.items, item)
	s.mu.Unlock()

	s.persist(ctx)
	s.analytics.Track(ctx, analytics.Event{
		Name: analytics.EventAddToWishlist, ProductID: item.ProductID, Value: item.Price, At: s.now(),
	})

	s.confirm(ctx, item.ProductID, "add", func() bool {
		i := s.indexLocked(item.ProductID)
		if i < 0 {
			return false
		}
		s.items = slices.Delete(s.items, i, i+1)
		return true
	})
	return true, nil
}

// Remove takes productID off the wishlist. It reports false when the product
// was not there.
func (s *Store) Remove(ctx context.Context, productID string) (bool, error) {
	s.mu.Lock()
	i := s.indexLocked(productID)
	if i < 0 {
		s.mu.Unlock()
		return false, nil
	}
	prior := s.items[i]
	s.items = slices.Delete(s.items, i, i+1)
	s.mu.Unlock()

	s.persist(ctx)
	s.analytics.Track(ctx, analytics.Event{
		Name: analytics.EventRemoveFromWishlist, ProductID: productID, At: s.now(),
	})

	s.confirm(ctx, productID, "remove", func() bool {
		if s.indexLocked(productID) >= 0 {
			return false
		}
		s.items = slices.Insert(s.items, min(i, len(s.items)), prior)
		return true
	})
	return true, nil
}

// Toggle adds item if absent and removes it if present. It reports whether
// the product is on the wishlist afterwards.
func (s *Store) Toggle(ctx context.Context, item model.WishlistItem) (bool, error) {
	if s.Has(item.ProductID) {
		_, err := s.Remove(ctx, item.ProductID)
		return false, err
	}
	return s.Add(ctx, item)
}

// Clear empties the wishlist and syncs the empty set.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.items = []model.WishlistItem{}
	s.mu.Unlock()

	s.persist(ctx)
	s.confirm(ctx, "", "clear", nil)
}

// LoadFromServer replaces the wishlist with the storefront's product IDs.
// Local metadata is kept for products still listed. An anonymous shopper's
// load is a no-op.
func (s *Store) LoadFromServer(ctx context.Context) error {
	ids, _, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]string, error) {
		return s.call(ctx, s.storefront.LoadWishlist)
	})
	if errors.Is(err, model.ErrUnauthorized) {
		return nil
	}
	if err != nil {
		s.logger.Error("wishlist load failed", slog.String("error", err.Error()))
		return err
	}

	s.mu.Lock()
	known := make(map[string]model.WishlistItem, len(s.items))
	for _, item := range s.items {
		known[item.ProductID] = item
	}
	var kept []model.WishlistItem
	for _, id := range ids {
		if item, ok := known[id]; ok {
			kept = append(kept, item)
		}
	}
	s.items = reconcile.MergeWishlist(kept, ids, s.now())
	s.lastSyncedAt = s.now()
	count := len(s.items)
	s.mu.Unlock()

	s.persist(ctx)
	s.logger.Info("wishlist loaded from storefront", slog.Int("items", count))
	return nil
}

// MergeOnLogin unions the local wishlist with the shopper's server wishlist.
// The storefront merges the product IDs; local metadata is kept and
// server-only products become stubs.
func (s *Store) MergeOnLogin(ctx context.Context) ([]model.WishlistItem, error) {
	local := s.Items()

	ids, _, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]string, error) {
		return s.call(ctx, func(ctx context.Context) ([]string, error) {
			return s.storefront.SyncWishlist(ctx, reconcile.ProductIDs(local), true)
		})
	})
	if errors.Is(err, model.ErrUnauthorized) {
		return local, nil
	}
	if err != nil {
		s.logger.Error("wishlist merge failed", slog.String("error", err.Error()))
		return nil, err
	}

	s.mu.Lock()
	// Merge into current items so changes made during the call survive.
	s.items = reconcile.MergeWishlist(s.items, ids, s.now())
	s.lastSyncedAt = s.now()
	merged := append([]model.WishlistItem{}, s.items...)
	s.mu.Unlock()

	s.persist(ctx)
	s.logger.Info("wishlist merged on login",
		slog.Int("local_items", len(local)),
		slog.Int("merged_items", len(merged)))
	return merged, nil
}

// confirm queues a push of the full ID set behind earlier syncs for
// productID, rolling back on terminal failure.
func (s *Store) confirm(ctx context.Context, productID, op string, rollback func() bool) {
	ctx = context.WithoutCancel(ctx)
	s.runner.Submit(ctx, productID, optimistic.Command{
		Op:      "wishlist " + op,
		Confirm: s.push,
		Rollback: func(err error, attempts int) {
			s.mu.Lock()
			reverted := rollback != nil && rollback()
			s.mu.Unlock()
			if reverted {
				s.persist(ctx)
			}
			s.notifier.Notify(ctx, notify.Notification{
				Level:   notify.LevelError,
				Title:   "Wishlist not saved",
				Message: fmt.Sprintf("Your wishlist change could not be saved after %d attempts.", attempts),
				At:      s.now(),
			})
		},
	})
}

// push sends the current ID set. Unauthenticated pushes succeed silently.
func (s *Store) push(ctx context.Context) error {
	ids := reconcile.ProductIDs(s.Items())
	_, err := s.call(ctx, func(ctx context.Context) ([]string, error) {
		return s.storefront.SyncWishlist(ctx, ids, false)
	})
	if errors.Is(err, model.ErrUnauthorized) {
		return nil
	}
	return err
}

// call runs fn with the syncing counter held and stamps lastSyncedAt on success.
func (s *Store) call(ctx context.Context, fn func(ctx context.Context) ([]string, error)) ([]string, error) {
	s.mu.Lock()
	s.syncing++
	s.mu.Unlock()

	ids, err := fn(ctx)

	s.mu.Lock()
	s.syncing--
	if err == nil {
		s.lastSyncedAt = s.now()
	}
	s.mu.Unlock()
	return ids, err
}

func (s *Store) indexLocked(productID string) int {
	for i, item := range s.items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}
