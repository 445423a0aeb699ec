package cart

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"storefront-cart/internal/analytics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/reconcile"
	"storefront-cart/internal/retry"
)

// SyncToServer pushes the full cart now, under the retry policy. An
// anonymous shopper's push is a silent no-op.
func (s *Store) SyncToServer(ctx context.Context) error {
	start := time.Now()
	attempts, err := retry.Run(ctx, s.withRetryLog("sync"), s.push)
	if err != nil {
		s.mu.Lock()
		s.recordLocked(classify(err), "sync", cartKey, err.Error(), max(attempts-1, 0))
		s.mu.Unlock()
		s.logger.Error("cart sync failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return err
	}

	s.logger.Debug("cart synced",
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// LoadFromServer replaces local items, saved-for-later, and coupon with the
// storefront's cart. It does not merge. When a non-empty cart changes, the
// shopper is told what the server changed. An anonymous shopper's load is a
// no-op.
func (s *Store) LoadFromServer(ctx context.Context) error {
	snap, ok, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	items := reconcile.ClampToStock(snap.Items)
	saved := reconcile.MergeSaved(snap.SavedForLater, nil, items)

	s.mu.Lock()
	prev := s.items
	s.items = items
	s.saved = saved
	s.coupon = snap.AppliedCoupon
	s.lastSyncedAt = s.now()
	s.mu.Unlock()

	s.persist(ctx)

	diff := reconcile.DiffLineItems(prev, items)
	s.logger.Info("cart loaded from storefront",
		slog.Int("items", len(items)),
		slog.Int("saved", len(saved)),
		slog.Int("added", len(diff.Added)),
		slog.Int("removed", len(diff.Removed)),
		slog.Int("updated", len(diff.Updated)))
	if len(prev) > 0 && !diff.IsEmpty() {
		s.notify(ctx, notify.LevelInfo, "Cart updated from your account",
			strings.Join(diff.Summary(), ", "))
	}
	return nil
}

// MergeResult describes a login merge.
type MergeResult struct {
	Items     []model.LineItem       `json:"items"`
	Conflicts []model.ConflictReport `json:"conflicts"`
	Summaries []string               `json:"summaries"`
}

// MergeOnLogin reconciles the pre-login cart with the shopper's server cart:
//
//  1. capture the local cart
//  2. load the server cart
//  3. pool local and server items
//  4. have the storefront check the pool for deleted products, short stock,
//     and price changes
//  5. take the resolved items as the server view
//  6. union the server view with the local cart by key, keeping the larger
//     quantity (conflicts applied to the local side first)
//  7. push the result so both sides converge
//  8. notify one summary per conflict type
//
// An anonymous shopper's merge does nothing. A failed conflict check falls
// back to the server cart as loaded.
func (s *Store) MergeOnLogin(ctx context.Context) (*MergeResult, error) {
	local := s.Snapshot()

	server, ok, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &MergeResult{Items: local.Items}, nil
	}

	pool := make([]model.LineItem, 0, len(local.Items)+len(server.Items))
	pool = append(pool, local.Items...)
	pool = append(pool, server.Items...)

	serverView := server.Items
	var conflicts []model.ConflictReport
	if len(pool) > 0 {
		res, _, err := retry.Do(ctx, s.withRetryLog("resolve-conflicts"),
			func(ctx context.Context) (*model.Resolution, error) {
				return s.storefront.ResolveConflicts(ctx, pool)
			})
		if err != nil {
			s.logger.Warn("conflict resolution failed, merging unresolved server cart",
				slog.String("error", err.Error()))
		} else {
			serverView = res.ResolvedItems
			conflicts = res.Conflicts
		}
	}

	now := s.now()
	items := reconcile.ClampToStock(
		reconcile.MergeLineItems(reconcile.ApplyConflicts(local.Items, conflicts), serverView))
	saved := reconcile.MergeSaved(local.SavedForLater, server.SavedForLater, items)
	coupon := reconcile.PreferCoupon(local.AppliedCoupon, server.AppliedCoupon, now)

	s.mu.Lock()
	s.items = items
	s.saved = saved
	s.coupon = coupon
	s.mu.Unlock()
	s.persist(ctx)

	if err := s.SyncToServer(ctx); err != nil {
		s.notify(ctx, notify.LevelError, "Cart not synced",
			"Your cart was merged on this device but could not be saved to your account.")
	}

	summaries := reconcile.ConflictSummaries(conflicts)
	if len(summaries) > 0 {
		s.notify(ctx, notify.LevelWarning, "Your cart was updated", strings.Join(summaries, ", "))
	}

	s.analytics.Track(ctx, analytics.Event{
		Name:     analytics.EventCartMerged,
		Quantity: len(items),
		At:       now,
	})
	s.logger.Info("cart merged on login",
		slog.Int("local_items", len(local.Items)),
		slog.Int("server_items", len(server.Items)),
		slog.Int("merged_items", len(items)),
		slog.Int("conflicts", len(conflicts)))

	return &MergeResult{Items: s.Items(), Conflicts: conflicts, Summaries: summaries}, nil
}

// fetch loads the server cart under the retry policy. It reports false for
// an anonymous shopper.
func (s *Store) fetch(ctx context.Context) (model.Snapshot, bool, error) {
	snap, attempts, err := retry.Do(ctx, s.withRetryLog("load"), func(ctx context.Context) (model.Snapshot, error) {
		s.mu.Lock()
		s.syncing++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.syncing--
			s.mu.Unlock()
		}()
		return s.storefront.LoadCart(ctx)
	})

	switch {
	case err == nil:
		return snap, true, nil
	case errors.Is(err, model.ErrUnauthorized):
		s.logger.Debug("cart load skipped, shopper not authenticated")
		return model.Snapshot{}, false, nil
	default:
		s.mu.Lock()
		s.recordLocked(classify(err), "load", cartKey, err.Error(), max(attempts-1, 0))
		s.mu.Unlock()
		s.logger.Error("cart load failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return model.Snapshot{}, false, err
	}
}

func (s *Store) withRetryLog(op string) retry.Policy {
	p := s.policy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("storefront call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}
	return p
}
