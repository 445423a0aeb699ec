package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"storefront-cart/internal/analytics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/optimistic"
)

// Add puts item.Quantity units of item in the cart, or as many as stock
// allows. An existing line for the same key grows instead of duplicating.
// When stock is exhausted nothing changes and an ErrOutOfStock error is
// returned; a partial add succeeds with a stock warning.
func (s *Store) Add(ctx context.Context, item model.LineItem) (model.LineItem, error) {
	if strings.TrimSpace(item.ProductID) == "" {
		return model.LineItem{}, model.NewValidationError("productId", "is required")
	}
	if item.Quantity <= 0 {
		return model.LineItem{}, model.NewValidationError("quantity", "must be positive")
	}
	key := item.Key()
	name := displayName(item)

	s.mu.Lock()
	i := s.indexLocked(key)
	existing := 0
	if i >= 0 {
		existing = s.items[i].Quantity
	}

	added := min(item.Quantity, max(0, item.Stock-existing))
	if added == 0 {
		s.recordLocked(model.CartErrorStock, string(model.OpAdd), key,
			fmt.Sprintf("%s is out of stock", name), 0)
		s.mu.Unlock()
		s.notify(ctx, notify.LevelWarning, "Out of stock",
			fmt.Sprintf("No more %s can be added to your cart.", name))
		return model.LineItem{}, model.NewOutOfStockError(item.ProductID)
	}

	clamped := added < item.Quantity
	if clamped {
		s.recordLocked(model.CartErrorStock, string(model.OpAdd), key,
			fmt.Sprintf("only %d of %d %s could be added", added, item.Quantity, name), 0)
	}

	if i >= 0 {
		s.items[i].Quantity += added
		s.items[i].Stock = item.Stock
	} else {
		line := item.Clone()
		line.Quantity = added
		s.items = append(s.items, line)
		i = len(s.items) - 1
	}

	// A key lives in the cart or in saved-for-later, never both.
	var displaced *model.SavedItem
	if j := s.savedIndexLocked(key); j >= 0 {
		d := s.saved[j]
		displaced = &d
		s.saved = slices.Delete(s.saved, j, j+1)
	}

	result := s.items[i].Clone()
	s.markPendingLocked(key, model.OpAdd)
	s.mu.Unlock()

	if clamped {
		s.notify(ctx, notify.LevelWarning, "Limited stock",
			fmt.Sprintf("Only %d of %s could be added to your cart.", added, name))
	}
	s.persist(ctx)
	s.track(ctx, analytics.EventAddToCart, result, added)

	s.confirm(ctx, key, model.OpAdd, "Couldn't add "+name, func() bool {
		j := s.indexLocked(key)
		if j < 0 {
			return false
		}
		s.items[j].Quantity -= added
		if s.items[j].Quantity <= 0 {
			s.items = slices.Delete(s.items, j, j+1)
			if displaced != nil && s.savedIndexLocked(key) < 0 {
				s.saved = append(s.saved, *displaced)
			}
		}
		return true
	})
	return result, nil
}

// Remove deletes the line for key.
func (s *Store) Remove(ctx context.Context, key model.ItemKey) error {
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return model.NewNotFoundError("cart item " + key.String())
	}
	prior := s.items[i].Clone()
	s.items = slices.Delete(s.items, i, i+1)
	s.markPendingLocked(key, model.OpRemove)
	s.mu.Unlock()

	s.persist(ctx)
	s.track(ctx, analytics.EventRemoveFromCart, prior, prior.Quantity)

	s.confirm(ctx, key, model.OpRemove, "Couldn't remove "+displayName(prior), func() bool {
		if s.indexLocked(key) >= 0 || s.savedIndexLocked(key) >= 0 {
			return false
		}
		pos := min(i, len(s.items))
		s.items = slices.Insert(s.items, pos, prior)
		return true
	})
	return nil
}

// UpdateQuantity sets the quantity for key, clamped to stock. Zero removes
// the line.
func (s *Store) UpdateQuantity(ctx context.Context, key model.ItemKey, quantity int) (model.LineItem, error) {
	if quantity < 0 {
		return model.LineItem{}, model.NewValidationError("quantity", "must not be negative")
	}
	if quantity == 0 {
		return model.LineItem{}, s.Remove(ctx, key)
	}

	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return model.LineItem{}, model.NewNotFoundError("cart item " + key.String())
	}

	item := s.items[i]
	target := min(quantity, item.Stock)
	clamped := target < quantity
	if clamped {
		s.recordLocked(model.CartErrorStock, string(model.OpUpdate), key,
			fmt.Sprintf("only %d of %s available", item.Stock, displayName(item)), 0)
	}
	if target <= 0 {
		s.mu.Unlock()
		return model.LineItem{}, s.Remove(ctx, key)
	}

	prior := item.Quantity
	s.items[i].Quantity = target
	result := s.items[i].Clone()
	s.markPendingLocked(key, model.OpUpdate)
	s.mu.Unlock()

	if clamped {
		s.notify(ctx, notify.LevelWarning, "Limited stock",
			fmt.Sprintf("Only %d of %s are available.", item.Stock, displayName(item)))
	}
	s.persist(ctx)
	s.track(ctx, analytics.EventUpdateQuantity, result, target)

	s.confirm(ctx, key, model.OpUpdate, "Couldn't update "+displayName(item), func() bool {
		j := s.indexLocked(key)
		// A newer mutation on this key owns the quantity now.
		if j < 0 || s.items[j].Quantity != target {
			return false
		}
		s.items[j].Quantity = prior
		return true
	})
	return result, nil
}

// SaveForLater moves the line for key out of the cart into saved-for-later.
func (s *Store) SaveForLater(ctx context.Context, key model.ItemKey) error {
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return model.NewNotFoundError("cart item " + key.String())
	}
	item := s.items[i]
	s.items = slices.Delete(s.items, i, i+1)
	s.saved = append(s.saved, model.SavedItem{LineItem: item, SavedAt: s.now()})
	s.markPendingLocked(key, model.OpSave)
	s.mu.Unlock()

	s.persist(ctx)
	s.track(ctx, analytics.EventSaveForLater, item, item.Quantity)
	s.confirm(ctx, key, model.OpSave, "Couldn't sync saved item", nil)
	return nil
}

// MoveToCart returns a saved item to the cart. Quantity sums with an
// existing line for the same key, subject to stock.
func (s *Store) MoveToCart(ctx context.Context, key model.ItemKey) (model.LineItem, error) {
	s.mu.Lock()
	j := s.savedIndexLocked(key)
	if j < 0 {
		s.mu.Unlock()
		return model.LineItem{}, model.NewNotFoundError("saved item " + key.String())
	}
	saved := s.saved[j].LineItem

	i := s.indexLocked(key)
	existing, stock := 0, saved.Stock
	if i >= 0 {
		existing, stock = s.items[i].Quantity, s.items[i].Stock
	}
	wanted := existing + saved.Quantity
	total := min(wanted, stock)
	if total <= 0 {
		s.recordLocked(model.CartErrorStock, string(model.OpRestore), key,
			fmt.Sprintf("%s is out of stock", displayName(saved)), 0)
		s.mu.Unlock()
		return model.LineItem{}, model.NewOutOfStockError(saved.ProductID)
	}
	clamped := total < wanted
	if clamped {
		s.recordLocked(model.CartErrorStock, string(model.OpRestore), key,
			fmt.Sprintf("only %d of %s available", stock, displayName(saved)), 0)
	}

	s.saved = slices.Delete(s.saved, j, j+1)
	if i >= 0 {
		s.items[i].Quantity = total
	} else {
		line := saved.Clone()
		line.Quantity = total
		s.items = append(s.items, line)
		i = len(s.items) - 1
	}
	result := s.items[i].Clone()
	s.markPendingLocked(key, model.OpRestore)
	s.mu.Unlock()

	if clamped {
		s.notify(ctx, notify.LevelWarning, "Limited stock",
			fmt.Sprintf("Only %d of %s are available.", stock, displayName(saved)))
	}
	s.persist(ctx)
	s.track(ctx, analytics.EventMoveToCart, result, total-existing)
	s.confirm(ctx, key, model.OpRestore, "Couldn't sync cart", nil)
	return result, nil
}

// RemoveSaved deletes a saved-for-later entry.
func (s *Store) RemoveSaved(ctx context.Context, key model.ItemKey) error {
	s.mu.Lock()
	j := s.savedIndexLocked(key)
	if j < 0 {
		s.mu.Unlock()
		return model.NewNotFoundError("saved item " + key.String())
	}
	s.saved = slices.Delete(s.saved, j, j+1)
	s.markPendingLocked(key, model.OpRemove)
	s.mu.Unlock()

	s.persist(ctx)
	s.confirm(ctx, key, model.OpRemove, "Couldn't sync saved items", nil)
	return nil
}

// ApplyCoupon replaces the applied coupon.
func (s *Store) ApplyCoupon(ctx context.Context, c model.Coupon) error {
	if err := s.validateCoupon(&c); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.coupon
	applied := c
	s.coupon = &applied
	s.mu.Unlock()

	s.persist(ctx)
	s.analytics.Track(ctx, analytics.Event{Name: analytics.EventApplyCoupon, Coupon: c.Code, At: s.now()})

	s.confirm(ctx, cartKey, "", "Couldn't apply coupon "+c.Code, func() bool {
		if s.coupon == nil || s.coupon.Code != c.Code {
			return false
		}
		s.coupon = prev
		return true
	})
	return nil
}

// RemoveCoupon drops the applied coupon, if any.
func (s *Store) RemoveCoupon(ctx context.Context) error {
	s.mu.Lock()
	prev := s.coupon
	s.coupon = nil
	s.mu.Unlock()
	if prev == nil {
		return nil
	}

	s.persist(ctx)
	s.confirm(ctx, cartKey, "", "Couldn't remove coupon", func() bool {
		if s.coupon != nil {
			return false
		}
		s.coupon = prev
		return true
	})
	return nil
}

// Clear empties the cart, saved-for-later, and coupon. The error log is kept.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.items = []model.LineItem{}
	s.saved = []model.SavedItem{}
	s.coupon = nil
	s.mu.Unlock()

	s.persist(ctx)
	s.confirm(ctx, cartKey, "", "Couldn't clear cart", nil)
}

func (s *Store) validateCoupon(c *model.Coupon) error {
	c.Code = strings.TrimSpace(c.Code)
	if c.Code == "" {
		return model.NewValidationError("coupon code", "is required")
	}
	if c.Scope == "" {
		c.Scope = model.ScopeCart
	}
	switch c.Type {
	case model.DiscountPercentage:
		if c.Value <= 0 || c.Value > 100 {
			return model.NewValidationError("coupon discount", "percentage must be between 1 and 100")
		}
	case model.DiscountFixed:
		if c.Value <= 0 {
			return model.NewValidationError("coupon discount", "must be positive")
		}
	default:
		return model.NewValidationError("coupon type", fmt.Sprintf("unknown type %q", c.Type))
	}
	if c.Scope != model.ScopeCart && c.Scope != model.ScopeShipping {
		return model.NewValidationError("coupon scope", fmt.Sprintf("unknown scope %q", c.Scope))
	}
	if c.Expired(s.now()) {
		return model.NewValidationError("coupon", "has expired")
	}
	return nil
}

// confirm queues a push of the whole cart behind earlier confirmations for
// key. After a terminal failure, rollback runs under the lock and reports
// whether it changed anything; the failure is logged and notified either way.
func (s *Store) confirm(ctx context.Context, key model.ItemKey, op model.PendingOp, failTitle string, rollback func() bool) {
	ctx = context.WithoutCancel(ctx)
	label := string(op)
	if label == "" {
		label = "cart"
	}

	s.runner.Submit(ctx, key, optimistic.Command{
		Op:      label,
		Confirm: s.push,
		OnSuccess: func() {
			s.mu.Lock()
			s.clearPendingLocked(key)
			s.mu.Unlock()
		},
		Rollback: func(err error, attempts int) {
			s.mu.Lock()
			reverted := rollback != nil && rollback()
			s.clearPendingLocked(key)
			s.recordLocked(classify(err), label, key, err.Error(), max(attempts-1, 0))
			s.mu.Unlock()

			msg := "Your change could not be saved to your account."
			if reverted {
				s.persist(ctx)
				msg = "Your change was undone because it could not be saved."
			}
			s.notify(ctx, notify.LevelError, failTitle, msg)
		},
	})
}

// push sends the current snapshot to the storefront. An unauthenticated
// response means an anonymous shopper: the call succeeds without touching
// lastSyncedAt.
func (s *Store) push(ctx context.Context) error {
	s.mu.Lock()
	s.syncing++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := s.storefront.SyncCart(ctx, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncing--

	switch {
	case err == nil:
		s.lastSyncedAt = s.now()
		return nil
	case errors.Is(err, model.ErrUnauthorized):
		s.logger.Debug("cart sync skipped, shopper not authenticated")
		return nil
	default:
		return err
	}
}
