// Package cart is the shopper's cart: line items, saved-for-later, and the
// applied coupon, mutated optimistically and confirmed against the
// storefront in the background.
//
// Every mutation applies to local state under a mutex before returning. Its
// confirmation runs later on a per-item queue; a terminal failure rolls back
// only that mutation's effect on its own item.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/analytics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/optimistic"
	"storefront-cart/internal/persist"
	"storefront-cart/internal/pricing"
	"storefront-cart/internal/retry"
)

// StorageName is the persisted state's name.
const StorageName = "cart-storage"

// cartKey queues confirmations that concern the whole cart (coupon, clear)
// rather than one item.
var cartKey = model.ItemKey{}

// Config holds the store's collaborators. Only Storefront and Logger are
// required.
type Config struct {
	Storefront adapter.Storefront
	Storage    persist.Storage
	Pricing    *pricing.Calculator
	Retry      retry.Policy
	Notifier   notify.Notifier
	Analytics  analytics.Sink
	Logger     *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Store holds one shopper's cart.
type Store struct {
	storefront adapter.Storefront
	storage    persist.Storage
	pricing    *pricing.Calculator
	policy     retry.Policy
	notifier   notify.Notifier
	analytics  analytics.Sink
	logger     *slog.Logger
	now        func() time.Time

	runner *optimistic.Runner[model.ItemKey]

	mu           sync.RWMutex
	items        []model.LineItem
	saved        []model.SavedItem
	coupon       *model.Coupon
	pending      map[model.ItemKey]pendingEntry
	errs         []model.CartError
	syncing      int
	lastSyncedAt time.Time

	// persistMu orders snapshot writes so the newest state lands last.
	persistMu sync.Mutex
}

// pendingEntry tracks unconfirmed mutations on one key. op is the newest
// kind; count is how many confirmations are still queued.
type pendingEntry struct {
	op    model.PendingOp
	count int
}

// persisted is the stored shape of the cart.
type persisted = model.Snapshot

// New creates an empty store.
func New(cfg Config) *Store {
	s := &Store{
		storefront: cfg.Storefront,
		storage:    cfg.Storage,
		pricing:    cfg.Pricing,
		policy:     cfg.Retry,
		notifier:   cfg.Notifier,
		analytics:  cfg.Analytics,
		logger:     cfg.Logger,
		now:        cfg.Now,
		items:      []model.LineItem{},
		saved:      []model.SavedItem{},
		pending:    make(map[model.ItemKey]pendingEntry),
	}
	if s.storage == nil {
		s.storage = persist.NewMemory()
	}
	if s.pricing == nil {
		s.pricing = pricing.New(pricing.DefaultConfig())
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
	s.runner = optimistic.New[model.ItemKey](s.policy, s.logger)
	return s
}

// Restore rehydrates persisted state. Missing or incompatible state leaves
// the cart empty.
func (s *Store) Restore(ctx context.Context) error {
	var snap persisted
	ok, err := s.storage.Load(ctx, StorageName, &snap)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	snap = snap.Clone()
	s.mu.Lock()
	s.items = snap.Items
	s.saved = snap.SavedForLater
	s.coupon = snap.AppliedCoupon
	s.mu.Unlock()

	s.logger.Info("cart restored",
		slog.Int("items", len(snap.Items)),
		slog.Int("saved", len(snap.SavedForLater)))
	return nil
}

// Persist writes the current snapshot.
func (s *Store) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.storage.Save(ctx, StorageName, s.Snapshot())
}

// persist is Persist for mutation paths: failures are logged, not returned.
func (s *Store) persist(ctx context.Context) {
	if err := s.Persist(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("failed to persist cart", slog.String("error", err.Error()))
	}
}

// === Reads ===

// Snapshot returns a deep copy of the persisted subset of state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		Items:         s.items,
		SavedForLater: s.saved,
		AppliedCoupon: s.coupon,
	}.Clone()
}

// Items returns a copy of the active line items.
func (s *Store) Items() []model.LineItem {
	return s.Snapshot().Items
}

// SavedForLater returns a copy of the saved-for-later list.
func (s *Store) SavedForLater() []model.SavedItem {
	return s.Snapshot().SavedForLater
}

// Coupon returns the applied coupon, or nil.
func (s *Store) Coupon() *model.Coupon {
	return s.Snapshot().AppliedCoupon
}

// Item returns the line item for key.
func (s *Store) Item(key model.ItemKey) (model.LineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(key); i >= 0 {
		return s.items[i].Clone(), true
	}
	return model.LineItem{}, false
}

// ItemCount returns the total quantity across line items.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}

// Totals prices the current cart.
func (s *Store) Totals() pricing.Totals {
	return s.pricing.Totals(s.Snapshot())
}

// Pending returns the kind of the newest unconfirmed mutation per key.
func (s *Store) Pending() map[model.ItemKey]model.PendingOp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ItemKey]model.PendingOp, len(s.pending))
	for k, e := range s.pending {
		out[k] = e.op
	}
	return out
}

// IsSyncing reports whether a storefront cart call is in flight.
func (s *Store) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncing > 0
}

// LastSyncedAt returns when the storefront last accepted the cart, or the
// zero time.
func (s *Store) LastSyncedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncedAt
}

// Errors returns the error log, oldest first.
func (s *Store) Errors() []model.CartError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CartError{}, s.errs...)
}

// ClearErrors empties the error log.
func (s *Store) ClearErrors() {
	s.mu.Lock()
	s.errs = nil
	s.mu.Unlock()
}

// Wait blocks until background confirmations finish or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	return s.runner.Wait(ctx)
}

// InFlight reports how many background confirmations have not finished.
func (s *Store) InFlight() int {
	return s.runner.Active()
}

// === Internal helpers ===

func (s *Store) indexLocked(key model.ItemKey) int {
	for i, item := range s.items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

func (s *Store) savedIndexLocked(key model.ItemKey) int {
	for i, item := range s.saved {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

func (s *Store) markPendingLocked(key model.ItemKey, op model.PendingOp) {
	e := s.pending[key]
	e.op = op
	e.count++
	s.pending[key] = e
}

func (s *Store) clearPendingLocked(key model.ItemKey) {
	e, ok := s.pending[key]
	if !ok {
		return
	}
	e.count--
	if e.count <= 0 {
		delete(s.pending, key)
		return
	}
	s.pending[key] = e
}

// recordLocked appends an entry to the error log and returns it.
func (s *Store) recordLocked(typ model.CartErrorType, op string, key model.ItemKey, msg string, retries int) model.CartError {
	e := model.CartError{
		ID:         uuid.NewString(),
		Type:       typ,
		Message:    msg,
		Operation:  op,
		ItemID:     key.String(),
		RetryCount: retries,
		At:         s.now(),
	}
	s.errs = append(s.errs, e)
	return e
}

// classify maps a confirmation failure to the error taxonomy.
func classify(err error) model.CartErrorType {
	switch {
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrForbidden):
		return model.CartErrorValidation
	case errors.Is(err, model.ErrOutOfStock):
		return model.CartErrorStock
	case errors.Is(err, model.ErrUpstreamError), errors.Is(err, model.ErrRateLimited),
		errors.Is(err, context.DeadlineExceeded):
		return model.CartErrorNetwork
	default:
		return model.CartErrorUnknown
	}
}

func (s *Store) notify(ctx context.Context, level notify.Level, title, msg string) {
	s.notifier.Notify(ctx, notify.Notification{Level: level, Title: title, Message: msg, At: s.now()})
}

func (s *Store) track(ctx context.Context, name analytics.EventName, item model.LineItem, qty int) {
	s.analytics.Track(ctx, analytics.Event{
		Name:      name,
		ProductID: item.ProductID,
		Variant:   item.Variant.Signature(),
		Quantity:  qty,
		Value:     item.Price * int64(qty),
		At:        s.now(),
	})
}

func displayName(item model.LineItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ProductID
}
