package cart

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/persist"
	"storefront-cart/internal/retry"
)

type fixture struct {
	store   *Store
	mock    *adapter.Mock
	feed    *notify.Feed
	storage *persist.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mock:    &adapter.Mock{},
		feed:    notify.NewFeed(20),
		storage: persist.NewMemory(),
	}
	f.store = New(Config{
		Storefront: f.mock,
		Storage:    f.storage,
		Retry:      retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Notifier:   f.feed,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.store.Wait(ctx))
}

func product(id string, price int64, qty, stock int) model.LineItem {
	return model.LineItem{ProductID: id, Name: "Product " + id, Price: price, Quantity: qty, Stock: stock}
}

func serverDown() error {
	return model.NewStatusError("storefront", 503, "unavailable")
}

func TestAdd_ClampsToStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	line, err := f.store.Add(ctx, product("p1", 1000, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)

	errs := f.store.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.CartErrorStock, errs[0].Type)
	assert.Equal(t, "add", errs[0].Operation)
	assert.Equal(t, "p1", errs[0].ItemID)
	assert.NotEmpty(t, errs[0].ID)

	notes := f.feed.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelWarning, notes[0].Level)

	f.wait(t)
	assert.Empty(t, f.store.Pending())
}

func TestAdd_OutOfStockLeavesCartUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Add(ctx, product("p1", 1000, 2, 2))
	require.NoError(t, err)

	_, err = f.store.Add(ctx, product("p1", 1000, 1, 2))
	assert.ErrorIs(t, err, model.ErrOutOfStock)

	items := f.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, model.CartErrorStock, f.store.Errors()[0].Type)
	f.wait(t)
}

func TestAdd_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Add(context.Background(), model.LineItem{Quantity: 1, Stock: 1})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = f.store.Add(context.Background(), product("p1", 100, 0, 5))
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	assert.Empty(t, f.store.Items())
}

func TestAdd_NoDuplicateVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	red := product("shirt", 2000, 1, 10)
	red.Variant = &model.Variant{Size: "M", Color: "Red"}
	blue := product("shirt", 2000, 1, 10)
	blue.Variant = &model.Variant{Size: "M", Color: "Blue"}
	redAgain := product("shirt", 2000, 2, 10)
	redAgain.Variant = &model.Variant{Color: "red", Size: "m"}

	for _, item := range []model.LineItem{red, blue, redAgain} {
		_, err := f.store.Add(ctx, item)
		require.NoError(t, err)
	}
	f.wait(t)

	items := f.store.Items()
	require.Len(t, items, 2, "two distinct variants")
	got, ok := f.store.Item(red.Key())
	require.True(t, ok)
	assert.Equal(t, 3, got.Quantity)
	assert.Equal(t, 4, f.store.ItemCount())
}

func TestAdd_RollbackOnTerminalFailure(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	f.mock.SyncCartFunc = func(context.Context, model.Snapshot) error {
		calls.Add(1)
		return serverDown()
	}

	_, err := f.store.Add(context.Background(), product("p1", 1000, 1, 5))
	require.NoError(t, err, "the optimistic add succeeds immediately")
	assert.Len(t, f.store.Items(), 1)

	f.wait(t)

	assert.Empty(t, f.store.Items(), "rolled back")
	assert.Empty(t, f.store.Pending())
	assert.EqualValues(t, 3, calls.Load())

	errs := f.store.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.CartErrorNetwork, errs[0].Type)
	assert.Equal(t, 2, errs[0].RetryCount)

	notes := f.feed.Drain()
	require.NotEmpty(t, notes)
	assert.Equal(t, notify.LevelError, notes[len(notes)-1].Level)
}

func TestAdd_RollbackRemovesOnlyTheDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var failing atomic.Bool
	f.mock.SyncCartFunc = func(context.Context, model.Snapshot) error {
		if failing.Load() {
			return model.NewValidationError("items", "rejected")
		}
		return nil
	}

	_, err := f.store.Add(ctx, product("p1", 1000, 1, 5))
	require.NoError(t, err)
	f.wait(t)

	failing.Store(true)
	_, err = f.store.Add(ctx, product("p1", 1000, 2, 5))
	require.NoError(t, err)
	f.wait(t)

	items := f.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity, "confirmed unit survives")

	errs := f.store.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.CartErrorValidation, errs[0].Type)
	assert.Equal(t, 0, errs[0].RetryCount, "4xx is not retried")
}

func TestRemove_RollbackRestoresPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.store.Add(ctx, product(id, 100, 1, 5))
		require.NoError(t, err)
	}
	f.wait(t)

	f.mock.SyncCartFunc = func(context.Context, model.Snapshot) error { return serverDown() }
	require.NoError(t, f.store.Remove(ctx, model.ItemKey{ProductID: "b"}))
	assert.Len(t, f.store.Items(), 2)
	assert.Equal(t, model.OpRemove, f.store.Pending()[model.ItemKey{ProductID: "b"}])

	f.wait(t)

	items := f.store.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "b", items[1].ProductID)
}

func TestRemove_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.store.Remove(context.Background(), model.ItemKey{ProductID: "missing"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := model.ItemKey{ProductID: "p1"}

	_, err := f.store.Add(ctx, product("p1", 1000, 1, 4))
	require.NoError(t, err)

	line, err := f.store.UpdateQuantity(ctx, key, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, line.Quantity)

	line, err = f.store.UpdateQuantity(ctx, key, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, line.Quantity, "clamped to stock")
	assert.Equal(t, model.CartErrorStock, f.store.Errors()[0].Type)

	_, err = f.store.UpdateQuantity(ctx, key, -1)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = f.store.UpdateQuantity(ctx, key, 0)
	require.NoError(t, err)
	assert.Empty(t, f.store.Items(), "zero removes")

	f.wait(t)
	assert.Empty(t, f.store.Pending())
}

func TestUpdateQuantity_RollbackRestoresPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := model.ItemKey{ProductID: "p1"}

	_, err := f.store.Add(ctx, product("p1", 1000, 2, 9))
	require.NoError(t, err)
	f.wait(t)

	f.mock.SyncCartFunc = func(context.Context, model.Snapshot) error { return serverDown() }
	_, err = f.store.UpdateQuantity(ctx, key, 7)
	require.NoError(t, err)
	f.wait(t)

	got, ok := f.store.Item(key)
	require.True(t, ok)
	assert.Equal(t, 2, got.Quantity)
}

func TestPending_TracksQueuedConfirmations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := model.ItemKey{ProductID: "p1"}

	release := make(chan struct{})
	f.mock.SyncCartFunc = func(context.Context, model.Snapshot) error {
		<-release
		return nil
	}

	_, err := f.store.Add(ctx, product("p1", 1000, 1, 9))
	require.NoError(t, err)
	_, err = f.store.UpdateQuantity(ctx, key, 5)
	require.NoError(t, err)

	assert.Equal(t, model.OpUpdate, f.store.Pending()[key], "newest kind wins")
	close(release)
	f.wait(t)
	assert.Empty(t, f.store.Pending())
}

func TestSameKeyConfirmationsRunInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := model.ItemKey{ProductID: "p1"}

	var mu sync.Mutex
	inFlight := 0
	overlapped := false
	f.mock.SyncCartFunc = func(context.Context, model.Snapshot) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlapped = true
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	_, err := f.store.Add(ctx, product("p1", 1000, 1, 20))
	require.NoError(t, err)
	for q := 2; q <= 6; q++ {
		_, err := f.store.UpdateQuantity(ctx, key, q)
		require.NoError(t, err)
	}
	f.wait(t)

	assert.False(t, overlapped, "syncs for one key must not overlap")
	got, _ := f.store.Item(key)
	assert.Equal(t, 6, got.Quantity)
}

func TestSaveForLaterAndMoveToCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := model.ItemKey{ProductID: "p1"}

	_, err := f.store.Add(ctx, product("p1", 1000, 2, 5))
	require.NoError(t, err)
	require.NoError(t, f.store.SaveForLater(ctx, key))

	_, inCart := f.store.Item(key)
	assert.False(t, inCart)
	saved := f.store.SavedForLater()
	require.Len(t, saved, 1)
	assert.Equal(t, key, saved[0].Key())
	assert.False(t, saved[0].SavedAt.IsZero())

	// Adding the same key again displaces the saved entry.
	_, err = f.store.Add(ctx, product("p1", 1000, 1, 5))
	require.NoError(t, err)
	assert.Empty(t, f.store.SavedForLater(), "adding displaces the saved entry")

	require.NoError(t, f.store.SaveForLater(ctx, key))
	_, err = f.store.Add(ctx, product("p1", 1000, 1, 5))
	require.NoError(t, err)
	f.wait(t)
	assert.Empty(t, f.store.SavedForLater())

	_, err = f.store.MoveToCart(ctx, key)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMoveToCart_SumsWithExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := model.ItemKey{ProductID: "p1"}

	f.store.saved = []model.SavedItem{{LineItem: product("p1", 1000, 2, 4), SavedAt: time.Now()}}
	f.store.items = []model.LineItem{product("p1", 1000, 1, 4)}

	line, err := f.store.MoveToCart(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, line.Quantity)
	assert.Empty(t, f.store.SavedForLater())
	assert.Len(t, f.store.Items(), 1)

	f.wait(t)
	f.store.saved = []model.SavedItem{{LineItem: product("p1", 1000, 3, 4)}}
	line, err = f.store.MoveToCart(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 4, line.Quantity, "clamped to stock")
	assert.Equal(t, model.CartErrorStock, f.store.Errors()[0].Type)
	f.wait(t)
}

func TestRemoveSaved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := model.ItemKey{ProductID: "p1"}

	_, err := f.store.Add(ctx, product("p1", 1000, 1, 5))
	require.NoError(t, err)
	require.NoError(t, f.store.SaveForLater(ctx, key))
	require.NoError(t, f.store.RemoveSaved(ctx, key))
	assert.Empty(t, f.store.SavedForLater())
	assert.ErrorIs(t, f.store.RemoveSaved(ctx, key), model.ErrNotFound)
	f.wait(t)
}

func TestApplyCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	tests := []struct {
		name   string
		coupon model.Coupon
	}{
		{"empty code", model.Coupon{Type: model.DiscountFixed, Value: 100}},
		{"unknown type", model.Coupon{Code: "X", Type: "bogo", Value: 1}},
		{"percentage over 100", model.Coupon{Code: "X", Type: model.DiscountPercentage, Value: 150}},
		{"zero fixed", model.Coupon{Code: "X", Type: model.DiscountFixed}},
		{"bad scope", model.Coupon{Code: "X", Type: model.DiscountFixed, Value: 1, Scope: "tax"}},
		{"expired", model.Coupon{Code: "X", Type: model.DiscountFixed, Value: 1, ExpiresAt: &past}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.store.ApplyCoupon(ctx, tt.coupon), model.ErrInvalidRequest)
		})
	}

	require.NoError(t, f.store.ApplyCoupon(ctx, model.Coupon{Code: "SAVE10", Type: model.DiscountPercentage, Value: 10}))
	require.NoError(t, f.store.ApplyCoupon(ctx, model.Coupon{Code: "SHIP", Type: model.DiscountFixed, Value: 200, Scope: model.ScopeShipping}))
	assert.Equal(t, "SHIP", f.store.Coupon().Code, "applying replaces")

	require.NoError(t, f.store.RemoveCoupon(ctx))
	assert.Nil(t, f.store.Coupon())
	f.wait(t)
}

func TestApplyCoupon_RollbackRestoresPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.ApplyCoupon(ctx, model.Coupon{Code: "OLD", Type: model.DiscountFixed, Value: 100}))
	f.wait(t)

	f.mock.SyncCartFunc = func(context.Context, model.Snapshot) error {
		return model.NewValidationError("coupon", "not valid for this cart")
	}
	require.NoError(t, f.store.ApplyCoupon(ctx, model.Coupon{Code: "NEW", Type: model.DiscountFixed, Value: 500}))
	f.wait(t)

	require.NotNil(t, f.store.Coupon())
	assert.Equal(t, "OLD", f.store.Coupon().Code)
}

func TestTotals_ReferenceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Add(ctx, product("p1", 1000, 2, 10))
	require.NoError(t, err)
	_, err = f.store.Add(ctx, product("p2", 2000, 1, 10))
	require.NoError(t, err)
	require.NoError(t, f.store.ApplyCoupon(ctx, model.Coupon{Code: "SAVE10", Type: model.DiscountPercentage, Value: 10}))
	f.wait(t)

	totals := f.store.Totals()
	assert.EqualValues(t, 4000, totals.Subtotal)
	assert.EqualValues(t, 400, totals.Discount)
	assert.EqualValues(t, 648, totals.Tax)
	assert.EqualValues(t, 599, totals.Shipping)
	assert.EqualValues(t, 4847, totals.Total)
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Add(ctx, product("p1", 1000, 1, 5))
	require.NoError(t, err)
	require.NoError(t, f.store.ApplyCoupon(ctx, model.Coupon{Code: "X", Type: model.DiscountFixed, Value: 1}))
	f.store.Clear(ctx)
	f.wait(t)

	snap := f.store.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.SavedForLater)
	assert.Nil(t, snap.AppliedCoupon)
}

func TestPersistAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Add(ctx, product("p1", 1000, 2, 5))
	require.NoError(t, err)
	require.NoError(t, f.store.ApplyCoupon(ctx, model.Coupon{Code: "X", Type: model.DiscountFixed, Value: 100}))
	f.wait(t)

	restored := New(Config{
		Storefront: f.mock,
		Storage:    f.storage,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, restored.Restore(ctx))

	assert.Len(t, restored.Items(), 1)
	assert.Equal(t, "X", restored.Coupon().Code)
	assert.Empty(t, restored.Pending(), "transient state is not persisted")
	assert.Empty(t, restored.Errors())
	assert.True(t, restored.LastSyncedAt().IsZero())
}
