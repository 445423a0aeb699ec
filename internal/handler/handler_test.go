package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/cart"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/retry"
	"storefront-cart/internal/session"
	"storefront-cart/internal/wishlist"
)

func testHandler(mock *adapter.Mock) (*Handler, *http.ServeMux) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	feed := notify.NewFeed(notify.DefaultFeedSize)

	c := cart.New(cart.Config{Storefront: mock, Retry: policy, Notifier: feed, Logger: logger})
	wl := wishlist.New(wishlist.Config{Storefront: mock, Retry: policy, Notifier: feed, Logger: logger})

	tracker := session.NewTracker(logger)
	tracker.OnLogin(func(ctx context.Context, s session.Session) error {
		_, cartErr := c.MergeOnLogin(ctx)
		_, wlErr := wl.MergeOnLogin(ctx)
		return errors.Join(cartErr, wlErr)
	})

	h := New(c, wl, tracker, feed, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

// settle waits for background confirmations so assertions see final state.
func settle(t *testing.T, h *Handler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.cart.Wait(ctx); err != nil {
		t.Fatalf("cart confirmations did not finish: %v", err)
	}
	if err := h.wishlist.Wait(ctx); err != nil {
		t.Fatalf("wishlist confirmations did not finish: %v", err)
	}
}

func doRequest(mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeCart(t *testing.T, w *httptest.ResponseRecorder) cartView {
	t.Helper()
	var view cartView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode cart: %v\nBody: %s", err, w.Body.String())
	}
	return view
}

// getErrorCode extracts the error code from an error envelope.
func getErrorCode(body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error.Code
}

func shirt(qty, stock int) map[string]interface{} {
	return map[string]interface{}{
		"productId": "shirt",
		"name":      "Linen Shirt",
		"price":     2500,
		"quantity":  qty,
		"stock":     stock,
	}
}

func TestHandleHealth(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	for _, path := range []string{"/health", "/healthz"} {
		w := doRequest(mux, "GET", path, nil)

		if w.Code != http.StatusOK {
			t.Errorf("%s: Status = %d, want %d", path, w.Code, http.StatusOK)
		}

		var resp healthResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Status != "ok" {
			t.Errorf("%s: Status = %s, want ok", path, resp.Status)
		}
	}
}

func TestHandleHealthReportsSyncsInFlight(t *testing.T) {
	release := make(chan struct{})
	mock := &adapter.Mock{
		SyncCartFunc: func(ctx context.Context, _ model.Snapshot) error {
			<-release
			return nil
		},
	}
	h, mux := testHandler(mock)

	if w := doRequest(mux, "POST", "/cart/items", shirt(1, 5)); w.Code != http.StatusCreated {
		t.Fatalf("add Status = %d, want %d", w.Code, http.StatusCreated)
	}

	var resp healthResponse
	json.NewDecoder(doRequest(mux, "GET", "/health", nil).Body).Decode(&resp)
	if resp.SyncsInFlight.Cart != 1 || resp.SyncsInFlight.Wishlist != 0 {
		t.Errorf("SyncsInFlight = %+v, want cart 1, wishlist 0", resp.SyncsInFlight)
	}

	close(release)
	settle(t, h)

	resp = healthResponse{}
	json.NewDecoder(doRequest(mux, "GET", "/health", nil).Body).Decode(&resp)
	if resp.SyncsInFlight.Cart != 0 {
		t.Errorf("SyncsInFlight.Cart = %d after settle, want 0", resp.SyncsInFlight.Cart)
	}
}

func TestHandleGetCartEmpty(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	w := doRequest(mux, "GET", "/cart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	view := decodeCart(t, w)
	if len(view.Items) != 0 || view.ItemCount != 0 {
		t.Errorf("Expected empty cart, got %+v", view)
	}
	if !view.Totals.Estimate {
		t.Error("Totals should be flagged as an estimate")
	}
	if view.Totals.Shipping != 599 {
		t.Errorf("Shipping = %d, want 599", view.Totals.Shipping)
	}
}

func TestHandleAddItem(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})

	w := doRequest(mux, "POST", "/cart/items", shirt(2, 5))
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	view := decodeCart(t, w)
	if view.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", view.ItemCount)
	}
	if view.Totals.Subtotal != 5000 {
		t.Errorf("Subtotal = %d, want 5000", view.Totals.Subtotal)
	}
	if !view.Totals.FreeShipping.Unlocked || view.Totals.Shipping != 0 {
		t.Errorf("Expected free shipping at the threshold, got %+v", view.Totals.FreeShipping)
	}

	settle(t, h)
	if len(h.cart.Pending()) != 0 {
		t.Errorf("Pending = %v, want none after confirmation", h.cart.Pending())
	}
}

func TestHandleAddItemErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"invalid JSON", "{not json", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing product", map[string]interface{}{"quantity": 1, "stock": 1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero quantity", shirt(0, 5), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"out of stock", shirt(1, 0), http.StatusConflict, "OUT_OF_STOCK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mux := testHandler(&adapter.Mock{})

			w := doRequest(mux, "POST", "/cart/items", tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := getErrorCode(w.Body.Bytes()); code != tt.wantCode {
				t.Errorf("Code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestHandleUpdateItem(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		body         interface{}
		wantStatus   int
		wantQuantity int
	}{
		{"set quantity", "/cart/items/shirt", map[string]int{"quantity": 3}, http.StatusOK, 3},
		{"clamped to stock", "/cart/items/shirt", map[string]int{"quantity": 9}, http.StatusOK, 5},
		{"zero removes", "/cart/items/shirt", map[string]int{"quantity": 0}, http.StatusOK, 0},
		{"unknown key", "/cart/items/hat", map[string]int{"quantity": 1}, http.StatusNotFound, 2},
		{"missing quantity", "/cart/items/shirt", map[string]int{}, http.StatusBadRequest, 2},
		{"negative quantity", "/cart/items/shirt", map[string]int{"quantity": -1}, http.StatusBadRequest, 2},
		{"blank key", "/cart/items/%20", map[string]int{"quantity": 1}, http.StatusBadRequest, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mux := testHandler(&adapter.Mock{})
			doRequest(mux, "POST", "/cart/items", shirt(2, 5))

			w := doRequest(mux, "PATCH", tt.path, tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d\nBody: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := h.cart.ItemCount(); got != tt.wantQuantity {
				t.Errorf("ItemCount = %d, want %d", got, tt.wantQuantity)
			}
			settle(t, h)
		})
	}
}

func TestHandleVariantKeys(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})

	small := shirt(1, 5)
	small["variant"] = map[string]string{"size": "S", "color": "Blue"}
	large := shirt(1, 5)
	large["variant"] = map[string]string{"sku": "SHIRT-L"}

	doRequest(mux, "POST", "/cart/items", small)
	w := doRequest(mux, "POST", "/cart/items", large)

	view := decodeCart(t, w)
	if len(view.Items) != 2 {
		t.Fatalf("Items = %d, want 2 distinct variant lines", len(view.Items))
	}

	w = doRequest(mux, "PATCH", "/cart/items/shirt@sku:SHIRT-L", map[string]int{"quantity": 4})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	item, ok := h.cart.Item(model.ItemKey{ProductID: "shirt", Variant: "sku:SHIRT-L"})
	if !ok || item.Quantity != 4 {
		t.Errorf("SKU variant = %+v, want quantity 4", item)
	}
	item, ok = h.cart.Item(model.ItemKey{ProductID: "shirt", Variant: "size:s|color:blue"})
	if !ok || item.Quantity != 1 {
		t.Errorf("size/color variant = %+v, want quantity 1", item)
	}
	settle(t, h)
}

func TestHandleRemoveItem(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})
	doRequest(mux, "POST", "/cart/items", shirt(2, 5))

	w := doRequest(mux, "DELETE", "/cart/items/shirt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if view := decodeCart(t, w); len(view.Items) != 0 {
		t.Errorf("Items = %d, want 0", len(view.Items))
	}

	w = doRequest(mux, "DELETE", "/cart/items/shirt", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
	settle(t, h)
}

func TestHandleRemoveItemRollback(t *testing.T) {
	mock := &adapter.Mock{}
	h, mux := testHandler(mock)
	doRequest(mux, "POST", "/cart/items", shirt(2, 5))
	settle(t, h)

	mock.SyncCartFunc = func(ctx context.Context, snap model.Snapshot) error {
		return model.NewValidationError("items", "rejected")
	}

	w := doRequest(mux, "DELETE", "/cart/items/shirt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	settle(t, h)

	if got := h.cart.ItemCount(); got != 2 {
		t.Errorf("ItemCount after rollback = %d, want 2", got)
	}

	w = doRequest(mux, "GET", "/cart/errors", nil)
	var resp errorsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Errors) != 1 || resp.Errors[0].Type != model.CartErrorValidation {
		t.Errorf("Errors = %+v, want one validation error", resp.Errors)
	}
}

func TestHandleSaveAndMove(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})
	doRequest(mux, "POST", "/cart/items", shirt(2, 5))

	w := doRequest(mux, "POST", "/cart/items/shirt/save", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Save status = %d, want %d", w.Code, http.StatusOK)
	}
	view := decodeCart(t, w)
	if len(view.Items) != 0 || len(view.SavedForLater) != 1 {
		t.Fatalf("After save: items=%d saved=%d, want 0/1", len(view.Items), len(view.SavedForLater))
	}

	w = doRequest(mux, "POST", "/cart/saved/shirt/move", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Move status = %d, want %d", w.Code, http.StatusOK)
	}
	view = decodeCart(t, w)
	if view.ItemCount != 2 || len(view.SavedForLater) != 0 {
		t.Errorf("After move: count=%d saved=%d, want 2/0", view.ItemCount, len(view.SavedForLater))
	}

	w = doRequest(mux, "POST", "/cart/saved/shirt/move", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Move of missing saved item status = %d, want %d", w.Code, http.StatusNotFound)
	}

	doRequest(mux, "POST", "/cart/items/shirt/save", nil)
	w = doRequest(mux, "DELETE", "/cart/saved/shirt", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Remove saved status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(h.cart.SavedForLater()) != 0 {
		t.Error("Saved item should be gone")
	}
	settle(t, h)
}

func TestHandleCoupon(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})
	doRequest(mux, "POST", "/cart/items", shirt(1, 5))

	w := doRequest(mux, "PUT", "/cart/coupon", map[string]interface{}{
		"code": "SAVE10", "discount": 10, "type": "percentage", "scope": "cart",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}
	view := decodeCart(t, w)
	if view.AppliedCoupon == nil || view.AppliedCoupon.Code != "SAVE10" {
		t.Fatalf("AppliedCoupon = %+v, want SAVE10", view.AppliedCoupon)
	}
	if view.Totals.Discount != 250 {
		t.Errorf("Discount = %d, want 250", view.Totals.Discount)
	}

	w = doRequest(mux, "PUT", "/cart/coupon", map[string]interface{}{
		"code": "BAD", "discount": 150, "type": "percentage",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Invalid coupon status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doRequest(mux, "DELETE", "/cart/coupon", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Remove status = %d, want %d", w.Code, http.StatusOK)
	}
	if view := decodeCart(t, w); view.AppliedCoupon != nil {
		t.Errorf("AppliedCoupon = %+v, want nil", view.AppliedCoupon)
	}
	settle(t, h)
}

func TestHandleGetTotals(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})
	doRequest(mux, "POST", "/cart/items", map[string]interface{}{
		"productId": "mug", "price": 1999, "quantity": 2, "stock": 10,
	})

	w := doRequest(mux, "GET", "/cart/totals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var totals struct {
		Subtotal int64 `json:"subtotal"`
		Shipping int64 `json:"shipping"`
		Tax      int64 `json:"tax"`
		Total    int64 `json:"total"`
	}
	json.NewDecoder(w.Body).Decode(&totals)

	// 3998 + 599 shipping + round(3998 * 0.18) = 720
	if totals.Subtotal != 3998 || totals.Shipping != 599 || totals.Tax != 720 || totals.Total != 5317 {
		t.Errorf("Totals = %+v", totals)
	}
	settle(t, h)
}

func TestHandleClearCart(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})
	doRequest(mux, "POST", "/cart/items", shirt(2, 5))

	w := doRequest(mux, "DELETE", "/cart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if view := decodeCart(t, w); len(view.Items) != 0 {
		t.Errorf("Items = %d, want 0", len(view.Items))
	}
	settle(t, h)
}

func TestHandleSyncCart(t *testing.T) {
	var synced model.Snapshot
	mock := &adapter.Mock{
		SyncCartFunc: func(ctx context.Context, snap model.Snapshot) error {
			synced = snap
			return nil
		},
	}
	h, mux := testHandler(mock)
	doRequest(mux, "POST", "/cart/items", shirt(1, 5))
	settle(t, h)

	w := doRequest(mux, "POST", "/cart/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	view := decodeCart(t, w)
	if view.LastSyncedAt == nil {
		t.Error("LastSyncedAt should be set after a sync")
	}
	if len(synced.Items) != 1 {
		t.Errorf("Synced items = %d, want 1", len(synced.Items))
	}
}

func TestHandleSyncCartAnonymous(t *testing.T) {
	mock := &adapter.Mock{
		SyncCartFunc: func(ctx context.Context, snap model.Snapshot) error {
			return model.NewUnauthorizedError("no session")
		},
	}
	_, mux := testHandler(mock)

	w := doRequest(mux, "POST", "/cart/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	view := decodeCart(t, w)
	if view.LastSyncedAt != nil {
		t.Errorf("LastSyncedAt = %v, want unset for anonymous sync", view.LastSyncedAt)
	}
	if len(view.Errors) != 0 {
		t.Errorf("Errors = %+v, want none", view.Errors)
	}
}

func TestHandleLoadCart(t *testing.T) {
	mock := &adapter.Mock{
		LoadCartFunc: func(ctx context.Context) (model.Snapshot, error) {
			return model.Snapshot{
				Items: []model.LineItem{{ProductID: "server-hat", Price: 1500, Quantity: 1, Stock: 3}},
			}, nil
		},
	}
	_, mux := testHandler(mock)
	doRequest(mux, "POST", "/cart/items", shirt(1, 5))

	w := doRequest(mux, "POST", "/cart/load", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	view := decodeCart(t, w)
	if len(view.Items) != 1 || view.Items[0].ProductID != "server-hat" {
		t.Errorf("Items = %+v, want server cart only", view.Items)
	}
}

func TestHandleErrorLog(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})
	doRequest(mux, "POST", "/cart/items", shirt(1, 0))

	w := doRequest(mux, "GET", "/cart/errors", nil)
	var resp errorsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Errors) != 1 || resp.Errors[0].Type != model.CartErrorStock {
		t.Fatalf("Errors = %+v, want one stock error", resp.Errors)
	}

	w = doRequest(mux, "DELETE", "/cart/errors", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = doRequest(mux, "GET", "/cart/errors", nil)
	resp = errorsResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Errors) != 0 {
		t.Errorf("Errors after clear = %d, want 0", len(resp.Errors))
	}
}

func TestHandleWishlist(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})

	w := doRequest(mux, "PUT", "/wishlist/lamp", map[string]interface{}{"name": "Desk Lamp", "price": 4500})
	if w.Code != http.StatusCreated {
		t.Fatalf("Add status = %d, want %d", w.Code, http.StatusCreated)
	}

	w = doRequest(mux, "PUT", "/wishlist/lamp", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Duplicate add status = %d, want %d", w.Code, http.StatusOK)
	}

	w = doRequest(mux, "GET", "/wishlist", nil)
	var view wishlistView
	json.NewDecoder(w.Body).Decode(&view)
	if view.Count != 1 || view.Items[0].Name != "Desk Lamp" {
		t.Errorf("Wishlist = %+v, want the lamp once", view)
	}

	w = doRequest(mux, "POST", "/wishlist/lamp/toggle", nil)
	var toggled toggleResponse
	json.NewDecoder(w.Body).Decode(&toggled)
	if toggled.InWishlist || toggled.Count != 0 {
		t.Errorf("Toggle = %+v, want removed", toggled)
	}

	w = doRequest(mux, "DELETE", "/wishlist/lamp", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Remove missing status = %d, want %d", w.Code, http.StatusNotFound)
	}
	settle(t, h)
}

func TestHandleLogin(t *testing.T) {
	mock := &adapter.Mock{
		LoadCartFunc: func(ctx context.Context) (model.Snapshot, error) {
			return model.Snapshot{
				Items: []model.LineItem{{ProductID: "server-hat", Price: 1500, Quantity: 1, Stock: 3}},
			}, nil
		},
		SyncWishlistFunc: func(ctx context.Context, ids []string, merge bool) ([]string, error) {
			if merge {
				return append(ids, "server-lamp"), nil
			}
			return ids, nil
		},
	}
	h, mux := testHandler(mock)
	doRequest(mux, "POST", "/cart/items", shirt(1, 5))

	w := doRequest(mux, "POST", "/session", loginRequest{UserID: "u-1", Token: "tok"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp loginResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Merged {
		t.Error("First login should merge")
	}
	if len(resp.Cart.Items) != 2 {
		t.Errorf("Merged cart items = %d, want 2", len(resp.Cart.Items))
	}
	if resp.Wishlist.Count != 1 || resp.Wishlist.Items[0].ProductID != "server-lamp" {
		t.Errorf("Merged wishlist = %+v, want server-lamp", resp.Wishlist)
	}
	if h.sessions.Token() != "tok" {
		t.Errorf("Token = %q, want tok", h.sessions.Token())
	}

	w = doRequest(mux, "POST", "/session", loginRequest{UserID: "u-1", Token: "tok-2"})
	resp = loginResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Merged {
		t.Error("Repeat login for the same user should not merge again")
	}

	w = doRequest(mux, "DELETE", "/session", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Logout status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if _, ok := h.sessions.Current(); ok {
		t.Error("Session should be gone after logout")
	}
	settle(t, h)
}

func TestHandleLoginFromHeader(t *testing.T) {
	h, mux := testHandler(&adapter.Mock{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wrapped := session.Middleware(h.sessions, logger)(mux)

	header, err := session.FormatHeader(session.Session{UserID: "u-9", Token: "tok-9"})
	if err != nil {
		t.Fatalf("FormatHeader: %v", err)
	}

	req := httptest.NewRequest("POST", "/session", nil)
	req.Header.Set(session.Header, header)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp loginResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.UserID != "u-9" {
		t.Errorf("UserID = %q, want u-9", resp.UserID)
	}
	settle(t, h)
}

func TestHandleLoginMissingUser(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	w := doRequest(mux, "POST", "/session", map[string]string{"token": "tok"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleNotifications(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})
	doRequest(mux, "POST", "/cart/items", shirt(3, 2)) // clamped: warning

	w := doRequest(mux, "GET", "/notifications", nil)
	var resp notificationsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Notifications) == 0 || resp.Notifications[0].Level != notify.LevelWarning {
		t.Fatalf("Notifications = %+v, want a stock warning", resp.Notifications)
	}

	w = doRequest(mux, "GET", "/notifications", nil)
	resp = notificationsResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Notifications) != 0 {
		t.Errorf("Notifications after drain = %d, want 0", len(resp.Notifications))
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		mockErr    error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			mockErr:    model.NewNotFoundError("cart"),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "validation error",
			mockErr:    model.NewValidationError("items", "invalid"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "upstream error",
			mockErr:    model.NewUpstreamError("storefront", nil),
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_ERROR",
		},
		{
			name:       "rate limit",
			mockErr:    model.NewRateLimitError("storefront"),
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "RATE_LIMITED",
		},
		{
			name:       "unexpected error",
			mockErr:    io.ErrUnexpectedEOF,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &adapter.Mock{
				SyncCartFunc: func(ctx context.Context, snap model.Snapshot) error {
					return tt.mockErr
				},
			}

			_, mux := testHandler(mock)

			w := doRequest(mux, "POST", "/cart/sync", nil)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := getErrorCode(w.Body.Bytes()); code != tt.wantCode {
				t.Errorf("Code = %s, want %s\nBody: %s", code, tt.wantCode, w.Body.String())
			}
		})
	}
}
