package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"storefront-cart/internal/model"
	"storefront-cart/internal/pricing"
)

// cartView is the cart as the UI renders it: persisted state plus the
// derived totals and transient sync status.
type cartView struct {
	Items         []model.LineItem           `json:"items"`
	SavedForLater []model.SavedItem          `json:"savedForLater"`
	AppliedCoupon *model.Coupon              `json:"appliedCoupon"`
	ItemCount     int                        `json:"itemCount"`
	Totals        pricing.Totals             `json:"totals"`
	Pending       map[string]model.PendingOp `json:"pending"`
	IsSyncing     bool                       `json:"isSyncing"`
	LastSyncedAt  *time.Time                 `json:"lastSyncedAt,omitempty"`
	Errors        []model.CartError          `json:"errors"`
}

func (h *Handler) cartView() cartView {
	snap := h.cart.Snapshot()

	pending := make(map[string]model.PendingOp)
	for key, op := range h.cart.Pending() {
		pending[key.String()] = op
	}

	view := cartView{
		Items:         snap.Items,
		SavedForLater: snap.SavedForLater,
		AppliedCoupon: snap.AppliedCoupon,
		ItemCount:     h.cart.ItemCount(),
		Totals:        h.cart.Totals(),
		Pending:       pending,
		IsSyncing:     h.cart.IsSyncing(),
		Errors:        h.cart.Errors(),
	}
	if at := h.cart.LastSyncedAt(); !at.IsZero() {
		view.LastSyncedAt = &at
	}
	return view
}

// handleGetCart returns the cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleAddItem adds a product to the cart, clamped to stock.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var item model.LineItem
	if err := decodeJSON(r, &item); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "adding to cart",
		slog.String("product_id", item.ProductID),
		slog.Int("quantity", item.Quantity),
		slog.Int("stock", item.Stock),
	)

	if _, err := h.cart.Add(ctx, item); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, h.cartView())
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// handleUpdateItem sets a line's quantity. Zero removes the line.
// PATCH /cart/items/{key}
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := itemKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req updateQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Quantity == nil {
		h.writeError(w, model.NewValidationError("quantity", "is required"))
		return
	}

	h.logger.InfoContext(ctx, "updating cart quantity",
		slog.String("key", key.String()),
		slog.Int("quantity", *req.Quantity),
	)

	if _, err := h.cart.UpdateQuantity(ctx, key, *req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleRemoveItem deletes a line.
// DELETE /cart/items/{key}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "removing from cart", h.cart.Remove)
}

// handleSaveForLater parks a line in saved-for-later.
// POST /cart/items/{key}/save
func (h *Handler) handleSaveForLater(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "saving for later", h.cart.SaveForLater)
}

// handleMoveToCart returns a saved item to the cart.
// POST /cart/saved/{key}/move
func (h *Handler) handleMoveToCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := itemKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "moving to cart", slog.String("key", key.String()))

	if _, err := h.cart.MoveToCart(ctx, key); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleRemoveSaved deletes a saved-for-later entry.
// DELETE /cart/saved/{key}
func (h *Handler) handleRemoveSaved(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "removing saved item", h.cart.RemoveSaved)
}

// keyed runs a mutation addressed by the {key} path segment and answers
// with the updated cart.
func (h *Handler) keyed(w http.ResponseWriter, r *http.Request, msg string, mutate func(ctx context.Context, key model.ItemKey) error) {
	ctx := r.Context()

	key, err := itemKey(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, msg, slog.String("key", key.String()))

	if err := mutate(ctx, key); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleApplyCoupon replaces the applied coupon.
// PUT /cart/coupon
func (h *Handler) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var c model.Coupon
	if err := decodeJSON(r, &c); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "applying coupon",
		slog.String("code", c.Code),
		slog.String("type", string(c.Type)),
		slog.String("scope", string(c.Scope)),
	)

	if err := h.cart.ApplyCoupon(ctx, c); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleRemoveCoupon drops the applied coupon.
// DELETE /cart/coupon
func (h *Handler) handleRemoveCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.RemoveCoupon(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleClearCart empties the cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "clearing cart")
	h.cart.Clear(r.Context())
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleGetTotals returns the estimated totals.
// GET /cart/totals
func (h *Handler) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cart.Totals())
}

// handleSyncCart pushes the cart to the storefront now.
// POST /cart/sync
func (h *Handler) handleSyncCart(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.SyncToServer(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleLoadCart replaces the cart with the storefront's copy.
// POST /cart/load
func (h *Handler) handleLoadCart(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.LoadFromServer(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView())
}

type errorsResponse struct {
	Errors []model.CartError `json:"errors"`
}

// handleGetErrors returns the cart error log.
// GET /cart/errors
func (h *Handler) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, errorsResponse{Errors: h.cart.Errors()})
}

// handleClearErrors empties the cart error log.
// DELETE /cart/errors
func (h *Handler) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	h.cart.ClearErrors()
	w.WriteHeader(http.StatusNoContent)
}
