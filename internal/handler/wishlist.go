package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"storefront-cart/internal/model"
)

type wishlistView struct {
	Items []model.WishlistItem `json:"items"`
	Count int                  `json:"count"`
}

func (h *Handler) wishlistView() wishlistView {
	items := h.wishlist.Items()
	return wishlistView{Items: items, Count: len(items)}
}

// handleGetWishlist returns the wishlist.
// GET /wishlist
func (h *Handler) handleGetWishlist(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.wishlistView())
}

// wishlistItem reads the optional product metadata body and binds it to the
// {productId} path segment.
func wishlistItem(r *http.Request) (model.WishlistItem, error) {
	var item model.WishlistItem
	if err := decodeOptionalJSON(r, &item); err != nil {
		return model.WishlistItem{}, err
	}
	item.ProductID = strings.TrimSpace(r.PathValue("productId"))
	if item.ProductID == "" {
		return model.WishlistItem{}, model.NewValidationError("productId", "is required")
	}
	return item, nil
}

// handleAddWishlist puts a product on the wishlist.
// PUT /wishlist/{productId}
func (h *Handler) handleAddWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	item, err := wishlistItem(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	added, err := h.wishlist.Add(ctx, item)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "wishlist add",
		slog.String("product_id", item.ProductID),
		slog.Bool("added", added),
	)

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, h.wishlistView())
}

// handleRemoveWishlist takes a product off the wishlist.
// DELETE /wishlist/{productId}
func (h *Handler) handleRemoveWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := r.PathValue("productId")

	removed, err := h.wishlist.Remove(ctx, productID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !removed {
		h.writeError(w, model.NewNotFoundError("wishlist item "+productID))
		return
	}

	h.logger.InfoContext(ctx, "wishlist remove", slog.String("product_id", productID))
	h.writeJSON(w, http.StatusOK, h.wishlistView())
}

type toggleResponse struct {
	ProductID  string `json:"productId"`
	InWishlist bool   `json:"inWishlist"`
	wishlistView
}

// handleToggleWishlist adds a product when absent and removes it when present.
// POST /wishlist/{productId}/toggle
func (h *Handler) handleToggleWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	item, err := wishlistItem(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	in, err := h.wishlist.Toggle(ctx, item)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "wishlist toggle",
		slog.String("product_id", item.ProductID),
		slog.Bool("in_wishlist", in),
	)
	h.writeJSON(w, http.StatusOK, toggleResponse{
		ProductID:    item.ProductID,
		InWishlist:   in,
		wishlistView: h.wishlistView(),
	})
}
