// Package handler provides HTTP handlers for the cart service API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"storefront-cart/internal/cart"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/session"
	"storefront-cart/internal/wishlist"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cart     *cart.Store
	wishlist *wishlist.Store
	sessions *session.Tracker
	feed     *notify.Feed
	logger   *slog.Logger
}

// New creates a new Handler. feed may be nil, in which case GET
// /notifications always returns an empty list.
func New(c *cart.Store, wl *wishlist.Store, sessions *session.Tracker, feed *notify.Feed, logger *slog.Logger) *Handler {
	return &Handler{
		cart:     c,
		wishlist: wl,
		sessions: sessions,
		feed:     feed,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Cart
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("PATCH /cart/items/{key}", h.handleUpdateItem)
	mux.HandleFunc("DELETE /cart/items/{key}", h.handleRemoveItem)
	mux.HandleFunc("POST /cart/items/{key}/save", h.handleSaveForLater)
	mux.HandleFunc("POST /cart/saved/{key}/move", h.handleMoveToCart)
	mux.HandleFunc("DELETE /cart/saved/{key}", h.handleRemoveSaved)
	mux.HandleFunc("PUT /cart/coupon", h.handleApplyCoupon)
	mux.HandleFunc("DELETE /cart/coupon", h.handleRemoveCoupon)
	mux.HandleFunc("GET /cart/totals", h.handleGetTotals)
	mux.HandleFunc("POST /cart/sync", h.handleSyncCart)
	mux.HandleFunc("POST /cart/load", h.handleLoadCart)
	mux.HandleFunc("GET /cart/errors", h.handleGetErrors)
	mux.HandleFunc("DELETE /cart/errors", h.handleClearErrors)

	// Wishlist
	mux.HandleFunc("GET /wishlist", h.handleGetWishlist)
	mux.HandleFunc("PUT /wishlist/{productId}", h.handleAddWishlist)
	mux.HandleFunc("DELETE /wishlist/{productId}", h.handleRemoveWishlist)
	mux.HandleFunc("POST /wishlist/{productId}/toggle", h.handleToggleWishlist)

	// Shopper session and UI feedback
	mux.HandleFunc("POST /session", h.handleLogin)
	mux.HandleFunc("DELETE /session", h.handleLogout)
	mux.HandleFunc("GET /notifications", h.handleNotifications)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth returns a health check with the background sync backlog.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		SyncsInFlight: syncsInFlight{
			Cart:     h.cart.InFlight(),
			Wishlist: h.wishlist.InFlight(),
		},
	})
}

type healthResponse struct {
	Status        string        `json:"status"`
	SyncsInFlight syncsInFlight `json:"syncsInFlight"`
}

type syncsInFlight struct {
	Cart     int `json:"cart"`
	Wishlist int `json:"wishlist"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError

	if !errors.As(err, &apiErr) {
		// Wrap unexpected errors
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return model.NewValidationError("body", "invalid JSON")
}

// itemKey parses the {key} path segment.
func itemKey(r *http.Request) (model.ItemKey, error) {
	key, err := model.ParseItemKey(r.PathValue("key"))
	if err != nil {
		return model.ItemKey{}, model.NewValidationError("key", err.Error())
	}
	return key, nil
}
