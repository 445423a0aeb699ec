package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/session"
)

type loginRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type loginResponse struct {
	UserID   string       `json:"userId"`
	Merged   bool         `json:"merged"`
	Cart     cartView     `json:"cart"`
	Wishlist wishlistView `json:"wishlist"`
}

// handleLogin starts an authenticated session. The first login of a user
// merges the anonymous cart and wishlist into theirs before responding.
// The body may be omitted when the Shopper-Session header is sent instead.
// POST /session
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	s := session.Session{UserID: strings.TrimSpace(req.UserID), Token: req.Token}
	if s.UserID == "" {
		// Already logged in by the session middleware from the header.
		if hs, ok := session.FromContext(ctx); ok {
			s = hs
		}
	}
	if s.UserID == "" {
		h.writeError(w, model.NewValidationError("userId", "is required"))
		return
	}

	merged := h.sessions.Login(ctx, s)
	h.logger.InfoContext(ctx, "session started",
		slog.String("user", s.UserID),
		slog.Bool("merged", merged),
	)

	h.writeJSON(w, http.StatusOK, loginResponse{
		UserID:   s.UserID,
		Merged:   merged,
		Cart:     h.cartView(),
		Wishlist: h.wishlistView(),
	})
}

// handleLogout ends the session. Local state is kept as the anonymous cart.
// DELETE /session
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout()
	w.WriteHeader(http.StatusNoContent)
}

type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

// handleNotifications drains buffered notifications.
// GET /notifications
func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	out := []notify.Notification{}
	if h.feed != nil {
		out = h.feed.Drain()
	}
	h.writeJSON(w, http.StatusOK, notificationsResponse{Notifications: out})
}
