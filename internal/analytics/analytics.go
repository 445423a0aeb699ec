// Package analytics records shopper actions for downstream reporting.
// Sinks are injected into the stores at construction.
package analytics

import (
	"context"
	"log/slog"
	"time"
)

// EventName identifies a tracked action.
type EventName string

const (
	EventAddToCart          EventName = "add_to_cart"
	EventRemoveFromCart     EventName = "remove_from_cart"
	EventUpdateQuantity     EventName = "update_cart_quantity"
	EventSaveForLater       EventName = "save_for_later"
	EventMoveToCart         EventName = "move_to_cart"
	EventApplyCoupon        EventName = "apply_coupon"
	EventAddToWishlist      EventName = "add_to_wishlist"
	EventRemoveFromWishlist EventName = "remove_from_wishlist"
	EventCartMerged         EventName = "cart_merged"
)

// Event is one tracked action. Value is in minor units where it applies.
type Event struct {
	Name      EventName `json:"event"`
	ProductID string    `json:"productId,omitempty"`
	Variant   string    `json:"variant,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	Value     int64     `json:"value,omitempty"`
	Coupon    string    `json:"coupon,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives events. Track must not block the caller on network I/O.
type Sink interface {
	Track(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Track(context.Context, Event) {}

// Log writes events to a structured logger at debug level.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging sink.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Track(ctx context.Context, e Event) {
	l.logger.DebugContext(ctx, "analytics event",
		slog.String("event", string(e.Name)),
		slog.String("product_id", e.ProductID),
		slog.Int("quantity", e.Quantity),
		slog.Int64("value", e.Value),
	)
}

func stamp(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}
