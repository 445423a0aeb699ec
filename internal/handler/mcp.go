// MCP transport handler for the cart service using the official MCP Go SDK.
// Exposes the cart and wishlist operations an agent needs as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-cart/internal/model"
	"storefront-cart/internal/pricing"
)

// === MCP Tool Input/Output Types ===
// Tool arguments use snake_case; keys are the string form of an item key
// ("prod-1" or "prod-1@sku:ABC").

// GetCartInput is the input schema for get_cart and get_cart_totals.
type GetCartInput struct{}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	ProductID string        `json:"product_id" jsonschema:"product ID"`
	Name      string        `json:"name,omitempty" jsonschema:"product display name"`
	Price     int64         `json:"price" jsonschema:"unit price in minor units (cents)"`
	Quantity  int           `json:"quantity" jsonschema:"units to add"`
	Stock     int           `json:"stock" jsonschema:"units currently in stock"`
	Variant   *VariantInput `json:"variant,omitempty" jsonschema:"selected variant"`
}

// VariantInput selects a product variant.
type VariantInput struct {
	Size  string `json:"size,omitempty" jsonschema:"size option"`
	Color string `json:"color,omitempty" jsonschema:"color option"`
	SKU   string `json:"sku,omitempty" jsonschema:"variant SKU, identifies the variant on its own"`
}

// UpdateQuantityInput is the input schema for update_cart_quantity.
type UpdateQuantityInput struct {
	Key      string `json:"key" jsonschema:"item key from get_cart"`
	Quantity int    `json:"quantity" jsonschema:"new quantity, 0 removes the item"`
}

// RemoveFromCartInput is the input schema for remove_from_cart.
type RemoveFromCartInput struct {
	Key string `json:"key" jsonschema:"item key from get_cart"`
}

// ApplyCouponInput is the input schema for apply_coupon.
type ApplyCouponInput struct {
	Code     string `json:"code" jsonschema:"coupon code"`
	Discount int64  `json:"discount" jsonschema:"percent for percentage coupons, minor units for fixed"`
	Type     string `json:"type" jsonschema:"percentage or fixed"`
	Scope    string `json:"scope,omitempty" jsonschema:"cart (default) or shipping"`
}

// ToggleWishlistInput is the input schema for toggle_wishlist.
type ToggleWishlistInput struct {
	ProductID string `json:"product_id" jsonschema:"product ID"`
	Name      string `json:"name,omitempty" jsonschema:"product display name"`
	Price     int64  `json:"price,omitempty" jsonschema:"price in minor units"`
}

// CartResult is the cart as returned to agents.
type CartResult struct {
	Items         []CartLine     `json:"items"`
	SavedCount    int            `json:"saved_count"`
	AppliedCoupon *model.Coupon  `json:"applied_coupon,omitempty"`
	ItemCount     int            `json:"item_count"`
	Totals        pricing.Totals `json:"totals"`
}

// CartLine is one line of CartResult.
type CartLine struct {
	Key       string `json:"key"`
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Stock     int    `json:"stock"`
	Pending   string `json:"pending,omitempty"`
}

// ToggleWishlistResult reports the wishlist after a toggle.
type ToggleWishlistResult struct {
	ProductID  string `json:"product_id"`
	InWishlist bool   `json:"in_wishlist"`
	Count      int    `json:"count"`
}

// NewMCPServer creates an MCP server with the cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-cart",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart - view and change the shopper's cart and wishlist. " +
				"Amounts are integer minor units (cents); totals are estimates.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the cart: line items with their keys, the applied coupon, and estimated totals.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product to the cart. Quantity is clamped to available stock.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_cart_quantity",
		Description: "Set the quantity of a cart line by key. Quantity 0 removes the line.",
	}, h.mcpUpdateQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_from_cart",
		Description: "Remove a cart line by key.",
	}, h.mcpRemoveFromCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_coupon",
		Description: "Apply a coupon to the cart, replacing any coupon already applied.",
	}, h.mcpApplyCoupon)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart_totals",
		Description: "Get estimated subtotal, discount, shipping, tax, and total.",
	}, h.mcpGetTotals)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "toggle_wishlist",
		Description: "Add a product to the wishlist, or remove it if already there.",
	}, h.mcpToggleWishlist)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartResult, error) {
	return nil, h.cartResult(), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartResult, error) {
	item := model.LineItem{
		ProductID: input.ProductID,
		Name:      input.Name,
		Price:     input.Price,
		Quantity:  input.Quantity,
		Stock:     input.Stock,
	}
	if v := input.Variant; v != nil {
		item.Variant = &model.Variant{Size: v.Size, Color: v.Color, SKU: v.SKU}
	}

	if _, err := h.cart.Add(ctx, item); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartResult(), nil
}

func (h *Handler) mcpUpdateQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateQuantityInput,
) (*mcp.CallToolResult, *CartResult, error) {
	key, err := model.ParseItemKey(input.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("key is required")
	}

	if _, err := h.cart.UpdateQuantity(ctx, key, input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartResult(), nil
}

func (h *Handler) mcpRemoveFromCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveFromCartInput,
) (*mcp.CallToolResult, *CartResult, error) {
	key, err := model.ParseItemKey(input.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("key is required")
	}

	if err := h.cart.Remove(ctx, key); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartResult(), nil
}

func (h *Handler) mcpApplyCoupon(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ApplyCouponInput,
) (*mcp.CallToolResult, *CartResult, error) {
	scope := model.CouponScope(strings.ToLower(input.Scope))
	if scope == "" {
		scope = model.ScopeCart
	}
	c := model.Coupon{
		Code:  input.Code,
		Value: input.Discount,
		Type:  model.DiscountType(strings.ToLower(input.Type)),
		Scope: scope,
	}

	if err := h.cart.ApplyCoupon(ctx, c); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartResult(), nil
}

func (h *Handler) mcpGetTotals(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *pricing.Totals, error) {
	totals := h.cart.Totals()
	return nil, &totals, nil
}

func (h *Handler) mcpToggleWishlist(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ToggleWishlistInput,
) (*mcp.CallToolResult, *ToggleWishlistResult, error) {
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	in, err := h.wishlist.Toggle(ctx, model.WishlistItem{
		ProductID: productID,
		Name:      input.Name,
		Price:     input.Price,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &ToggleWishlistResult{
		ProductID:  productID,
		InWishlist: in,
		Count:      h.wishlist.Count(),
	}, nil
}

func (h *Handler) cartResult() *CartResult {
	snap := h.cart.Snapshot()
	pending := h.cart.Pending()

	lines := make([]CartLine, len(snap.Items))
	for i, item := range snap.Items {
		lines[i] = CartLine{
			Key:       item.Key().String(),
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Stock:     item.Stock,
			Pending:   string(pending[item.Key()]),
		}
	}

	return &CartResult{
		Items:         lines,
		SavedCount:    len(snap.SavedForLater),
		AppliedCoupon: snap.AppliedCoupon,
		ItemCount:     h.cart.ItemCount(),
		Totals:        h.cart.Totals(),
	}
}

// mcpError converts store errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
