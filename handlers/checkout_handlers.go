// api/handlers/checkout_handlers.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/commerce"
	"github.com/oberliner3/jhnyc-sub000/metrics"
	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/store"
)

// CheckoutCarts loads and closes the cart being checked out.
type CheckoutCarts interface {
	GetCart(ctx context.Context, sessionKey string) (*models.Cart, error)
	MarkConverted(ctx context.Context, cart *models.Cart) error
}

type OrderWriter interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	AttachDraftOrder(ctx context.Context, orderID, draftOrderID int64, invoiceURL string) error
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
}

type CheckoutHandlers struct {
	Carts    CheckoutCarts
	Orders   OrderWriter
	Commerce DraftOrderCreator
}

func NewCheckoutHandlers(carts CheckoutCarts, orders OrderWriter, c DraftOrderCreator) *CheckoutHandlers {
	return &CheckoutHandlers{Carts: carts, Orders: orders, Commerce: c}
}

func checkoutFailed(c *gin.Context, status int, reason, message string) {
	metrics.CheckoutOrders.WithLabelValues(reason).Inc()
	c.JSON(status, gin.H{"success": false, "error": message})
}

// Checkout handles POST /checkout. The cart becomes an order, then a draft
// order when the commerce platform is available, and the shopper is sent to
// its invoice or to the local success page.
func (h *CheckoutHandlers) Checkout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBind(&req); err != nil {
		checkoutFailed(c, http.StatusBadRequest, "invalid", "Invalid checkout details: "+err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		checkoutFailed(c, http.StatusBadRequest, "invalid", "Email is required")
		return
	}

	key, userID := cartKey(c, false)
	if userID == nil && req.SessionID != "" {
		key = req.SessionID
	}
	if key == "" {
		checkoutFailed(c, http.StatusBadRequest, "empty_cart", "Your cart is empty")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	cart, err := h.Carts.GetCart(ctx, key)
	if err != nil && !errors.Is(err, store.ErrCartNotFound) {
		log.Error().Err(err).Str("session_key", key).Msg("checkout: failed to load cart")
		checkoutFailed(c, http.StatusInternalServerError, "error", "Failed to load cart")
		return
	}
	if cart.IsEmpty() {
		checkoutFailed(c, http.StatusBadRequest, "empty_cart", "Your cart is empty")
		return
	}

	order := orderFromCart(cart, req, userID)
	if err := h.Orders.CreateOrder(ctx, order); err != nil {
		log.Error().Err(err).Str("cart_id", cart.ID).Msg("checkout: failed to create order")
		checkoutFailed(c, http.StatusInternalServerError, "error", "Failed to create order")
		return
	}

	if err := h.Carts.MarkConverted(ctx, cart); err != nil {
		log.Warn().Err(err).Str("cart_id", cart.ID).Str("order_number", order.OrderNumber).Msg("checkout: cart not marked converted")
	}

	invoiceURL := h.attachDraftOrder(ctx, order, cart)
	metrics.CheckoutOrders.WithLabelValues("ok").Inc()
	log.Info().Str("order_number", order.OrderNumber).Int64("total_cents", order.TotalCents).Bool("draft_order", invoiceURL != "").Msg("checkout completed")

	if invoiceURL != "" {
		c.Redirect(http.StatusSeeOther, invoiceURL)
		return
	}
	c.Redirect(http.StatusSeeOther, "/checkout/success?order="+url.QueryEscape(order.OrderNumber))
}

// GetOrder handles GET /api/orders/:number for the order confirmation page.
func (h *CheckoutHandlers) GetOrder(c *gin.Context) {
	number := c.Param("number")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Orders.GetOrderByNumber(ctx, number)
	if errors.Is(err, store.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Order not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("order_number", number).Msg("failed to load order")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// attachDraftOrder mirrors the order on the commerce platform and returns the
// invoice URL, or "" when that is not possible. The local order stands either
// way.
func (h *CheckoutHandlers) attachDraftOrder(ctx context.Context, order *models.Order, cart *models.Cart) string {
	if h.Commerce == nil {
		return ""
	}
	draft, err := h.Commerce.CreateDraftOrder(ctx, draftOrderFromCart(order, cart))
	if errors.Is(err, commerce.ErrNotConfigured) {
		return ""
	}
	if err != nil {
		log.Warn().Err(err).Str("order_number", order.OrderNumber).Msg("checkout: draft order not created")
		return ""
	}
	if err := h.Orders.AttachDraftOrder(ctx, order.ID, draft.ID, draft.InvoiceURL); err != nil {
		log.Warn().Err(err).Str("order_number", order.OrderNumber).Int64("draft_order_id", draft.ID).Msg("checkout: failed to record draft order")
	}
	return draft.InvoiceURL
}

func orderFromCart(cart *models.Cart, req models.CheckoutRequest, userID *int) *models.Order {
	total, _ := cart.Totals()
	order := &models.Order{
		UserID:          userID,
		SessionID:       cart.SessionID,
		Email:           req.Email,
		Status:          "pending",
		TotalCents:      total,
		Currency:        cart.Currency,
		ShippingAddress: req.Shipping,
		Note:            req.Note,
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			Title:      item.Title,
			PriceCents: item.PriceCents,
			Quantity:   item.Quantity,
		})
	}
	return order
}

func draftOrderFromCart(order *models.Order, cart *models.Cart) commerce.DraftOrderInput {
	in := commerce.DraftOrderInput{
		Email:           order.Email,
		Note:            order.Note,
		Tags:            "storefront," + order.OrderNumber,
		ShippingAddress: commerceAddress(&order.ShippingAddress),
	}
	for _, item := range cart.Items {
		li := commerce.LineItem{Quantity: item.Quantity}
		if id, err := strconv.ParseInt(item.VariantID, 10, 64); err == nil && id > 0 {
			li.VariantID = id
		} else {
			li.Title = item.Title
			li.Price = formatCents(item.PriceCents)
		}
		in.LineItems = append(in.LineItems, li)
	}
	return in
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
