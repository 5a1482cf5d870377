package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/middleware"
	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/store"
)

const (
	cartSessionHeader = "X-Session-Id"
	cartSessionCookie = "cart_session_id"
	cartCookieMaxAge  = 30 * 24 * 60 * 60
)

type CartHandlers struct {
	Carts store.Carts
}

func NewCartHandlers(carts store.Carts) *CartHandlers {
	return &CartHandlers{Carts: carts}
}

// cartKey picks the cart a request works on: a signed-in user's cart is
// keyed "user:<id>", a guest cart by the X-Session-Id header or the
// cart_session_id cookie. With issue set, a guest without either gets a new
// key in a cookie.
func cartKey(c *gin.Context, issue bool) (key string, userID *int) {
	if id, ok := middleware.UserID(c); ok {
		return fmt.Sprintf("user:%d", id), &id
	}
	if v := c.GetHeader(cartSessionHeader); v != "" {
		return v, nil
	}
	if v, err := c.Cookie(cartSessionCookie); err == nil && v != "" {
		return v, nil
	}
	if !issue {
		return "", nil
	}
	key = uuid.NewString()
	c.SetCookie(cartSessionCookie, key, cartCookieMaxAge, "/", "", false, true)
	c.Header(cartSessionHeader, key)
	return key, nil
}

func emptyCart(key string) *models.Cart {
	return &models.Cart{SessionID: key, Status: models.CartActive, Currency: "USD", Items: []models.CartItem{}}
}

func (h *CartHandlers) GetCart(c *gin.Context) {
	key, _ := cartKey(c, false)
	if key == "" {
		c.JSON(http.StatusOK, emptyCart(""))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	cart, err := h.Carts.GetCart(ctx, key)
	if errors.Is(err, store.ErrCartNotFound) {
		c.JSON(http.StatusOK, emptyCart(key))
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_key", key).Msg("cart: get failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *CartHandlers) AddItem(c *gin.Context) {
	var req models.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	key, userID := cartKey(c, true)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	cart, err := h.Carts.AddItem(ctx, key, userID, req)
	if err != nil {
		log.Error().Err(err).Str("session_key", key).Str("variant_id", req.VariantID).Msg("cart: add item failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add item to cart"})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *CartHandlers) UpdateItem(c *gin.Context) {
	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	h.mutate(c, func(ctx context.Context, key string) (*models.Cart, error) {
		return h.Carts.UpdateItemQuantity(ctx, key, c.Param("itemId"), *req.Quantity)
	})
}

func (h *CartHandlers) RemoveItem(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, key string) (*models.Cart, error) {
		return h.Carts.RemoveItem(ctx, key, c.Param("itemId"))
	})
}

func (h *CartHandlers) ClearCart(c *gin.Context) {
	key, _ := cartKey(c, false)
	if key == "" {
		c.JSON(http.StatusOK, emptyCart(""))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	cart, err := h.Carts.ClearCart(ctx, key)
	if errors.Is(err, store.ErrCartNotFound) {
		c.JSON(http.StatusOK, emptyCart(key))
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_key", key).Msg("cart: clear failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cart"})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *CartHandlers) mutate(c *gin.Context, change func(ctx context.Context, key string) (*models.Cart, error)) {
	key, _ := cartKey(c, false)
	if key == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	cart, err := change(ctx, key)
	switch {
	case errors.Is(err, store.ErrCartNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart not found"})
	case errors.Is(err, store.ErrCartItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
	case err != nil:
		log.Error().Err(err).Str("session_key", key).Str("item_id", c.Param("itemId")).Msg("cart: update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update cart"})
	default:
		c.JSON(http.StatusOK, cart)
	}
}
