package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oberliner3/jhnyc-sub000/middleware"
	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/utils"
)

func newCartRouter(carts *fakeCarts) *gin.Engine {
	h := NewCartHandlers(carts)
	r := gin.New()
	g := r.Group("/api/cart", middleware.OptionalAuth())
	g.GET("", h.GetCart)
	g.DELETE("", h.ClearCart)
	g.POST("/items", h.AddItem)
	g.PATCH("/items/:itemId", h.UpdateItem)
	g.DELETE("/items/:itemId", h.RemoveItem)
	return r
}

func sessionHeader(key string) http.Header {
	return http.Header{"X-Session-Id": {key}}
}

var mug = models.AddCartItemRequest{
	ProductID:  "p-1",
	VariantID:  "v-1",
	Title:      "Enamel mug",
	PriceCents: 1999,
	Quantity:   1,
}

func TestGetCartWithoutOneIsEmpty(t *testing.T) {
	r := newCartRouter(newFakeCarts())

	w := doRequest(r, http.MethodGet, "/api/cart", nil, sessionHeader("guest-1"))
	require.Equal(t, http.StatusOK, w.Code)

	var cart models.Cart
	require.NoError(t, decodeBody(w, &cart))
	assert.Equal(t, "guest-1", cart.SessionID)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.TotalValue)
}

func TestAddItemIssuesSessionCookie(t *testing.T) {
	carts := newFakeCarts()
	r := newCartRouter(carts)

	w := doRequest(r, http.MethodPost, "/api/cart/items", mug, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	key := w.Header().Get("X-Session-Id")
	require.NotEmpty(t, key)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "cart_session_id", cookies[0].Name)
	assert.Equal(t, key, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Contains(t, carts.carts, key)
}

func TestAddItemMergesSameVariant(t *testing.T) {
	r := newCartRouter(newFakeCarts())
	h := sessionHeader("guest-1")

	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/api/cart/items", mug, h).Code)
	again := mug
	again.Quantity = 2
	w := doRequest(r, http.MethodPost, "/api/cart/items", again, h)
	require.Equal(t, http.StatusOK, w.Code)

	var cart models.Cart
	require.NoError(t, decodeBody(w, &cart))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, 3, cart.ItemCount)
	assert.Equal(t, int64(3*1999), cart.TotalValue)
}

func TestAddItemValidation(t *testing.T) {
	r := newCartRouter(newFakeCarts())

	tests := map[string]string{
		"zero quantity":   `{"productId":"p","variantId":"v","title":"t","priceCents":100,"quantity":0}`,
		"too many":        `{"productId":"p","variantId":"v","title":"t","priceCents":100,"quantity":100}`,
		"negative price":  `{"productId":"p","variantId":"v","title":"t","priceCents":-1,"quantity":1}`,
		"missing variant": `{"productId":"p","title":"t","priceCents":100,"quantity":1}`,
		"malformed":       `{"productId":`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/cart/items", body, sessionHeader("guest-1"))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUpdateAndRemoveItems(t *testing.T) {
	carts := newFakeCarts()
	r := newCartRouter(carts)
	h := sessionHeader("guest-1")

	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/api/cart/items", mug, h).Code)
	itemID := carts.carts["guest-1"].Items[0].ID

	w := doRequest(r, http.MethodPatch, "/api/cart/items/"+itemID, `{"quantity":4}`, h)
	require.Equal(t, http.StatusOK, w.Code)
	var cart models.Cart
	require.NoError(t, decodeBody(w, &cart))
	assert.Equal(t, 4, cart.ItemCount)

	w = doRequest(r, http.MethodPatch, "/api/cart/items/"+itemID, `{"quantity":0}`, h)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, decodeBody(w, &cart))
	assert.Empty(t, cart.Items, "quantity 0 removes the item")

	w = doRequest(r, http.MethodDelete, "/api/cart/items/"+itemID, nil, h)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Cart item not found"}`, w.Body.String())

	w = doRequest(r, http.MethodPatch, "/api/cart/items/x", `{}`, h)
	assert.Equal(t, http.StatusBadRequest, w.Code, "quantity is required")
}

func TestMutatingUnknownCart(t *testing.T) {
	r := newCartRouter(newFakeCarts())

	w := doRequest(r, http.MethodDelete, "/api/cart/items/item-1", nil, sessionHeader("nobody"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Cart not found"}`, w.Body.String())

	w = doRequest(r, http.MethodDelete, "/api/cart/items/item-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClearCart(t *testing.T) {
	carts := newFakeCarts()
	r := newCartRouter(carts)
	h := sessionHeader("guest-1")

	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/api/cart/items", mug, h).Code)
	w := doRequest(r, http.MethodDelete, "/api/cart", nil, h)
	require.Equal(t, http.StatusOK, w.Code)

	var cart models.Cart
	require.NoError(t, decodeBody(w, &cart))
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.TotalValue)
}

func TestCartCookieIsUsedWithoutHeader(t *testing.T) {
	carts := newFakeCarts()
	r := newCartRouter(carts)

	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/api/cart/items", mug, sessionHeader("from-cookie")).Code)

	w := doRequest(r, http.MethodGet, "/api/cart", nil, http.Header{"Cookie": {"cart_session_id=from-cookie"}})
	require.Equal(t, http.StatusOK, w.Code)
	var cart models.Cart
	require.NoError(t, decodeBody(w, &cart))
	assert.Len(t, cart.Items, 1)
}

func TestSignedInUserCartKey(t *testing.T) {
	utils.SetJWTSecret("test-secret")
	token, err := utils.GenerateJWT(&models.User{ID: 9, Email: "u@example.com"})
	require.NoError(t, err)

	carts := newFakeCarts()
	r := newCartRouter(carts)

	header := http.Header{"Authorization": {"Bearer " + token}, "X-Session-Id": {"guest-1"}}
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/api/cart/items", mug, header).Code)

	require.Contains(t, carts.carts, "user:9")
	assert.NotContains(t, carts.carts, "guest-1")
	require.NotNil(t, carts.carts["user:9"].UserID)
	assert.Equal(t, 9, *carts.carts["user:9"].UserID)
}

func TestGetCartStoreFailure(t *testing.T) {
	carts := newFakeCarts()
	carts.getErr = errors.New("connection refused")
	r := newCartRouter(carts)

	w := doRequest(r, http.MethodGet, "/api/cart", nil, sessionHeader("guest-1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to load cart"}`, w.Body.String())
}
