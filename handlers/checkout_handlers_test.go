package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oberliner3/jhnyc-sub000/commerce"
	"github.com/oberliner3/jhnyc-sub000/middleware"
	"github.com/oberliner3/jhnyc-sub000/models"
)

func newCheckoutRouter(carts *fakeCarts, orders *fakeOrders, c DraftOrderCreator) *gin.Engine {
	h := NewCheckoutHandlers(carts, orders, c)
	r := gin.New()
	r.POST("/checkout", middleware.OptionalAuth(), h.Checkout)
	r.GET("/api/orders/:number", h.GetOrder)
	return r
}

func postCheckoutForm(r http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func cartWithItems(t *testing.T, carts *fakeCarts, key string) {
	t.Helper()
	_, err := carts.AddItem(context.Background(), key, nil, mug)
	require.NoError(t, err)
	_, err = carts.AddItem(context.Background(), key, nil, models.AddCartItemRequest{
		ProductID: "p-2", VariantID: "44012345", Title: "Tea towel", PriceCents: 1250, Quantity: 2,
	})
	require.NoError(t, err)
}

func TestCheckoutCreatesOrderAndRedirectsToInvoice(t *testing.T) {
	carts, orders, shop := newFakeCarts(), &fakeOrders{}, &fakeCommerce{}
	cartWithItems(t, carts, "guest-1")
	r := newCheckoutRouter(carts, orders, shop)

	w := postCheckoutForm(r, url.Values{
		"email":     {"shopper@example.com"},
		"sessionId": {"guest-1"},
		"firstName": {"Ada"},
		"address1":  {"1 Main St"},
		"city":      {"Berlin"},
		"country":   {"DE"},
		"zip":       {"10115"},
	})

	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "https://shop.example.com/invoices/1001", w.Header().Get("Location"))

	require.Len(t, orders.orders, 1)
	order := orders.orders[0]
	assert.Equal(t, "shopper@example.com", order.Email)
	assert.Equal(t, int64(1999+2*1250), order.TotalCents)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, "Berlin", order.ShippingAddress.City)
	assert.Equal(t, "Ada", order.ShippingAddress.FirstName)

	assert.Equal(t, []string{"cart-guest-1"}, carts.converted)
	assert.Equal(t, []attachedDraft{{order.ID, 1001, "https://shop.example.com/invoices/1001"}}, orders.attached)

	require.Len(t, shop.inputs, 1)
	lines := shop.inputs[0].LineItems
	require.Len(t, lines, 2)
	assert.Equal(t, commerce.LineItem{Title: "Enamel mug", Price: "19.99", Quantity: 1}, lines[0], "non-numeric variants become custom items")
	assert.Equal(t, commerce.LineItem{VariantID: 44012345, Quantity: 2}, lines[1])
	require.NotNil(t, shop.inputs[0].ShippingAddress)
	assert.Equal(t, "10115", shop.inputs[0].ShippingAddress.Zip)
}

func TestCheckoutWithoutCommerceRedirectsToSuccessPage(t *testing.T) {
	carts, orders := newFakeCarts(), &fakeOrders{}
	cartWithItems(t, carts, "guest-1")
	var shop *commerce.Client
	r := newCheckoutRouter(carts, orders, shop)

	w := doRequest(r, http.MethodPost, "/checkout", `{"email":"shopper@example.com"}`, sessionHeader("guest-1"))

	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/checkout/success?order=SF-20260301-000001", w.Header().Get("Location"))
	assert.Empty(t, orders.attached)
}

func TestCheckoutDraftOrderFailureKeepsOrder(t *testing.T) {
	carts, orders := newFakeCarts(), &fakeOrders{}
	cartWithItems(t, carts, "guest-1")
	shop := &fakeCommerce{err: &commerce.APIError{StatusCode: 503, Message: "unavailable"}}
	r := newCheckoutRouter(carts, orders, shop)

	w := postCheckoutForm(r, url.Values{"email": {"shopper@example.com"}, "sessionId": {"guest-1"}})

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "/checkout/success?order="))
	assert.Len(t, orders.orders, 1)
	assert.Len(t, carts.converted, 1)
}

func TestCheckoutFailures(t *testing.T) {
	t.Run("missing email", func(t *testing.T) {
		carts := newFakeCarts()
		cartWithItems(t, carts, "guest-1")
		r := newCheckoutRouter(carts, &fakeOrders{}, nil)

		w := postCheckoutForm(r, url.Values{"sessionId": {"guest-1"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"Email is required"}`, w.Body.String())
	})

	t.Run("invalid email", func(t *testing.T) {
		r := newCheckoutRouter(newFakeCarts(), &fakeOrders{}, nil)
		w := postCheckoutForm(r, url.Values{"email": {"not-an-email"}, "sessionId": {"guest-1"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no cart", func(t *testing.T) {
		orders := &fakeOrders{}
		r := newCheckoutRouter(newFakeCarts(), orders, nil)

		w := postCheckoutForm(r, url.Values{"email": {"shopper@example.com"}, "sessionId": {"guest-1"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"Your cart is empty"}`, w.Body.String())
		assert.Empty(t, orders.orders)
	})

	t.Run("emptied cart", func(t *testing.T) {
		carts := newFakeCarts()
		cartWithItems(t, carts, "guest-1")
		_, err := carts.ClearCart(context.Background(), "guest-1")
		require.NoError(t, err)
		r := newCheckoutRouter(carts, &fakeOrders{}, nil)

		w := postCheckoutForm(r, url.Values{"email": {"shopper@example.com"}, "sessionId": {"guest-1"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("order failure", func(t *testing.T) {
		carts := newFakeCarts()
		cartWithItems(t, carts, "guest-1")
		orders := &fakeOrders{err: errors.New("pq: deadlock detected")}
		r := newCheckoutRouter(carts, orders, nil)

		w := postCheckoutForm(r, url.Values{"email": {"shopper@example.com"}, "sessionId": {"guest-1"}})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"Failed to create order"}`, w.Body.String())
		assert.Empty(t, carts.converted, "cart stays open when the order fails")
	})
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "19.99", formatCents(1999))
	assert.Equal(t, "0.05", formatCents(5))
	assert.Equal(t, "120.00", formatCents(12000))
}

func TestGetOrder(t *testing.T) {
	carts, orders := newFakeCarts(), &fakeOrders{}
	cartWithItems(t, carts, "guest-1")
	r := newCheckoutRouter(carts, orders, nil)

	w := doRequest(r, http.MethodPost, "/checkout", `{"email":"shopper@example.com"}`, sessionHeader("guest-1"))
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Len(t, orders.orders, 1)
	number := orders.orders[0].OrderNumber

	w = doRequest(r, http.MethodGet, "/api/orders/"+number, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool         `json:"success"`
		Order   models.Order `json:"order"`
	}
	require.NoError(t, decodeBody(w, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, number, resp.Order.OrderNumber)
	assert.Equal(t, "shopper@example.com", resp.Order.Email)

	w = doRequest(r, http.MethodGet, "/api/orders/SF-00000000-000000", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
