package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/oberliner3/jhnyc-sub000/commerce"
	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doRequest(r http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(w.Body.Bytes(), v)
}

type fakeEvents struct {
	mu    sync.Mutex
	rows  []models.ExperienceEventRow
	calls int
	err   error
}

func (f *fakeEvents) InsertExperienceEvents(_ context.Context, rows []models.ExperienceEventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeEvents) Rows() []models.ExperienceEventRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ExperienceEventRow(nil), f.rows...)
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]models.UserSession
	inserts  int
	touches  int
	findErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]models.UserSession{}}
}

func (f *fakeSessions) FindSession(_ context.Context, id string) (*models.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return &s, nil
}

func (f *fakeSessions) InsertSession(_ context.Context, s *models.UserSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.sessions[s.SessionID] = *s
	return nil
}

func (f *fakeSessions) TouchSession(_ context.Context, id string, userID *string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	f.touches++
	s.LastActivityAt = at
	s.IsActive = true
	if userID != nil {
		s.UserID = userID
	}
	f.sessions[id] = s
	return nil
}

func (f *fakeSessions) CountActiveSessions(_ context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.IsActive && !s.LastActivityAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// fakeCarts is an in-memory store.Carts keyed by session key.
type fakeCarts struct {
	mu        sync.Mutex
	carts     map[string]*models.Cart
	nextItem  int
	getErr    error
	converted []string
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: map[string]*models.Cart{}}
}

func (f *fakeCarts) snapshot(c *models.Cart) *models.Cart {
	cp := *c
	cp.Items = append([]models.CartItem{}, c.Items...)
	cp.TotalValue, cp.ItemCount = cp.Totals()
	return &cp
}

func (f *fakeCarts) GetCart(_ context.Context, key string) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.carts[key]
	if !ok {
		return nil, store.ErrCartNotFound
	}
	return f.snapshot(c), nil
}

func (f *fakeCarts) AddItem(_ context.Context, key string, userID *int, req models.AddCartItemRequest) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[key]
	if !ok {
		c = &models.Cart{ID: "cart-" + key, SessionID: key, UserID: userID, Status: models.CartActive, Currency: "USD"}
		f.carts[key] = c
	}
	for i := range c.Items {
		if c.Items[i].VariantID == req.VariantID {
			c.Items[i].Quantity = min(c.Items[i].Quantity+req.Quantity, 99)
			return f.snapshot(c), nil
		}
	}
	f.nextItem++
	c.Items = append(c.Items, models.CartItem{
		ID:         fmt.Sprintf("item-%d", f.nextItem),
		CartID:     c.ID,
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		Title:      req.Title,
		PriceCents: req.PriceCents,
		Quantity:   req.Quantity,
	})
	return f.snapshot(c), nil
}

func (f *fakeCarts) UpdateItemQuantity(ctx context.Context, key, itemID string, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return f.RemoveItem(ctx, key, itemID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[key]
	if !ok {
		return nil, store.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].Quantity = quantity
			return f.snapshot(c), nil
		}
	}
	return nil, store.ErrCartItemNotFound
}

func (f *fakeCarts) RemoveItem(_ context.Context, key, itemID string) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[key]
	if !ok {
		return nil, store.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return f.snapshot(c), nil
		}
	}
	return nil, store.ErrCartItemNotFound
}

func (f *fakeCarts) ClearCart(_ context.Context, key string) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[key]
	if !ok {
		return nil, store.ErrCartNotFound
	}
	c.Items = nil
	return f.snapshot(c), nil
}

func (f *fakeCarts) MarkConverted(_ context.Context, cart *models.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.carts[cart.SessionID]; !ok {
		return store.ErrCartNotFound
	}
	delete(f.carts, cart.SessionID)
	f.converted = append(f.converted, cart.ID)
	return nil
}

type attachedDraft struct {
	orderID, draftID int64
	invoiceURL       string
}

type fakeOrders struct {
	orders   []*models.Order
	attached []attachedDraft
	err      error
}

func (f *fakeOrders) CreateOrder(_ context.Context, o *models.Order) error {
	if f.err != nil {
		return f.err
	}
	o.ID = int64(len(f.orders) + 1)
	o.OrderNumber = fmt.Sprintf("SF-20260301-%06d", o.ID)
	f.orders = append(f.orders, o)
	return nil
}

func (f *fakeOrders) AttachDraftOrder(_ context.Context, orderID, draftID int64, invoiceURL string) error {
	f.attached = append(f.attached, attachedDraft{orderID, draftID, invoiceURL})
	return nil
}

func (f *fakeOrders) GetOrderByNumber(_ context.Context, number string) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, o := range f.orders {
		if o.OrderNumber == number {
			return o, nil
		}
	}
	return nil, store.ErrOrderNotFound
}

type fakeCommerce struct {
	inputs     []commerce.DraftOrderInput
	invoices   []int64
	err        error
	invoiceErr error
}

func (f *fakeCommerce) CreateDraftOrder(_ context.Context, in commerce.DraftOrderInput) (*commerce.DraftOrder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	id := int64(1000 + len(f.inputs))
	return &commerce.DraftOrder{
		ID:         id,
		Name:       fmt.Sprintf("#D%d", len(f.inputs)),
		Status:     "open",
		InvoiceURL: fmt.Sprintf("https://shop.example.com/invoices/%d", id),
		TotalPrice: "39.98",
		Currency:   "USD",
	}, nil
}

func (f *fakeCommerce) SendInvoice(_ context.Context, id int64, _ commerce.InvoiceInput) error {
	if f.invoiceErr != nil {
		return f.invoiceErr
	}
	f.invoices = append(f.invoices, id)
	return nil
}
