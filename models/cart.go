// api/models/cart.go
package models

import "time"

// CartStatus is the lifecycle state of a guest cart.
type CartStatus string

const (
	CartActive    CartStatus = "active"
	CartAbandoned CartStatus = "abandoned"
	CartConverted CartStatus = "converted"
	CartExpired   CartStatus = "expired"
)

// Cart is a shopping cart keyed by browser session (or "user:<id>" once the
// visitor is signed in). TotalValue and ItemCount are denormalized from Items.
type Cart struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"sessionId"`
	UserID     *int       `json:"userId,omitempty"`
	Status     CartStatus `json:"status"`
	TotalValue int64      `json:"totalValue"` // cents
	Currency   string     `json:"currency"`
	ItemCount  int        `json:"itemCount"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Items      []CartItem `json:"items"`
}

type CartItem struct {
	ID         string    `json:"id"`
	CartID     string    `json:"cartId"`
	ProductID  string    `json:"productId"`
	VariantID  string    `json:"variantId"`
	Title      string    `json:"title"`
	PriceCents int64     `json:"priceCents"`
	Quantity   int       `json:"quantity"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type AddCartItemRequest struct {
	ProductID  string `json:"productId" binding:"required"`
	VariantID  string `json:"variantId" binding:"required"`
	Title      string `json:"title" binding:"required"`
	PriceCents int64  `json:"priceCents" binding:"min=0"`
	Quantity   int    `json:"quantity" binding:"required,min=1,max=99"`
	ImageURL   string `json:"imageUrl"`
}

type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required,min=0,max=99"`
}

// Totals recomputes the denormalized totals from the items.
func (c *Cart) Totals() (total int64, count int) {
	for _, item := range c.Items {
		total += item.PriceCents * int64(item.Quantity)
		count += item.Quantity
	}
	return total, count
}

// IsEmpty reports whether the cart has no line items.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}
