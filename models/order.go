// api/models/order.go
package models

import "time"

type Address struct {
	FirstName string `json:"firstName" form:"firstName"`
	LastName  string `json:"lastName" form:"lastName"`
	Address1  string `json:"address1" form:"address1"`
	Address2  string `json:"address2,omitempty" form:"address2"`
	City      string `json:"city" form:"city"`
	Province  string `json:"province,omitempty" form:"province"`
	Zip       string `json:"zip" form:"zip"`
	Country   string `json:"country" form:"country"`
	Phone     string `json:"phone,omitempty" form:"phone"`
}

// IsZero reports whether no address field was supplied.
func (a Address) IsZero() bool {
	return a == Address{}
}

type Order struct {
	ID              int64       `json:"id"`
	OrderNumber     string      `json:"orderNumber"`
	UserID          *int        `json:"userId,omitempty"`
	SessionID       string      `json:"sessionId"`
	Email           string      `json:"email"`
	Status          string      `json:"status"`
	TotalCents      int64       `json:"totalCents"`
	Currency        string      `json:"currency"`
	ShippingAddress Address     `json:"shippingAddress"`
	Note            string      `json:"note,omitempty"`
	DraftOrderID    *int64      `json:"draftOrderId,omitempty"`
	InvoiceURL      string      `json:"invoiceUrl,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	Items           []OrderItem `json:"items"`
}

type OrderItem struct {
	ID         int64  `json:"id"`
	OrderID    int64  `json:"orderId"`
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId"`
	Title      string `json:"title"`
	PriceCents int64  `json:"priceCents"`
	Quantity   int    `json:"quantity"`
}

// CheckoutRequest is the checkout form submission.
type CheckoutRequest struct {
	Email     string  `json:"email" form:"email" binding:"omitempty,email"`
	SessionID string  `json:"sessionId" form:"sessionId"`
	Note      string  `json:"note" form:"note"`
	Shipping  Address `json:"shippingAddress"`
}
