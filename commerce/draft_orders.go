package commerce

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Address1  string `json:"address1,omitempty"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city,omitempty"`
	Province  string `json:"province,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type Customer struct {
	ID        int64  `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// LineItem is either a catalog variant or a custom item with title and price.
// Price is a decimal string in shop currency, e.g. "19.99".
type LineItem struct {
	VariantID int64  `json:"variant_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Price     string `json:"price,omitempty"`
	Quantity  int    `json:"quantity"`
}

type DraftOrderInput struct {
	LineItems       []LineItem `json:"line_items"`
	Customer        *Customer  `json:"customer,omitempty"`
	Email           string     `json:"email,omitempty"`
	ShippingAddress *Address   `json:"shipping_address,omitempty"`
	BillingAddress  *Address   `json:"billing_address,omitempty"`
	Note            string     `json:"note,omitempty"`
	Tags            string     `json:"tags,omitempty"`
}

type DraftOrder struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	Email         string     `json:"email"`
	InvoiceURL    string     `json:"invoice_url"`
	Currency      string     `json:"currency"`
	SubtotalPrice string     `json:"subtotal_price"`
	TotalTax      string     `json:"total_tax"`
	TotalPrice    string     `json:"total_price"`
	CreatedAt     time.Time  `json:"created_at"`
	LineItems     []LineItem `json:"line_items"`
}

// InvoiceInput customizes the invoice email. All fields are optional.
type InvoiceInput struct {
	To            string `json:"to,omitempty"`
	Subject       string `json:"subject,omitempty"`
	CustomMessage string `json:"custom_message,omitempty"`
}

// CreateDraftOrder creates an unpaid order whose invoice URL can be used as a
// hosted checkout link.
func (c *Client) CreateDraftOrder(ctx context.Context, in DraftOrderInput) (*DraftOrder, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	var out struct {
		DraftOrder DraftOrder `json:"draft_order"`
	}
	req := struct {
		DraftOrder DraftOrderInput `json:"draft_order"`
	}{in}
	if err := c.do(ctx, "create_draft_order", http.MethodPost, "/draft_orders.json", req, &out); err != nil {
		return nil, err
	}
	if out.DraftOrder.ID == 0 {
		return nil, fmt.Errorf("create_draft_order: response missing draft order id")
	}
	return &out.DraftOrder, nil
}

// SendInvoice emails the draft order's invoice to the customer.
func (c *Client) SendInvoice(ctx context.Context, draftOrderID int64, in InvoiceInput) error {
	if c == nil {
		return ErrNotConfigured
	}
	if in.Subject == "" && c.shopName != "" {
		in.Subject = "Your invoice from " + c.shopName
	}
	req := struct {
		Invoice InvoiceInput `json:"draft_order_invoice"`
	}{in}
	path := fmt.Sprintf("/draft_orders/%d/send_invoice.json", draftOrderID)
	return c.do(ctx, "send_invoice", http.MethodPost, path, req, nil)
}
