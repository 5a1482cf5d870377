// api/models/draft_order.go
package models

// DraftOrderLineItem is either a catalog variant (VariantID) or a custom
// item described by Title and Price.
type DraftOrderLineItem struct {
	VariantID int64  `json:"variantId" binding:"omitempty,min=1"`
	Title     string `json:"title"`
	Price     string `json:"price" binding:"omitempty,numeric"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// IsCustom reports whether the item is described by title and price instead
// of a variant.
func (li DraftOrderLineItem) IsCustom() bool {
	return li.VariantID == 0
}

type DraftOrderCustomer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email" binding:"omitempty,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type DraftOrderRequest struct {
	LineItems       []DraftOrderLineItem `json:"lineItems" binding:"required,min=1,dive"`
	Customer        *DraftOrderCustomer  `json:"customer"`
	Email           string               `json:"email" binding:"omitempty,email"`
	ShippingAddress *Address             `json:"shippingAddress"`
	BillingAddress  *Address             `json:"billingAddress"`
	Note            string               `json:"note"`
	Tags            string               `json:"tags"`
	SendInvoice     bool                 `json:"sendInvoice"`
}

// DraftOrderSummary is what the API returns after a draft order is created.
type DraftOrderSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	InvoiceURL  string `json:"invoiceUrl"`
	TotalPrice  string `json:"totalPrice"`
	Currency    string `json:"currency"`
	InvoiceSent bool   `json:"invoiceSent"`
}
