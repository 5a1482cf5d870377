// api/handlers/draft_order_handlers.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/commerce"
	"github.com/oberliner3/jhnyc-sub000/models"
)

// DraftOrderCreator is the slice of the commerce client the handlers need.
type DraftOrderCreator interface {
	CreateDraftOrder(ctx context.Context, in commerce.DraftOrderInput) (*commerce.DraftOrder, error)
	SendInvoice(ctx context.Context, draftOrderID int64, in commerce.InvoiceInput) error
}

type DraftOrderHandlers struct {
	Commerce DraftOrderCreator
}

func NewDraftOrderHandlers(c DraftOrderCreator) *DraftOrderHandlers {
	return &DraftOrderHandlers{Commerce: c}
}

// CreateDraftOrder handles POST /api/draft-orders.
func (h *DraftOrderHandlers) CreateDraftOrder(c *gin.Context) {
	var req models.DraftOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := validateLineItems(req.LineItems); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	draft, err := h.Commerce.CreateDraftOrder(ctx, draftOrderInput(req))
	if err != nil {
		commerceFailure(c, err)
		return
	}

	summary := models.DraftOrderSummary{
		ID:         draft.ID,
		Name:       draft.Name,
		Status:     draft.Status,
		InvoiceURL: draft.InvoiceURL,
		TotalPrice: draft.TotalPrice,
		Currency:   draft.Currency,
	}
	if req.SendInvoice {
		if err := h.Commerce.SendInvoice(ctx, draft.ID, commerce.InvoiceInput{To: req.Email}); err != nil {
			log.Warn().Err(err).Int64("draft_order_id", draft.ID).Msg("draft orders: invoice not sent")
		} else {
			summary.InvoiceSent = true
		}
	}

	log.Info().Int64("draft_order_id", draft.ID).Str("name", draft.Name).Bool("invoice_sent", summary.InvoiceSent).Msg("draft order created")
	c.JSON(http.StatusOK, gin.H{"success": true, "draftOrder": summary})
}

func validateLineItems(items []models.DraftOrderLineItem) error {
	for i, li := range items {
		if li.IsCustom() && (li.Title == "" || li.Price == "") {
			return fmt.Errorf("lineItems[%d] needs a variantId or both title and price", i)
		}
	}
	return nil
}

func commerceFailure(c *gin.Context, err error) {
	var apiErr *commerce.APIError
	switch {
	case errors.Is(err, commerce.ErrNotConfigured):
		log.Error().Msg("draft orders: commerce platform is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Commerce platform is not configured"})
	case errors.As(err, &apiErr):
		log.Error().Err(err).Int("upstream_status", apiErr.StatusCode).Str("upstream_message", apiErr.Message).Msg("draft orders: upstream rejected request")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create draft order"})
	default:
		log.Error().Err(err).Msg("draft orders: create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create draft order"})
	}
}

func draftOrderInput(req models.DraftOrderRequest) commerce.DraftOrderInput {
	in := commerce.DraftOrderInput{
		Email:           req.Email,
		Note:            req.Note,
		Tags:            req.Tags,
		ShippingAddress: commerceAddress(req.ShippingAddress),
		BillingAddress:  commerceAddress(req.BillingAddress),
	}
	for _, li := range req.LineItems {
		item := commerce.LineItem{VariantID: li.VariantID, Quantity: li.Quantity}
		if li.IsCustom() {
			item.Title = li.Title
			item.Price = li.Price
		}
		in.LineItems = append(in.LineItems, item)
	}
	if req.Customer != nil {
		in.Customer = &commerce.Customer{
			ID:        req.Customer.ID,
			Email:     req.Customer.Email,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
		}
		if in.Email == "" {
			in.Email = req.Customer.Email
		}
	}
	return in
}

func commerceAddress(a *models.Address) *commerce.Address {
	if a == nil || a.IsZero() {
		return nil
	}
	return &commerce.Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		Province:  a.Province,
		Zip:       a.Zip,
		Country:   a.Country,
		Phone:     a.Phone,
	}
}
