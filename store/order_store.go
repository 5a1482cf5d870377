package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/models"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderNumber returns a human-facing order number such as
// "SF-20260115-4821". The random suffix keeps collisions rare; CreateOrder
// retries on the unique constraint.
func NewOrderNumber(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 1_000_000)
	}
	return fmt.Sprintf("SF-%s-%06d", now.UTC().Format("20060102"), n.Int64())
}

// CreateOrder inserts the order and its items in one transaction and fills
// in the generated id, number and timestamps.
func (s *OrderStore) CreateOrder(ctx context.Context, order *models.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		order.OrderNumber = NewOrderNumber(time.Now())
		err = s.createOrder(ctx, order, address)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "orders_order_number_key" {
			log.Warn().Str("order_number", order.OrderNumber).Msg("order number collision, retrying")
			continue
		}
		return err
	}
	return fmt.Errorf("failed to allocate order number after %d attempts: %w", attempts, err)
}

func (s *OrderStore) createOrder(ctx context.Context, order *models.Order, address []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Error().Err(err).Msg("order transaction rollback failed")
		}
	}()

	if order.Status == "" {
		order.Status = "pending"
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (order_number, user_id, session_id, email, status, total_cents, currency, shipping_address, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at;
	`, order.OrderNumber, nullInt(order.UserID), order.SessionID, order.Email, order.Status,
		order.TotalCents, order.Currency, address, order.Note,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_id, title, price_cents, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id;
		`, order.ID, item.ProductID, item.VariantID, item.Title, item.PriceCents, item.Quantity).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item %s: %w", item.VariantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	log.Info().Str("order_number", order.OrderNumber).Int("items", len(order.Items)).Msg("order created")
	return nil
}

// AttachDraftOrder records the commerce platform draft order for an order.
func (s *OrderStore) AttachDraftOrder(ctx context.Context, orderID, draftOrderID int64, invoiceURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET draft_order_id = $2, invoice_url = $3, status = 'invoiced', updated_at = NOW()
		WHERE id = $1;
	`, orderID, draftOrderID, invoiceURL)
	if err != nil {
		return fmt.Errorf("failed to attach draft order to order %d: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *OrderStore) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	order := &models.Order{}
	var (
		userID       sql.NullInt64
		draftOrderID sql.NullInt64
		address      []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_number, user_id, session_id, email, status, total_cents, currency,
		       shipping_address, note, draft_order_id, invoice_url, created_at
		FROM orders WHERE order_number = $1;
	`, number).Scan(
		&order.ID, &order.OrderNumber, &userID, &order.SessionID, &order.Email, &order.Status,
		&order.TotalCents, &order.Currency, &address, &order.Note, &draftOrderID, &order.InvoiceURL,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order %s: %w", number, err)
	}
	if userID.Valid {
		id := int(userID.Int64)
		order.UserID = &id
	}
	if draftOrderID.Valid {
		order.DraftOrderID = &draftOrderID.Int64
	}
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address for order %s: %w", number, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, title, price_cents, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id ASC;
	`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	order.Items = []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.Title, &item.PriceCents, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}
	return order, nil
}
