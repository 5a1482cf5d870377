package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/models"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
)

const maxItemQuantity = 99

// CartStore persists guest and signed-in carts in Postgres. A cart is found
// by its session key and is live while active or abandoned and not expired.
// Every mutation refreshes the expiry, recomputes the denormalized totals and
// returns the cart as re-read from the database.
type CartStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewCartStore(db *sql.DB, ttl time.Duration) *CartStore {
	return &CartStore{db: db, ttl: ttl}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *CartStore) GetCart(ctx context.Context, sessionKey string) (*models.Cart, error) {
	return s.getCart(ctx, s.db, sessionKey)
}

func (s *CartStore) getCart(ctx context.Context, q queryer, sessionKey string) (*models.Cart, error) {
	query := `
		SELECT id, session_id, user_id, status, total_value, currency, item_count,
		       expires_at, created_at, updated_at
		FROM anonymous_carts
		WHERE session_id = $1 AND status IN ('active', 'abandoned') AND expires_at > NOW();
	`
	cart := &models.Cart{}
	var userID sql.NullInt64
	err := q.QueryRowContext(ctx, query, sessionKey).Scan(
		&cart.ID,
		&cart.SessionID,
		&userID,
		&cart.Status,
		&cart.TotalValue,
		&cart.Currency,
		&cart.ItemCount,
		&cart.ExpiresAt,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if userID.Valid {
		id := int(userID.Int64)
		cart.UserID = &id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, cart_id, product_id, variant_id, title, price_cents, quantity, image_url,
		       created_at, updated_at
		FROM anonymous_cart_items
		WHERE cart_id = $1
		ORDER BY created_at ASC, id ASC;
	`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.VariantID,
			&item.Title,
			&item.PriceCents,
			&item.Quantity,
			&item.ImageURL,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}
	return cart, nil
}

// AddItem adds a line to the session's cart, creating the cart if needed.
// Adding a variant already in the cart increases its quantity.
func (s *CartStore) AddItem(ctx context.Context, sessionKey string, userID *int, req models.AddCartItemRequest) (*models.Cart, error) {
	return s.mutate(ctx, sessionKey, func(tx *sql.Tx) (string, error) {
		// A cart past its expiry still holds the live-cart index slot.
		if _, err := tx.ExecContext(ctx, `
			UPDATE anonymous_carts SET status = 'expired', updated_at = NOW()
			WHERE session_id = $1 AND status IN ('active', 'abandoned') AND expires_at <= NOW();
		`, sessionKey); err != nil {
			return "", fmt.Errorf("failed to expire stale cart: %w", err)
		}

		var cartID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO anonymous_carts (id, session_id, user_id, status, expires_at)
			VALUES ($1, $2, $3, 'active', $4)
			ON CONFLICT (session_id) WHERE status IN ('active', 'abandoned')
			DO UPDATE SET user_id = COALESCE(EXCLUDED.user_id, anonymous_carts.user_id)
			RETURNING id;
		`, uuid.NewString(), sessionKey, nullInt(userID), time.Now().Add(s.ttl)).Scan(&cartID)
		if err != nil {
			return "", fmt.Errorf("failed to get or create cart: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO anonymous_cart_items (id, cart_id, product_id, variant_id, title, price_cents, quantity, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (cart_id, variant_id) DO UPDATE SET
				quantity = LEAST(anonymous_cart_items.quantity + EXCLUDED.quantity, $9),
				title = EXCLUDED.title,
				price_cents = EXCLUDED.price_cents,
				image_url = EXCLUDED.image_url,
				updated_at = NOW();
		`, uuid.NewString(), cartID, req.ProductID, req.VariantID, req.Title, req.PriceCents, req.Quantity, req.ImageURL, maxItemQuantity)
		if err != nil {
			return "", fmt.Errorf("failed to add cart item: %w", err)
		}
		return cartID, nil
	})
}

// UpdateItemQuantity sets a line's quantity; zero removes the line.
func (s *CartStore) UpdateItemQuantity(ctx context.Context, sessionKey, itemID string, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, sessionKey, itemID)
	}
	if !isItemID(itemID) {
		return nil, ErrCartItemNotFound
	}
	return s.mutate(ctx, sessionKey, func(tx *sql.Tx) (string, error) {
		cartID, err := liveCartID(ctx, tx, sessionKey)
		if err != nil {
			return "", err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE anonymous_cart_items SET quantity = $3, updated_at = NOW()
			WHERE cart_id = $1 AND id = $2;
		`, cartID, itemID, quantity)
		if err != nil {
			return "", fmt.Errorf("failed to update cart item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", ErrCartItemNotFound
		}
		return cartID, nil
	})
}

func (s *CartStore) RemoveItem(ctx context.Context, sessionKey, itemID string) (*models.Cart, error) {
	if !isItemID(itemID) {
		return nil, ErrCartItemNotFound
	}
	return s.mutate(ctx, sessionKey, func(tx *sql.Tx) (string, error) {
		cartID, err := liveCartID(ctx, tx, sessionKey)
		if err != nil {
			return "", err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM anonymous_cart_items WHERE cart_id = $1 AND id = $2;`, cartID, itemID)
		if err != nil {
			return "", fmt.Errorf("failed to remove cart item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", ErrCartItemNotFound
		}
		return cartID, nil
	})
}

// ClearCart removes every line but keeps the cart itself.
func (s *CartStore) ClearCart(ctx context.Context, sessionKey string) (*models.Cart, error) {
	return s.mutate(ctx, sessionKey, func(tx *sql.Tx) (string, error) {
		cartID, err := liveCartID(ctx, tx, sessionKey)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM anonymous_cart_items WHERE cart_id = $1;`, cartID); err != nil {
			return "", fmt.Errorf("failed to clear cart: %w", err)
		}
		return cartID, nil
	})
}

// MarkConverted closes the cart after a successful checkout.
func (s *CartStore) MarkConverted(ctx context.Context, cart *models.Cart) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE anonymous_carts SET status = 'converted', converted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'abandoned');
	`, cart.ID)
	if err != nil {
		return fmt.Errorf("failed to convert cart %s: %w", cart.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCartNotFound
	}
	return nil
}

// MarkAbandoned flags non-empty active carts untouched since idleBefore and
// returns their session keys.
func (s *CartStore) MarkAbandoned(ctx context.Context, idleBefore time.Time) ([]string, error) {
	keys, err := s.sweep(ctx, `
		UPDATE anonymous_carts SET status = 'abandoned'
		WHERE status = 'active' AND item_count > 0 AND updated_at < $1 AND expires_at > NOW()
		RETURNING session_id;
	`, idleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to mark abandoned carts: %w", err)
	}
	return keys, nil
}

// ExpireCarts closes live carts whose expiry has passed and returns their
// session keys.
func (s *CartStore) ExpireCarts(ctx context.Context, now time.Time) ([]string, error) {
	keys, err := s.sweep(ctx, `
		UPDATE anonymous_carts SET status = 'expired', updated_at = NOW()
		WHERE status IN ('active', 'abandoned') AND expires_at <= $1
		RETURNING session_id;
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire carts: %w", err)
	}
	return keys, nil
}

func (s *CartStore) sweep(ctx context.Context, query string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// mutate runs change in a transaction, then refreshes totals and expiry on
// the cart it touched and re-reads it.
func (s *CartStore) mutate(ctx context.Context, sessionKey string, change func(tx *sql.Tx) (string, error)) (*models.Cart, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Error().Err(err).Msg("cart transaction rollback failed")
		}
	}()

	cartID, err := change(tx)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE anonymous_carts c SET
			total_value = COALESCE((SELECT SUM(i.price_cents * i.quantity) FROM anonymous_cart_items i WHERE i.cart_id = c.id), 0),
			item_count = COALESCE((SELECT SUM(i.quantity) FROM anonymous_cart_items i WHERE i.cart_id = c.id), 0),
			status = 'active',
			expires_at = $2,
			updated_at = NOW()
		WHERE c.id = $1;
	`, cartID, time.Now().Add(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to refresh cart totals: %w", err)
	}

	cart, err := s.getCart(ctx, tx, sessionKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cart change: %w", err)
	}
	return cart, nil
}

func liveCartID(ctx context.Context, tx *sql.Tx, sessionKey string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM anonymous_carts
		WHERE session_id = $1 AND status IN ('active', 'abandoned') AND expires_at > NOW()
		FOR UPDATE;
	`, sessionKey).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCartNotFound
		}
		return "", fmt.Errorf("failed to lock cart: %w", err)
	}
	return id, nil
}

// isItemID reports whether id can name a cart line; line ids are UUIDs.
func isItemID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
