package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/models"
)

// Carts is the cart API shared by CartStore and CachedCarts.
type Carts interface {
	GetCart(ctx context.Context, sessionKey string) (*models.Cart, error)
	AddItem(ctx context.Context, sessionKey string, userID *int, req models.AddCartItemRequest) (*models.Cart, error)
	UpdateItemQuantity(ctx context.Context, sessionKey, itemID string, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, sessionKey, itemID string) (*models.Cart, error)
	ClearCart(ctx context.Context, sessionKey string) (*models.Cart, error)
	MarkConverted(ctx context.Context, cart *models.Cart) error
}

// CartCache stores cart snapshots in Redis under cart:<session key>.
type CartCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCartCache(rdb *redis.Client, ttl time.Duration) *CartCache {
	return &CartCache{rdb: rdb, ttl: ttl}
}

func cartCacheKey(sessionKey string) string {
	return "cart:" + sessionKey
}

func (c *CartCache) Get(ctx context.Context, sessionKey string) (*models.Cart, bool, error) {
	data, err := c.rdb.Get(ctx, cartCacheKey(sessionKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get cart: %w", err)
	}
	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, false, fmt.Errorf("decode cached cart: %w", err)
	}
	return &cart, true, nil
}

// Set caches the snapshot until the cart's own expiry or the cache ttl,
// whichever comes first.
func (c *CartCache) Set(ctx context.Context, cart *models.Cart) error {
	ttl := c.ttl
	if until := time.Until(cart.ExpiresAt); until < ttl {
		ttl = until
	}
	if ttl <= 0 {
		return c.Delete(ctx, cart.SessionID)
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := c.rdb.Set(ctx, cartCacheKey(cart.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (c *CartCache) Delete(ctx context.Context, sessionKey string) error {
	if err := c.rdb.Del(ctx, cartCacheKey(sessionKey)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

// CartSweeps closes stale carts in bulk and reports the session keys it
// changed.
type CartSweeps interface {
	MarkAbandoned(ctx context.Context, idleBefore time.Time) ([]string, error)
	ExpireCarts(ctx context.Context, now time.Time) ([]string, error)
}

var errNoSweeps = errors.New("cart backend does not support sweeps")

// snapshotCache is the part of CartCache CachedCarts relies on.
type snapshotCache interface {
	Get(ctx context.Context, sessionKey string) (*models.Cart, bool, error)
	Set(ctx context.Context, cart *models.Cart) error
	Delete(ctx context.Context, sessionKey string) error
}

// CachedCarts reads through the snapshot cache and refreshes it after every
// mutation with the cart the backend re-read. Cache failures are logged and
// never fail the request.
type CachedCarts struct {
	backend Carts
	sweeps  CartSweeps
	cache   snapshotCache
}

func NewCachedCarts(backend Carts, cache snapshotCache) *CachedCarts {
	c := &CachedCarts{backend: backend, cache: cache}
	if sweeps, ok := backend.(CartSweeps); ok {
		c.sweeps = sweeps
	}
	return c
}

func (c *CachedCarts) GetCart(ctx context.Context, sessionKey string) (*models.Cart, error) {
	cart, ok, err := c.cache.Get(ctx, sessionKey)
	if err != nil {
		log.Warn().Err(err).Str("session_key", sessionKey).Msg("cart cache read failed")
	}
	if ok {
		return cart, nil
	}
	return c.refresh(ctx, sessionKey, func() (*models.Cart, error) {
		return c.backend.GetCart(ctx, sessionKey)
	})
}

func (c *CachedCarts) AddItem(ctx context.Context, sessionKey string, userID *int, req models.AddCartItemRequest) (*models.Cart, error) {
	return c.refresh(ctx, sessionKey, func() (*models.Cart, error) {
		return c.backend.AddItem(ctx, sessionKey, userID, req)
	})
}

func (c *CachedCarts) UpdateItemQuantity(ctx context.Context, sessionKey, itemID string, quantity int) (*models.Cart, error) {
	return c.refresh(ctx, sessionKey, func() (*models.Cart, error) {
		return c.backend.UpdateItemQuantity(ctx, sessionKey, itemID, quantity)
	})
}

func (c *CachedCarts) RemoveItem(ctx context.Context, sessionKey, itemID string) (*models.Cart, error) {
	return c.refresh(ctx, sessionKey, func() (*models.Cart, error) {
		return c.backend.RemoveItem(ctx, sessionKey, itemID)
	})
}

func (c *CachedCarts) ClearCart(ctx context.Context, sessionKey string) (*models.Cart, error) {
	return c.refresh(ctx, sessionKey, func() (*models.Cart, error) {
		return c.backend.ClearCart(ctx, sessionKey)
	})
}

// MarkConverted closes the cart and evicts its snapshot.
func (c *CachedCarts) MarkConverted(ctx context.Context, cart *models.Cart) error {
	if err := c.backend.MarkConverted(ctx, cart); err != nil {
		return err
	}
	if err := c.cache.Delete(ctx, cart.SessionID); err != nil {
		log.Warn().Err(err).Str("session_key", cart.SessionID).Msg("cart cache evict failed")
	}
	return nil
}

// MarkAbandoned sweeps idle carts and evicts their snapshots so readers see
// the new status.
func (c *CachedCarts) MarkAbandoned(ctx context.Context, idleBefore time.Time) ([]string, error) {
	if c.sweeps == nil {
		return nil, errNoSweeps
	}
	keys, err := c.sweeps.MarkAbandoned(ctx, idleBefore)
	c.evict(ctx, keys)
	return keys, err
}

// ExpireCarts sweeps expired carts and evicts their snapshots.
func (c *CachedCarts) ExpireCarts(ctx context.Context, now time.Time) ([]string, error) {
	if c.sweeps == nil {
		return nil, errNoSweeps
	}
	keys, err := c.sweeps.ExpireCarts(ctx, now)
	c.evict(ctx, keys)
	return keys, err
}

func (c *CachedCarts) evict(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := c.cache.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("session_key", key).Msg("cart cache evict failed")
		}
	}
}

func (c *CachedCarts) refresh(ctx context.Context, sessionKey string, load func() (*models.Cart, error)) (*models.Cart, error) {
	cart, err := load()
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			if derr := c.cache.Delete(ctx, sessionKey); derr != nil {
				log.Warn().Err(derr).Str("session_key", sessionKey).Msg("cart cache evict failed")
			}
		}
		return nil, err
	}
	if err := c.cache.Set(ctx, cart); err != nil {
		log.Warn().Err(err).Str("session_key", sessionKey).Msg("cart cache write failed")
	}
	return cart, nil
}
