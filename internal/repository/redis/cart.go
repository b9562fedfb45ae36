package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lacehub/storefront/internal/domain"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

const keyPrefix = "cart:"

// CartRepository implements repository.CartRepository using Redis. Carts are
// stored as JSON blobs with a TTL so abandoned carts age out on their own.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a new Redis-backed cart repository.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cart by its identifier.
func (r *CartRepository) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	key := keyPrefix + cartID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("cart", cartID)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return &cart, nil
}

// Save persists a cart with the configured TTL.
func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	key := keyPrefix + cart.ID

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}

	return nil
}

// Delete removes a cart.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	key := keyPrefix + cartID

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}

	return nil
}

// ListIDs returns the identifiers of all stored carts using cursor-based SCAN,
// for the periodic revalidation watcher.
func (r *CartRepository) ListIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan carts: %w", err)
		}

		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}
