package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"savecart/internal/domain/cart"
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

// Save replaces the saved cart for the identity, creating it on first save.
// The upsert is a single statement against the (customer_id, shop) unique
// constraint, so concurrent saves for the same identity resolve to one
// caller's full item set, never a mixture.
func (r *Repo) Save(ctx context.Context, id cart.Identity, items []cart.SavedItem) (cart.SavedCart, error) {
	if items == nil {
		items = []cart.SavedItem{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return cart.SavedCart{}, fmt.Errorf("encode items: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO saved_carts (customer_id, shop, items)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, shop)
		DO UPDATE SET items = EXCLUDED.items, updated_at = now()
		RETURNING id, customer_id, shop, items, created_at, updated_at
	`, id.CustomerID, id.Shop, payload)

	return scanSavedCart(row)
}

// Import looks up the saved cart for a (customer, shop) pair. A missing
// record returns cart.ErrNotFound.
func (r *Repo) Import(ctx context.Context, customerID, shop string) (cart.SavedCart, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, customer_id, shop, items, created_at, updated_at
		FROM saved_carts
		WHERE customer_id = $1 AND shop = $2
	`, customerID, shop)

	out, err := scanSavedCart(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cart.SavedCart{}, cart.ErrNotFound
	}
	return out, err
}

func scanSavedCart(row pgx.Row) (cart.SavedCart, error) {
	var out cart.SavedCart
	var raw []byte
	if err := row.Scan(&out.ID, &out.CustomerID, &out.Shop, &raw, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return cart.SavedCart{}, err
	}
	if err := json.Unmarshal(raw, &out.Items); err != nil {
		return cart.SavedCart{}, fmt.Errorf("decode items: %w", err)
	}
	return out, nil
}
