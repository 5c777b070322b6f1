package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/proofcart/proofcart/go/core"
)

// GetProduct loads a catalog product, or core.ErrNotFound.
func (t *Tx) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	var err = t.QueryRow(ctx, `
		SELECT id, store_id, name, price_cents, is_available
		FROM products WHERE id = ?`, id).Scan(
		&p.ID, &p.StoreID, &p.Name, &p.PriceCents, &p.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("product %s", id)
	} else if err != nil {
		return nil, fmt.Errorf("loading product %s: %w", id, err)
	}
	return &p, nil
}

// InsertProduct persists a catalog product.
func (t *Tx) InsertProduct(ctx context.Context, p *Product) error {
	_, err := t.Exec(ctx, `
		INSERT INTO products (id, store_id, name, price_cents, is_available)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.StoreID, p.Name, p.PriceCents, p.IsAvailable)
	if err != nil {
		return fmt.Errorf("inserting product %s: %w", p.ID, err)
	}
	return nil
}

// GetStore loads a merchant store, or core.ErrNotFound.
func (t *Tx) GetStore(ctx context.Context, id string) (*Store, error) {
	var s Store
	var err = t.QueryRow(ctx, `
		SELECT id, name, address, lat, lng FROM stores WHERE id = ?`, id).Scan(
		&s.ID, &s.Name, &s.Address, &s.Lat, &s.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("store %s", id)
	} else if err != nil {
		return nil, fmt.Errorf("loading store %s: %w", id, err)
	}
	return &s, nil
}

// InsertStore persists a merchant store.
func (t *Tx) InsertStore(ctx context.Context, s *Store) error {
	_, err := t.Exec(ctx, `
		INSERT INTO stores (id, name, address, lat, lng, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Address, s.Lat, s.Lng, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting store %s: %w", s.ID, err)
	}
	return nil
}

// GetAddress loads a customer address, or core.ErrNotFound.
func (t *Tx) GetAddress(ctx context.Context, id string) (*CustomerAddress, error) {
	var a CustomerAddress
	var err = t.QueryRow(ctx, `
		SELECT id, customer_id, address, lat, lng FROM customer_addresses WHERE id = ?`, id).Scan(
		&a.ID, &a.CustomerID, &a.Address, &a.Lat, &a.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("address %s", id)
	} else if err != nil {
		return nil, fmt.Errorf("loading address %s: %w", id, err)
	}
	return &a, nil
}

// InsertAddress persists a customer address.
func (t *Tx) InsertAddress(ctx context.Context, a *CustomerAddress) error {
	_, err := t.Exec(ctx, `
		INSERT INTO customer_addresses (id, customer_id, address, lat, lng)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.CustomerID, a.Address, a.Lat, a.Lng)
	if err != nil {
		return fmt.Errorf("inserting address %s: %w", a.ID, err)
	}
	return nil
}
