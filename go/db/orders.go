package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/proofcart/proofcart/go/core"
)

const orderColumns = `id, customer_id, store_id, address_id, status, disclosure_version,
	subtotal_cents, tax_cents, fees_cents, tip_cents, total_cents, items_json,
	payment_status, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var status, paymentStatus, items string
	var err = row.Scan(
		&o.ID, &o.CustomerID, &o.StoreID, &o.AddressID, &status, &o.DisclosureVersion,
		&o.SubtotalCents, &o.TaxCents, &o.FeesCents, &o.TipCents, &o.TotalCents, &items,
		&paymentStatus, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Status, o.PaymentStatus = core.OrderStatus(status), core.PaymentStatus(paymentStatus)
	if err = json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling items of order %s: %w", o.ID, err)
	}
	return &o, nil
}

// InsertOrder persists a new order.
func (t *Tx) InsertOrder(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	_, err = t.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, o.StoreID, o.AddressID, string(o.Status), o.DisclosureVersion,
		o.SubtotalCents, o.TaxCents, o.FeesCents, o.TipCents, o.TotalCents, string(items),
		string(o.PaymentStatus), o.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder loads an order, or core.ErrNotFound.
func (t *Tx) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o, err = scanOrder(t.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("order %s", id)
	} else if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", id, err)
	}
	return o, nil
}

// UpdateOrderStatus persists a status already validated by the state machine.
func (t *Tx) UpdateOrderStatus(ctx context.Context, id string, status core.OrderStatus) error {
	if _, err := t.Exec(ctx, `UPDATE orders SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("updating status of order %s: %w", id, err)
	}
	return nil
}

// UpdateOrderPayment persists the authorized total and payment status.
func (t *Tx) UpdateOrderPayment(ctx context.Context, id string, totalCents int64, status core.PaymentStatus) error {
	_, err := t.Exec(ctx, `UPDATE orders SET total_cents = ?, payment_status = ? WHERE id = ?`,
		totalCents, string(status), id)
	if err != nil {
		return fmt.Errorf("updating payment of order %s: %w", id, err)
	}
	return nil
}

// ListDispatchableOrders returns orders in statuses that need a courier,
// oldest first.
func (t *Tx) ListDispatchableOrders(ctx context.Context) ([]*Order, error) {
	rows, err := t.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('MERCHANT_ACCEPTED', 'DISPATCHING')
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing dispatchable orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
