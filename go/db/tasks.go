package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/proofcart/proofcart/go/core"
)

const taskColumns = `id, order_id, driver_id, status, offered_to_driver_id,
	offer_expires_at, route_json, created_at`

func scanTask(row rowScanner) (*DeliveryTask, error) {
	var task DeliveryTask
	var status, route string
	var err = row.Scan(&task.ID, &task.OrderID, &task.DriverID, &status,
		&task.OfferedToDriverID, &task.OfferExpiresAt, &route, &task.CreatedAt)
	if err != nil {
		return nil, err
	}
	task.Status = core.TaskStatus(status)
	if err = json.Unmarshal([]byte(route), &task.Route); err != nil {
		return nil, fmt.Errorf("unmarshaling route of task %s: %w", task.ID, err)
	}
	return &task, nil
}

// InsertTask persists a new delivery task.
func (t *Tx) InsertTask(ctx context.Context, task *DeliveryTask) error {
	route, err := json.Marshal(task.Route)
	if err != nil {
		return fmt.Errorf("marshaling task route: %w", err)
	}
	var expires interface{}
	if task.OfferExpiresAt != nil {
		expires = task.OfferExpiresAt.UTC()
	}
	_, err = t.Exec(ctx, `
		INSERT INTO delivery_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OrderID, task.DriverID, string(task.Status),
		task.OfferedToDriverID, expires, string(route), task.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask loads a task, or core.ErrNotFound.
func (t *Tx) GetTask(ctx context.Context, id string) (*DeliveryTask, error) {
	var task, err = scanTask(t.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM delivery_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("task %s", id)
	} else if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return task, nil
}

// UpdateTask persists the mutable fields of a task.
func (t *Tx) UpdateTask(ctx context.Context, task *DeliveryTask) error {
	route, err := json.Marshal(task.Route)
	if err != nil {
		return fmt.Errorf("marshaling task route: %w", err)
	}
	var expires interface{}
	if task.OfferExpiresAt != nil {
		expires = task.OfferExpiresAt.UTC()
	}
	_, err = t.Exec(ctx, `
		UPDATE delivery_tasks
		SET driver_id = ?, status = ?, offered_to_driver_id = ?, offer_expires_at = ?, route_json = ?
		WHERE id = ?`,
		task.DriverID, string(task.Status), task.OfferedToDriverID, expires, string(route), task.ID)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	return nil
}

// ActiveTaskForOrder returns the order's task in OFFERED, ACCEPTED, or
// IN_PROGRESS, or nil. The one-active-task invariant means there is at
// most one.
func (t *Tx) ActiveTaskForOrder(ctx context.Context, orderID string) (*DeliveryTask, error) {
	var task, err = scanTask(t.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM delivery_tasks
		WHERE order_id = ? AND status IN ('OFFERED', 'ACCEPTED', 'IN_PROGRESS')
		ORDER BY created_at DESC LIMIT 1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("loading active task of order %s: %w", orderID, err)
	}
	return task, nil
}

// ListTasksForOrder returns all of the order's tasks, oldest first.
func (t *Tx) ListTasksForOrder(ctx context.Context, orderID string) ([]*DeliveryTask, error) {
	rows, err := t.Query(ctx, `
		SELECT `+taskColumns+` FROM delivery_tasks
		WHERE order_id = ? ORDER BY created_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []*DeliveryTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ListActiveTasks returns all tasks holding a courier or an open offer.
func (t *Tx) ListActiveTasks(ctx context.Context) ([]*DeliveryTask, error) {
	rows, err := t.Query(ctx, `
		SELECT `+taskColumns+` FROM delivery_tasks
		WHERE status IN ('OFFERED', 'ACCEPTED', 'IN_PROGRESS')`)
	if err != nil {
		return nil, fmt.Errorf("listing active tasks: %w", err)
	}
	defer rows.Close()

	var out []*DeliveryTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ListExpiredOffers returns OFFERED tasks whose offer lapsed before
// now, up to limit. On Postgres rows are locked with SKIP LOCKED so
// concurrent sweepers shard rather than contend.
func (t *Tx) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*DeliveryTask, error) {
	var query = `
		SELECT ` + taskColumns + ` FROM delivery_tasks
		WHERE status = 'OFFERED' AND offer_expires_at IS NOT NULL AND offer_expires_at < ?
		ORDER BY offer_expires_at ASC LIMIT ?`
	if t.d.postgres {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	rows, err := t.Query(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired offers: %w", err)
	}
	defer rows.Close()

	var out []*DeliveryTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning expired offer: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}
