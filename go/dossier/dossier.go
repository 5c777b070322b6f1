// Package dossier maintains the hash-chained, append-only event log of
// each order. Every event records the SHA-256 of its canonical content
// plus the hash of its predecessor, so the chain for an order can be
// re-verified end to end.
package dossier

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proofcart/proofcart/go/canonjson"
	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
)

// hashContent is the exact canonical structure covered by hash_self.
// Field set and key names are frozen; changing them orphans every
// stored chain.
type hashContent struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ActorType core.ActorType  `json:"actor_type"`
	ActorID   string          `json:"actor_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	HashPrev  *string         `json:"hash_prev"`
}

// Append emits one event onto the order's chain, inside the caller's
// transaction. The order row lock taken here serializes concurrent
// appenders; two writers reading the same hash_prev would fork the
// chain.
func Append(ctx context.Context, tx *db.Tx, orderID string, actor core.ActorType, actorID, eventType string, payload interface{}) (*db.OrderEvent, error) {
	if err := tx.LockOrder(ctx, orderID); err != nil {
		return nil, err
	}

	var prevSeq int64
	var hashPrev *string
	var prevHash string
	var err = tx.QueryRow(ctx, `
		SELECT seq, hash_self FROM order_events
		WHERE order_id = ? ORDER BY seq DESC LIMIT 1`, orderID).Scan(&prevSeq, &prevHash)
	if err == nil {
		hashPrev = &prevHash
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading chain head of order %s: %w", orderID, err)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload: %w", err)
	}

	var event = db.OrderEvent{
		ID:        "evt_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		OrderID:   orderID,
		Seq:       prevSeq + 1,
		TS:        time.Now().UTC(),
		ActorType: actor,
		ActorID:   actorID,
		EventType: eventType,
		Payload:   rawPayload,
		HashPrev:  hashPrev,
	}
	event.HashSelf, err = canonjson.SHA256Hex(hashContent{
		ID:        event.ID,
		OrderID:   event.OrderID,
		ActorType: event.ActorType,
		ActorID:   event.ActorID,
		EventType: event.EventType,
		Payload:   event.Payload,
		HashPrev:  event.HashPrev,
	})
	if err != nil {
		return nil, fmt.Errorf("hashing event: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_events (id, order_id, seq, ts, actor_type, actor_id,
			event_type, payload, hash_prev, hash_self)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OrderID, event.Seq, event.TS, string(event.ActorType),
		event.ActorID, event.EventType, string(event.Payload), event.HashPrev, event.HashSelf)
	if err != nil {
		return nil, fmt.Errorf("inserting event %s: %w", event.ID, err)
	}
	return &event, nil
}

// List returns the order's events in chain order.
func List(ctx context.Context, tx *db.Tx, orderID string) ([]db.OrderEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, seq, ts, actor_type, actor_id, event_type,
			payload, hash_prev, hash_self
		FROM order_events WHERE order_id = ? ORDER BY seq ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing events of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []db.OrderEvent
	for rows.Next() {
		var e db.OrderEvent
		var actorType, payload string
		if err = rows.Scan(&e.ID, &e.OrderID, &e.Seq, &e.TS, &actorType, &e.ActorID,
			&e.EventType, &payload, &e.HashPrev, &e.HashSelf); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.ActorType, e.Payload = core.ActorType(actorType), []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Exists reports whether the order has at least one event of the given type.
func Exists(ctx context.Context, tx *db.Tx, orderID, eventType string) (bool, error) {
	var id string
	var err = tx.QueryRow(ctx, `
		SELECT id FROM order_events WHERE order_id = ? AND event_type = ? LIMIT 1`,
		orderID, eventType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("checking for %s event of order %s: %w", eventType, orderID, err)
	}
	return true, nil
}

// VerifyChain recomputes every hash_self and checks hash_prev linkage.
// It returns nil for an intact chain, and a descriptive error naming
// the first broken link otherwise.
func VerifyChain(events []db.OrderEvent) error {
	var prev *string
	for i, e := range events {
		switch {
		case prev == nil && e.HashPrev != nil:
			return fmt.Errorf("event %s (index %d): hash_prev should be null", e.ID, i)
		case prev != nil && (e.HashPrev == nil || *e.HashPrev != *prev):
			return fmt.Errorf("event %s (index %d): hash_prev does not link to predecessor", e.ID, i)
		}

		computed, err := canonjson.SHA256Hex(hashContent{
			ID:        e.ID,
			OrderID:   e.OrderID,
			ActorType: e.ActorType,
			ActorID:   e.ActorID,
			EventType: e.EventType,
			Payload:   e.Payload,
			HashPrev:  e.HashPrev,
		})
		if err != nil {
			return fmt.Errorf("rehashing event %s: %w", e.ID, err)
		}
		if computed != e.HashSelf {
			return fmt.Errorf("event %s (index %d): hash_self mismatch", e.ID, i)
		}
		var h = e.HashSelf
		prev = &h
	}
	return nil
}
