package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertOfferLog records the immutable snapshot of one offer.
func (t *Tx) InsertOfferLog(ctx context.Context, l *OfferLog) error {
	_, err := t.Exec(ctx, `
		INSERT INTO offer_logs (id, task_id, order_id, driver_id, created_at,
			features_json, outcome, outcome_ms, response_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TaskID, l.OrderID, l.DriverID, l.CreatedAt.UTC(),
		string(l.Features), l.Outcome, l.OutcomeMs, l.ResponseLatencyMs)
	if err != nil {
		return fmt.Errorf("inserting offer log %s: %w", l.ID, err)
	}
	return nil
}

// LatestOfferLog returns the most recent offer log of a task, or nil.
func (t *Tx) LatestOfferLog(ctx context.Context, taskID string) (*OfferLog, error) {
	var l OfferLog
	var features string
	var err = t.QueryRow(ctx, `
		SELECT id, task_id, order_id, driver_id, created_at, features_json,
			outcome, outcome_ms, response_latency_ms
		FROM offer_logs WHERE task_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, taskID).Scan(
		&l.ID, &l.TaskID, &l.OrderID, &l.DriverID, &l.CreatedAt, &features,
		&l.Outcome, &l.OutcomeMs, &l.ResponseLatencyMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("loading offer log of task %s: %w", taskID, err)
	}
	l.Features = []byte(features)
	return &l, nil
}

// SetOfferOutcome stamps the outcome fields of an offer log.
func (t *Tx) SetOfferOutcome(ctx context.Context, id, outcome string, outcomeMs, latencyMs int64) error {
	_, err := t.Exec(ctx, `
		UPDATE offer_logs SET outcome = ?, outcome_ms = ?, response_latency_ms = ?
		WHERE id = ?`, outcome, outcomeMs, latencyMs, id)
	if err != nil {
		return fmt.Errorf("setting outcome of offer log %s: %w", id, err)
	}
	return nil
}
