// Package idempotency gives mutating operations at-most-once execution
// keyed by (Idempotency-Key, route, request fingerprint). The record is
// written in the same transaction as the operation's own mutations, so
// either both persist or neither does.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/proofcart/proofcart/go/canonjson"
	"github.com/proofcart/proofcart/go/db"
)

var (
	// ErrKeyRequired is returned when the client omitted the key.
	ErrKeyRequired = errors.New("IDEMPOTENCY_KEY_REQUIRED")

	// ErrConflict is returned when a key is replayed with a different
	// request body.
	ErrConflict = errors.New("IDEMPOTENCY_CONFLICT")
)

// Compute produces the operation's outcome: an HTTP status and a
// JSON-marshalable response. A non-nil error aborts the transaction
// and records nothing; business failures that must be replayable (age
// check FAILED, doorstep FAILED) are returned as a status + response.
type Compute func() (status int, response interface{}, err error)

// GetOrSet replays a stored outcome for (key, route) when the request
// fingerprint matches, fails with ErrConflict when it does not, and
// otherwise runs compute and persists its outcome.
func GetOrSet(ctx context.Context, tx *db.Tx, key, route string, requestBody interface{}, compute Compute) (status int, response json.RawMessage, replayed bool, err error) {
	if key == "" {
		return 0, nil, false, ErrKeyRequired
	}

	requestHash, err := canonjson.SHA256Hex(requestBody)
	if err != nil {
		return 0, nil, false, fmt.Errorf("fingerprinting request: %w", err)
	}

	var storedHash, storedResponse string
	var storedStatus int
	err = tx.QueryRow(ctx, `
		SELECT request_hash, status_code, response FROM idempotency_keys
		WHERE key = ? AND route = ?`, key, route).Scan(&storedHash, &storedStatus, &storedResponse)
	if err == nil {
		if storedHash != requestHash {
			return 0, nil, false, fmt.Errorf("key %q replayed with different body on %s: %w", key, route, ErrConflict)
		}
		return storedStatus, json.RawMessage(storedResponse), true, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, fmt.Errorf("looking up idempotency record: %w", err)
	}

	status, resp, err := compute()
	if err != nil {
		return 0, nil, false, err
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return 0, nil, false, fmt.Errorf("marshaling response: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, route, request_hash, status_code, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key, route, requestHash, status, string(raw), time.Now().UTC())
	if err != nil {
		return 0, nil, false, fmt.Errorf("persisting idempotency record: %w", err)
	}
	return status, raw, false, nil
}
