// Package db is the SQL persistence layer. SQLite backs development
// and tests; Postgres (via the pgx stdlib driver) backs production.
// Statements are written with `?` placeholders and rebound for
// Postgres, so repositories carry a single SQL dialect.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import for register side-effects.
	_ "github.com/mattn/go-sqlite3"    // Import for register side-effects.
	log "github.com/sirupsen/logrus"
)

// DB wraps a sql.DB together with its dialect flavor.
type DB struct {
	sqlDB    *sql.DB
	postgres bool
}

// Open connects to the database named by dsn. DSNs beginning with
// postgres:// or postgresql:// use pgx; anything else is treated as a
// SQLite path (":memory:" included).
func Open(dsn string) (*DB, error) {
	var driver = "sqlite3"
	var postgres bool
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, postgres = "pgx", true
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging %s database: %w", driver, err)
	}
	if !postgres {
		// SQLite serializes writers; a single connection avoids
		// "database is locked" errors under concurrent transactions.
		sqlDB.SetMaxOpenConns(1)
	}

	log.WithFields(log.Fields{"driver": driver}).Info("opened database")
	return &DB{sqlDB: sqlDB, postgres: postgres}, nil
}

// Close releases the underlying pool.
func (d *DB) Close() error { return d.sqlDB.Close() }

// Init applies the schema. Safe to call repeatedly.
func (d *DB) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements(d.postgres) {
		if _, err := d.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// Tx is one database transaction. All repository methods hang off Tx
// so that every operation's reads, writes, dossier appends, and
// idempotency record land in a single transaction.
type Tx struct {
	sqlTx *sql.Tx
	d     *DB
}

// Transact runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (d *DB) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err = fn(&Tx{sqlTx: sqlTx, d: d}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rebind rewrites `?` placeholders to `$N` for Postgres.
func (d *DB) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	var n int
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Exec runs a statement with dialect-appropriate placeholders.
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.sqlTx.ExecContext(ctx, t.d.rebind(query), args...)
}

// Query runs a query with dialect-appropriate placeholders.
func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.sqlTx.QueryContext(ctx, t.d.rebind(query), args...)
}

// QueryRow runs a single-row query with dialect-appropriate placeholders.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.sqlTx.QueryRowContext(ctx, t.d.rebind(query), args...)
}

// LockOrder serializes concurrent appenders of one order's dossier.
// On Postgres it takes the order's row lock; SQLite already admits a
// single writer so the read alone suffices.
func (t *Tx) LockOrder(ctx context.Context, orderID string) error {
	var query = `SELECT id FROM orders WHERE id = ?`
	if t.d.postgres {
		query += ` FOR UPDATE`
	}
	var id string
	if err := t.QueryRow(ctx, query, orderID).Scan(&id); err != nil {
		return fmt.Errorf("locking order %s: %w", orderID, err)
	}
	return nil
}

// PurgeExpired enforces retention: idempotency records past idemTTL
// and events of terminal orders past eventTTL. Returns rows deleted.
func (d *DB) PurgeExpired(ctx context.Context, now time.Time, idemTTL, eventTTL time.Duration) (int64, error) {
	var total int64
	err := d.Transact(ctx, func(tx *Tx) error {
		res, err := tx.Exec(ctx,
			`DELETE FROM idempotency_keys WHERE created_at < ?`, now.Add(-idemTTL).UTC())
		if err != nil {
			return fmt.Errorf("purging idempotency keys: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n

		res, err = tx.Exec(ctx,
			`DELETE FROM order_events WHERE ts < ? AND order_id IN
				(SELECT id FROM orders WHERE status IN ('DELIVERED','CANCELED','REFUSED_RETURNING'))`,
			now.Add(-eventTTL).UTC())
		if err != nil {
			return fmt.Errorf("purging order events: %w", err)
		}
		n, _ = res.RowsAffected()
		total += n
		return nil
	})
	return total, err
}
