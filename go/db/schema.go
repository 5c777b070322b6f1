package db

// The schema sticks to types both SQLite and Postgres accept. JSON
// columns are stored as TEXT and (un)marshaled at the repository edge.
func schemaStatements(postgres bool) []string {
	var float = "REAL"
	if postgres {
		float = "DOUBLE PRECISION"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS stores (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			address    TEXT NOT NULL DEFAULT '',
			lat        ` + float + `,
			lng        ` + float + `,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id           TEXT PRIMARY KEY,
			store_id     TEXT NOT NULL,
			name         TEXT NOT NULL,
			price_cents  BIGINT NOT NULL,
			is_available BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS customer_addresses (
			id          TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			address     TEXT NOT NULL DEFAULT '',
			lat         ` + float + `,
			lng         ` + float + `
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id                 TEXT PRIMARY KEY,
			customer_id        TEXT NOT NULL,
			store_id           TEXT NOT NULL,
			address_id         TEXT NOT NULL,
			status             TEXT NOT NULL,
			disclosure_version TEXT NOT NULL,
			subtotal_cents     BIGINT NOT NULL DEFAULT 0,
			tax_cents          BIGINT NOT NULL DEFAULT 0,
			fees_cents         BIGINT NOT NULL DEFAULT 0,
			tip_cents          BIGINT NOT NULL DEFAULT 0,
			total_cents        BIGINT NOT NULL DEFAULT 0,
			items_json         TEXT NOT NULL DEFAULT '[]',
			payment_status     TEXT NOT NULL DEFAULT 'UNPAID',
			created_at         TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id         TEXT PRIMARY KEY,
			order_id   TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			ts         TIMESTAMP NOT NULL,
			actor_type TEXT NOT NULL,
			actor_id   TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			hash_prev  TEXT,
			hash_self  TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_order_events_order_seq
			ON order_events (order_id, seq)`,
		`CREATE TABLE IF NOT EXISTS delivery_tasks (
			id                   TEXT PRIMARY KEY,
			order_id             TEXT NOT NULL,
			driver_id            TEXT,
			status               TEXT NOT NULL DEFAULT 'UNASSIGNED',
			offered_to_driver_id TEXT,
			offer_expires_at     TIMESTAMP,
			route_json           TEXT NOT NULL DEFAULT '{}',
			created_at           TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_tasks_status_expiry
			ON delivery_tasks (status, offer_expires_at)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key          TEXT NOT NULL,
			route        TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			status_code  INTEGER NOT NULL,
			response     TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			PRIMARY KEY (key, route)
		)`,
		`CREATE TABLE IF NOT EXISTS drivers (
			id                    TEXT PRIMARY KEY,
			status                TEXT NOT NULL DEFAULT 'OFFLINE',
			lat                   ` + float + `,
			lng                   ` + float + `,
			zone_id               TEXT NOT NULL DEFAULT '',
			insurance_verified    BOOLEAN NOT NULL DEFAULT FALSE,
			registration_verified BOOLEAN NOT NULL DEFAULT FALSE,
			vehicle_verified      BOOLEAN NOT NULL DEFAULT FALSE,
			background_clear      BOOLEAN NOT NULL DEFAULT FALSE,
			metrics_json          TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS offer_logs (
			id                  TEXT PRIMARY KEY,
			task_id             TEXT NOT NULL,
			order_id            TEXT NOT NULL,
			driver_id           TEXT NOT NULL,
			created_at          TIMESTAMP NOT NULL,
			features_json       TEXT NOT NULL DEFAULT '{}',
			outcome             TEXT,
			outcome_ms          BIGINT,
			response_latency_ms BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offer_logs_task
			ON offer_logs (task_id, created_at)`,
	}
}
