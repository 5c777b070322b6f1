package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/proofcart/proofcart/go/core"
)

const driverColumns = `id, status, lat, lng, zone_id, insurance_verified,
	registration_verified, vehicle_verified, background_clear, metrics_json`

func scanDriver(row rowScanner) (*Driver, error) {
	var d Driver
	var status, metrics string
	var err = row.Scan(&d.ID, &status, &d.Lat, &d.Lng, &d.ZoneID,
		&d.InsuranceVerified, &d.RegistrationVerified, &d.VehicleVerified,
		&d.BackgroundClear, &metrics)
	if err != nil {
		return nil, err
	}
	d.Status = core.DriverStatus(status)
	if err = json.Unmarshal([]byte(metrics), &d.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshaling metrics of driver %s: %w", d.ID, err)
	}
	return &d, nil
}

// UpsertDriver inserts or replaces a driver row.
func (t *Tx) UpsertDriver(ctx context.Context, d *Driver) error {
	metrics, err := json.Marshal(d.Metrics)
	if err != nil {
		return fmt.Errorf("marshaling driver metrics: %w", err)
	}
	_, err = t.Exec(ctx, `
		INSERT INTO drivers (`+driverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, lat = excluded.lat, lng = excluded.lng,
			zone_id = excluded.zone_id,
			insurance_verified = excluded.insurance_verified,
			registration_verified = excluded.registration_verified,
			vehicle_verified = excluded.vehicle_verified,
			background_clear = excluded.background_clear,
			metrics_json = excluded.metrics_json`,
		d.ID, string(d.Status), d.Lat, d.Lng, d.ZoneID, d.InsuranceVerified,
		d.RegistrationVerified, d.VehicleVerified, d.BackgroundClear, string(metrics))
	if err != nil {
		return fmt.Errorf("upserting driver %s: %w", d.ID, err)
	}
	return nil
}

// GetDriver loads a driver, or core.ErrNotFound.
func (t *Tx) GetDriver(ctx context.Context, id string) (*Driver, error) {
	var d, err = scanDriver(t.QueryRow(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundf("driver %s", id)
	} else if err != nil {
		return nil, fmt.Errorf("loading driver %s: %w", id, err)
	}
	return d, nil
}

// UpdateDriverStatus persists a driver availability change.
func (t *Tx) UpdateDriverStatus(ctx context.Context, id string, status core.DriverStatus) error {
	if _, err := t.Exec(ctx, `UPDATE drivers SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("updating status of driver %s: %w", id, err)
	}
	return nil
}

// ListDrivers returns every driver row.
func (t *Tx) ListDrivers(ctx context.Context) ([]*Driver, error) {
	rows, err := t.Query(ctx, `SELECT `+driverColumns+` FROM drivers`)
	if err != nil {
		return nil, fmt.Errorf("listing drivers: %w", err)
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning driver: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
