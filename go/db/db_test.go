package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proofcart/proofcart/go/core"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	var d, err = Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Init(context.Background()))
	return d
}

func TestOrderRoundTrip(t *testing.T) {
	var d = testDB(t)
	var ctx = context.Background()

	var order = Order{
		ID:                "ord_1",
		CustomerID:        "cus_1",
		StoreID:           "store_1",
		AddressID:         "addr_1",
		Status:            core.OrderCreated,
		DisclosureVersion: "tx-v1.0",
		SubtotalCents:     1999,
		TaxCents:          165,
		FeesCents:         299,
		TipCents:          100,
		TotalCents:        2563,
		Items: []OrderItem{
			{ProductID: "prod_1", Quantity: 1, UnitPriceCents: 1999, LineTotalCents: 1999},
		},
		PaymentStatus: core.PaymentUnpaid,
		CreatedAt:     time.Now().UTC(),
	}

	require.NoError(t, d.Transact(ctx, func(tx *Tx) error {
		return tx.InsertOrder(ctx, &order)
	}))

	require.NoError(t, d.Transact(ctx, func(tx *Tx) error {
		loaded, err := tx.GetOrder(ctx, "ord_1")
		require.NoError(t, err)
		require.Equal(t, order.ID, loaded.ID)
		require.Equal(t, core.OrderCreated, loaded.Status)
		require.Equal(t, int64(2563), loaded.TotalCents)
		require.Len(t, loaded.Items, 1)
		require.Equal(t, "prod_1", loaded.Items[0].ProductID)

		require.NoError(t, tx.UpdateOrderStatus(ctx, "ord_1", core.OrderVerifyingAge))
		loaded, err = tx.GetOrder(ctx, "ord_1")
		require.NoError(t, err)
		require.Equal(t, core.OrderVerifyingAge, loaded.Status)
		return nil
	}))

	require.NoError(t, d.Transact(ctx, func(tx *Tx) error {
		var _, err = tx.GetOrder(ctx, "ord_missing")
		require.ErrorIs(t, err, core.ErrNotFound)
		return nil
	}))
}

func TestTaskActiveInvariantQueries(t *testing.T) {
	var d = testDB(t)
	var ctx = context.Background()

	require.NoError(t, d.Transact(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertOrder(ctx, &Order{
			ID: "ord_1", Status: core.OrderDispatching, CreatedAt: time.Now().UTC(),
		}))

		active, err := tx.ActiveTaskForOrder(ctx, "ord_1")
		require.NoError(t, err)
		require.Nil(t, active)

		var driver = "drv_1"
		var expires = time.Now().UTC().Add(30 * time.Second)
		require.NoError(t, tx.InsertTask(ctx, &DeliveryTask{
			ID:                "task_1",
			OrderID:           "ord_1",
			Status:            core.TaskOffered,
			OfferedToDriverID: &driver,
			OfferExpiresAt:    &expires,
			Route:             TaskRoute{Type: "DELIVERY"},
			CreatedAt:         time.Now().UTC(),
		}))

		active, err = tx.ActiveTaskForOrder(ctx, "ord_1")
		require.NoError(t, err)
		require.NotNil(t, active)
		require.Equal(t, "task_1", active.ID)
		require.Equal(t, "DELIVERY", active.Route.Type)

		active.Status = core.TaskExpired
		require.NoError(t, tx.UpdateTask(ctx, active))

		active, err = tx.ActiveTaskForOrder(ctx, "ord_1")
		require.NoError(t, err)
		require.Nil(t, active)
		return nil
	}))
}

func TestListExpiredOffers(t *testing.T) {
	var d = testDB(t)
	var ctx = context.Background()
	var now = time.Now().UTC()

	require.NoError(t, d.Transact(ctx, func(tx *Tx) error {
		var driver = "drv_1"
		for _, tc := range []struct {
			id      string
			expires time.Time
		}{
			{"task_past", now.Add(-time.Minute)},
			{"task_future", now.Add(time.Minute)},
		} {
			var expires = tc.expires
			require.NoError(t, tx.InsertOrder(ctx, &Order{
				ID: "ord_" + tc.id, Status: core.OrderDispatching, CreatedAt: now,
			}))
			require.NoError(t, tx.InsertTask(ctx, &DeliveryTask{
				ID:                tc.id,
				OrderID:           "ord_" + tc.id,
				Status:            core.TaskOffered,
				OfferedToDriverID: &driver,
				OfferExpiresAt:    &expires,
				Route:             TaskRoute{Type: "DELIVERY"},
				CreatedAt:         now,
			}))
		}

		expired, err := tx.ListExpiredOffers(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, "task_past", expired[0].ID)
		return nil
	}))
}

func TestDriverUpsert(t *testing.T) {
	var d = testDB(t)
	var ctx = context.Background()
	var lat, lng = 32.78, -96.80

	require.NoError(t, d.Transact(ctx, func(tx *Tx) error {
		require.NoError(t, tx.UpsertDriver(ctx, &Driver{
			ID: "drv_1", Status: core.DriverIdle, Lat: &lat, Lng: &lng,
			InsuranceVerified: true, RegistrationVerified: true,
			Metrics: DriverMetrics{AcceptRate7d: 0.8},
		}))

		// Second upsert replaces fields rather than erroring.
		require.NoError(t, tx.UpsertDriver(ctx, &Driver{
			ID: "drv_1", Status: core.DriverOnTask, Lat: &lat, Lng: &lng,
			Metrics: DriverMetrics{AcceptRate7d: 0.9},
		}))

		loaded, err := tx.GetDriver(ctx, "drv_1")
		require.NoError(t, err)
		require.Equal(t, core.DriverOnTask, loaded.Status)
		require.Equal(t, 0.9, loaded.Metrics.AcceptRate7d)
		require.False(t, loaded.InsuranceVerified)
		return nil
	}))
}

func TestPurgeExpired(t *testing.T) {
	var d = testDB(t)
	var ctx = context.Background()
	var now = time.Now().UTC()

	require.NoError(t, d.Transact(ctx, func(tx *Tx) error {
		var _, err = tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, route, request_hash, status_code, response, created_at)
			VALUES ('k1', 'r1', 'h1', 200, '{}', ?), ('k2', 'r2', 'h2', 200, '{}', ?)`,
			now.Add(-48*time.Hour), now)
		return err
	}))

	purged, err := d.PurgeExpired(ctx, now, 24*time.Hour, 90*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
}

func TestRebind(t *testing.T) {
	var d = &DB{postgres: true}
	require.Equal(t,
		`SELECT a FROM t WHERE x = $1 AND y = $2`,
		d.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`))

	d = &DB{postgres: false}
	require.Equal(t,
		`SELECT a FROM t WHERE x = ?`,
		d.rebind(`SELECT a FROM t WHERE x = ?`))
}
