package ordersvc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dossier"
	"github.com/proofcart/proofcart/go/payments"
	"github.com/proofcart/proofcart/go/verification"
)

func testService(t *testing.T) (*Service, *db.DB) {
	t.Helper()

	var d, err = db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	var ctx = context.Background()
	require.NoError(t, d.Init(ctx))

	var lat, lng = 32.7767, -96.7970
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		require.NoError(t, tx.InsertStore(ctx, &db.Store{
			ID: "store_1", Name: "Downtown Spirits", Lat: &lat, Lng: &lng,
		}))
		require.NoError(t, tx.InsertProduct(ctx, &db.Product{
			ID: "prod_1", StoreID: "store_1", Name: "Cabernet", PriceCents: 1999, IsAvailable: true,
		}))
		require.NoError(t, tx.InsertProduct(ctx, &db.Product{
			ID: "prod_2", StoreID: "store_1", Name: "IPA 6-pack", PriceCents: 1299, IsAvailable: true,
		}))
		return tx.InsertAddress(ctx, &db.CustomerAddress{
			ID: "addr_1", CustomerID: "cus_1", Lat: &lat, Lng: &lng,
		})
	}))

	return New(verification.Fake{}, payments.Fake{}, DefaultConfig()), d
}

func checkoutRequest() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerID:        "cus_1",
		StoreID:           "store_1",
		AddressID:         "addr_1",
		Items:             []ItemRequest{{ProductID: "prod_1", Quantity: 2}},
		TipCents:          500,
		DisclosureVersion: "tx-v1.0",
	}
}

// createPaidOrder drives checkout through age verification and payment
// authorization, returning the order id ready for delivery flow tests.
func createPaidOrder(t *testing.T, svc *Service, d *db.DB) string {
	t.Helper()
	var ctx = context.Background()
	var orderID string

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := svc.CreateOrder(ctx, tx, checkoutRequest())
		require.NoError(t, err)
		orderID = order.ID
		return nil
	}))
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.VerifyAge(ctx, tx, orderID, "sess-pass")
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		return nil
	}))
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.AuthorizePayment(ctx, tx, orderID, "pm_card")
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		return nil
	}))
	return orderID
}

// forceStatus walks the order to the target through the allowed table,
// the way the courier task flow would.
func forceStatus(t *testing.T, d *db.DB, orderID string, path ...core.OrderStatus) {
	t.Helper()
	var ctx = context.Background()

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		for _, status := range path {
			require.NoError(t, tx.UpdateOrderStatus(ctx, orderID, status))
		}
		return nil
	}))
}

func eventTypes(t *testing.T, d *db.DB, orderID string) []string {
	t.Helper()
	var ctx = context.Background()
	var types []string

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		events, err := dossier.List(ctx, tx, orderID)
		require.NoError(t, err)
		require.NoError(t, dossier.VerifyChain(events))
		for _, e := range events {
			types = append(types, e.EventType)
		}
		return nil
	}))
	return types
}

func TestCreateOrderPricing(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := svc.CreateOrder(ctx, tx, CreateOrderRequest{
			CustomerID: "cus_1",
			StoreID:    "store_1",
			AddressID:  "addr_1",
			Items: []ItemRequest{
				{ProductID: "prod_1", Quantity: 2},
				{ProductID: "prod_2", Quantity: 1},
			},
			TipCents:          500,
			DisclosureVersion: "tx-v1.0",
		})
		require.NoError(t, err)

		// 2x1999 + 1299 = 5297 subtotal; 8.25% tax rounds to 437.
		require.Equal(t, int64(5297), order.SubtotalCents)
		require.Equal(t, int64(437), order.TaxCents)
		require.Equal(t, int64(299), order.FeesCents)
		require.Equal(t, int64(500), order.TipCents)
		require.Equal(t, int64(6533), order.TotalCents)
		require.Equal(t, core.OrderVerifyingAge, order.Status)
		require.Len(t, order.Items, 2)
		return nil
	}))
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()

	for _, tc := range []struct {
		name  string
		items []ItemRequest
	}{
		{"no items", nil},
		{"zero quantity", []ItemRequest{{ProductID: "prod_1", Quantity: 0}}},
		{"unknown product", []ItemRequest{{ProductID: "prod_missing", Quantity: 1}}},
	} {
		var err = d.Transact(ctx, func(tx *db.Tx) error {
			var req = checkoutRequest()
			req.Items = tc.items
			var _, err = svc.CreateOrder(ctx, tx, req)
			return err
		})
		require.ErrorIs(t, err, core.ErrInvalidArgument, tc.name)
	}
}

func TestHappyPathToDelivered(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.OrderDispatching, order.Status)
		require.Equal(t, core.PaymentAuthorized, order.PaymentStatus)

		task, err := tx.ActiveTaskForOrder(ctx, orderID)
		require.NoError(t, err)
		require.Nil(t, task) // task is UNASSIGNED, not yet offered
		return nil
	}))

	// Courier flow brings the order to the doorstep.
	forceStatus(t, d, orderID, core.OrderPickup, core.OrderEnRoute, core.OrderDoorstepVerify)

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.DoorstepIDCheck(ctx, tx, orderID, "drv_1", "sess-pass")
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		require.Equal(t, "PASSED", res.Response["status"])
		return nil
	}))
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.DeliverConfirm(ctx, tx, orderID, "drv_1", "att-1",
			map[string]float64{"lat": 32.77, "lng": -96.79})
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		require.Equal(t, "DELIVERED", res.Response["order_status"])
		return nil
	}))

	var types = eventTypes(t, d, orderID)
	require.Equal(t, core.EventDisclosureAcknowledged, types[0])
	require.Contains(t, types, core.EventAgeVerifyPassed)
	require.Contains(t, types, core.EventPaymentAuthorized)
	require.Contains(t, types, core.EventTaskCreated)
	require.Contains(t, types, core.EventDoorstepCheckPassed)
	require.Equal(t, core.EventOrderStatusUpdated, types[len(types)-1])
	require.Contains(t, types, core.EventDelivered)
}

func TestVerifyAgeUnderageThenRetry(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID string

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := svc.CreateOrder(ctx, tx, checkoutRequest())
		require.NoError(t, err)
		orderID = order.ID
		return nil
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.VerifyAge(ctx, tx, orderID, "sess-underage")
		require.NoError(t, err)
		require.Equal(t, 403, res.Status)
		require.Equal(t, "FAILED", res.Response["status"])
		require.Equal(t, verification.ReasonUnderage, res.Response["reason_code"])
		return nil
	}))

	// The order holds in VERIFYING_AGE; a fresh attempt can still pass.
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.OrderVerifyingAge, order.Status)

		res, err := svc.VerifyAge(ctx, tx, orderID, "sess-pass")
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		return nil
	}))

	var types = eventTypes(t, d, orderID)
	require.Contains(t, types, core.EventAgeVerifyFailed)
	require.Contains(t, types, core.EventAgeVerifyPassed)
}

func TestVerifyAgeWrongState(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)

	var err = d.Transact(ctx, func(tx *db.Tx) error {
		var _, err = svc.VerifyAge(ctx, tx, orderID, "sess-pass")
		return err
	})
	require.ErrorIs(t, err, core.ErrConflict)
}

func TestAuthorizePaymentFloorsTotal(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID string

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		var req = checkoutRequest()
		req.Items = []ItemRequest{{ProductID: "prod_2", Quantity: 1}}
		req.TipCents = 0
		order, err := svc.CreateOrder(ctx, tx, req)
		require.NoError(t, err)
		require.Less(t, order.TotalCents, svc.Cfg.MinAuthTotalCents)
		orderID = order.ID
		return nil
	}))
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		var _, err = svc.VerifyAge(ctx, tx, orderID, "sess-pass")
		return err
	}))
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		var _, err = svc.AuthorizePayment(ctx, tx, orderID, "pm_card")
		return err
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, svc.Cfg.MinAuthTotalCents, order.TotalCents)

		events, err := dossier.List(ctx, tx, orderID)
		require.NoError(t, err)
		for _, e := range events {
			if e.EventType != core.EventPaymentAuthorized {
				continue
			}
			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal(e.Payload, &payload))
			require.Equal(t, float64(svc.Cfg.MinAuthTotalCents), payload["amount_cents"])
		}
		return nil
	}))
}

func TestProductionHoldStopsAtPendingMerchant(t *testing.T) {
	var svc, d = testService(t)
	svc.Cfg.ProductionHold = true
	var ctx = context.Background()
	var orderID string

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := svc.CreateOrder(ctx, tx, checkoutRequest())
		require.NoError(t, err)
		orderID = order.ID
		return nil
	}))
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		var _, err = svc.VerifyAge(ctx, tx, orderID, "sess-pass")
		return err
	}))
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.AuthorizePayment(ctx, tx, orderID, "pm_card")
		require.NoError(t, err)
		require.Equal(t, "PENDING_MERCHANT", res.Response["order_status"])
		require.NotContains(t, res.Response, "task_id")
		return nil
	}))
}

func TestDoorstepFailureRefusesAndOpensReturn(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)
	forceStatus(t, d, orderID, core.OrderPickup, core.OrderEnRoute, core.OrderDoorstepVerify)

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.DoorstepIDCheck(ctx, tx, orderID, "drv_1", "sess-noid")
		require.NoError(t, err)
		require.Equal(t, 403, res.Status)
		require.Equal(t, verification.ReasonNoID, res.Response["reason_code"])
		return nil
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.OrderRefusedReturning, order.Status)

		tasks, err := tx.ListTasksForOrder(ctx, orderID)
		require.NoError(t, err)

		var returns int
		for _, task := range tasks {
			if task.Route.Type == "RETURN" {
				returns++
				require.Equal(t, "store_1", task.Route.ToStoreID)
				require.Equal(t, core.TaskUnassigned, task.Status)
			}
		}
		require.Equal(t, 1, returns)
		return nil
	}))

	var types = eventTypes(t, d, orderID)
	require.Contains(t, types, core.EventDoorstepCheckFailed)
	require.Contains(t, types, core.EventRefused)
	require.Contains(t, types, core.EventReturnInitiated)
}

func TestDoorstepCheckAdvancesFromMerchantAccepted(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)

	// The courier app reports the doorstep scan before any task status
	// sync: the order is still several states behind.
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		return tx.UpdateOrderStatus(ctx, orderID, core.OrderMerchantAccepted)
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.DoorstepIDCheck(ctx, tx, orderID, "drv_1", "sess-pass")
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		return nil
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.OrderDoorstepVerify, order.Status)
		return nil
	}))

	// Every intermediate hop was recorded, none skipped.
	var updates []string
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		events, err := dossier.List(ctx, tx, orderID)
		require.NoError(t, err)
		require.NoError(t, dossier.VerifyChain(events))
		for _, e := range events {
			if e.EventType != core.EventOrderStatusUpdated {
				continue
			}
			var payload map[string]string
			require.NoError(t, json.Unmarshal(e.Payload, &payload))
			updates = append(updates, payload["to"])
		}
		return nil
	}))
	require.Subset(t, updates, []string{"DISPATCHING", "PICKUP", "EN_ROUTE", "DOORSTEP_VERIFY"})
}

func TestDeliverConfirmRequiresDoorstepPass(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)
	forceStatus(t, d, orderID, core.OrderPickup, core.OrderEnRoute, core.OrderDoorstepVerify)

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.DeliverConfirm(ctx, tx, orderID, "drv_1", "att-1", nil)
		require.NoError(t, err)
		require.Equal(t, 403, res.Status)
		require.Equal(t, "MISSING_DOORSTEP_PASS", res.Response["reason_code"])
		return nil
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.OrderDoorstepVerify, order.Status)
		return nil
	}))
}

func TestRefuseFromEnRoute(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)
	forceStatus(t, d, orderID, core.OrderPickup, core.OrderEnRoute)

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.Refuse(ctx, tx, orderID, "drv_1", "CUSTOMER_UNAVAILABLE", "no answer", nil)
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		require.Equal(t, "REFUSED_RETURNING", res.Response["order_status"])
		require.NotEmpty(t, res.Response["return_task_id"])
		return nil
	}))

	var types = eventTypes(t, d, orderID)
	require.Contains(t, types, core.EventRefused)
	require.Contains(t, types, core.EventReturnInitiated)
}

func TestRefuseTerminalOrderConflicts(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)
	forceStatus(t, d, orderID, core.OrderPickup, core.OrderEnRoute, core.OrderDoorstepVerify, core.OrderDelivered)

	var err = d.Transact(ctx, func(tx *db.Tx) error {
		var _, err = svc.Refuse(ctx, tx, orderID, "drv_1", "LATE", "", nil)
		return err
	})
	require.ErrorIs(t, err, core.ErrConflict)
}

func TestRefuseTwiceReusesReturnTask(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)

	var firstTaskID string
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.Refuse(ctx, tx, orderID, "drv_1", "CUSTOMER_UNAVAILABLE", "no answer", nil)
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		firstTaskID = res.Response["return_task_id"].(string)
		return nil
	}))

	// A second refusal lands on the open return task instead of opening
	// another one.
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.Refuse(ctx, tx, orderID, "drv_1", "CUSTOMER_UNAVAILABLE", "retry", nil)
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		require.Equal(t, firstTaskID, res.Response["return_task_id"])
		return nil
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		tasks, err := tx.ListTasksForOrder(ctx, orderID)
		require.NoError(t, err)
		var returns int
		for _, task := range tasks {
			if task.Route.Type == "RETURN" {
				returns++
			}
		}
		require.Equal(t, 1, returns)
		return nil
	}))

	var refused int
	for _, et := range eventTypes(t, d, orderID) {
		if et == core.EventRefused {
			refused++
		}
	}
	require.Equal(t, 1, refused)
}

func TestManualDispatch(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		task, err := svc.Dispatch(ctx, tx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.TaskUnassigned, task.Status)
		require.Equal(t, "DELIVERY", task.Route.Type)
		return nil
	}))
}

// downVerifier simulates an unreachable verification vendor.
type downVerifier struct{}

func (downVerifier) VerifyCheckout(context.Context, string, int) (verification.Result, error) {
	return verification.Result{}, core.VendorUnavailablef("connection refused")
}

func (downVerifier) VerifyDoorstep(context.Context, string, int) (verification.Result, error) {
	return verification.Result{}, core.VendorUnavailablef("connection refused")
}

func TestVerifyAgeVendorOutageIs502(t *testing.T) {
	var svc, d = testService(t)
	svc.Verifier = downVerifier{}
	var ctx = context.Background()
	var orderID string

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := svc.CreateOrder(ctx, tx, checkoutRequest())
		require.NoError(t, err)
		orderID = order.ID
		return nil
	}))

	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.VerifyAge(ctx, tx, orderID, "sess-pass")
		require.NoError(t, err)
		require.Equal(t, 502, res.Status)
		require.Equal(t, "FAILED", res.Response["status"])
		require.Equal(t, verification.ReasonVendorError, res.Response["reason_code"])
		return nil
	}))

	// The outage is recorded and the order holds in VERIFYING_AGE; once
	// the vendor is back a fresh attempt passes.
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.OrderVerifyingAge, order.Status)
		return nil
	}))
	require.Contains(t, eventTypes(t, d, orderID), core.EventAgeVerifyFailed)

	svc.Verifier = verification.Fake{}
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.VerifyAge(ctx, tx, orderID, "sess-pass")
		require.NoError(t, err)
		require.Equal(t, 200, res.Status)
		return nil
	}))
}

func TestDoorstepVendorOutageDoesNotRefuse(t *testing.T) {
	var svc, d = testService(t)
	var ctx = context.Background()
	var orderID = createPaidOrder(t, svc, d)
	forceStatus(t, d, orderID, core.OrderPickup, core.OrderEnRoute, core.OrderDoorstepVerify)

	svc.Verifier = downVerifier{}
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		res, err := svc.DoorstepIDCheck(ctx, tx, orderID, "drv_1", "sess-pass")
		require.NoError(t, err)
		require.Equal(t, 502, res.Status)
		require.Equal(t, verification.ReasonVendorError, res.Response["reason_code"])
		return nil
	}))

	// No verdict was reached: the order waits at the doorstep and no
	// return task opens.
	require.NoError(t, d.Transact(ctx, func(tx *db.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, core.OrderDoorstepVerify, order.Status)

		tasks, err := tx.ListTasksForOrder(ctx, orderID)
		require.NoError(t, err)
		for _, task := range tasks {
			require.NotEqual(t, "RETURN", task.Route.Type)
		}
		return nil
	}))

	var types = eventTypes(t, d, orderID)
	require.Contains(t, types, core.EventDoorstepCheckFailed)
	require.NotContains(t, types, core.EventRefused)
}
