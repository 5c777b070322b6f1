package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dispatch"
	"github.com/proofcart/proofcart/go/offers"
	"github.com/proofcart/proofcart/go/ordersvc"
	"github.com/proofcart/proofcart/go/payments"
	"github.com/proofcart/proofcart/go/routing"
	"github.com/proofcart/proofcart/go/verification"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	var d, err = db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Init(context.Background()))

	var mgr = offers.NewManager(d, offers.NewMemoryLocker())
	var server = &Server{
		DB:            d,
		Orders:        ordersvc.New(verification.Fake{}, payments.Fake{}, ordersvc.DefaultConfig()),
		Offers:        mgr,
		Dispatcher:    dispatch.NewDispatcher(d, routing.NewHaversine(), mgr, "region-test"),
		InternalToken: "hunter2",
	}

	var ts = httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return ts
}

type request struct {
	method, path string
	body         interface{}
	idemKey      string
	headers      map[string]string
}

func do(t *testing.T, ts *httptest.Server, req request) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(req.body))
	}
	httpReq, err := http.NewRequest(req.method, ts.URL+req.path, &buf)
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.idemKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idemKey)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func seedCatalog(t *testing.T, ts *httptest.Server) {
	t.Helper()

	status, _ := do(t, ts, request{method: "POST", path: "/stores", body: map[string]interface{}{
		"id": "store_1", "name": "Downtown Spirits", "lat": 32.7767, "lng": -96.7970,
	}})
	require.Equal(t, 200, status)

	status, _ = do(t, ts, request{method: "POST", path: "/products", body: map[string]interface{}{
		"id": "prod_1", "store_id": "store_1", "name": "Cabernet",
		"price_cents": 1999, "is_available": true,
	}})
	require.Equal(t, 200, status)

	status, _ = do(t, ts, request{method: "POST", path: "/addresses", body: map[string]interface{}{
		"id": "addr_1", "customer_id": "cus_1", "lat": 32.7900, "lng": -96.8000,
	}})
	require.Equal(t, 200, status)
}

func createOrder(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	status, body := do(t, ts, request{method: "POST", path: "/orders", body: map[string]interface{}{
		"customer_id": "cus_1",
		"store_id":    "store_1",
		"address_id":  "addr_1",
		"items": []map[string]interface{}{
			{"product_id": "prod_1", "quantity": 2},
		},
		"tip_cents":          500,
		"disclosure_version": "tx-v1.0",
	}})
	require.Equal(t, 200, status)
	require.Equal(t, "VERIFYING_AGE", body["status"])
	return body["order_id"].(string)
}

func TestHealthz(t *testing.T) {
	var ts = testServer(t)
	status, body := do(t, ts, request{method: "GET", path: "/healthz"})
	require.Equal(t, 200, status)
	require.Equal(t, "ok", body["status"])
}

func TestOrderFlowOverHTTP(t *testing.T) {
	var ts = testServer(t)
	seedCatalog(t, ts)
	var orderID = createOrder(t, ts)

	status, body := do(t, ts, request{
		method: "POST", path: "/orders/" + orderID + "/verify_age",
		body: map[string]interface{}{"session_ref": "sess-pass"}, idemKey: "va-1",
	})
	require.Equal(t, 200, status)
	require.Equal(t, "PASSED", body["status"])

	status, body = do(t, ts, request{
		method: "POST", path: "/orders/" + orderID + "/payment/authorize",
		body: map[string]interface{}{"payment_method": "pm_card"}, idemKey: "pa-1",
	})
	require.Equal(t, 200, status)
	require.Equal(t, "DISPATCHING", body["order_status"])
	require.NotEmpty(t, body["task_id"])

	status, body = do(t, ts, request{method: "GET", path: "/orders/" + orderID + "/dossier"})
	require.Equal(t, 200, status)
	require.Equal(t, true, body["chain_verified"])
	require.NotEmpty(t, body["events"])
}

func TestVerifyAgeRequiresIdempotencyKey(t *testing.T) {
	var ts = testServer(t)
	seedCatalog(t, ts)
	var orderID = createOrder(t, ts)

	status, body := do(t, ts, request{
		method: "POST", path: "/orders/" + orderID + "/verify_age",
		body: map[string]interface{}{"session_ref": "sess-pass"},
	})
	require.Equal(t, 400, status)
	require.Contains(t, body["detail"], "IDEMPOTENCY_KEY_REQUIRED")
}

func TestVerifyAgeReplayAndConflict(t *testing.T) {
	var ts = testServer(t)
	seedCatalog(t, ts)
	var orderID = createOrder(t, ts)

	var req = request{
		method: "POST", path: "/orders/" + orderID + "/verify_age",
		body: map[string]interface{}{"session_ref": "sess-pass"}, idemKey: "va-1",
	}
	status, first := do(t, ts, req)
	require.Equal(t, 200, status)

	// Same key, same body: the stored response replays, the check does
	// not rerun even though the order has moved on.
	status, second := do(t, ts, req)
	require.Equal(t, 200, status)
	require.Equal(t, first, second)

	// Same key, different body: conflict.
	req.body = map[string]interface{}{"session_ref": "sess-other"}
	status, body := do(t, ts, req)
	require.Equal(t, 409, status)
	require.Contains(t, body["detail"], "IDEMPOTENCY_CONFLICT")
}

func TestUnderageReplays403(t *testing.T) {
	var ts = testServer(t)
	seedCatalog(t, ts)
	var orderID = createOrder(t, ts)

	var req = request{
		method: "POST", path: "/orders/" + orderID + "/verify_age",
		body: map[string]interface{}{"session_ref": "sess-underage"}, idemKey: "va-fail",
	}
	for i := 0; i < 2; i++ {
		status, body := do(t, ts, req)
		require.Equal(t, 403, status)
		require.Equal(t, "FAILED", body["status"])
		require.Equal(t, "UNDERAGE", body["reason_code"])
	}

	// A fresh key retries the check for real.
	req.body = map[string]interface{}{"session_ref": "sess-pass"}
	req.idemKey = "va-retry"
	status, body := do(t, ts, req)
	require.Equal(t, 200, status)
	require.Equal(t, "PASSED", body["status"])
}

func TestTaskOfferAcceptOverHTTP(t *testing.T) {
	var ts = testServer(t)
	seedCatalog(t, ts)
	var orderID = createOrder(t, ts)

	status, _ := do(t, ts, request{
		method: "POST", path: "/orders/" + orderID + "/verify_age",
		body: map[string]interface{}{"session_ref": "sess-pass"}, idemKey: "va-1",
	})
	require.Equal(t, 200, status)
	status, body := do(t, ts, request{
		method: "POST", path: "/orders/" + orderID + "/payment/authorize",
		body: map[string]interface{}{"payment_method": "pm_card"}, idemKey: "pa-1",
	})
	require.Equal(t, 200, status)
	var taskID = body["task_id"].(string)

	status, _ = do(t, ts, request{method: "PUT", path: "/drivers/drv_1", body: map[string]interface{}{
		"lat": 32.7800, "lng": -96.7990,
		"insurance_verified": true, "registration_verified": true,
	}})
	require.Equal(t, 200, status)

	status, body = do(t, ts, request{method: "POST", path: "/tasks/" + taskID + "/offer?driver_id=drv_1"})
	require.Equal(t, 200, status)
	require.Equal(t, "OFFERED", body["status"])

	// Only the offered driver may accept.
	status, _ = do(t, ts, request{
		method: "POST", path: "/tasks/" + taskID + "/accept?driver_id=drv_2", idemKey: "acc-2",
	})
	require.Equal(t, 403, status)

	status, body = do(t, ts, request{
		method: "POST", path: "/tasks/" + taskID + "/accept?driver_id=drv_1", idemKey: "acc-1",
	})
	require.Equal(t, 200, status)
	require.Equal(t, "ACCEPTED", body["status"])
}

func TestRefuseIsIdempotentOverHTTP(t *testing.T) {
	var ts = testServer(t)
	seedCatalog(t, ts)
	var orderID = createOrder(t, ts)

	status, _ := do(t, ts, request{
		method: "POST", path: "/orders/" + orderID + "/verify_age",
		body: map[string]interface{}{"session_ref": "sess-pass"}, idemKey: "va-1",
	})
	require.Equal(t, 200, status)
	status, _ = do(t, ts, request{
		method: "POST", path: "/orders/" + orderID + "/payment/authorize",
		body: map[string]interface{}{"payment_method": "pm_card"}, idemKey: "pa-1",
	})
	require.Equal(t, 200, status)

	var req = request{
		method: "POST", path: "/orders/" + orderID + "/refuse",
		body: map[string]interface{}{"driver_id": "drv_1", "reason_code": "CUSTOMER_UNAVAILABLE"},
	}
	status, body := do(t, ts, req)
	require.Equal(t, 400, status)
	require.Contains(t, body["detail"], "IDEMPOTENCY_KEY_REQUIRED")

	req.idemKey = "rf-1"
	status, first := do(t, ts, req)
	require.Equal(t, 200, status)
	require.NotEmpty(t, first["return_task_id"])

	// Same key replays the stored response; a retry under a fresh key
	// still lands on the same open return task.
	status, second := do(t, ts, req)
	require.Equal(t, 200, status)
	require.Equal(t, first, second)

	req.idemKey = "rf-2"
	status, third := do(t, ts, req)
	require.Equal(t, 200, status)
	require.Equal(t, first["return_task_id"], third["return_task_id"])
}

func TestInternalEndpointsRequireToken(t *testing.T) {
	var ts = testServer(t)

	status, _ := do(t, ts, request{method: "POST", path: "/internal/dispatch/tick"})
	require.Equal(t, 403, status)

	status, _ = do(t, ts, request{
		method: "POST", path: "/internal/dispatch/tick",
		headers: map[string]string{"X-Internal-Token": "hunter2"},
	})
	require.Equal(t, 200, status)

	status, body := do(t, ts, request{
		method: "POST", path: "/internal/dispatch/expire_offers",
		headers: map[string]string{"X-Internal-Token": "hunter2"},
	})
	require.Equal(t, 200, status)
	require.Contains(t, body, "expired_tasks")
}

func TestUnknownOrderIs404(t *testing.T) {
	var ts = testServer(t)
	status, _ := do(t, ts, request{method: "GET", path: "/orders/ord_missing/dossier"})
	require.Equal(t, 404, status)
}
