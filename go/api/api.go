// Package api exposes the REST surface: order lifecycle, task offer
// endpoints, internal dispatch triggers, and minimal admin seeding.
// Handlers translate HTTP to service calls; every mutating operation
// runs in a single transaction.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dispatch"
	"github.com/proofcart/proofcart/go/idempotency"
	"github.com/proofcart/proofcart/go/offers"
	"github.com/proofcart/proofcart/go/ordersvc"
)

// Server wires the services behind the HTTP surface.
type Server struct {
	DB         *db.DB
	Orders     *ordersvc.Service
	Offers     *offers.Manager
	Dispatcher *dispatch.Dispatcher

	// InternalToken guards /internal/* when non-empty.
	InternalToken string
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	var r = chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/orders", s.createOrder)
	r.Post("/orders/{orderID}/verify_age", s.verifyAge)
	r.Post("/orders/{orderID}/payment/authorize", s.authorizePayment)
	r.Post("/orders/{orderID}/doorstep_id_check/submit", s.doorstepIDCheck)
	r.Post("/orders/{orderID}/deliver/confirm", s.deliverConfirm)
	r.Post("/orders/{orderID}/refuse", s.refuseOrder)
	r.Post("/orders/{orderID}/dispatch", s.dispatchOrder)
	r.Get("/orders/{orderID}/dossier", s.getDossier)

	r.Post("/tasks/{taskID}/offer", s.offerTask)
	r.Post("/tasks/{taskID}/accept", s.acceptTask)
	r.Post("/tasks/{taskID}/reject", s.rejectTask)
	r.Post("/tasks/{taskID}/start", s.startTask)
	r.Post("/tasks/{taskID}/complete", s.completeTask)
	r.Post("/tasks/{taskID}/return/complete", s.completeReturn)

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireInternalToken)
		r.Post("/dispatch/tick", s.dispatchTick)
		r.Post("/dispatch/batch_tick", s.dispatchBatchTick)
		r.Post("/dispatch/expire_offers", s.expireOffers)
	})

	r.Post("/stores", s.createStore)
	r.Post("/products", s.createProduct)
	r.Post("/addresses", s.createAddress)
	r.Put("/drivers/{driverID}", s.upsertDriver)

	return r
}

// requireInternalToken rejects internal calls without the shared token.
func (s *Server) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.InternalToken != "" && r.Header.Get("X-Internal-Token") != s.InternalToken {
			writeError(w, core.Forbiddenf("invalid internal token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField("err", err).Error("failed to encode response")
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, idempotency.ErrKeyRequired),
		errors.Is(err, core.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, idempotency.ErrConflict),
		errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, core.ErrVendorUnavailable):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
		log.WithField("err", err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func decodeBody(r *http.Request, into interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return core.InvalidArgumentf("malformed request body: %s", err)
	}
	return nil
}

// idempotent wraps compute in a transaction together with the
// idempotency record lookup for the given route.
func (s *Server) idempotent(w http.ResponseWriter, r *http.Request, route string, body interface{}, compute func(tx *db.Tx) (ordersvc.Result, error)) {
	var key = r.Header.Get("Idempotency-Key")

	var status int
	var response json.RawMessage
	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var replayed bool
		var err error
		status, response, replayed, err = idempotency.GetOrSet(r.Context(), tx, key, route, body,
			func() (int, interface{}, error) {
				res, err := compute(tx)
				if err != nil {
					return 0, nil, err
				}
				return res.Status, res.Response, nil
			})
		if replayed {
			replaysTotal.WithLabelValues(route).Inc()
		}
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}
