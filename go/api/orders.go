package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dossier"
	"github.com/proofcart/proofcart/go/ordersvc"
)

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req ordersvc.CreateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var order *db.Order
	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		order, err = s.Orders.CreateOrder(r.Context(), tx, req)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": order.ID,
		"status":   string(order.Status),
	})
}

type verifyAgeRequest struct {
	SessionRef string `json:"session_ref"`
}

func (s *Server) verifyAge(w http.ResponseWriter, r *http.Request) {
	var orderID = chi.URLParam(r, "orderID")
	var req verifyAgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	s.idempotent(w, r, "POST:/orders/{order_id}/verify_age", req, func(tx *db.Tx) (ordersvc.Result, error) {
		return s.Orders.VerifyAge(r.Context(), tx, orderID, req.SessionRef)
	})
}

type authorizePaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
}

func (s *Server) authorizePayment(w http.ResponseWriter, r *http.Request) {
	var orderID = chi.URLParam(r, "orderID")
	var req authorizePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	s.idempotent(w, r, "POST:/orders/{order_id}/payment/authorize", req, func(tx *db.Tx) (ordersvc.Result, error) {
		return s.Orders.AuthorizePayment(r.Context(), tx, orderID, req.PaymentMethod)
	})
}

type doorstepSubmitRequest struct {
	DriverID   string `json:"driver_id"`
	SessionRef string `json:"session_ref"`
}

func (s *Server) doorstepIDCheck(w http.ResponseWriter, r *http.Request) {
	var orderID = chi.URLParam(r, "orderID")
	var req doorstepSubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DriverID == "" {
		req.DriverID = "drv_unknown"
	}

	s.idempotent(w, r, "POST:/orders/{order_id}/doorstep_id_check/submit", req, func(tx *db.Tx) (ordersvc.Result, error) {
		return s.Orders.DoorstepIDCheck(r.Context(), tx, orderID, req.DriverID, req.SessionRef)
	})
}

type deliverConfirmRequest struct {
	DriverID       string             `json:"driver_id"`
	AttestationRef string             `json:"attestation_ref"`
	GPS            map[string]float64 `json:"gps"`
}

func (s *Server) deliverConfirm(w http.ResponseWriter, r *http.Request) {
	var orderID = chi.URLParam(r, "orderID")
	var req deliverConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DriverID == "" {
		req.DriverID = "drv_unknown"
	}

	s.idempotent(w, r, "POST:/orders/{order_id}/deliver/confirm", req, func(tx *db.Tx) (ordersvc.Result, error) {
		return s.Orders.DeliverConfirm(r.Context(), tx, orderID, req.DriverID, req.AttestationRef, req.GPS)
	})
}

type refuseRequest struct {
	DriverID   string             `json:"driver_id"`
	ReasonCode string             `json:"reason_code"`
	Notes      string             `json:"notes"`
	GPS        map[string]float64 `json:"gps"`
}

func (s *Server) refuseOrder(w http.ResponseWriter, r *http.Request) {
	var orderID = chi.URLParam(r, "orderID")
	var req refuseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DriverID == "" {
		req.DriverID = "drv_unknown"
	}

	s.idempotent(w, r, "POST:/orders/{order_id}/refuse", req, func(tx *db.Tx) (ordersvc.Result, error) {
		return s.Orders.Refuse(r.Context(), tx, orderID, req.DriverID, req.ReasonCode, req.Notes, req.GPS)
	})
}

func (s *Server) dispatchOrder(w http.ResponseWriter, r *http.Request) {
	var orderID = chi.URLParam(r, "orderID")

	var task *db.DeliveryTask
	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		task, err = s.Orders.Dispatch(r.Context(), tx, orderID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
}

func (s *Server) getDossier(w http.ResponseWriter, r *http.Request) {
	var orderID = chi.URLParam(r, "orderID")

	var events []db.OrderEvent
	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		events, err = s.Orders.Dossier(r.Context(), tx, orderID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	var verified = dossier.VerifyChain(events) == nil
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":       orderID,
		"events":         events,
		"chain_verified": verified,
	})
}
