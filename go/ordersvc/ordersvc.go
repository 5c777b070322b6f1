// Package ordersvc is the order lifecycle engine. Each operation runs
// inside a caller-supplied transaction and combines the state machine,
// the dossier, and the vendor adapters; the API layer wraps the
// idempotent operations in the idempotency store.
package ordersvc

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dossier"
	"github.com/proofcart/proofcart/go/payments"
	"github.com/proofcart/proofcart/go/verification"
)

const (
	omsActorID      = "oms"
	paymentsActorID = "payments"
)

// Config carries the pricing and policy knobs of the lifecycle engine.
type Config struct {
	// TaxRateBP is the sales tax rate in basis points.
	TaxRateBP int
	// FlatFeeCents is the fixed service fee added to every order.
	FlatFeeCents int64
	// MinAuthTotalCents floors the authorized amount.
	MinAuthTotalCents int64
	// AgeThreshold is the minimum age enforced at both checks.
	AgeThreshold int
	// IDVVendor names the verification vendor in event payloads.
	IDVVendor string
	// ProductionHold halts paid orders at PENDING_MERCHANT for a real
	// merchant accept. When false, merchant accept and dispatch entry
	// are folded into the payment authorization.
	ProductionHold bool
}

// DefaultConfig returns the demo-profile defaults.
func DefaultConfig() Config {
	return Config{
		TaxRateBP:         825,
		FlatFeeCents:      299,
		MinAuthTotalCents: 2500,
		AgeThreshold:      21,
		IDVVendor:         "fake",
	}
}

// Service exposes the order lifecycle operations.
type Service struct {
	Verifier verification.Verifier
	Payments payments.Processor
	Cfg      Config
}

func New(verifier verification.Verifier, processor payments.Processor, cfg Config) *Service {
	return &Service{Verifier: verifier, Payments: processor, Cfg: cfg}
}

// Result is the outcome of one idempotent operation: the HTTP status
// to record and the response body.
type Result struct {
	Status   int
	Response map[string]interface{}
}

// CreateOrderRequest is the checkout input.
type CreateOrderRequest struct {
	CustomerID        string        `json:"customer_id"`
	StoreID           string        `json:"store_id"`
	AddressID         string        `json:"address_id"`
	Items             []ItemRequest `json:"items"`
	TipCents          int64         `json:"tip_cents"`
	DisclosureVersion string        `json:"disclosure_version"`
}

// ItemRequest is one requested order line.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrder prices the items from the catalog, persists the order,
// acknowledges the disclosure, and moves it into age verification.
func (s *Service) CreateOrder(ctx context.Context, tx *db.Tx, req CreateOrderRequest) (*db.Order, error) {
	if len(req.Items) == 0 {
		return nil, core.InvalidArgumentf("order has no items")
	}

	var items []db.OrderItem
	var subtotal int64
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, core.InvalidArgumentf("item %s has quantity %d", item.ProductID, item.Quantity)
		}
		product, err := tx.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, core.InvalidArgumentf("PRODUCT_NOT_FOUND %s", item.ProductID)
		}
		var line = product.PriceCents * int64(item.Quantity)
		subtotal += line
		items = append(items, db.OrderItem{
			ProductID:      product.ID,
			Quantity:       item.Quantity,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: line,
		})
	}

	var tax = int64(math.Round(float64(subtotal) * float64(s.Cfg.TaxRateBP) / 10000.0))
	var order = db.Order{
		ID:                "ord_" + hexID(),
		CustomerID:        req.CustomerID,
		StoreID:           req.StoreID,
		AddressID:         req.AddressID,
		Status:            core.OrderCreated,
		DisclosureVersion: req.DisclosureVersion,
		SubtotalCents:     subtotal,
		TaxCents:          tax,
		FeesCents:         s.Cfg.FlatFeeCents,
		TipCents:          req.TipCents,
		TotalCents:        subtotal + tax + s.Cfg.FlatFeeCents + req.TipCents,
		Items:             items,
		PaymentStatus:     core.PaymentUnpaid,
		CreatedAt:         time.Now().UTC(),
	}
	if err := tx.InsertOrder(ctx, &order); err != nil {
		return nil, err
	}

	_, err := dossier.Append(ctx, tx, order.ID, core.ActorCustomer, req.CustomerID,
		core.EventDisclosureAcknowledged, map[string]interface{}{
			"disclosure_version": req.DisclosureVersion,
			"locale":             "en-US",
		})
	if err != nil {
		return nil, err
	}

	if err = s.transition(ctx, tx, &order, core.OrderVerifyingAge, core.ActorSystem, omsActorID); err != nil {
		return nil, err
	}
	return &order, nil
}

// VerifyAge runs the checkout age check. A FAILED vendor verdict is a
// recorded, replayable 403; the order stays in VERIFYING_AGE so the
// customer can retry under a fresh key.
func (s *Service) VerifyAge(ctx context.Context, tx *db.Tx, orderID, sessionRef string) (Result, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.Status != core.OrderVerifyingAge {
		return Result{}, core.Conflictf("order %s not in VERIFYING_AGE (is %s)", orderID, order.Status)
	}

	_, err = dossier.Append(ctx, tx, orderID, core.ActorSystem, omsActorID,
		core.EventAgeVerifyAttempted, map[string]interface{}{
			"method":      "DOCUMENT_SCAN",
			"vendor":      s.Cfg.IDVVendor,
			"session_ref": sessionRef,
		})
	if err != nil {
		return Result{}, err
	}

	res, err := s.Verifier.VerifyCheckout(ctx, sessionRef, s.Cfg.AgeThreshold)
	if errors.Is(err, core.ErrVendorUnavailable) {
		return s.vendorDown(ctx, tx, orderID, core.ActorSystem, omsActorID, core.EventAgeVerifyFailed)
	}
	if err != nil {
		return Result{}, err
	}

	if !res.Passed {
		_, err = dossier.Append(ctx, tx, orderID, core.ActorSystem, omsActorID,
			core.EventAgeVerifyFailed, map[string]interface{}{
				"vendor":      s.Cfg.IDVVendor,
				"proof_ref":   res.ProofRef,
				"reason_code": res.ReasonCode,
			})
		if err != nil {
			return Result{}, err
		}
		return Result{Status: 403, Response: map[string]interface{}{
			"status": "FAILED", "reason_code": res.ReasonCode,
		}}, nil
	}

	_, err = dossier.Append(ctx, tx, orderID, core.ActorSystem, omsActorID,
		core.EventAgeVerifyPassed, map[string]interface{}{
			"vendor":        s.Cfg.IDVVendor,
			"proof_ref":     res.ProofRef,
			"age_threshold": s.Cfg.AgeThreshold,
			"dob_year":      res.DOBYear,
		})
	if err != nil {
		return Result{}, err
	}
	if err = s.transition(ctx, tx, order, core.OrderPaymentAuth, core.ActorSystem, omsActorID); err != nil {
		return Result{}, err
	}
	return Result{Status: 200, Response: map[string]interface{}{
		"status": "PASSED", "order_status": string(order.Status),
	}}, nil
}

// AuthorizePayment holds the order total on the customer's card. Under
// the demo policy the merchant accept and dispatch entry fold into the
// same compute, leaving the order DISPATCHING with an unassigned task.
func (s *Service) AuthorizePayment(ctx context.Context, tx *db.Tx, orderID, paymentMethod string) (Result, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.Status != core.OrderPaymentAuth {
		return Result{}, core.Conflictf("order %s not in PAYMENT_AUTH (is %s)", orderID, order.Status)
	}

	if order.TotalCents < s.Cfg.MinAuthTotalCents {
		order.TotalCents = s.Cfg.MinAuthTotalCents
	}
	auth, err := s.Payments.Authorize(ctx, order.TotalCents, paymentMethod)
	if err != nil {
		return Result{}, err
	}

	order.PaymentStatus = core.PaymentAuthorized
	if err = tx.UpdateOrderPayment(ctx, order.ID, order.TotalCents, order.PaymentStatus); err != nil {
		return Result{}, err
	}
	_, err = dossier.Append(ctx, tx, orderID, core.ActorSystem, paymentsActorID,
		core.EventPaymentAuthorized, map[string]interface{}{
			"processor":         auth.Processor,
			"payment_intent_id": auth.PaymentIntentID,
			"amount_cents":      auth.AmountMinor,
		})
	if err != nil {
		return Result{}, err
	}

	if err = s.transition(ctx, tx, order, core.OrderPendingMerchant, core.ActorSystem, omsActorID); err != nil {
		return Result{}, err
	}

	var response = map[string]interface{}{
		"payment_status": string(order.PaymentStatus),
	}
	if !s.Cfg.ProductionHold {
		if err = s.transition(ctx, tx, order, core.OrderMerchantAccepted, core.ActorMerchant, order.StoreID); err != nil {
			return Result{}, err
		}
		if err = s.transition(ctx, tx, order, core.OrderDispatching, core.ActorSystem, omsActorID); err != nil {
			return Result{}, err
		}

		var task = db.DeliveryTask{
			ID:        "task_" + hexID(),
			OrderID:   order.ID,
			Status:    core.TaskUnassigned,
			Route:     db.TaskRoute{Type: "DELIVERY"},
			CreatedAt: time.Now().UTC(),
		}
		if err = tx.InsertTask(ctx, &task); err != nil {
			return Result{}, err
		}
		_, err = dossier.Append(ctx, tx, order.ID, core.ActorSystem, "dispatch",
			core.EventTaskCreated, map[string]interface{}{"task_id": task.ID})
		if err != nil {
			return Result{}, err
		}
		response["task_id"] = task.ID
	}

	response["order_status"] = string(order.Status)
	return Result{Status: 200, Response: response}, nil
}

// DoorstepIDCheck runs the on-delivery identity check. Failure refuses
// the order and opens a return task in the same transaction.
func (s *Service) DoorstepIDCheck(ctx context.Context, tx *db.Tx, orderID, driverID, sessionRef string) (Result, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	switch order.Status {
	case core.OrderMerchantAccepted, core.OrderDoorstepVerify:
	default:
		return Result{}, core.Conflictf("order %s not eligible for doorstep check (is %s)", orderID, order.Status)
	}

	if order.Status != core.OrderDoorstepVerify {
		if err = s.advance(ctx, tx, order, core.OrderDoorstepVerify); err != nil {
			return Result{}, err
		}
	}

	_, err = dossier.Append(ctx, tx, orderID, core.ActorDriver, driverID,
		core.EventDoorstepCheckStarted, map[string]interface{}{
			"driver_id": driverID,
			"method":    "DOCUMENT_SCAN",
		})
	if err != nil {
		return Result{}, err
	}

	res, err := s.Verifier.VerifyDoorstep(ctx, sessionRef, s.Cfg.AgeThreshold)
	if errors.Is(err, core.ErrVendorUnavailable) {
		return s.vendorDown(ctx, tx, orderID, core.ActorDriver, driverID, core.EventDoorstepCheckFailed)
	}
	if err != nil {
		return Result{}, err
	}

	if res.Passed {
		_, err = dossier.Append(ctx, tx, orderID, core.ActorDriver, driverID,
			core.EventDoorstepCheckPassed, map[string]interface{}{
				"vendor":        s.Cfg.IDVVendor,
				"proof_ref":     res.ProofRef,
				"age_threshold": s.Cfg.AgeThreshold,
				"dob_year":      res.DOBYear,
				"id_type":       res.IDType,
				"id_last4":      res.IDLast4,
			})
		if err != nil {
			return Result{}, err
		}
		return Result{Status: 200, Response: map[string]interface{}{"status": "PASSED"}}, nil
	}

	_, err = dossier.Append(ctx, tx, orderID, core.ActorDriver, driverID,
		core.EventDoorstepCheckFailed, map[string]interface{}{
			"vendor":      s.Cfg.IDVVendor,
			"proof_ref":   res.ProofRef,
			"reason_code": res.ReasonCode,
		})
	if err != nil {
		return Result{}, err
	}

	if _, err = s.refuse(ctx, tx, order, driverID, res.ReasonCode, "", nil); err != nil {
		return Result{}, err
	}
	return Result{Status: 403, Response: map[string]interface{}{
		"status": "FAILED", "reason_code": res.ReasonCode,
	}}, nil
}

// DeliverConfirm closes out a delivery. A prior doorstep pass for the
// order is a hard precondition; its absence is a recorded 403.
func (s *Service) DeliverConfirm(ctx context.Context, tx *db.Tx, orderID, driverID, attestationRef string, gps map[string]float64) (Result, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.Status != core.OrderDoorstepVerify {
		return Result{}, core.Conflictf("order %s not in DOORSTEP_VERIFY (is %s)", orderID, order.Status)
	}

	passed, err := dossier.Exists(ctx, tx, orderID, core.EventDoorstepCheckPassed)
	if err != nil {
		return Result{}, err
	}
	if !passed {
		return Result{Status: 403, Response: map[string]interface{}{
			"status": "FAILED", "reason_code": "MISSING_DOORSTEP_PASS",
		}}, nil
	}

	_, err = dossier.Append(ctx, tx, orderID, core.ActorDriver, driverID,
		core.EventDelivered, map[string]interface{}{
			"driver_id":       driverID,
			"attestation_ref": attestationRef,
			"gps":             gps,
		})
	if err != nil {
		return Result{}, err
	}
	if err = s.transition(ctx, tx, order, core.OrderDelivered, core.ActorSystem, omsActorID); err != nil {
		return Result{}, err
	}
	return Result{Status: 200, Response: map[string]interface{}{
		"order_status": string(order.Status),
	}}, nil
}

// Refuse handles an explicit driver refusal from any live state.
func (s *Service) Refuse(ctx context.Context, tx *db.Tx, orderID, driverID, reasonCode, notes string, gps map[string]float64) (Result, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.Status == core.OrderDelivered || order.Status == core.OrderCanceled {
		return Result{}, core.Conflictf("cannot refuse order %s in status %s", orderID, order.Status)
	}

	returnTaskID, err := s.refuse(ctx, tx, order, driverID, reasonCode, notes, gps)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: 200, Response: map[string]interface{}{
		"order_status":   string(order.Status),
		"return_task_id": returnTaskID,
	}}, nil
}

// Dossier returns the order's ordered event chain.
func (s *Service) Dossier(ctx context.Context, tx *db.Tx, orderID string) ([]db.OrderEvent, error) {
	if _, err := tx.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return dossier.List(ctx, tx, orderID)
}

// Dispatch creates an UNASSIGNED task for an order by hand, for
// operational recovery when the folded dispatch entry was skipped.
func (s *Service) Dispatch(ctx context.Context, tx *db.Tx, orderID string) (*db.DeliveryTask, error) {
	if _, err := tx.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	var task = db.DeliveryTask{
		ID:        "task_" + hexID(),
		OrderID:   orderID,
		Status:    core.TaskUnassigned,
		Route:     db.TaskRoute{Type: "DELIVERY"},
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.InsertTask(ctx, &task); err != nil {
		return nil, err
	}
	_, err := dossier.Append(ctx, tx, orderID, core.ActorSystem, "dispatch",
		core.EventTaskCreated, map[string]interface{}{"task_id": task.ID})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// vendorDown records a vendor transport failure as a FAILED event and
// surfaces it as a committed 502. The order status does not move, so a
// retry under a fresh key can run the check again.
func (s *Service) vendorDown(ctx context.Context, tx *db.Tx, orderID string, actor core.ActorType, actorID, eventType string) (Result, error) {
	_, err := dossier.Append(ctx, tx, orderID, actor, actorID, eventType,
		map[string]interface{}{
			"vendor":      s.Cfg.IDVVendor,
			"reason_code": verification.ReasonVendorError,
		})
	if err != nil {
		return Result{}, err
	}
	return Result{Status: 502, Response: map[string]interface{}{
		"status": "FAILED", "reason_code": verification.ReasonVendorError,
	}}, nil
}

// refuse transitions the order to REFUSED_RETURNING, records the
// refusal, and opens the return task. Returns the return task id. A
// repeated refusal hands back the already-open return task instead of
// opening a second one.
func (s *Service) refuse(ctx context.Context, tx *db.Tx, order *db.Order, driverID, reasonCode, notes string, gps map[string]float64) (string, error) {
	if order.Status == core.OrderRefusedReturning {
		tasks, err := tx.ListTasksForOrder(ctx, order.ID)
		if err != nil {
			return "", err
		}
		for _, task := range tasks {
			if task.Route.Type == "RETURN" &&
				task.Status != core.TaskCompleted && task.Status != core.TaskFailed && task.Status != core.TaskExpired {
				return task.ID, nil
			}
		}
	} else if err := s.advance(ctx, tx, order, core.OrderRefusedReturning); err != nil {
		return "", err
	}

	_, err := dossier.Append(ctx, tx, order.ID, core.ActorDriver, driverID,
		core.EventRefused, map[string]interface{}{
			"driver_id":   driverID,
			"reason_code": reasonCode,
			"notes":       notes,
			"gps":         gps,
		})
	if err != nil {
		return "", err
	}

	var returnTask = db.DeliveryTask{
		ID:        "task_ret_" + hexID(),
		OrderID:   order.ID,
		Status:    core.TaskUnassigned,
		Route:     db.TaskRoute{Type: "RETURN", ToStoreID: order.StoreID},
		CreatedAt: time.Now().UTC(),
	}
	if err = tx.InsertTask(ctx, &returnTask); err != nil {
		return "", err
	}
	_, err = dossier.Append(ctx, tx, order.ID, core.ActorSystem, omsActorID,
		core.EventReturnInitiated, map[string]interface{}{
			"return_task_id": returnTask.ID,
			"to_store_id":    order.StoreID,
		})
	return returnTask.ID, err
}

// transition performs one allowed state-machine step and records it.
func (s *Service) transition(ctx context.Context, tx *db.Tx, order *db.Order, to core.OrderStatus, actor core.ActorType, actorID string) error {
	next, err := core.Transition(order.Status, to)
	if err != nil {
		return err
	}
	if err = tx.UpdateOrderStatus(ctx, order.ID, next); err != nil {
		return err
	}
	order.Status = next
	_, err = dossier.Append(ctx, tx, order.ID, actor, actorID,
		core.EventOrderStatusUpdated, map[string]interface{}{"to": string(next)})
	return err
}

// advance walks the shortest allowed path to the target status, one
// recorded transition per step.
func (s *Service) advance(ctx context.Context, tx *db.Tx, order *db.Order, to core.OrderStatus) error {
	path, err := core.Path(order.Status, to)
	if err != nil {
		return err
	}
	for _, step := range path {
		if err = s.transition(ctx, tx, order, step, core.ActorSystem, omsActorID); err != nil {
			return err
		}
	}
	return nil
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
