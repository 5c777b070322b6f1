// Package offers manages the lifecycle of delivery task offers: create,
// accept, reject, start, complete, and the periodic expiry sweep. Every
// mutation runs inside a caller-supplied transaction together with its
// offer log row and dossier event.
package offers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dossier"
)

const (
	// DefaultTTL bounds how long a driver may sit on an offer.
	DefaultTTL = 30 * time.Second

	acceptLockTTL = 10 * time.Second
	sweepLockKey  = "offer_expiry_sweep"

	dispatchActorID = "dispatch"
)

// Manager owns offer state changes. Now is the clock, swappable in
// tests.
type Manager struct {
	DB     *db.DB
	Locker Locker
	Now    func() time.Time
	TTL    time.Duration
}

func NewManager(d *db.DB, locker Locker) *Manager {
	return &Manager{DB: d, Locker: locker, Now: time.Now, TTL: DefaultTTL}
}

func (m *Manager) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return DefaultTTL
}

// CreateOffer creates an OFFERED task for the order and driver, writes
// the offer log, and emits TASK_OFFERED. Features is an arbitrary
// snapshot of the matching decision kept for later model training.
func (m *Manager) CreateOffer(ctx context.Context, tx *db.Tx, orderID, driverID string, ttl time.Duration, features interface{}) (*db.DeliveryTask, error) {
	if ttl <= 0 {
		ttl = m.ttl()
	}

	active, err := tx.ActiveTaskForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	} else if active != nil {
		return nil, core.Conflictf("order %s already has active task %s", orderID, active.ID)
	}

	var now = m.Now().UTC()
	var expires = now.Add(ttl)
	var task = db.DeliveryTask{
		ID:                "task_" + hexID(),
		OrderID:           orderID,
		Status:            core.TaskOffered,
		OfferedToDriverID: &driverID,
		OfferExpiresAt:    &expires,
		Route:             db.TaskRoute{Type: "DELIVERY"},
		CreatedAt:         now,
	}
	if err = tx.InsertTask(ctx, &task); err != nil {
		return nil, err
	}

	rawFeatures, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("marshaling offer features: %w", err)
	}
	err = tx.InsertOfferLog(ctx, &db.OfferLog{
		ID:        "offlog_" + hexID(),
		TaskID:    task.ID,
		OrderID:   orderID,
		DriverID:  driverID,
		CreatedAt: now,
		Features:  rawFeatures,
	})
	if err != nil {
		return nil, err
	}

	_, err = dossier.Append(ctx, tx, orderID, core.ActorSystem, dispatchActorID,
		core.EventTaskOffered, map[string]interface{}{
			"task_id":    task.ID,
			"driver_id":  driverID,
			"expires_at": expires.Format(time.RFC3339),
		})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Offer re-offers an existing UNASSIGNED or FAILED task to a driver.
func (m *Manager) Offer(ctx context.Context, tx *db.Tx, taskID, driverID string, ttl time.Duration) (*db.DeliveryTask, error) {
	if ttl <= 0 {
		ttl = m.ttl()
	}

	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskUnassigned && task.Status != core.TaskFailed {
		return nil, core.Conflictf("cannot offer task %s in status %s", taskID, task.Status)
	}

	var expires = m.Now().UTC().Add(ttl)
	task.Status = core.TaskOffered
	task.OfferedToDriverID = &driverID
	task.OfferExpiresAt = &expires
	if err = tx.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	err = tx.InsertOfferLog(ctx, &db.OfferLog{
		ID:        "offlog_" + hexID(),
		TaskID:    task.ID,
		OrderID:   task.OrderID,
		DriverID:  driverID,
		CreatedAt: m.Now().UTC(),
		Features:  json.RawMessage(`{"source":"manual"}`),
	})
	if err != nil {
		return nil, err
	}

	_, err = dossier.Append(ctx, tx, task.OrderID, core.ActorSystem, dispatchActorID,
		core.EventTaskOffered, map[string]interface{}{
			"task_id":    task.ID,
			"driver_id":  driverID,
			"expires_at": expires.Format(time.RFC3339),
		})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Accept records a driver taking an offer. A short-TTL lock on the
// task fences racing accepts; losers fail fast with a conflict rather
// than queue behind the row lock.
func (m *Manager) Accept(ctx context.Context, tx *db.Tx, taskID, driverID string) (*db.DeliveryTask, error) {
	acquired, err := m.Locker.Acquire(ctx, "task_accept:"+taskID, acceptLockTTL)
	if err != nil {
		return nil, err
	} else if !acquired {
		return nil, core.Conflictf("task %s accept is locked; retry", taskID)
	}
	defer func() {
		if err := m.Locker.Release(context.Background(), "task_accept:"+taskID); err != nil {
			log.WithFields(log.Fields{"task": taskID, "err": err}).Warn("failed to release accept lock")
		}
	}()

	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskOffered {
		return nil, core.Conflictf("task %s not offered (is %s)", taskID, task.Status)
	}
	if task.OfferedToDriverID == nil || *task.OfferedToDriverID != driverID {
		return nil, core.Forbiddenf("task %s not offered to driver %s", taskID, driverID)
	}

	task.Status = core.TaskAccepted
	task.DriverID = &driverID
	if err = tx.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	if err = m.setOutcome(ctx, tx, task.ID, core.OutcomeAccepted); err != nil {
		return nil, err
	}

	_, err = dossier.Append(ctx, tx, task.OrderID, core.ActorDriver, driverID,
		core.EventTaskAccepted, map[string]interface{}{"task_id": task.ID, "driver_id": driverID})
	if err != nil {
		return nil, err
	}

	if err = m.tryOrderTransition(ctx, tx, task.OrderID, core.OrderPickup); err != nil {
		return nil, err
	}
	offerOutcomesTotal.WithLabelValues(core.OutcomeAccepted).Inc()
	return task, nil
}

// Reject returns a declined offer to the pool.
func (m *Manager) Reject(ctx context.Context, tx *db.Tx, taskID, driverID string) (*db.DeliveryTask, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskOffered {
		return nil, core.Conflictf("task %s not offered (is %s)", taskID, task.Status)
	}
	if task.OfferedToDriverID == nil || *task.OfferedToDriverID != driverID {
		return nil, core.Forbiddenf("task %s not offered to driver %s", taskID, driverID)
	}

	task.Status = core.TaskUnassigned
	task.OfferedToDriverID = nil
	task.OfferExpiresAt = nil
	if err = tx.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	if err = m.setOutcome(ctx, tx, task.ID, core.OutcomeRejected); err != nil {
		return nil, err
	}

	_, err = dossier.Append(ctx, tx, task.OrderID, core.ActorDriver, driverID,
		core.EventTaskRejected, map[string]interface{}{"task_id": task.ID})
	if err != nil {
		return nil, err
	}
	offerOutcomesTotal.WithLabelValues(core.OutcomeRejected).Inc()
	return task, nil
}

// Start marks the pickup done and moves the order toward the doorstep.
func (m *Manager) Start(ctx context.Context, tx *db.Tx, taskID, driverID string) (*db.DeliveryTask, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskAccepted {
		return nil, core.Conflictf("cannot start task %s in status %s", taskID, task.Status)
	}
	if task.DriverID == nil || *task.DriverID != driverID {
		return nil, core.Forbiddenf("task %s not assigned to driver %s", taskID, driverID)
	}

	task.Status = core.TaskInProgress
	if err = tx.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	_, err = dossier.Append(ctx, tx, task.OrderID, core.ActorDriver, driverID,
		core.EventTaskStarted, map[string]interface{}{"task_id": task.ID})
	if err != nil {
		return nil, err
	}

	if err = m.tryOrderTransition(ctx, tx, task.OrderID, core.OrderEnRoute); err != nil {
		return nil, err
	}
	if err = m.tryOrderTransition(ctx, tx, task.OrderID, core.OrderDoorstepVerify); err != nil {
		return nil, err
	}
	return task, nil
}

// Complete marks the delivery leg done. The order's own deliver_confirm
// endpoint is the authoritative path to DELIVERED; the cascade here is
// best effort only.
func (m *Manager) Complete(ctx context.Context, tx *db.Tx, taskID, driverID string) (*db.DeliveryTask, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskInProgress {
		return nil, core.Conflictf("cannot complete task %s in status %s", taskID, task.Status)
	}
	if task.DriverID == nil || *task.DriverID != driverID {
		return nil, core.Forbiddenf("task %s not assigned to driver %s", taskID, driverID)
	}

	task.Status = core.TaskCompleted
	if err = tx.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	_, err = dossier.Append(ctx, tx, task.OrderID, core.ActorDriver, driverID,
		core.EventTaskCompleted, map[string]interface{}{"task_id": task.ID})
	if err != nil {
		return nil, err
	}

	if err = m.tryOrderTransition(ctx, tx, task.OrderID, core.OrderDelivered); err != nil {
		return nil, err
	}
	return task, nil
}

// CompleteReturn marks a RETURN task done once the store has the goods
// back. No order cascade: REFUSED_RETURNING is terminal.
func (m *Manager) CompleteReturn(ctx context.Context, tx *db.Tx, taskID string) (*db.DeliveryTask, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Route.Type != "RETURN" {
		return nil, core.Conflictf("task %s is not a return task", taskID)
	}
	if task.Status == core.TaskCompleted || task.Status == core.TaskExpired {
		return nil, core.Conflictf("cannot complete task %s in status %s", taskID, task.Status)
	}

	task.Status = core.TaskCompleted
	if err = tx.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	_, err = dossier.Append(ctx, tx, task.OrderID, core.ActorSystem, dispatchActorID,
		core.EventReturnCompleted, map[string]interface{}{"return_task_id": task.ID})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SweepResult summarizes one expiry pass.
type SweepResult struct {
	ExpiredTasks     int  `json:"expired_tasks"`
	UpdatedOfferLogs int  `json:"updated_offer_logs"`
	Skipped          bool `json:"skipped"`
}

// ExpireOffers expires OFFERED tasks past their deadline, marking each
// offer log TIMEOUT. A process-global lock keeps the sweep to a single
// instance per interval; row-level SKIP LOCKED covers the case where
// the lock service is down and two sweepers overlap anyway.
func (m *Manager) ExpireOffers(ctx context.Context, limit int) (SweepResult, error) {
	acquired, err := m.Locker.Acquire(ctx, sweepLockKey, acceptLockTTL)
	if err != nil {
		log.WithField("err", err).Warn("sweep lock unavailable, relying on row locks")
	} else if !acquired {
		return SweepResult{Skipped: true}, nil
	} else {
		defer func() { _ = m.Locker.Release(context.Background(), sweepLockKey) }()
	}

	var now = m.Now().UTC()
	var result SweepResult
	err = m.DB.Transact(ctx, func(tx *db.Tx) error {
		tasks, err := tx.ListExpiredOffers(ctx, now, limit)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			task.Status = core.TaskExpired
			if err = tx.UpdateTask(ctx, task); err != nil {
				return err
			}
			result.ExpiredTasks++

			var driverID string
			if task.OfferedToDriverID != nil {
				driverID = *task.OfferedToDriverID
			}
			_, err = dossier.Append(ctx, tx, task.OrderID, core.ActorSystem, dispatchActorID,
				core.EventTaskExpired, map[string]interface{}{
					"task_id":    task.ID,
					"driver_id":  driverID,
					"expired_at": now.Format(time.RFC3339),
				})
			if err != nil {
				return err
			}

			offerLog, err := tx.LatestOfferLog(ctx, task.ID)
			if err != nil {
				return err
			}
			if offerLog != nil && offerLog.Outcome == nil {
				var nowMs = now.UnixMilli()
				var latency = nowMs - offerLog.CreatedAt.UnixMilli()
				if latency < 0 {
					latency = 0
				}
				if err = tx.SetOfferOutcome(ctx, offerLog.ID, core.OutcomeTimeout, nowMs, latency); err != nil {
					return err
				}
				result.UpdatedOfferLogs++
			}
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}

	offerOutcomesTotal.WithLabelValues(core.OutcomeTimeout).Add(float64(result.ExpiredTasks))
	if result.ExpiredTasks > 0 {
		log.WithFields(log.Fields{
			"expired":     result.ExpiredTasks,
			"updatedLogs": result.UpdatedOfferLogs,
		}).Info("expired lapsed offers")
	}
	return result, nil
}

// setOutcome stamps the task's most recent offer log. Missing logs are
// tolerated for tasks offered through the manual path before logging.
func (m *Manager) setOutcome(ctx context.Context, tx *db.Tx, taskID, outcome string) error {
	offerLog, err := tx.LatestOfferLog(ctx, taskID)
	if err != nil || offerLog == nil {
		return err
	}
	var nowMs = m.Now().UTC().UnixMilli()
	var latency = nowMs - offerLog.CreatedAt.UnixMilli()
	if latency < 0 {
		latency = 0
	}
	return tx.SetOfferOutcome(ctx, offerLog.ID, outcome, nowMs, latency)
}

// tryOrderTransition attempts a best-effort order cascade, skipping
// silently when the order is not in a compatible status.
func (m *Manager) tryOrderTransition(ctx context.Context, tx *db.Tx, orderID string, to core.OrderStatus) error {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !core.CanTransition(order.Status, to) {
		return nil
	}
	if err = tx.UpdateOrderStatus(ctx, orderID, to); err != nil {
		return err
	}
	_, err = dossier.Append(ctx, tx, orderID, core.ActorSystem, dispatchActorID,
		core.EventOrderStatusUpdated, map[string]interface{}{"to": string(to)})
	return err
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
