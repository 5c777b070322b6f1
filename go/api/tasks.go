package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/ordersvc"
)

func taskResponse(task *db.DeliveryTask) map[string]interface{} {
	return map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
	}
}

func requireDriverID(r *http.Request) (string, error) {
	var driverID = r.URL.Query().Get("driver_id")
	if driverID == "" {
		return "", core.InvalidArgumentf("driver_id query parameter required")
	}
	return driverID, nil
}

func (s *Server) offerTask(w http.ResponseWriter, r *http.Request) {
	var taskID = chi.URLParam(r, "taskID")
	driverID, err := requireDriverID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var task *db.DeliveryTask
	err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		task, err = s.Offers.Offer(r.Context(), tx, taskID, driverID, 0)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	var resp = taskResponse(task)
	resp["offered_to_driver_id"] = driverID
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) acceptTask(w http.ResponseWriter, r *http.Request) {
	var taskID = chi.URLParam(r, "taskID")
	driverID, err := requireDriverID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body = map[string]string{"task_id": taskID, "driver_id": driverID}
	s.idempotent(w, r, "POST:/tasks/{task_id}/accept", body, func(tx *db.Tx) (ordersvc.Result, error) {
		task, err := s.Offers.Accept(r.Context(), tx, taskID, driverID)
		if err != nil {
			return ordersvc.Result{}, err
		}
		return ordersvc.Result{Status: http.StatusOK, Response: taskResponse(task)}, nil
	})
}

func (s *Server) rejectTask(w http.ResponseWriter, r *http.Request) {
	var taskID = chi.URLParam(r, "taskID")
	driverID, err := requireDriverID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var task *db.DeliveryTask
	err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		task, err = s.Offers.Reject(r.Context(), tx, taskID, driverID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	var taskID = chi.URLParam(r, "taskID")
	driverID, err := requireDriverID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var task *db.DeliveryTask
	err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		task, err = s.Offers.Start(r.Context(), tx, taskID, driverID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	var taskID = chi.URLParam(r, "taskID")
	driverID, err := requireDriverID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var task *db.DeliveryTask
	err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		task, err = s.Offers.Complete(r.Context(), tx, taskID, driverID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) completeReturn(w http.ResponseWriter, r *http.Request) {
	var taskID = chi.URLParam(r, "taskID")

	var task *db.DeliveryTask
	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		var err error
		task, err = s.Offers.CompleteReturn(r.Context(), tx, taskID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}
