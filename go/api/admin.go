package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
)

// Seeding endpoints for stores, products, addresses, and drivers. The
// merchant and driver onboarding surfaces proper live elsewhere; the
// core needs just enough to register the rows dispatch reads.

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type storeRequest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

func (s *Server) createStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		req.ID = newID("store")
	}

	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		return tx.InsertStore(r.Context(), &db.Store{
			ID: req.ID, Name: req.Name, Address: req.Address, Lat: req.Lat, Lng: req.Lng,
		})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"store_id": req.ID})
}

type productRequest struct {
	ID          string `json:"id"`
	StoreID     string `json:"store_id"`
	Name        string `json:"name"`
	PriceCents  int64  `json:"price_cents"`
	IsAvailable bool   `json:"is_available"`
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PriceCents <= 0 {
		writeError(w, core.InvalidArgumentf("price_cents must be positive"))
		return
	}
	if req.ID == "" {
		req.ID = newID("prod")
	}

	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		return tx.InsertProduct(r.Context(), &db.Product{
			ID: req.ID, StoreID: req.StoreID, Name: req.Name,
			PriceCents: req.PriceCents, IsAvailable: req.IsAvailable,
		})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"product_id": req.ID})
}

type addressRequest struct {
	ID         string   `json:"id"`
	CustomerID string   `json:"customer_id"`
	Address    string   `json:"address"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

func (s *Server) createAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		req.ID = newID("addr")
	}

	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		return tx.InsertAddress(r.Context(), &db.CustomerAddress{
			ID: req.ID, CustomerID: req.CustomerID, Address: req.Address,
			Lat: req.Lat, Lng: req.Lng,
		})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address_id": req.ID})
}

type driverRequest struct {
	Status               string           `json:"status"`
	Lat                  *float64         `json:"lat"`
	Lng                  *float64         `json:"lng"`
	ZoneID               string           `json:"zone_id"`
	InsuranceVerified    bool             `json:"insurance_verified"`
	RegistrationVerified bool             `json:"registration_verified"`
	VehicleVerified      bool             `json:"vehicle_verified"`
	BackgroundClear      bool             `json:"background_clear"`
	Metrics              db.DriverMetrics `json:"metrics"`
}

func (s *Server) upsertDriver(w http.ResponseWriter, r *http.Request) {
	var driverID = chi.URLParam(r, "driverID")
	var req driverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Status == "" {
		req.Status = string(core.DriverIdle)
	}

	var err = s.DB.Transact(r.Context(), func(tx *db.Tx) error {
		return tx.UpsertDriver(r.Context(), &db.Driver{
			ID:                   driverID,
			Status:               core.DriverStatus(req.Status),
			Lat:                  req.Lat,
			Lng:                  req.Lng,
			ZoneID:               req.ZoneID,
			InsuranceVerified:    req.InsuranceVerified,
			RegistrationVerified: req.RegistrationVerified,
			VehicleVerified:      req.VehicleVerified,
			BackgroundClear:      req.BackgroundClear,
			Metrics:              req.Metrics,
		})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"driver_id": driverID, "status": req.Status})
}
