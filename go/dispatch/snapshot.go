// Package dispatch matches pending orders to idle drivers. A fast loop
// solves a min-cost assignment over candidate driver/job edges every
// few seconds; a slower batch loop clusters nearby pickups and plans
// multi-stop routes. Both commit work through the offer manager.
package dispatch

import (
	"context"
	"time"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/geo"
)

const (
	defaultPrepTime = 5 * time.Minute
	defaultSLA      = 45 * time.Minute
)

// Weights are the cost-function coefficients.
type Weights struct {
	AlphaTotalTime float64 `json:"alpha_total_time"`
	BetaLateness   float64 `json:"beta_lateness"`
	GammaDeadhead  float64 `json:"gamma_deadhead"`
	RhoReturnRisk  float64 `json:"rho_return_risk"`
	LambdaFairness float64 `json:"lambda_fairness"`
	MuZone         float64 `json:"mu_zone"`
}

// Params tune one dispatch tick.
type Params struct {
	KCandidatesPerJob int           `json:"k_candidates_per_job"`
	TopK              int           `json:"top_k"`
	RadiusMeters      int           `json:"radius_meters"`
	OfferTTL          time.Duration `json:"-"`
	HardPickupEtaSMax int           `json:"hard_pickup_eta_s_max"`
	GridRes           int           `json:"grid_res"`
	Weights           Weights       `json:"weights"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		KCandidatesPerJob: 100,
		TopK:              20,
		RadiusMeters:      6000,
		OfferTTL:          30 * time.Second,
		HardPickupEtaSMax: 900,
		GridRes:           8,
		Weights: Weights{
			AlphaTotalTime: 1.0,
			BetaLateness:   25.0,
			GammaDeadhead:  1.0,
			RhoReturnRisk:  1.0,
		},
	}
}

// Job is one order awaiting dispatch, flattened to the coordinates and
// economics the matcher needs.
type Job struct {
	JobID          string
	OrderID        string
	StoreID        string
	Pickup         geo.Point
	Drop           geo.Point
	CreatedMs      int64
	ReadyAtMs      int64
	DeadlineMs     int64
	PayoutCentsEst int64
	ApproxEtaDropS int
	ZoneID         string
}

// TaskRef is the slice of task state the matcher needs to exclude
// orders and drivers already spoken for.
type TaskRef struct {
	TaskID            string
	OrderID           string
	Status            core.TaskStatus
	OfferedToDriverID *string
}

// Prediction is an externally supplied doorstep-failure risk estimate
// for one driver/order pair.
type Prediction struct {
	DriverID            string
	OrderID             string
	PFail               float64
	ExpectedReturnCostS int
}

// Snapshot is a point-in-time view of the dispatchable world for one
// region. It is read-only once built.
type Snapshot struct {
	TsMs        int64
	RegionID    string
	Params      Params
	Drivers     []*db.Driver
	Jobs        []Job
	Tasks       []TaskRef
	Predictions []Prediction
}

// activeOrderIDs returns the orders already holding an open offer or
// an assigned courier.
func (s *Snapshot) activeOrderIDs() map[string]bool {
	var out = make(map[string]bool, len(s.Tasks))
	for _, t := range s.Tasks {
		switch t.Status {
		case core.TaskOffered, core.TaskAccepted, core.TaskInProgress:
			out[t.OrderID] = true
		}
	}
	return out
}

// busyDriverIDs returns drivers holding an open offer or active task.
func (s *Snapshot) busyDriverIDs() map[string]bool {
	var out = make(map[string]bool)
	for _, t := range s.Tasks {
		if t.OfferedToDriverID == nil {
			continue
		}
		switch t.Status {
		case core.TaskOffered, core.TaskAccepted, core.TaskInProgress:
			out[*t.OfferedToDriverID] = true
		}
	}
	return out
}

// BuildSnapshot reads drivers, active tasks, and dispatchable orders
// into a Snapshot. Orders whose store or address has no coordinates
// are skipped; they cannot be matched.
func BuildSnapshot(ctx context.Context, d *db.DB, regionID string, params Params, now time.Time) (*Snapshot, error) {
	var snap = Snapshot{
		TsMs:     now.UnixMilli(),
		RegionID: regionID,
		Params:   params,
	}

	var err = d.Transact(ctx, func(tx *db.Tx) error {
		drivers, err := tx.ListDrivers(ctx)
		if err != nil {
			return err
		}
		snap.Drivers = drivers

		tasks, err := tx.ListActiveTasks(ctx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			snap.Tasks = append(snap.Tasks, TaskRef{
				TaskID:            t.ID,
				OrderID:           t.OrderID,
				Status:            t.Status,
				OfferedToDriverID: t.OfferedToDriverID,
			})
		}

		orders, err := tx.ListDispatchableOrders(ctx)
		if err != nil {
			return err
		}
		for _, o := range orders {
			store, err := tx.GetStore(ctx, o.StoreID)
			if err != nil {
				return err
			}
			addr, err := tx.GetAddress(ctx, o.AddressID)
			if err != nil {
				return err
			}
			if store.Lat == nil || store.Lng == nil || addr.Lat == nil || addr.Lng == nil {
				continue
			}

			var createdMs = o.CreatedAt.UnixMilli()
			var payout = o.TotalCents / 4
			if payout < 500 {
				payout = 500
			}
			snap.Jobs = append(snap.Jobs, Job{
				JobID:          "job_" + o.ID,
				OrderID:        o.ID,
				StoreID:        o.StoreID,
				Pickup:         geo.Point{Lat: *store.Lat, Lng: *store.Lng},
				Drop:           geo.Point{Lat: *addr.Lat, Lng: *addr.Lng},
				CreatedMs:      createdMs,
				ReadyAtMs:      createdMs + defaultPrepTime.Milliseconds(),
				DeadlineMs:     createdMs + defaultSLA.Milliseconds(),
				PayoutCentsEst: payout,
				ApproxEtaDropS: 600,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
