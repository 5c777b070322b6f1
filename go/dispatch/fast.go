package dispatch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/geo"
	"github.com/proofcart/proofcart/go/offers"
	"github.com/proofcart/proofcart/go/routing"
)

// Dispatcher runs the matching loops for one region.
type Dispatcher struct {
	DB     *db.DB
	Router routing.Router
	Offers *offers.Manager
	Params Params
	Region string
	Now    func() time.Time
}

func NewDispatcher(d *db.DB, router routing.Router, mgr *offers.Manager, region string) *Dispatcher {
	return &Dispatcher{
		DB:     d,
		Router: router,
		Offers: mgr,
		Params: DefaultParams(),
		Region: region,
		Now:    time.Now,
	}
}

// FastResult summarizes one fast tick.
type FastResult struct {
	EdgesConsidered int         `json:"edges_considered"`
	Matches         int         `json:"matches"`
	OffersCreated   int         `json:"offers_created"`
	Offers          []OfferMade `json:"offers"`
}

// OfferMade names one committed offer.
type OfferMade struct {
	TaskID   string `json:"task_id"`
	OrderID  string `json:"order_id"`
	DriverID string `json:"driver_id"`
	Cost     int    `json:"cost"`
}

// RefineEdges replaces the approximate ETAs of the surviving edges
// with router-derived travel times.
func (dp *Dispatcher) RefineEdges(snap *Snapshot, edges []Edge) []Edge {
	var drvByID = make(map[string]geo.Point, len(snap.Drivers))
	for _, d := range snap.Drivers {
		if at, ok := driverAt(d); ok {
			drvByID[d.ID] = at
		}
	}
	var jobByID = make(map[string]Job, len(snap.Jobs))
	for _, j := range snap.Jobs {
		jobByID[j.JobID] = j
	}

	for i, e := range edges {
		at, ok := drvByID[e.DriverID]
		if !ok {
			continue
		}
		job, ok := jobByID[e.JobID]
		if !ok {
			continue
		}
		edges[i].EtaPuS = dp.Router.RouteTime(at, job.Pickup)
		edges[i].EtaDropS = dp.Router.RouteTime(job.Pickup, job.Drop)
		edges[i].Approx = false
	}
	return edges
}

// RunFastTick executes one matching pass: snapshot, candidates, ETA
// refinement, cost scoring, min-cost flow, offers. Safe to run every
// few seconds; orders holding an active task are excluded up front, so
// repeated ticks over the same state are no-ops.
func (dp *Dispatcher) RunFastTick(ctx context.Context) (FastResult, error) {
	snap, err := BuildSnapshot(ctx, dp.DB, dp.Region, dp.Params, dp.Now())
	if err != nil {
		ticksTotal.WithLabelValues("fast", "error").Inc()
		return FastResult{}, err
	}

	var edges = GenerateCandidates(snap, snap.Params.KCandidatesPerJob, snap.Params.TopK)
	edges = dp.RefineEdges(snap, edges)

	var drvByID = make(map[string]int, len(snap.Drivers))
	for i, d := range snap.Drivers {
		drvByID[d.ID] = i
	}
	var jobByID = make(map[string]Job, len(snap.Jobs))
	for _, j := range snap.Jobs {
		jobByID[j.JobID] = j
	}
	for i, e := range edges {
		var d = snap.Drivers[drvByID[e.DriverID]]
		var job = jobByID[e.JobID]
		edges[i].Cost, edges[i].Debug = ComputeCost(snap, d, job, e.EtaPuS, e.EtaDropS)
	}

	var matches = SolveMinCostFlow(snap, edges)
	var result = FastResult{EdgesConsidered: len(edges), Matches: len(matches)}
	edgesConsidered.Observe(float64(len(edges)))

	for _, m := range matches {
		var job = jobByID[m.JobID]
		var debug CostDebug
		for _, e := range edges {
			if e.DriverID == m.DriverID && e.JobID == m.JobID {
				debug = e.Debug
				break
			}
		}

		var task OfferMade
		err = dp.DB.Transact(ctx, func(tx *db.Tx) error {
			created, err := dp.Offers.CreateOffer(ctx, tx, job.OrderID, m.DriverID, snap.Params.OfferTTL,
				dp.offerFeatures(snap, m.DriverID, job.OrderID, "fast_loop", debug))
			if err != nil {
				return err
			}
			task = OfferMade{TaskID: created.ID, OrderID: job.OrderID, DriverID: m.DriverID, Cost: m.Cost}
			return nil
		})
		if err != nil {
			log.WithFields(log.Fields{
				"order":  job.OrderID,
				"driver": m.DriverID,
				"err":    err,
			}).Warn("fast tick failed to create offer")
			continue
		}
		result.Offers = append(result.Offers, task)
		result.OffersCreated++
	}

	ticksTotal.WithLabelValues("fast", "ok").Inc()
	offersCreatedTotal.WithLabelValues("fast").Add(float64(result.OffersCreated))
	if result.OffersCreated > 0 {
		log.WithFields(log.Fields{
			"region": dp.Region,
			"edges":  result.EdgesConsidered,
			"offers": result.OffersCreated,
		}).Info("fast tick committed offers")
	}
	return result, nil
}

// offerFeatures is the immutable feature snapshot logged with each
// offer. Key set is kept stable for later model training.
func (dp *Dispatcher) offerFeatures(snap *Snapshot, driverID, orderID, source string, debug CostDebug) map[string]interface{} {
	return map[string]interface{}{
		"ts_ms":      snap.TsMs,
		"region_id":  snap.RegionID,
		"weights":    snap.Params.Weights,
		"driver_id":  driverID,
		"order_id":   orderID,
		"source":     source,
		"edge_debug": debug,
	}
}
