package dispatch

import (
	"context"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/geo"
)

// clusterRadiusM groups pickups within 3 km for multi-stop planning.
const clusterRadiusM = 3000

// BatchResult summarizes one batch tick.
type BatchResult struct {
	Clusters      int `json:"clusters"`
	RoutesPlanned int `json:"routes_planned"`
	OffersCreated int `json:"offers_created"`
}

// clusterJobs groups jobs by greedy single linkage: each remaining job
// seeds a cluster that absorbs every other job within the radius of
// the seed's pickup.
func clusterJobs(jobs []Job) [][]Job {
	var remaining = append([]Job(nil), jobs...)
	var clusters [][]Job

	for len(remaining) > 0 {
		var seed = remaining[0]
		remaining = remaining[1:]

		var cluster = []Job{seed}
		var rest []Job
		for _, j := range remaining {
			if geo.HaversineM(seed.Pickup, j.Pickup) <= clusterRadiusM {
				cluster = append(cluster, j)
			} else {
				rest = append(rest, j)
			}
		}
		remaining = rest
		clusters = append(clusters, cluster)
	}
	return clusters
}

// pickClusterDriver selects the idle eligible driver nearest the
// cluster centroid, skipping drivers already planned this tick or
// holding an open offer or task.
func pickClusterDriver(snap *Snapshot, cluster []Job, assigned map[string]bool) *db.Driver {
	var cLat, cLng float64
	for _, j := range cluster {
		cLat += j.Pickup.Lat
		cLng += j.Pickup.Lng
	}
	var centroid = geo.Point{Lat: cLat / float64(len(cluster)), Lng: cLng / float64(len(cluster))}

	var busy = snap.busyDriverIDs()
	var best *db.Driver
	var bestDist = math.Inf(1)
	for _, d := range snap.Drivers {
		if assigned[d.ID] || busy[d.ID] || !eligible(d) {
			continue
		}
		at, ok := driverAt(d)
		if !ok {
			continue
		}
		var dist = geo.HaversineM(at, centroid)
		if dist > float64(snap.Params.RadiusMeters) {
			continue
		}
		if dist < bestDist {
			bestDist, best = dist, d
		}
	}
	return best
}

// orderStops sequences the cluster's pickups from the driver using the
// time matrix: row and column 0 are the driver, 1..N the jobs in
// cluster order. Nearest-neighbor is the planning fallback when no
// exact search fits the tick deadline; it keeps the first stop, which
// is all the batch loop commits, near optimal.
func orderStops(matrix [][]int, cluster []Job) []Job {
	if len(cluster) <= 1 {
		return cluster
	}

	var ordered []Job
	var visited = make([]bool, len(cluster))
	var cur = 0
	for range cluster {
		var best = -1
		var bestT = math.MaxInt
		for j := range cluster {
			if !visited[j] && matrix[cur][j+1] < bestT {
				best, bestT = j, matrix[cur][j+1]
			}
		}
		visited[best] = true
		ordered = append(ordered, cluster[best])
		cur = best + 1
	}
	return ordered
}

// RunBatchTick plans multi-stop routes over a longer horizon: cluster
// pending pickups, pick a driver per cluster, sequence the stops, and
// commit only each route's first stop as an offer. The fast loop
// re-plans the rest on later ticks.
func (dp *Dispatcher) RunBatchTick(ctx context.Context) (BatchResult, error) {
	snap, err := BuildSnapshot(ctx, dp.DB, dp.Region, dp.Params, dp.Now())
	if err != nil {
		ticksTotal.WithLabelValues("batch", "error").Inc()
		return BatchResult{}, err
	}

	var active = snap.activeOrderIDs()
	var pending []Job
	for _, j := range snap.Jobs {
		if !active[j.OrderID] {
			pending = append(pending, j)
		}
	}
	var idle bool
	for _, d := range snap.Drivers {
		if d.Status == core.DriverIdle {
			idle = true
			break
		}
	}
	if len(pending) == 0 || !idle {
		ticksTotal.WithLabelValues("batch", "ok").Inc()
		return BatchResult{}, nil
	}

	var clusters = clusterJobs(pending)
	var result = BatchResult{Clusters: len(clusters)}
	var assigned = make(map[string]bool)

	type plan struct {
		driver *db.Driver
		stops  []Job
	}
	var plans []plan
	for _, cluster := range clusters {
		var driver = pickClusterDriver(snap, cluster, assigned)
		if driver == nil {
			continue
		}
		at, _ := driverAt(driver)

		var points = make([]geo.Point, 0, len(cluster)+1)
		points = append(points, at)
		for _, j := range cluster {
			points = append(points, j.Pickup)
		}
		var matrix = dp.Router.BatchMatrix(points)

		assigned[driver.ID] = true
		plans = append(plans, plan{driver: driver, stops: orderStops(matrix, cluster)})
	}
	result.RoutesPlanned = len(plans)

	for _, p := range plans {
		if len(p.stops) == 0 {
			continue
		}
		var first = p.stops[0]
		at, _ := driverAt(p.driver)
		var debug = CostDebug{TotalTimeS: dp.Router.RouteTime(at, first.Pickup) + first.ApproxEtaDropS}

		err = dp.DB.Transact(ctx, func(tx *db.Tx) error {
			var features = dp.offerFeatures(snap, p.driver.ID, first.OrderID, "batch_loop", debug)
			features["cluster_size"] = len(p.stops)
			_, err := dp.Offers.CreateOffer(ctx, tx, first.OrderID, p.driver.ID, snap.Params.OfferTTL, features)
			return err
		})
		if err != nil {
			log.WithFields(log.Fields{
				"order":  first.OrderID,
				"driver": p.driver.ID,
				"err":    err,
			}).Warn("batch tick failed to create offer")
			continue
		}
		result.OffersCreated++
	}

	ticksTotal.WithLabelValues("batch", "ok").Inc()
	offersCreatedTotal.WithLabelValues("batch").Add(float64(result.OffersCreated))
	log.WithFields(log.Fields{
		"region":   dp.Region,
		"pending":  len(pending),
		"clusters": result.Clusters,
		"routes":   result.RoutesPlanned,
		"offers":   result.OffersCreated,
	}).Debug("batch tick complete")
	return result, nil
}
