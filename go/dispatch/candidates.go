package dispatch

import (
	"sort"

	"github.com/proofcart/proofcart/go/core"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/geo"
)

// Straight-line ETA model for the candidate filter. Coarse on purpose;
// the top-K edges are refined against the router afterward.
const (
	approxSpeedMPS   = 20.0
	approxRoadFactor = 1.35

	maxRing = 5
)

// Edge is one candidate driver/job pairing.
type Edge struct {
	DriverID string
	JobID    string
	EtaPuS   int
	EtaDropS int
	Approx   bool
	Cost     int
	Debug    CostDebug
}

func approxEtaS(from, to geo.Point) int {
	return int(approxRoadFactor * geo.HaversineM(from, to) / approxSpeedMPS)
}

func driverAt(d *db.Driver) (geo.Point, bool) {
	if d.Lat == nil || d.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *d.Lat, Lng: *d.Lng}, true
}

func eligible(d *db.Driver) bool {
	return d.Status == core.DriverIdle && d.InsuranceVerified && d.RegistrationVerified
}

// GenerateCandidates produces top-K candidate edges per pending job.
// Drivers are collected by expanding grid rings around each pickup
// until kPrime are found, then filtered on eligibility, radius, and a
// hard pickup-ETA cap, and finally ranked by approximate ETA.
func GenerateCandidates(snap *Snapshot, kPrime, k int) []Edge {
	var index = geo.NewIndex[*db.Driver](snap.Params.GridRes)
	index.Build(snap.Drivers, driverAt)

	var active = snap.activeOrderIDs()
	var edges []Edge

	for _, job := range snap.Jobs {
		if active[job.OrderID] {
			continue
		}

		var pool []*db.Driver
		for ring := 0; ring <= maxRing; ring++ {
			pool = index.Disk(job.Pickup, ring)
			if len(pool) >= kPrime {
				break
			}
		}
		if len(pool) == 0 {
			pool = snap.Drivers
		}

		type scored struct {
			eta    int
			driver *db.Driver
		}
		var candidates []scored
		for _, d := range pool {
			if !eligible(d) {
				continue
			}
			at, ok := driverAt(d)
			if !ok {
				continue
			}
			if geo.HaversineM(at, job.Pickup) > float64(snap.Params.RadiusMeters) {
				continue
			}
			var eta = approxEtaS(at, job.Pickup)
			if eta > snap.Params.HardPickupEtaSMax {
				continue
			}
			candidates = append(candidates, scored{eta: eta, driver: d})
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].eta < candidates[j].eta
		})
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		for _, c := range candidates {
			edges = append(edges, Edge{
				DriverID: c.driver.ID,
				JobID:    job.JobID,
				EtaPuS:   c.eta,
				EtaDropS: job.ApproxEtaDropS,
				Approx:   true,
			})
		}
	}
	return edges
}
