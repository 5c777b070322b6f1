package dispatch

import (
	"math"
	"sort"

	"github.com/proofcart/proofcart/go/core"
)

// Match is one driver/job assignment extracted from the solved flow.
type Match struct {
	DriverID string
	JobID    string
	Cost     int
}

type arc struct {
	to, rev  int
	cap      int
	cost     int
	driverID string
	jobID    string
}

type flowGraph struct {
	arcs [][]arc
}

func (g *flowGraph) addArc(from, to, capacity, cost int, driverID, jobID string) {
	g.arcs[from] = append(g.arcs[from], arc{to: to, rev: len(g.arcs[to]), cap: capacity, cost: cost, driverID: driverID, jobID: jobID})
	g.arcs[to] = append(g.arcs[to], arc{to: from, rev: len(g.arcs[from]) - 1, cap: 0, cost: -cost})
}

// SolveMinCostFlow assigns drivers to jobs minimizing total edge cost.
// Bipartite network: source, one node per idle driver, one node per
// job, sink; unit capacities throughout. Solved by successive shortest
// augmenting paths, which is exact for this structure.
func SolveMinCostFlow(snap *Snapshot, edges []Edge) []Match {
	var idle []string
	for _, d := range snap.Drivers {
		if d.Status == core.DriverIdle {
			idle = append(idle, d.ID)
		}
	}
	var drvIndex = make(map[string]int, len(idle))
	for i, id := range idle {
		drvIndex[id] = i
	}
	var jobIndex = make(map[string]int, len(snap.Jobs))
	var jobIDs []string
	for _, j := range snap.Jobs {
		jobIndex[j.JobID] = len(jobIDs)
		jobIDs = append(jobIDs, j.JobID)
	}

	var nd, nj = len(idle), len(jobIDs)
	if nd == 0 || nj == 0 || len(edges) == 0 {
		return nil
	}

	// Nodes: 0 source, 1..nd drivers, nd+1..nd+nj jobs, nd+nj+1 sink.
	var source, sink = 0, nd + nj + 1
	var g = flowGraph{arcs: make([][]arc, sink+1)}
	for i := range idle {
		g.addArc(source, 1+i, 1, 0, "", "")
	}
	for _, e := range edges {
		di, dok := drvIndex[e.DriverID]
		ji, jok := jobIndex[e.JobID]
		if !dok || !jok {
			continue
		}
		g.addArc(1+di, 1+nd+ji, 1, e.Cost, e.DriverID, e.JobID)
	}
	for j := range jobIDs {
		g.addArc(1+nd+j, sink, 1, 0, "", "")
	}

	// Augment along shortest paths until none remains. Costs are
	// non-negative, so plain Bellman-Ford over residual arcs suffices
	// at these sizes (at most K edges per job).
	for {
		var dist = make([]int, sink+1)
		var prevNode = make([]int, sink+1)
		var prevArc = make([]int, sink+1)
		for i := range dist {
			dist[i] = math.MaxInt
		}
		dist[source] = 0

		for iter := 0; iter <= sink; iter++ {
			var relaxed bool
			for u := 0; u <= sink; u++ {
				if dist[u] == math.MaxInt {
					continue
				}
				for ai, a := range g.arcs[u] {
					if a.cap > 0 && dist[u]+a.cost < dist[a.to] {
						dist[a.to] = dist[u] + a.cost
						prevNode[a.to], prevArc[a.to] = u, ai
						relaxed = true
					}
				}
			}
			if !relaxed {
				break
			}
		}
		if dist[sink] == math.MaxInt {
			break
		}

		for v := sink; v != source; v = prevNode[v] {
			var a = &g.arcs[prevNode[v]][prevArc[v]]
			a.cap--
			g.arcs[v][a.rev].cap++
		}
	}

	var matches []Match
	for u := 1; u <= nd; u++ {
		for _, a := range g.arcs[u] {
			if a.driverID != "" && a.cap == 0 {
				matches = append(matches, Match{DriverID: a.driverID, JobID: a.jobID, Cost: a.cost})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].JobID < matches[j].JobID })
	return matches
}

// GreedyAssign is the deterministic fallback matcher: edges in
// ascending cost, first free driver/job pair wins. Exposed for ticks
// that must return within a hard deadline on very large snapshots.
func GreedyAssign(edges []Edge) []Match {
	var sorted = make([]Edge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Cost < sorted[j].Cost })

	var usedD = make(map[string]bool)
	var usedJ = make(map[string]bool)
	var out []Match
	for _, e := range sorted {
		if usedD[e.DriverID] || usedJ[e.JobID] {
			continue
		}
		out = append(out, Match{DriverID: e.DriverID, JobID: e.JobID, Cost: e.Cost})
		usedD[e.DriverID], usedJ[e.JobID] = true, true
	}
	return out
}
