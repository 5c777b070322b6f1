package dispatch

import (
	"math"

	"github.com/proofcart/proofcart/go/db"
)

// Defaults used when no risk prediction exists for a pair.
const (
	defaultPFail       = 0.03
	defaultReturnCostS = 600
)

// CostDebug carries the intermediate terms of one cost evaluation for
// offer-log features and tests.
type CostDebug struct {
	TotalTimeS int     `json:"total_time_s"`
	LatenessS  float64 `json:"lateness_s"`
	PAccept    float64 `json:"p_accept"`
	RiskPen    float64 `json:"risk_pen"`
}

// ComputeCost scores one driver/job edge. Lower is better; the result
// is a non-negative integer as the flow solver requires. Dividing the
// base cost by acceptance probability makes offers that will likely be
// declined look expensive.
func ComputeCost(snap *Snapshot, d *db.Driver, job Job, etaPuS, etaDropS int) (int, CostDebug) {
	var w = snap.Params.Weights

	var arrivePuMs = snap.TsMs + int64(etaPuS)*1000
	var waitPuS float64
	if job.ReadyAtMs > arrivePuMs {
		waitPuS = float64(job.ReadyAtMs-arrivePuMs) / 1000.0
	}

	var totalTimeS = etaPuS + int(waitPuS) + etaDropS
	var finishMs = snap.TsMs + int64(totalTimeS)*1000
	var latenessS float64
	if finishMs > job.DeadlineMs {
		latenessS = float64(finishMs-job.DeadlineMs) / 1000.0
	}

	var pFail, expReturnS = defaultPFail, float64(defaultReturnCostS)
	for _, p := range snap.Predictions {
		if p.DriverID == d.ID && p.OrderID == job.OrderID {
			pFail, expReturnS = p.PFail, float64(p.ExpectedReturnCostS)
			break
		}
	}
	var riskPen = pFail * expReturnS

	var zonePen float64
	if d.ZoneID != "" && job.ZoneID != "" && d.ZoneID != job.ZoneID {
		zonePen = 1.0
	}

	var base = w.AlphaTotalTime*float64(totalTimeS) +
		w.BetaLateness*latenessS +
		w.GammaDeadhead*float64(etaPuS) +
		w.RhoReturnRisk*riskPen +
		w.LambdaFairness*d.Metrics.FairnessPenalty +
		w.MuZone*zonePen

	var pAcc = acceptProbability(d, job, etaPuS, totalTimeS)
	var cost = int(base / math.Max(1e-3, pAcc))
	if cost < 0 {
		cost = 0
	}
	return cost, CostDebug{
		TotalTimeS: totalTimeS,
		LatenessS:  latenessS,
		PAccept:    pAcc,
		RiskPen:    riskPen,
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// acceptProbability is a closed-form logit over the driver's rolling
// metrics and the economics of the trip. Clamped away from 0 and 1 so
// a single noisy metric can never zero out an edge.
func acceptProbability(d *db.Driver, job Job, etaPuS, totalTripS int) float64 {
	var acceptRate = d.Metrics.AcceptRate7d
	if acceptRate == 0 {
		acceptRate = 0.6
	}
	var ar = clamp(acceptRate, 0.05, 0.95)
	var logitAR = math.Log(ar / (1 - ar))

	var payoutCents = float64(job.PayoutCentsEst)
	var valuePerMin = payoutCents / math.Max(1, float64(totalTripS)) * 60.0

	var z = -0.2 +
		1.2*logitAR -
		0.15*(float64(etaPuS)/60.0) +
		0.02*(payoutCents/100.0) +
		0.8*valuePerMin -
		0.6*float64(d.Metrics.RecentTimeouts) -
		1.0*d.Metrics.CancelRate7d
	return clamp(sigmoid(z), 0.05, 0.95)
}
