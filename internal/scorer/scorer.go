// Package scorer implements the weighted-sum candidate score (C6): higher
// is better, combining capability, reliability, cost, latency, and
// degradation/budget penalties.
package scorer

import (
	"time"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/health"
	"github.com/mhingston/switchboard/internal/router"
)

// Inputs bundles the per-candidate state the formula reads.
type Inputs struct {
	Model         router.Model
	TaskType      router.TaskType
	Health        health.Record
	Budget        budget.Record
	Weights       router.ScorerWeights
	LatencySecs   float64
	NowMs         int64
}

// Score computes the spec's weighted-sum formula:
//
//	w_cap*capability - w_cost*costWeight + w_rel*successRate
//	  - w_lat*min(latencySecs,5) - (degraded ? w_degrade : 0)
//	  - (atSoftLimit ? w_budget : 0)
func Score(in Inputs) float64 {
	w := in.Weights

	s := w.Capability * float64(capabilityFor(in.Model, in.TaskType))
	s -= w.Cost * in.Model.CostWeight
	s += w.Reliability * in.Health.RollingSuccessRate

	lat := in.LatencySecs
	if lat > 5 {
		lat = 5
	}
	s -= w.Latency * lat

	if in.Health.DegradedUntil > in.NowMs {
		s -= w.Degrade
	}
	if in.Budget.AtSoftLimit() {
		s -= w.Budget
	}
	return s
}

func capabilityFor(m router.Model, t router.TaskType) int {
	if m.Capability == nil {
		return 0
	}
	return m.Capability[t]
}

// NowMs returns the current time as epoch milliseconds, a small helper so
// callers don't need to import time solely for this conversion.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
