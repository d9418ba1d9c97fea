// Package resonance searches integer (rotations, orbits) pairs for orbits whose
// ground track repeats: j Earth rotations every k revolutions.
package resonance

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/metrics"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
)

const (
	minBound = 1
	maxBound = 500

	// yieldEvery is how many pairs Search evaluates between scheduler yields
	// and cancellation checks.
	yieldEvery = 10000
)

// Query bounds the search. Each bound is clamped to [1, 500]; a max below its
// min is raised to the min. A negative tolerance matches nothing.
type Query struct {
	TargetSemiMajorKm float64 `json:"target_semi_major_km"`
	ToleranceKm       float64 `json:"tolerance_km"`
	MinRotations      int     `json:"min_rotations"`
	MaxRotations      int     `json:"max_rotations"`
	MinOrbits         int     `json:"min_orbits"`
	MaxOrbits         int     `json:"max_orbits"`
}

// Candidate is one resonance within tolerance of the target.
type Candidate struct {
	Rotations   int     `json:"j"`
	Orbits      int     `json:"k"`
	Ratio       float64 `json:"ratio"`
	PeriodSec   float64 `json:"period_sec"`
	SemiMajorKm float64 `json:"semi_major_km"`
	DeltaKm     float64 `json:"delta_km"`
}

// Normalized returns q with its bounds clamped and ordered.
func (q Query) Normalized() Query {
	q.MinRotations = clampBound(q.MinRotations)
	q.MaxRotations = max(clampBound(q.MaxRotations), q.MinRotations)
	q.MinOrbits = clampBound(q.MinOrbits)
	q.MaxOrbits = max(clampBound(q.MaxOrbits), q.MinOrbits)
	return q
}

// Pairs returns the number of (j, k) pairs the normalized query scans.
func (q Query) Pairs() int {
	n := q.Normalized()
	return (n.MaxRotations - n.MinRotations + 1) * (n.MaxOrbits - n.MinOrbits + 1)
}

func clampBound(v int) int {
	return min(maxBound, max(minBound, v))
}

// SearchAll scans every pair synchronously and returns the matches sorted by
// rotations, then orbits.
func SearchAll(q Query) []Candidate {
	out, _ := scan(context.Background(), q, false)
	return out
}

// Search is SearchAll for interactive callers: it yields the processor every
// few thousand pairs and stops early if ctx is cancelled, returning the
// matches found so far alongside ctx.Err().
func Search(ctx context.Context, q Query) ([]Candidate, error) {
	start := time.Now()
	out, err := scan(ctx, q, true)
	metrics.ObserveResonanceScan(time.Since(start), q.Pairs(), len(out))
	return out, err
}

func scan(ctx context.Context, q Query, yield bool) ([]Candidate, error) {
	q = q.Normalized()

	var out []Candidate
	var scanned int
	for j := q.MinRotations; j <= q.MaxRotations; j++ {
		for k := q.MinOrbits; k <= q.MaxOrbits; k++ {
			scanned++
			if yield && scanned%yieldEvery == 0 {
				if err := ctx.Err(); err != nil {
					sortCandidates(out)
					return out, err
				}
				runtime.Gosched()
			}

			period := float64(j) * orbit.SiderealDaySec / float64(k)
			a := orbit.SemiMajorForPeriod(period)
			delta := a - q.TargetSemiMajorKm
			if math.Abs(delta) > q.ToleranceKm {
				continue
			}
			out = append(out, Candidate{
				Rotations:   j,
				Orbits:      k,
				Ratio:       float64(j) / float64(k),
				PeriodSec:   period,
				SemiMajorKm: a,
				DeltaKm:     delta,
			})
		}
	}

	sortCandidates(out)
	return out, nil
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(a, b int) bool {
		if c[a].Rotations != c[b].Rotations {
			return c[a].Rotations < c[b].Rotations
		}
		return c[a].Orbits < c[b].Orbits
	})
}
