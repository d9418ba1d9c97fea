package optimize

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/transform"
)

// RevisitStats summarizes the gaps between consecutive visible instants for
// one target. An unreachable target has +Inf for both statistics.
type RevisitStats struct {
	MaxSec  float64 `json:"max_sec"`
	MeanSec float64 `json:"mean_sec"`
	Visible int     `json:"visible"`
}

// Reachable reports whether any satellite ever saw the target.
func (r RevisitStats) Reachable() bool { return r.Visible > 0 }

// Score aggregates per-target stats. Worst is the largest max gap over the
// reachable targets and Mean the average of their mean gaps. Both are +Inf
// only when no target is reachable.
type Score struct {
	Worst       float64 `json:"worst_sec"`
	Mean        float64 `json:"mean_sec"`
	Unreachable int     `json:"unreachable"`
}

// Better reports whether s strictly improves on o: a smaller worst gap, or an
// equal worst gap with a smaller mean.
//
// Worst and Mean aggregate reachable targets only, and Unreachable is not
// compared. A candidate that loses sight of a target is therefore accepted
// when the targets it still sees do better; callers that must keep coverage
// check Unreachable on the result. Only an all-unreachable score (+Inf) is
// never preferred over a finite one.
func (s Score) Better(o Score) bool {
	if s.Worst != o.Worst {
		return s.Worst < o.Worst
	}
	return s.Mean < o.Mean
}

// Evaluate scores per-satellite ground tracks sampled on timeline against the
// targets. A target is visible at an instant when any satellite's sub-point
// lies within thresholdKm great-circle distance.
func Evaluate(tracks [][]groundtrack.Point, targets []groundtrack.Point, timeline []float64, thresholdKm float64) ([]RevisitStats, Score) {
	stats := make([]RevisitStats, len(targets))
	for i, target := range targets {
		stats[i] = revisit(tracks, target, timeline, thresholdKm)
	}
	return stats, aggregate(stats)
}

func revisit(tracks [][]groundtrack.Point, target groundtrack.Point, timeline []float64, thresholdKm float64) RevisitStats {
	var visible []float64
	for i, t := range timeline {
		if seenAt(tracks, target, i, thresholdKm) {
			visible = append(visible, t)
		}
	}

	switch len(visible) {
	case 0:
		return RevisitStats{MaxSec: math.Inf(1), MeanSec: math.Inf(1)}
	case 1:
		return RevisitStats{Visible: 1}
	}

	gaps := make([]float64, len(visible)-1)
	floats.SubTo(gaps, visible[1:], visible[:len(visible)-1])
	return RevisitStats{
		MaxSec:  floats.Max(gaps),
		MeanSec: stat.Mean(gaps, nil),
		Visible: len(visible),
	}
}

func seenAt(tracks [][]groundtrack.Point, target groundtrack.Point, i int, thresholdKm float64) bool {
	for _, track := range tracks {
		if i >= len(track) {
			continue
		}
		p := track[i]
		if transform.GreatCircleKm(target.LatDeg, target.LonDeg, p.LatDeg, p.LonDeg) <= thresholdKm {
			return true
		}
	}
	return false
}

func aggregate(stats []RevisitStats) Score {
	var maxes, means []float64
	for _, s := range stats {
		if !s.Reachable() {
			continue
		}
		maxes = append(maxes, s.MaxSec)
		means = append(means, s.MeanSec)
	}

	score := Score{Unreachable: len(stats) - len(maxes)}
	if len(maxes) == 0 {
		score.Worst = math.Inf(1)
		score.Mean = math.Inf(1)
		return score
	}
	score.Worst = floats.Max(maxes)
	score.Mean = stat.Mean(means, nil)
	return score
}

// finite maps non-finite values to nil so they encode as JSON null.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// MarshalJSON encodes unreachable (+Inf) statistics as null.
func (r RevisitStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MaxSec  *float64 `json:"max_sec"`
		MeanSec *float64 `json:"mean_sec"`
		Visible int      `json:"visible"`
	}{finite(r.MaxSec), finite(r.MeanSec), r.Visible})
}

// MarshalJSON encodes an all-unreachable (+Inf) score as null.
func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Worst       *float64 `json:"worst_sec"`
		Mean        *float64 `json:"mean_sec"`
		Unreachable int      `json:"unreachable"`
	}{finite(s.Worst), finite(s.Mean), s.Unreachable})
}
