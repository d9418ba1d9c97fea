package optimize

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
)

var (
	near = groundtrack.Point{LatDeg: 0, LonDeg: 1}  // ~111 km from the origin
	far  = groundtrack.Point{LatDeg: 0, LonDeg: 90} // ~10000 km away
)

func TestEvaluate(t *testing.T) {
	timeline := []float64{0, 10, 20, 30, 40}
	tracks := [][]groundtrack.Point{
		{near, near, far, near, far},
		{far, far, far, far, far},
	}
	targets := []groundtrack.Point{
		{LatDeg: 0, LonDeg: 0},
		{LatDeg: 60, LonDeg: -120},
	}

	stats, score := Evaluate(tracks, targets, timeline, DefaultThresholdKm)

	// Visible at 0, 10, 30: gaps 10 and 20.
	if stats[0].MaxSec != 20 || stats[0].MeanSec != 15 || stats[0].Visible != 3 {
		t.Errorf("target 0 stats = %+v, want max 20 mean 15 visible 3", stats[0])
	}
	if !math.IsInf(stats[1].MaxSec, 1) || !math.IsInf(stats[1].MeanSec, 1) || stats[1].Reachable() {
		t.Errorf("target 1 stats = %+v, want unreachable", stats[1])
	}
	if score.Worst != 20 || score.Mean != 15 || score.Unreachable != 1 {
		t.Errorf("score = %+v, want worst 20 mean 15 unreachable 1", score)
	}
}

func TestEvaluateSecondSatelliteFillsGap(t *testing.T) {
	timeline := []float64{0, 10, 20, 30}
	tracks := [][]groundtrack.Point{
		{near, far, far, near},
		{far, far, near, far},
	}
	stats, score := Evaluate(tracks, []groundtrack.Point{{}}, timeline, DefaultThresholdKm)
	// Visible at 0, 20, 30.
	if stats[0].MaxSec != 20 || stats[0].MeanSec != 15 {
		t.Errorf("stats = %+v", stats[0])
	}
	if score.Unreachable != 0 {
		t.Errorf("unreachable = %d, want 0", score.Unreachable)
	}
}

func TestEvaluateDegenerate(t *testing.T) {
	timeline := []float64{0, 60, 120}
	target := []groundtrack.Point{{}}

	tests := []struct {
		name    string
		tracks  [][]groundtrack.Point
		targets []groundtrack.Point
		worst   float64
	}{
		{"no satellites", nil, target, math.Inf(1)},
		{"no targets", [][]groundtrack.Point{{near, near, near}}, nil, math.Inf(1)},
		{"single visible instant", [][]groundtrack.Point{{far, near, far}}, target, 0},
		{"always visible", [][]groundtrack.Point{{near, near, near}}, target, 60},
		{"short track", [][]groundtrack.Point{{near}}, target, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, score := Evaluate(tt.tracks, tt.targets, timeline, DefaultThresholdKm)
			if score.Worst != tt.worst && !(math.IsInf(tt.worst, 1) && math.IsInf(score.Worst, 1)) {
				t.Errorf("worst = %v, want %v", score.Worst, tt.worst)
			}
		})
	}
}

func TestThresholdIsGreatCircle(t *testing.T) {
	timeline := []float64{0}
	tracks := [][]groundtrack.Point{{near}}
	target := []groundtrack.Point{{}}

	if s, _ := Evaluate(tracks, target, timeline, 100); s[0].Reachable() {
		t.Error("111 km offset should be outside a 100 km threshold")
	}
	if s, _ := Evaluate(tracks, target, timeline, 120); !s[0].Reachable() {
		t.Error("111 km offset should be inside a 120 km threshold")
	}
}

func TestScoreBetter(t *testing.T) {
	inf := math.Inf(1)
	tests := []struct {
		name string
		a, b Score
		want bool
	}{
		{"smaller worst", Score{Worst: 10, Mean: 9}, Score{Worst: 20, Mean: 1}, true},
		{"larger worst", Score{Worst: 30}, Score{Worst: 20}, false},
		{"tie broken by mean", Score{Worst: 20, Mean: 5}, Score{Worst: 20, Mean: 6}, true},
		{"equal is not better", Score{Worst: 20, Mean: 5}, Score{Worst: 20, Mean: 5}, false},
		{"finite beats inf", Score{Worst: 1e6, Mean: 1e6}, Score{Worst: inf, Mean: inf}, true},
		{"inf never beats inf", Score{Worst: inf, Mean: inf}, Score{Worst: inf, Mean: inf}, false},
		{"nan never better", Score{Worst: math.NaN()}, Score{Worst: 10}, false},
		{"lost target not penalized", Score{Worst: 500, Mean: 500, Unreachable: 1}, Score{Worst: 2000, Mean: 1500}, true},
		{"regained target not rewarded", Score{Worst: 2000, Mean: 1500}, Score{Worst: 500, Mean: 500, Unreachable: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Better(tt.b); got != tt.want {
				t.Errorf("Better() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeline(t *testing.T) {
	got := Timeline(100, 5)
	want := []float64{0, 25, 50, 75, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Timeline(100, 5) = %v, want %v", got, want)
		}
	}
	if len(Timeline(100, 0)) != 0 || len(Timeline(100, 1)) != 1 {
		t.Error("degenerate timelines")
	}
}

func TestScoreJSONMapsInfToNull(t *testing.T) {
	data, err := json.Marshal(Score{Worst: math.Inf(1), Mean: math.Inf(1), Unreachable: 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(data), `{"worst_sec":null,"mean_sec":null,"unreachable":3}`; got != want {
		t.Errorf("json = %s, want %s", got, want)
	}

	data, err = json.Marshal([]RevisitStats{{MaxSec: 120, MeanSec: 60, Visible: 4}, {MaxSec: math.Inf(1), MeanSec: math.Inf(1)}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(data), `[{"max_sec":120,"mean_sec":60,"visible":4},{"max_sec":null,"mean_sec":null,"visible":0}]`; got != want {
		t.Errorf("json = %s, want %s", got, want)
	}
}
