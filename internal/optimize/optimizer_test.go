package optimize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/constellation"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
)

var (
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	testEpoch  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func testProblem(rounds int) (constellation.Design, Problem) {
	design := constellation.Walker(constellation.WalkerParams{
		Total: 6, Planes: 3, Phasing: 1, SemiMajorKm: 7000, InclinationDeg: 55,
	})
	return design, Problem{
		Targets: []groundtrack.Point{
			{LatDeg: 48.1, LonDeg: 11.6},
			{LatDeg: 40.4, LonDeg: -3.7},
			{LatDeg: 28.3, LonDeg: -16.5},
		},
		Timeline:    Timeline(6*3600, 361),
		ThresholdKm: 1500,
		Rounds:      rounds,
	}
}

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestSigmaSchedule(t *testing.T) {
	tests := []struct {
		round, total int
		want         float64
	}{
		{0, 10, 5},
		{5, 10, 2.5},
		{9, 10, 0.5},
		{10, 10, 0.1},
		{99, 100, 0.1},
		{0, 0, 0.1},
	}
	for _, tt := range tests {
		if got := Sigma(tt.round, tt.total); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Sigma(%d, %d) = %v, want %v", tt.round, tt.total, got, tt.want)
		}
	}
}

func TestRunMonotonic(t *testing.T) {
	design, problem := testProblem(12)

	opt := New(InProcessFactory{Epoch: testEpoch}, seeded(), testLogger)
	var rounds []Round
	opt.OnRound = func(r Round) { rounds = append(rounds, r) }

	res, err := opt.Run(context.Background(), design, problem)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rounds) != 12 || res.Rounds != 12 {
		t.Fatalf("ran %d rounds (result says %d), want 12", len(rounds), res.Rounds)
	}

	prev := res.Initial
	accepted := 0
	for _, r := range rounds {
		if prev.Better(r.Best) {
			t.Errorf("round %d: best %+v regressed from %+v", r.Index, r.Best, prev)
		}
		if r.Best.Worst > prev.Worst {
			t.Errorf("round %d: worst gap rose %v -> %v", r.Index, prev.Worst, r.Best.Worst)
		}
		if r.Accepted {
			accepted++
			if !r.Candidate.Better(prev) {
				t.Errorf("round %d accepted a non-improving candidate", r.Index)
			}
		} else if r.Best != prev {
			t.Errorf("round %d rejected but best changed", r.Index)
		}
		prev = r.Best
	}
	if accepted != res.Accepted {
		t.Errorf("accepted = %d, result says %d", accepted, res.Accepted)
	}
	if res.Score != prev {
		t.Errorf("result score %+v != last round best %+v", res.Score, prev)
	}
	if len(res.Design) != len(design) || len(res.Stats) != len(problem.Targets) {
		t.Errorf("result shape: %d sats, %d stats", len(res.Design), len(res.Stats))
	}
}

func TestRunDeterministic(t *testing.T) {
	design, problem := testProblem(5)

	a, err := New(InProcessFactory{Epoch: testEpoch}, seeded(), testLogger).Run(context.Background(), design, problem)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(InProcessFactory{Epoch: testEpoch}, seeded(), testLogger).Run(context.Background(), design, problem)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Design {
		if a.Design[i] != b.Design[i] {
			t.Fatalf("satellite %d differs between seeded runs", i)
		}
	}
}

func TestRunDoesNotMutateInitial(t *testing.T) {
	design, problem := testProblem(3)
	orig := design.Clone()
	if _, err := New(InProcessFactory{Epoch: testEpoch}, seeded(), testLogger).Run(context.Background(), design, problem); err != nil {
		t.Fatal(err)
	}
	for i := range design {
		if design[i] != orig[i] {
			t.Fatalf("initial design satellite %d was modified", i)
		}
	}
}

func TestRunPerturbationBounded(t *testing.T) {
	design, problem := testProblem(1)
	opt := New(InProcessFactory{Epoch: testEpoch}, seeded(), testLogger)

	cand := opt.perturb(design, Sigma(0, problem.Rounds))
	for i := range cand {
		for _, d := range []float64{
			angleDiff(cand[i].RAANDeg, design[i].RAANDeg),
			angleDiff(cand[i].MeanAnomalyDeg, design[i].MeanAnomalyDeg),
		} {
			if d > 5 {
				t.Errorf("satellite %d moved %.3f°, more than sigma", i, d)
			}
		}
		if cand[i].SemiMajorKm != design[i].SemiMajorKm || cand[i].InclinationDeg != design[i].InclinationDeg {
			t.Errorf("satellite %d shape changed", i)
		}
	}
}

func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}

func TestRunCancelledBetweenRounds(t *testing.T) {
	design, problem := testProblem(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opt := New(InProcessFactory{Epoch: testEpoch}, seeded(), testLogger)
	opt.OnRound = func(r Round) {
		if r.Index == 2 {
			cancel()
		}
	}

	res, err := opt.Run(ctx, design, problem)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The round that observed the cancel completes; no further rounds start.
	if res.Rounds != 3 {
		t.Errorf("completed %d rounds, want 3", res.Rounds)
	}
	if len(res.Design) != len(design) {
		t.Errorf("cancelled run should still return the incumbent")
	}
}

func TestRunZeroSatellites(t *testing.T) {
	_, problem := testProblem(3)
	res, err := New(InProcessFactory{}, seeded(), testLogger).Run(context.Background(), nil, problem)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !math.IsInf(res.Score.Worst, 1) || res.Accepted != 0 {
		t.Errorf("score = %+v accepted = %d, want +Inf and no acceptances", res.Score, res.Accepted)
	}
}

type failingFactory struct{ err error }

func (f failingFactory) Positions(context.Context, constellation.Design, []float64) ([][]groundtrack.Point, error) {
	return nil, f.err
}

func TestRunFactoryError(t *testing.T) {
	design, problem := testProblem(3)
	boom := errors.New("boom")
	_, err := New(failingFactory{boom}, seeded(), testLogger).Run(context.Background(), design, problem)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
