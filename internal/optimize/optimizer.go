// Package optimize tunes a constellation design to shorten the worst revisit
// gap over a set of ground targets.
//
// The search is greedy: each round perturbs every satellite's RAAN and mean
// anomaly with uniform noise whose width anneals linearly from 5° to 0.1°,
// and the candidate replaces the incumbent only on strict improvement. It
// runs for a fixed number of rounds and can stall in a local optimum.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/constellation"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/metrics"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
)

const (
	// DefaultThresholdKm is the great-circle radius within which a target
	// counts as seen.
	DefaultThresholdKm = 500.0
	DefaultRounds      = 40

	maxSigmaDeg = 5.0
	minSigmaDeg = 0.1
)

// Problem is what the optimizer scores a design against.
type Problem struct {
	Targets     []groundtrack.Point `json:"targets"`
	Timeline    []float64           `json:"timeline"`
	ThresholdKm float64             `json:"threshold_km"`
	Rounds      int                 `json:"rounds"`
}

func (p Problem) withDefaults() Problem {
	if p.ThresholdKm <= 0 {
		p.ThresholdKm = DefaultThresholdKm
	}
	if p.Rounds <= 0 {
		p.Rounds = DefaultRounds
	}
	return p
}

// Round describes one finished round. Design is the incumbent after the
// round and must not be modified.
type Round struct {
	Index     int                  `json:"round"`
	Total     int                  `json:"total"`
	SigmaDeg  float64              `json:"sigma_deg"`
	Candidate Score                `json:"candidate"`
	Best      Score                `json:"best"`
	Accepted  bool                 `json:"accepted"`
	Design    constellation.Design `json:"-"`
}

// Result is the best design found and its scores.
type Result struct {
	Design   constellation.Design `json:"design"`
	Score    Score                `json:"score"`
	Stats    []RevisitStats       `json:"stats"`
	Initial  Score                `json:"initial"`
	Rounds   int                  `json:"rounds"`
	Accepted int                  `json:"accepted"`
}

// Optimizer runs the greedy search. It is not safe for concurrent Run calls
// because the random source is shared.
type Optimizer struct {
	factory PositionsFactory
	rng     *rand.Rand
	logger  *slog.Logger

	// OnRound, when set, is called on the Run goroutine after every round.
	OnRound func(Round)
}

// New creates an optimizer. A nil rng is replaced by a time-seeded source.
func New(factory PositionsFactory, rng *rand.Rand, logger *slog.Logger) *Optimizer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Optimizer{
		factory: factory,
		rng:     rng,
		logger:  logger,
	}
}

// Sigma returns the perturbation half-width in degrees for round (0-based)
// out of total.
func Sigma(round, total int) float64 {
	if total <= 0 {
		return minSigmaDeg
	}
	return math.Max(minSigmaDeg, maxSigmaDeg*(1-float64(round)/float64(total)))
}

// Run optimizes initial against problem. Cancellation is checked once before
// each round; a round in flight always finishes, and a cancelled run returns
// the best design so far together with ctx.Err().
func (o *Optimizer) Run(ctx context.Context, initial constellation.Design, problem Problem) (Result, error) {
	problem = problem.withDefaults()
	start := time.Now()

	// Rounds finish regardless of cancellation; only the loop below observes ctx.
	roundCtx := context.WithoutCancel(ctx)

	best := initial.Clone()
	bestStats, bestScore, err := o.evaluate(roundCtx, best, problem)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate initial design: %w", err)
	}
	res := Result{Initial: bestScore}
	metrics.SetOptimizerBestScore(bestScore.Worst)

	for round := 0; round < problem.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			o.logger.Info("optimizer cancelled",
				"rounds", res.Rounds,
				"best_worst_sec", bestScore.Worst,
			)
			res.Design, res.Score, res.Stats = best, bestScore, bestStats
			return res, err
		}

		sigma := Sigma(round, problem.Rounds)
		candidate := o.perturb(best, sigma)
		stats, score, err := o.evaluate(roundCtx, candidate, problem)
		if err != nil {
			res.Design, res.Score, res.Stats = best, bestScore, bestStats
			return res, fmt.Errorf("round %d: %w", round, err)
		}

		accepted := score.Better(bestScore)
		if accepted {
			best, bestStats, bestScore = candidate, stats, score
			res.Accepted++
			metrics.SetOptimizerBestScore(bestScore.Worst)
		}
		res.Rounds++
		metrics.RecordOptimizerRound(accepted)

		o.logger.Debug("optimizer round",
			"round", round,
			"sigma_deg", sigma,
			"candidate_worst_sec", score.Worst,
			"best_worst_sec", bestScore.Worst,
			"accepted", accepted,
		)
		if o.OnRound != nil {
			o.OnRound(Round{
				Index:     round,
				Total:     problem.Rounds,
				SigmaDeg:  sigma,
				Candidate: score,
				Best:      bestScore,
				Accepted:  accepted,
				Design:    best,
			})
		}
	}

	o.logger.Info("optimizer finished",
		"satellites", len(best),
		"targets", len(problem.Targets),
		"rounds", res.Rounds,
		"accepted", res.Accepted,
		"initial_worst_sec", res.Initial.Worst,
		"best_worst_sec", bestScore.Worst,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	res.Design, res.Score, res.Stats = best, bestScore, bestStats
	return res, nil
}

func (o *Optimizer) evaluate(ctx context.Context, d constellation.Design, p Problem) ([]RevisitStats, Score, error) {
	tracks, err := o.factory.Positions(ctx, d, p.Timeline)
	if err != nil {
		return nil, Score{}, err
	}
	stats, score := Evaluate(tracks, p.Targets, p.Timeline, p.ThresholdKm)
	return stats, score, nil
}

// perturb returns a copy of d with every RAAN and mean anomaly shifted by
// independent uniform noise in [-sigma, sigma] degrees.
func (o *Optimizer) perturb(d constellation.Design, sigma float64) constellation.Design {
	out := d.Clone()
	for i := range out {
		out[i].RAANDeg = orbit.WrapDeg(out[i].RAANDeg + o.noise(sigma))
		out[i].MeanAnomalyDeg = orbit.WrapDeg(out[i].MeanAnomalyDeg + o.noise(sigma))
	}
	return out
}

func (o *Optimizer) noise(sigma float64) float64 {
	return (2*o.rng.Float64() - 1) * sigma
}
