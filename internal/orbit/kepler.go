package orbit

import "math"

// KeplerOptions controls the fixed-cost Newton–Raphson solve of Kepler's
// equation. There is no convergence test: exactly Iterations steps are taken.
type KeplerOptions struct {
	Iterations int
	// HighEccentricitySeed is the eccentricity above which iteration starts
	// from E₀ = π instead of E₀ = M.
	HighEccentricitySeed float64
}

// DefaultKeplerOptions is 20 iterations, seeding from π when e > 0.8.
var DefaultKeplerOptions = KeplerOptions{Iterations: 20, HighEccentricitySeed: 0.8}

// SolveKepler returns the eccentric anomaly E (rad) satisfying
// M = E - e·sin(E), using DefaultKeplerOptions. The caller clamps e to [0, 1).
func SolveKepler(meanAnomaly, ecc float64) float64 {
	return SolveKeplerWith(meanAnomaly, ecc, DefaultKeplerOptions)
}

// SolveKeplerWith is SolveKepler with explicit iteration settings.
func SolveKeplerWith(meanAnomaly, ecc float64, opts KeplerOptions) float64 {
	E := meanAnomaly
	if ecc > opts.HighEccentricitySeed {
		E = math.Pi
	}
	for i := 0; i < opts.Iterations; i++ {
		E -= (E - ecc*math.Sin(E) - meanAnomaly) / (1 - ecc*math.Cos(E))
	}
	return E
}
