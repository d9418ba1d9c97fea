package orbit

import "math"

// SecularRates are the first-order J2 drift rates, all in rad/s.
type SecularRates struct {
	MeanMotion     float64
	RAANRate       float64
	ArgPerigeeRate float64
}

// J2Rates returns the secular RAAN and argument-of-perigee drift for the given
// semi-major axis (km), eccentricity and inclination (rad). Eccentricity and
// inclination are not drifted.
func J2Rates(semiMajorKm, ecc, incRad float64) SecularRates {
	n := MeanMotion(semiMajorKm)
	ra := EarthRadiusKm / semiMajorKm
	p2 := (1 - ecc*ecc) * (1 - ecc*ecc)
	cosI := math.Cos(incRad)
	factor := J2 * n * ra * ra / p2

	return SecularRates{
		MeanMotion:     n,
		RAANRate:       -1.5 * factor * cosI,
		ArgPerigeeRate: 0.75 * factor * (5*cosI*cosI - 1),
	}
}
