package orbit

import "math"

// Elements are classical orbital elements. Angles are in degrees.
type Elements struct {
	SemiMajorKm    float64 `json:"semi_major_km"`
	Eccentricity   float64 `json:"eccentricity"`
	InclinationDeg float64 `json:"inclination_deg"`
	RAANDeg        float64 `json:"raan_deg"`
	ArgPerigeeDeg  float64 `json:"arg_perigee_deg"`
	MeanAnomalyDeg float64 `json:"mean_anomaly_deg"`
}

// Normalized returns a copy with a and e clamped to their valid ranges,
// inclination clamped to [0, 180] and the remaining angles wrapped to [0, 360).
func (e Elements) Normalized() Elements {
	return Elements{
		SemiMajorKm:    ClampSemiMajor(e.SemiMajorKm),
		Eccentricity:   ClampEccentricity(e.Eccentricity),
		InclinationDeg: math.Max(0, math.Min(180, e.InclinationDeg)),
		RAANDeg:        WrapDeg(e.RAANDeg),
		ArgPerigeeDeg:  WrapDeg(e.ArgPerigeeDeg),
		MeanAnomalyDeg: WrapDeg(e.MeanAnomalyDeg),
	}
}

// ResonanceSpec requests a repeating ground track: Rotations Earth rotations
// per Orbits revolutions. When enabled it overrides the semi-major axis.
type ResonanceSpec struct {
	Enabled   bool `json:"enabled"`
	Orbits    int  `json:"orbits"`
	Rotations int  `json:"rotations"`
}

// WrapDeg wraps an angle in degrees to [0, 360).
func WrapDeg(deg float64) float64 {
	w := math.Mod(deg, 360)
	if w < 0 {
		w += 360
	}
	if w >= 360 {
		w = 0
	}
	return w
}

func wrapRad(rad float64) float64 {
	w := math.Mod(rad, 2*math.Pi)
	if w < 0 {
		w += 2 * math.Pi
	}
	return w
}

// ClampSemiMajor limits a to [MinSemiMajorKm, MaxSemiMajorKm]. NaN passes through.
func ClampSemiMajor(a float64) float64 {
	if a < MinSemiMajorKm {
		return MinSemiMajorKm
	}
	if a > MaxSemiMajorKm {
		return MaxSemiMajorKm
	}
	return a
}

// ClampEccentricity limits e to [0, MaxEccentricity].
func ClampEccentricity(e float64) float64 {
	if e < 0 {
		return 0
	}
	if e > MaxEccentricity {
		return MaxEccentricity
	}
	return e
}

// MeanMotion returns n = √(μ/a³) in rad/s.
func MeanMotion(semiMajorKm float64) float64 {
	return math.Sqrt(MuEarth / (semiMajorKm * semiMajorKm * semiMajorKm))
}

// PeriodSec returns the Keplerian period for a semi-major axis in km.
func PeriodSec(semiMajorKm float64) float64 {
	return 2 * math.Pi / MeanMotion(semiMajorKm)
}

// SemiMajorForPeriod inverts Kepler's third law.
func SemiMajorForPeriod(periodSec float64) float64 {
	x := periodSec / (2 * math.Pi)
	return math.Cbrt(MuEarth * x * x)
}
