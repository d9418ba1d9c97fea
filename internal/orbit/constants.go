// Package orbit propagates Keplerian orbits with first-order J2 secular drift
// and derives the ECI/ECEF state and ground track of a single satellite.
package orbit

import "github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/transform"

// Physical constants shared by the propagator and the resonance search.
const (
	MuEarth        = 398600.4418 // km³/s²
	J2             = 1.08263e-3
	SiderealDaySec = 86164.0905
	EarthRadiusKm  = transform.EarthRadiusKm
)

// Bounds applied to every semi-major axis the propagator accepts.
const (
	MinSemiMajorKm  = EarthRadiusKm + 160
	MaxSemiMajorKm  = EarthRadiusKm + 35786
	MaxEccentricity = 0.99
)

// DefaultOrbitCount is the sampling horizon, in orbits, when no resonance is requested.
const DefaultOrbitCount = 3
