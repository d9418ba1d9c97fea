// Package transform provides the coordinate frame transformations used by the
// propagator: perifocal to ECI, ECI to ECEF, and ECEF to geodetic.
//
// Earth is modelled as a sphere of radius EarthRadiusKm. Geodetic latitude is
// therefore the geocentric latitude; there is no ellipsoid correction.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// OmegaEarth is Earth's rotation rate in rad/s.
const OmegaEarth = 7.2921150e-5

// EarthRadiusKm is the equatorial radius used for the spherical Earth model.
const EarthRadiusKm = 6378.137

// Vec3 is a Cartesian vector (km or km/s).
type Vec3 [3]float64

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return floats.Norm(v[:], 2)
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Dot returns the scalar product of v and w.
func (v Vec3) Dot(w Vec3) float64 {
	return floats.Dot(v[:], w[:])
}

// Rotation is a row-major 3×3 rotation matrix applied without allocation.
type Rotation [3][3]float64

// Apply returns m·v.
func (m *Rotation) Apply(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// PerifocalBasis returns the 3-1-3 rotation R3(-Ω)·R1(-i)·R3(-ω) taking
// perifocal (PQW) vectors to ECI. Angles are in radians. Build it once and
// Apply it to both position and velocity of the same instant.
func PerifocalBasis(incRad, raanRad, argPerigeeRad float64) Rotation {
	sΩ, cΩ := math.Sincos(raanRad)
	si, ci := math.Sincos(incRad)
	sω, cω := math.Sincos(argPerigeeRad)
	return Rotation{
		{cΩ*cω - sΩ*sω*ci, -cΩ*sω - sΩ*cω*ci, sΩ * si},
		{sΩ*cω + cΩ*sω*ci, -sΩ*sω + cΩ*cω*ci, -cΩ * si},
		{sω * si, cω * si, ci},
	}
}

// PerifocalRotation is PerifocalBasis as a gonum matrix.
func PerifocalRotation(incRad, raanRad, argPerigeeRad float64) *mat.Dense {
	b := PerifocalBasis(incRad, raanRad, argPerigeeRad)
	return mat.NewDense(3, 3, []float64{
		b[0][0], b[0][1], b[0][2],
		b[1][0], b[1][1], b[1][2],
		b[2][0], b[2][1], b[2][2],
	})
}

// PerifocalToECI rotates a perifocal vector into the ECI frame.
func PerifocalToECI(r Vec3, incRad, raanRad, argPerigeeRad float64) Vec3 {
	b := PerifocalBasis(incRad, raanRad, argPerigeeRad)
	return b.Apply(r)
}

// ECIToPerifocal is the inverse of PerifocalToECI (the rotation is orthonormal,
// so the transpose is used).
func ECIToPerifocal(r Vec3, incRad, raanRad, argPerigeeRad float64) Vec3 {
	return mulVec(PerifocalRotation(incRad, raanRad, argPerigeeRad).T(), r)
}

func mulVec(m mat.Matrix, v Vec3) Vec3 {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v[0], v[1], v[2]}))
	return Vec3{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// ECIToECEF rotates an ECI position/velocity into ECEF using the GMST angle
// (radians).
//
// Position transform: r_ECEF = R3(θ) * r_ECI
// Velocity transform: v_ECEF = R3(θ) * v_ECI - ω × r_ECEF
//
// where ω = [0, 0, OmegaEarth].
func ECIToECEF(r, v Vec3, gmst float64) (Vec3, Vec3) {
	sinG, cosG := math.Sincos(gmst)

	x := r[0]*cosG + r[1]*sinG
	y := -r[0]*sinG + r[1]*cosG
	z := r[2]

	// ω × r_ECEF = [-ω*y, ω*x, 0]
	vx := v[0]*cosG + v[1]*sinG + OmegaEarth*y
	vy := -v[0]*sinG + v[1]*cosG - OmegaEarth*x
	vz := v[2]

	return Vec3{x, y, z}, Vec3{vx, vy, vz}
}
