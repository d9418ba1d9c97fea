// Package constellation generates Walker-Delta satellite constellations.
package constellation

import (
	"math"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
)

// Design is a set of satellites sharing a propagation setup.
type Design []orbit.Elements

// Clone returns a deep copy of d.
func (d Design) Clone() Design {
	out := make(Design, len(d))
	copy(out, d)
	return out
}

// WalkerParams describes a Walker-Delta pattern T/P/F with shared orbit shape.
type WalkerParams struct {
	Total          int     `json:"total"`
	Planes         int     `json:"planes"`
	Phasing        int     `json:"phasing"`
	SemiMajorKm    float64 `json:"semi_major_km"`
	Eccentricity   float64 `json:"eccentricity"`
	InclinationDeg float64 `json:"inclination_deg"`
	ArgPerigeeDeg  float64 `json:"arg_perigee_deg"`
	RAANOffsetDeg  float64 `json:"raan_offset_deg"`
}

// Walker lays out round(T/P) satellites in each of P planes. Plane p sits at
// RAAN 360p/P plus the offset; satellite s in plane p has mean anomaly
// 360s/S + 360Fp/T. A non-positive plane or total count yields an empty design.
func Walker(p WalkerParams) Design {
	if p.Planes <= 0 || p.Total <= 0 {
		return Design{}
	}
	perPlane := int(math.Round(float64(p.Total) / float64(p.Planes)))
	if perPlane <= 0 {
		return Design{}
	}

	out := make(Design, 0, perPlane*p.Planes)
	for plane := 0; plane < p.Planes; plane++ {
		raan := orbit.WrapDeg(360*float64(plane)/float64(p.Planes) + p.RAANOffsetDeg)
		phase := 360 * float64(p.Phasing) * float64(plane) / float64(p.Total)
		for s := 0; s < perPlane; s++ {
			out = append(out, orbit.Elements{
				SemiMajorKm:    p.SemiMajorKm,
				Eccentricity:   p.Eccentricity,
				InclinationDeg: p.InclinationDeg,
				RAANDeg:        raan,
				ArgPerigeeDeg:  orbit.WrapDeg(p.ArgPerigeeDeg),
				MeanAnomalyDeg: orbit.WrapDeg(360*float64(s)/float64(perPlane) + phase),
			})
		}
	}
	return out
}
