package orbit

import (
	"fmt"
	"math"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/transform"
)

// Closure tolerances for snapping a resonant track shut.
const (
	maxResonanceDeltaKm   = 0.5
	maxClosureSurfaceKm   = 0.25
	maxClosureCartesianKm = 0.1
)

// WarningCode classifies a non-fatal propagation issue.
type WarningCode string

const (
	WarnResonanceOutOfBounds WarningCode = "resonance_out_of_bounds"
	WarnSubsurfacePerigee    WarningCode = "subsurface_perigee"
	WarnNonClosingTrack      WarningCode = "non_closing_track"
)

// Warning is attached to a Result when the input had to be clamped or the
// requested geometry could not be met. Computation still completes.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Config is the full input to Propagate.
type Config struct {
	Elements        Elements
	Resonance       ResonanceSpec
	SamplesPerOrbit float64
	Epoch           time.Time

	// OrbitCount overrides DefaultOrbitCount when > 0. It is ignored when a
	// resonance is enabled; the resonance orbit count is used instead.
	OrbitCount int

	// Timeline is reused as the time array when its length matches the
	// number of samples; otherwise a new slice is allocated.
	Timeline []float64

	// Kepler overrides DefaultKeplerOptions when Iterations > 0.
	Kepler KeplerOptions
}

// StateSample is the satellite state at T seconds after the epoch.
type StateSample struct {
	T            float64        `json:"t"`
	PositionECI  transform.Vec3 `json:"position_eci"`
	VelocityECI  transform.Vec3 `json:"velocity_eci"`
	PositionECEF transform.Vec3 `json:"position_ecef"`
	VelocityECEF transform.Vec3 `json:"velocity_ecef"`
	LatDeg       float64        `json:"lat_deg"`
	LonDeg       float64        `json:"lon_deg"`
	AltKm        float64        `json:"alt_km"`
	GMSTRad      float64        `json:"gmst_rad"`
}

// ResonanceDiagnostic reports how well a requested resonance was met.
type ResonanceDiagnostic struct {
	Requested            bool    `json:"requested"`
	RequestedSemiMajorKm float64 `json:"requested_semi_major_km"`
	AchievedSemiMajorKm  float64 `json:"achieved_semi_major_km"`
	DeltaKm              float64 `json:"delta_km"`

	// Achievable is true when the bounded semi-major axis is within 0.5 km
	// of the one the resonance asks for.
	Achievable bool `json:"achievable"`
	// Applied is Achievable with a ground track that also closes within
	// tolerance; only then is the last sample snapped onto the first.
	Applied    bool `json:"applied"`

	ClosureSurfaceKm   float64 `json:"closure_surface_km"`
	ClosureCartesianKm float64 `json:"closure_cartesian_km"`
}

// Result is the propagated time series for one set of elements.
type Result struct {
	SemiMajorKm float64             `json:"semi_major_km"`
	PeriodSec   float64             `json:"period_sec"`
	OrbitCount  int                 `json:"orbit_count"`
	Times       []float64           `json:"times"`
	Samples     []StateSample       `json:"samples"`
	GroundTrack []groundtrack.Point `json:"ground_track"`
	Resonance   ResonanceDiagnostic `json:"resonance"`
	Warnings    []Warning           `json:"warnings,omitempty"`
}

// Segments splits the ground track at antimeridian crossings.
func (r Result) Segments() []groundtrack.Segment {
	return groundtrack.Split(r.GroundTrack)
}

// Propagate samples the orbit over its horizon (the resonance orbit count when
// a resonance is enabled, DefaultOrbitCount otherwise). It never fails:
// out-of-range inputs are clamped and reported as warnings, and non-finite
// values propagate through the output.
func Propagate(cfg Config) Result {
	el := cfg.Elements
	ecc := ClampEccentricity(el.Eccentricity)
	a := el.SemiMajorKm

	var res Result
	orbitCount := DefaultOrbitCount
	if cfg.OrbitCount > 0 {
		orbitCount = cfg.OrbitCount
	}

	if cfg.Resonance.Enabled {
		orbits := max(1, cfg.Resonance.Orbits)
		rotations := max(1, cfg.Resonance.Rotations)
		orbitCount = orbits

		requested := SemiMajorForPeriod(float64(rotations) / float64(orbits) * SiderealDaySec)
		achieved := ClampSemiMajor(requested)
		if achieved != requested {
			res.Warnings = append(res.Warnings, Warning{
				Code: WarnResonanceOutOfBounds,
				Message: fmt.Sprintf("resonance %d:%d needs a=%.1f km, outside [%.1f, %.1f]; clamped to %.1f km",
					rotations, orbits, requested, MinSemiMajorKm, MaxSemiMajorKm, achieved),
			})
		}
		if perigeeAlt := achieved*(1-ecc) - EarthRadiusKm; perigeeAlt <= 0 {
			res.Warnings = append(res.Warnings, Warning{
				Code:    WarnSubsurfacePerigee,
				Message: fmt.Sprintf("perigee altitude %.1f km is below the surface", perigeeAlt),
			})
		}

		delta := achieved - requested
		res.Resonance = ResonanceDiagnostic{
			Requested:            true,
			RequestedSemiMajorKm: requested,
			AchievedSemiMajorKm:  achieved,
			DeltaKm:              delta,
			Achievable:           math.Abs(delta) <= maxResonanceDeltaKm,
		}
		a = achieved
	}

	a = ClampSemiMajor(a)
	res.SemiMajorKm = a
	res.OrbitCount = orbitCount

	rates := J2Rates(a, ecc, el.InclinationDeg*math.Pi/180)
	res.PeriodSec = 2 * math.Pi / rates.MeanMotion

	totalSamples := max(2, int(math.Round(cfg.SamplesPerOrbit*float64(orbitCount))))
	dt := res.PeriodSec * float64(orbitCount) / float64(totalSamples-1)

	times := cfg.Timeline
	if len(times) != totalSamples {
		times = make([]float64, totalSamples)
	}

	smp := newSampler(el, a, ecc, rates, cfg.Epoch, cfg.Kepler)
	samples := make([]StateSample, totalSamples)
	track := make([]groundtrack.Point, totalSamples)

	for i := range samples {
		t := float64(i) * dt
		times[i] = t
		samples[i] = smp.at(t)
		track[i] = groundtrack.Point{LatDeg: samples[i].LatDeg, LonDeg: samples[i].LonDeg}
	}

	res.Times = times
	res.Samples = samples
	res.GroundTrack = track

	if res.Resonance.Requested {
		closeResonantTrack(&res)
	}
	return res
}

// SampleAt evaluates el at caller-chosen offsets from epoch, with the same
// clamping and J2 drift as Propagate but no resonance handling. It is the
// entry point for batch work that needs many satellites on one timeline.
func SampleAt(el Elements, epoch time.Time, times []float64, kepler KeplerOptions) []StateSample {
	ecc := ClampEccentricity(el.Eccentricity)
	a := ClampSemiMajor(el.SemiMajorKm)
	smp := newSampler(el, a, ecc, J2Rates(a, ecc, el.InclinationDeg*math.Pi/180), epoch, kepler)

	out := make([]StateSample, len(times))
	for i, t := range times {
		out[i] = smp.at(t)
	}
	return out
}

// sampler holds the per-orbit quantities shared by every instant.
type sampler struct {
	a, ecc            float64
	incRad            float64
	raan0, argp0, m0  float64
	sqrt1me2, sqrtMuA float64
	rates             SecularRates
	epoch             time.Time
	kepler            KeplerOptions
}

func newSampler(el Elements, a, ecc float64, rates SecularRates, epoch time.Time, kepler KeplerOptions) sampler {
	if kepler.Iterations <= 0 {
		kepler = DefaultKeplerOptions
	}
	return sampler{
		a:        a,
		ecc:      ecc,
		incRad:   el.InclinationDeg * math.Pi / 180,
		raan0:    el.RAANDeg * math.Pi / 180,
		argp0:    el.ArgPerigeeDeg * math.Pi / 180,
		m0:       el.MeanAnomalyDeg * math.Pi / 180,
		sqrt1me2: math.Sqrt(1 - ecc*ecc),
		sqrtMuA:  math.Sqrt(MuEarth * a),
		rates:    rates,
		epoch:    epoch,
		kepler:   kepler,
	}
}

// at returns the state t seconds after the epoch.
func (s sampler) at(t float64) StateSample {
	raan := s.raan0 + t*s.rates.RAANRate
	argp := s.argp0 + t*s.rates.ArgPerigeeRate
	M := wrapRad(s.m0 + s.rates.MeanMotion*t)
	E := SolveKeplerWith(M, s.ecc, s.kepler)

	sinE, cosE := math.Sincos(E)
	radius := s.a * (1 - s.ecc*cosE)
	rPQW := transform.Vec3{s.a * (cosE - s.ecc), s.a * s.sqrt1me2 * sinE, 0}
	vPQW := transform.Vec3{-s.sqrtMuA / radius * sinE, s.sqrtMuA / radius * s.sqrt1me2 * cosE, 0}

	rot := transform.PerifocalBasis(s.incRad, raan, argp)
	rECI := rot.Apply(rPQW)
	vECI := rot.Apply(vPQW)

	gmst := transform.GMSTAt(s.epoch, t)
	rECEF, vECEF := transform.ECIToECEF(rECI, vECI, gmst)
	geo := transform.ECEFToGeodetic(rECEF)

	return StateSample{
		T:            t,
		PositionECI:  rECI,
		VelocityECI:  vECI,
		PositionECEF: rECEF,
		VelocityECEF: vECEF,
		LatDeg:       geo.LatDeg,
		LonDeg:       geo.LonDeg,
		AltKm:        geo.AltKm,
		GMSTRad:      gmst,
	}
}

// closeResonantTrack measures the gap between the first and last samples and,
// when the resonance is achievable and the gap is within tolerance, snaps the
// last sample onto the first so the rendered track is closed.
func closeResonantTrack(res *Result) {
	first := res.Samples[0]
	last := res.Samples[len(res.Samples)-1]

	diag := &res.Resonance
	diag.ClosureSurfaceKm = transform.GreatCircleKm(first.LatDeg, first.LonDeg, last.LatDeg, last.LonDeg)
	diag.ClosureCartesianKm = last.PositionECEF.Sub(first.PositionECEF).Norm()

	closes := diag.ClosureSurfaceKm <= maxClosureSurfaceKm && diag.ClosureCartesianKm <= maxClosureCartesianKm
	if !diag.Achievable {
		return
	}
	if !closes {
		res.Warnings = append(res.Warnings, Warning{
			Code: WarnNonClosingTrack,
			Message: fmt.Sprintf("ground track does not close: surface gap %.3f km, cartesian gap %.3f km",
				diag.ClosureSurfaceKm, diag.ClosureCartesianKm),
		})
		return
	}

	diag.Applied = true
	snapped := first
	snapped.T = last.T
	res.Samples[len(res.Samples)-1] = snapped
	res.GroundTrack[len(res.GroundTrack)-1] = res.GroundTrack[0]
}
