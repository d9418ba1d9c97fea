package orbit

import (
	"math"
	"testing"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/transform"
)

var testEpoch = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

// TestPropagateLEOEndToEnd checks the one-orbit ISS-like case.
func TestPropagateLEOEndToEnd(t *testing.T) {
	res := Propagate(Config{
		Elements:        Elements{SemiMajorKm: 6771, InclinationDeg: 53},
		SamplesPerOrbit: 360,
		OrbitCount:      1,
		Epoch:           testEpoch,
	})

	// Kepler's third law: 2π·√(6771³/μ) ≈ 5544.9 s.
	if math.Abs(res.PeriodSec-5544.86) > 1 {
		t.Errorf("period = %.2f s, want ~5544.86 s", res.PeriodSec)
	}
	if len(res.Samples) != 360 || len(res.Times) != 360 || len(res.GroundTrack) != 360 {
		t.Fatalf("got %d samples, %d times, %d track points; want 360 each",
			len(res.Samples), len(res.Times), len(res.GroundTrack))
	}
	if got := res.Times[len(res.Times)-1]; math.Abs(got-res.PeriodSec) > 1e-6 {
		t.Errorf("last sample time = %.3f, want one period %.3f", got, res.PeriodSec)
	}

	for i, s := range res.Samples {
		if math.Abs(s.AltKm-(6771-EarthRadiusKm)) > 1e-6 {
			t.Fatalf("sample %d: altitude %.6f km, want circular %.3f", i, s.AltKm, 6771-EarthRadiusKm)
		}
		if math.Abs(s.LatDeg) > 53+1e-6 {
			t.Fatalf("sample %d: latitude %.3f exceeds inclination", i, s.LatDeg)
		}
	}

	// Earth turns ~23.2° east beneath the orbit in one period, so the track
	// ends west of where it started.
	first := res.GroundTrack[0]
	last := res.GroundTrack[len(res.GroundTrack)-1]
	dLon := math.Mod(last.LonDeg-first.LonDeg+540, 360) - 180
	wantShift := -res.PeriodSec * transform.OmegaEarth * 180 / math.Pi
	if dLon == 0 {
		t.Fatal("first and last longitudes are identical")
	}
	// J2 nodal regression adds a fraction of a degree on top.
	if math.Abs(dLon-wantShift) > 0.5 {
		t.Errorf("longitude shift = %.3f deg, want ~%.3f", dLon, wantShift)
	}
	if math.Abs(last.LatDeg-first.LatDeg) > 0.5 {
		t.Errorf("latitude after one period = %.4f, want ~%.4f", last.LatDeg, first.LatDeg)
	}
}

func TestPropagateDefaultHorizon(t *testing.T) {
	res := Propagate(Config{
		Elements:        Elements{SemiMajorKm: 7000, InclinationDeg: 30},
		SamplesPerOrbit: 100,
		Epoch:           testEpoch,
	})
	if res.OrbitCount != DefaultOrbitCount {
		t.Errorf("orbit count = %d, want %d", res.OrbitCount, DefaultOrbitCount)
	}
	if len(res.Samples) != 300 {
		t.Errorf("got %d samples, want 300", len(res.Samples))
	}
}

func TestPropagateMinimumTwoSamples(t *testing.T) {
	res := Propagate(Config{Elements: Elements{SemiMajorKm: 7000}, SamplesPerOrbit: 0, Epoch: testEpoch})
	if len(res.Samples) != 2 {
		t.Errorf("got %d samples, want 2", len(res.Samples))
	}
}

func TestPropagateStateConsistency(t *testing.T) {
	res := Propagate(Config{
		Elements: Elements{
			SemiMajorKm: 8000, Eccentricity: 0.1, InclinationDeg: 63.4,
			RAANDeg: 40, ArgPerigeeDeg: 270, MeanAnomalyDeg: 10,
		},
		SamplesPerOrbit: 90,
		Epoch:           testEpoch,
	})

	for i, s := range res.Samples {
		r := s.PositionECI.Norm()
		if r < 8000*0.9-1e-6 || r > 8000*1.1+1e-6 {
			t.Fatalf("sample %d: radius %.3f outside [perigee, apogee]", i, r)
		}
		// Vis-viva.
		v := s.VelocityECI.Norm()
		want := math.Sqrt(MuEarth * (2/r - 1/8000.0))
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("sample %d: speed %.9f, vis-viva %.9f", i, v, want)
		}
		if math.Abs(s.PositionECEF.Norm()-r) > 1e-9 {
			t.Fatalf("sample %d: ECEF radius differs from ECI radius", i)
		}
		if s.GMSTRad < 0 || s.GMSTRad >= 2*math.Pi {
			t.Fatalf("sample %d: gmst %.4f outside [0, 2π)", i, s.GMSTRad)
		}
	}
}

func TestPropagateTimelineReuse(t *testing.T) {
	cfg := Config{Elements: Elements{SemiMajorKm: 7000}, SamplesPerOrbit: 10, Epoch: testEpoch}

	buf := make([]float64, 30)
	cfg.Timeline = buf
	res := Propagate(cfg)
	if &res.Times[0] != &buf[0] {
		t.Error("timeline of matching length was not reused")
	}

	cfg.Timeline = make([]float64, 7)
	res = Propagate(cfg)
	if len(res.Times) != 30 {
		t.Errorf("timeline length = %d, want 30", len(res.Times))
	}
	if &res.Times[0] == &cfg.Timeline[0] {
		t.Error("timeline of wrong length was reused")
	}
}

func TestPropagateClampsSemiMajor(t *testing.T) {
	res := Propagate(Config{Elements: Elements{SemiMajorKm: 100}, SamplesPerOrbit: 10, Epoch: testEpoch})
	if res.SemiMajorKm != MinSemiMajorKm {
		t.Errorf("a = %v, want %v", res.SemiMajorKm, MinSemiMajorKm)
	}
}

func TestPropagateNonFiniteDoesNotPanic(t *testing.T) {
	res := Propagate(Config{Elements: Elements{SemiMajorKm: math.NaN()}, SamplesPerOrbit: 10, Epoch: testEpoch})
	if len(res.Samples) != 30 {
		t.Fatalf("got %d samples, want 30", len(res.Samples))
	}
	if !math.IsNaN(res.PeriodSec) {
		t.Errorf("period = %v, want NaN", res.PeriodSec)
	}
}

func TestPropagateResonanceGeosynchronous(t *testing.T) {
	res := Propagate(Config{
		Elements:        Elements{SemiMajorKm: 7000},
		Resonance:       ResonanceSpec{Enabled: true, Orbits: 1, Rotations: 1},
		SamplesPerOrbit: 360,
		Epoch:           testEpoch,
	})

	if math.Abs(res.SemiMajorKm-42164.17) > 0.1 {
		t.Errorf("a = %.3f, want ~42164.17", res.SemiMajorKm)
	}
	if math.Abs(res.PeriodSec-SiderealDaySec) > 1e-3 {
		t.Errorf("period = %.4f, want sidereal day", res.PeriodSec)
	}
	if res.OrbitCount != 1 {
		t.Errorf("orbit count = %d, want 1", res.OrbitCount)
	}
	diag := res.Resonance
	if !diag.Requested || !diag.Achievable {
		t.Errorf("diagnostic = %+v, want requested and achievable", diag)
	}
	if diag.Applied && (diag.ClosureSurfaceKm > 0.25 || diag.ClosureCartesianKm > 0.1) {
		t.Errorf("applied with loose closure: %+v", diag)
	}
	if !diag.Applied && !hasWarning(res, WarnNonClosingTrack) {
		t.Error("achievable resonance that did not close should warn")
	}
}

func TestPropagateResonanceOutOfBounds(t *testing.T) {
	res := Propagate(Config{
		Elements:        Elements{SemiMajorKm: 7000},
		Resonance:       ResonanceSpec{Enabled: true, Orbits: 40, Rotations: 1},
		SamplesPerOrbit: 4,
		Epoch:           testEpoch,
	})

	if !hasWarning(res, WarnResonanceOutOfBounds) {
		t.Errorf("warnings = %+v, want %s", res.Warnings, WarnResonanceOutOfBounds)
	}
	if res.SemiMajorKm != MinSemiMajorKm {
		t.Errorf("a = %v, want clamped %v", res.SemiMajorKm, MinSemiMajorKm)
	}
	if res.Resonance.Achievable || res.Resonance.Applied {
		t.Errorf("diagnostic = %+v, want not achievable", res.Resonance)
	}
}

func TestPropagateResonanceSubsurfacePerigee(t *testing.T) {
	res := Propagate(Config{
		Elements:        Elements{SemiMajorKm: 7000, Eccentricity: 0.9},
		Resonance:       ResonanceSpec{Enabled: true, Orbits: 15, Rotations: 1},
		SamplesPerOrbit: 4,
		Epoch:           testEpoch,
	})
	if !hasWarning(res, WarnSubsurfacePerigee) {
		t.Errorf("warnings = %+v, want %s", res.Warnings, WarnSubsurfacePerigee)
	}
}

func TestCloseResonantTrackSnaps(t *testing.T) {
	first := StateSample{T: 0, LatDeg: 10, LonDeg: 20, PositionECEF: transform.Vec3{7000, 0, 0}}
	last := StateSample{T: 100, LatDeg: 10, LonDeg: 20.0001, PositionECEF: transform.Vec3{7000.01, 0, 0}}
	res := Result{
		Samples:     []StateSample{first, {T: 50}, last},
		GroundTrack: []groundtrack.Point{{LatDeg: 10, LonDeg: 20}, {}, {LatDeg: 10, LonDeg: 20.0001}},
		Resonance:   ResonanceDiagnostic{Requested: true, Achievable: true},
	}

	closeResonantTrack(&res)

	if !res.Resonance.Applied {
		t.Fatalf("diagnostic = %+v, want applied", res.Resonance)
	}
	got := res.Samples[2]
	if got.PositionECEF != first.PositionECEF || got.LonDeg != first.LonDeg {
		t.Errorf("last sample not snapped: %+v", got)
	}
	if got.T != 100 {
		t.Errorf("snapped sample time = %v, want 100", got.T)
	}
	if res.GroundTrack[2] != res.GroundTrack[0] {
		t.Error("ground track end not snapped")
	}
}

func TestCloseResonantTrackLeavesWideGap(t *testing.T) {
	first := StateSample{LatDeg: 0, LonDeg: 0, PositionECEF: transform.Vec3{7000, 0, 0}}
	last := StateSample{T: 1, LatDeg: 0, LonDeg: 1, PositionECEF: transform.Vec3{6999, 122, 0}}
	res := Result{
		Samples:     []StateSample{first, last},
		GroundTrack: []groundtrack.Point{{}, {LonDeg: 1}},
		Resonance:   ResonanceDiagnostic{Requested: true, Achievable: true},
	}

	closeResonantTrack(&res)

	if res.Resonance.Applied {
		t.Error("wide gap should not be applied")
	}
	if res.Samples[1].LonDeg != 1 {
		t.Error("last sample modified despite wide gap")
	}
	if !hasWarning(res, WarnNonClosingTrack) {
		t.Error("expected non-closing warning")
	}
}

func TestResultSegments(t *testing.T) {
	res := Propagate(Config{
		Elements:        Elements{SemiMajorKm: 6900, InclinationDeg: 51.6},
		SamplesPerOrbit: 180,
		Epoch:           testEpoch,
	})
	segments := res.Segments()
	if len(segments) < 2 {
		t.Errorf("three LEO orbits produced %d segments, want at least 2", len(segments))
	}
	if n := len(groundtrack.Flatten(segments)); n != len(res.GroundTrack) {
		t.Errorf("segments hold %d points, want %d", n, len(res.GroundTrack))
	}
}

func hasWarning(res Result, code WarningCode) bool {
	for _, w := range res.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestSampleAtMatchesPropagate(t *testing.T) {
	cfg := Config{
		Elements:        Elements{SemiMajorKm: 7100, Eccentricity: 0.01, InclinationDeg: 63, RAANDeg: 40, ArgPerigeeDeg: 10, MeanAnomalyDeg: 200},
		SamplesPerOrbit: 60,
		OrbitCount:      2,
		Epoch:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	res := Propagate(cfg)
	got := SampleAt(cfg.Elements, cfg.Epoch, res.Times, KeplerOptions{})

	if len(got) != len(res.Samples) {
		t.Fatalf("SampleAt returned %d samples, want %d", len(got), len(res.Samples))
	}
	for i := range got {
		if got[i] != res.Samples[i] {
			t.Fatalf("sample %d differs:\n got %+v\nwant %+v", i, got[i], res.Samples[i])
		}
	}
}

func TestSampleAtEmptyTimeline(t *testing.T) {
	if got := SampleAt(Elements{SemiMajorKm: 7000}, time.Time{}, nil, DefaultKeplerOptions); len(got) != 0 {
		t.Errorf("got %d samples for empty timeline", len(got))
	}
}
