package link

import (
	"math"
	"strings"
	"testing"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/transform"
)

var equatorStation = GroundStation{ID: "station-test", Name: "Equator", LatDeg: 0, LonDeg: 0, ApertureM: 1}

func overhead(altKm float64, vel transform.Vec3) orbit.StateSample {
	return orbit.StateSample{
		PositionECEF: transform.GeodeticToECEF(0, 0, altKm),
		VelocityECEF: vel,
	}
}

func TestComputeOverhead(t *testing.T) {
	series := Compute(equatorStation, []orbit.StateSample{overhead(500, transform.Vec3{0, 7.6, 0})}, Params{})
	if len(series) != 1 {
		t.Fatalf("got %d samples, want 1", len(series))
	}
	s := series[0]

	if math.Abs(s.ElevationDeg-90) > 1e-9 {
		t.Errorf("elevation = %.6f, want 90", s.ElevationDeg)
	}
	if math.Abs(s.DistanceKm-500) > 1e-6 {
		t.Errorf("distance = %.6f, want 500", s.DistanceKm)
	}
	if s.DopplerFactor != 1 {
		t.Errorf("doppler = %v, want exactly 1 for transverse motion", s.DopplerFactor)
	}
	// 500 km spot radius is ~0.41 m, smaller than the 1 m aperture: no loss.
	if s.LossDb != 0 {
		t.Errorf("loss = %v dB, want 0", s.LossDb)
	}
	if s.R0M != 0 || s.AerosolLossDb != 0 {
		t.Errorf("turbulence fields set without an atmosphere: %+v", s)
	}
}

func TestComputeDoppler(t *testing.T) {
	tests := []struct {
		name string
		vUp  float64
	}{
		{"receding", 5},
		{"approaching", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := Compute(equatorStation, []orbit.StateSample{overhead(800, transform.Vec3{tt.vUp, 0, 0})}, Params{})
			want := 1 / (1 - tt.vUp/SpeedOfLightKmS)
			if got := series[0].DopplerFactor; math.Abs(got-want) > 1e-15 {
				t.Errorf("doppler = %.15f, want %.15f", got, want)
			}
		})
	}
}

func TestGeometricLossDb(t *testing.T) {
	tests := []struct {
		name    string
		rangeKm float64
		rxM     float64
	}{
		{"short range saturates", 100, 1},
		{"LEO slant", 2000, 1},
		{"GEO", 36000, 1},
		{"small aperture", 1000, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			theta := 1.22 * 810e-9 / 0.6
			spot := theta * tt.rangeKm * 1000 / 2
			coupling := math.Min(1, math.Pow(tt.rxM/2/spot, 2))
			want := -10 * math.Log10(coupling)

			got := GeometricLossDb(tt.rangeKm, 810, 0.6, tt.rxM)
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("loss = %.6f, want %.6f", got, want)
			}
			if got < 0 {
				t.Errorf("negative loss %.6f", got)
			}
		})
	}
}

func TestGeometricLossDbFloors(t *testing.T) {
	// Coupling floors at 1e-9, i.e. 90 dB.
	if got := GeometricLossDb(1e9, 810, 0.6, 0.1); math.Abs(got-90) > 1e-9 {
		t.Errorf("loss = %v, want 90", got)
	}
	// Zero range clamps the spot radius instead of dividing by zero.
	if got := GeometricLossDb(0, 810, 0.6, 1); got != 0 {
		t.Errorf("loss at zero range = %v, want 0", got)
	}
}

func TestApplyTurbulence(t *testing.T) {
	atm := AtmosphereSummary{
		R0ZenithM:           0.1,
		GreenwoodZenithHz:   30,
		IsoplanaticZenithAs: 2,
		AerosolLossDb:       0.5,
		AbsorptionLossDb:    0.2,
	}

	t.Run("zenith", func(t *testing.T) {
		s := Sample{ElevationDeg: 90}
		applyTurbulence(&s, atm)
		if math.Abs(s.R0M-0.1) > 1e-12 || math.Abs(s.GreenwoodHz-30) > 1e-9 || math.Abs(s.AerosolLossDb-0.5) > 1e-12 {
			t.Errorf("zenith values should be unscaled: %+v", s)
		}
	})

	t.Run("thirty degrees", func(t *testing.T) {
		// Zenith angle 60°: cos = 0.5, air mass 2.
		s := Sample{ElevationDeg: 30}
		applyTurbulence(&s, atm)
		checks := []struct {
			name      string
			got, want float64
		}{
			{"r0", s.R0M, 0.1 * math.Pow(0.5, 0.6)},
			{"greenwood", s.GreenwoodHz, 30 * math.Pow(0.5, -1.8)},
			{"isoplanatic", s.IsoplanaticArcsec, 2 * math.Pow(0.5, 1.6)},
			{"aerosol", s.AerosolLossDb, 1.0},
			{"absorption", s.AbsorptionLossDb, 0.4},
		}
		for _, c := range checks {
			if math.Abs(c.got-c.want) > 1e-9 {
				t.Errorf("%s = %.9f, want %.9f", c.name, c.got, c.want)
			}
		}
	})

	t.Run("below horizon", func(t *testing.T) {
		for _, el := range []float64{0, -10} {
			s := Sample{ElevationDeg: el}
			applyTurbulence(&s, atm)
			if s.R0M != 0 || s.GreenwoodHz != 0 || s.IsoplanaticArcsec != 0 || s.AerosolLossDb != 0 || s.AbsorptionLossDb != 0 {
				t.Errorf("elevation %v: fields should stay zero, got %+v", el, s)
			}
		}
	})
}

func TestComputeAlongOrbit(t *testing.T) {
	res := orbit.Propagate(orbit.Config{
		Elements:        orbit.Elements{SemiMajorKm: 6771, InclinationDeg: 53},
		SamplesPerOrbit: 120,
		OrbitCount:      2,
	})
	atm := &AtmosphereSummary{R0ZenithM: 0.05}
	series := Compute(equatorStation, res.Samples, Params{Atmosphere: atm})

	if len(series) != len(res.Samples) {
		t.Fatalf("series length %d, want %d", len(series), len(res.Samples))
	}
	for i, s := range series {
		if s.T != res.Samples[i].T {
			t.Fatalf("sample %d: t = %v, want %v", i, s.T, res.Samples[i].T)
		}
		if s.AzimuthDeg < 0 || s.AzimuthDeg >= 360 {
			t.Errorf("sample %d: azimuth %v outside [0, 360)", i, s.AzimuthDeg)
		}
		if s.ElevationDeg < -90 || s.ElevationDeg > 90 {
			t.Errorf("sample %d: elevation %v out of range", i, s.ElevationDeg)
		}
		if (s.ElevationDeg > 0) != (s.R0M > 0) {
			t.Errorf("sample %d: r0 %v inconsistent with elevation %v", i, s.R0M, s.ElevationDeg)
		}
		// LEO radial speed stays far below c.
		if math.Abs(s.DopplerFactor-1) > 1e-4 {
			t.Errorf("sample %d: doppler %v implausible", i, s.DopplerFactor)
		}
	}
}

func TestGroundStationDefaults(t *testing.T) {
	g := GroundStation{Name: "Tenerife", LatDeg: 28.3, LonDeg: -16.5}.WithDefaults()
	if !strings.HasPrefix(g.ID, "station-") || len(g.ID) != len("station-")+8 {
		t.Errorf("id = %q, want station-xxxxxxxx", g.ID)
	}
	if g.ApertureM != DefaultApertureM {
		t.Errorf("aperture = %v, want %v", g.ApertureM, DefaultApertureM)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	other := GroundStation{Name: "x"}.WithDefaults()
	if other.ID == g.ID {
		t.Error("station ids should be unique")
	}
}

func TestGroundStationValidate(t *testing.T) {
	tests := []struct {
		name string
		g    GroundStation
	}{
		{"no name", GroundStation{ApertureM: 1}},
		{"latitude", GroundStation{Name: "a", LatDeg: 91, ApertureM: 1}},
		{"longitude", GroundStation{Name: "a", LonDeg: -181, ApertureM: 1}},
		{"aperture too small", GroundStation{Name: "a", ApertureM: 0.05}},
		{"aperture too large", GroundStation{Name: "a", ApertureM: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.g.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
