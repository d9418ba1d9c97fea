package link

import (
	"math"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/transform"
)

const (
	// SpeedOfLightKmS is c in km/s.
	SpeedOfLightKmS = 299792.458

	DefaultWavelengthNm = 810.0
	DefaultTxApertureM  = 0.6

	minSpotRadiusM = 1e-6
	minCoupling    = 1e-9
)

// AtmosphereSummary carries zenith turbulence parameters and path losses
// produced by an external atmosphere model. Only the zenith values are scaled
// here; the remaining fields are passed through for display.
type AtmosphereSummary struct {
	R0ZenithM           float64 `json:"r0_zenith"`
	GreenwoodZenithHz   float64 `json:"fG_zenith"`
	IsoplanaticZenithAs float64 `json:"theta0_zenith"`
	WindRMS             float64 `json:"wind_rms"`
	AerosolLossDb       float64 `json:"loss_aod_db"`
	AbsorptionLossDb    float64 `json:"loss_abs_db"`
	CoherenceTimeMs     float64 `json:"coherence_time_ms,omitempty"`
	ScintillationIndex  float64 `json:"scintillation_index,omitempty"`
}

// Params configures a link computation. Zero values take the defaults.
type Params struct {
	WavelengthNm float64            `json:"wavelength_nm"`
	TxApertureM  float64            `json:"tx_aperture_m"`
	Atmosphere   *AtmosphereSummary `json:"atmosphere,omitempty"`
}

func (p Params) withDefaults() Params {
	if p.WavelengthNm <= 0 {
		p.WavelengthNm = DefaultWavelengthNm
	}
	if p.TxApertureM <= 0 {
		p.TxApertureM = DefaultTxApertureM
	}
	return p
}

// Sample is the link state at one propagated instant.
type Sample struct {
	T                 float64 `json:"t"`
	DistanceKm        float64 `json:"distance_km"`
	ElevationDeg      float64 `json:"elevation_deg"`
	AzimuthDeg        float64 `json:"azimuth_deg"`
	LossDb            float64 `json:"loss_db"`
	DopplerFactor     float64 `json:"doppler_factor"`
	R0M               float64 `json:"r0_m"`
	GreenwoodHz       float64 `json:"greenwood_hz"`
	IsoplanaticArcsec float64 `json:"isoplanatic_arcsec"`
	AerosolLossDb     float64 `json:"aerosol_loss_db"`
	AbsorptionLossDb  float64 `json:"absorption_loss_db"`
}

// Series is a link time series aligned with the propagated samples.
type Series []Sample

// Compute evaluates the link from station to every state sample.
func Compute(station GroundStation, samples []orbit.StateSample, p Params) Series {
	p = p.withDefaults()
	station = station.WithDefaults()
	site := transform.NewSite(station.LatDeg, station.LonDeg)

	out := make(Series, len(samples))
	for i, s := range samples {
		la := site.LookAnglesTo(s.PositionECEF)
		vRadial := s.VelocityECEF.Dot(la.LineOfSight)

		sample := Sample{
			T:             s.T,
			DistanceKm:    la.RangeKm,
			ElevationDeg:  la.ElevationDeg,
			AzimuthDeg:    la.AzimuthDeg,
			LossDb:        GeometricLossDb(la.RangeKm, p.WavelengthNm, p.TxApertureM, station.ApertureM),
			DopplerFactor: 1 / (1 - vRadial/SpeedOfLightKmS),
		}
		if p.Atmosphere != nil {
			applyTurbulence(&sample, *p.Atmosphere)
		}
		out[i] = sample
	}
	return out
}

// GeometricLossDb is the diffraction-limited coupling loss for a beam of
// divergence 1.22λ/D_tx captured by a receive aperture over rangeKm.
func GeometricLossDb(rangeKm, wavelengthNm, txApertureM, rxApertureM float64) float64 {
	divergence := 1.22 * wavelengthNm * 1e-9 / txApertureM
	spot := math.Max(divergence*rangeKm*1000/2, minSpotRadiusM)
	ratio := rxApertureM / 2 / spot
	coupling := math.Min(1, ratio*ratio)
	return -10 * math.Log10(math.Max(coupling, minCoupling))
}

// applyTurbulence scales zenith values to the sample's line of sight. At or
// below the horizon every atmospheric field stays zero.
func applyTurbulence(s *Sample, atm AtmosphereSummary) {
	if s.ElevationDeg <= 0 {
		return
	}
	cosZ := math.Cos((90 - s.ElevationDeg) * math.Pi / 180)
	airMass := 1 / cosZ

	s.R0M = atm.R0ZenithM * math.Pow(cosZ, 3.0/5.0)
	s.GreenwoodHz = atm.GreenwoodZenithHz * math.Pow(cosZ, -9.0/5.0)
	s.IsoplanaticArcsec = atm.IsoplanaticZenithAs * math.Pow(cosZ, 8.0/5.0)
	s.AerosolLossDb = atm.AerosolLossDb * airMass
	s.AbsorptionLossDb = atm.AbsorptionLossDb * airMass
}
