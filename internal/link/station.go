// Package link derives per-sample optical link metrics between a ground
// station and a propagated satellite: look angles, Doppler factor, geometric
// coupling loss and elevation-scaled atmospheric turbulence.
package link

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultApertureM is the receive aperture assumed when a station omits one.
	DefaultApertureM = 1.0
	MinApertureM     = 0.1
	MaxApertureM     = 15.0
)

// GroundStation is an optical ground station.
type GroundStation struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	LatDeg    float64 `json:"lat"`
	LonDeg    float64 `json:"lon"`
	ApertureM float64 `json:"aperture_m"`
	Notes     string  `json:"notes,omitempty"`
}

// NewStationID returns a fresh "station-xxxxxxxx" identifier.
func NewStationID() string {
	return "station-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// WithDefaults fills a missing ID and aperture.
func (g GroundStation) WithDefaults() GroundStation {
	if g.ID == "" {
		g.ID = NewStationID()
	}
	if g.ApertureM == 0 {
		g.ApertureM = DefaultApertureM
	}
	return g
}

// Validate reports the first out-of-range field.
func (g GroundStation) Validate() error {
	switch {
	case strings.TrimSpace(g.Name) == "":
		return fmt.Errorf("station %q: name is required", g.ID)
	case g.LatDeg < -90 || g.LatDeg > 90:
		return fmt.Errorf("station %q: latitude %.4f out of range [-90, 90]", g.ID, g.LatDeg)
	case g.LonDeg < -180 || g.LonDeg > 180:
		return fmt.Errorf("station %q: longitude %.4f out of range [-180, 180]", g.ID, g.LonDeg)
	case g.ApertureM < MinApertureM || g.ApertureM > MaxApertureM:
		return fmt.Errorf("station %q: aperture %.2f m out of range [%.1f, %.1f]", g.ID, g.ApertureM, MinApertureM, MaxApertureM)
	}
	return nil
}
