package transform

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
)

// JulianDate converts t to a UTC Julian Date.
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// GMST is the Greenwich mean sidereal angle at t in radians, in [0, 2π).
// UT1 is taken equal to UTC; the sub-second difference is below the
// resolution of a spherical-Earth ground track.
func GMST(t time.Time) float64 {
	theta := math.Mod(sidereal.Mean(JulianDate(t)).Rad(), 2*math.Pi)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}

// GMSTAt returns GMST for epoch advanced by offsetSec seconds.
func GMSTAt(epoch time.Time, offsetSec float64) float64 {
	return GMST(epoch.Add(time.Duration(offsetSec * float64(time.Second))))
}
