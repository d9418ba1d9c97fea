package transform

import "math"

// Geodetic holds a spherical-Earth position (degrees, km above EarthRadiusKm).
type Geodetic struct {
	LatDeg, LonDeg, AltKm float64
}

// ECEFToGeodetic converts an ECEF position (km) to latitude, longitude and
// altitude on a spherical Earth.
func ECEFToGeodetic(r Vec3) Geodetic {
	return Geodetic{
		LatDeg: math.Atan2(r[2], math.Hypot(r[0], r[1])) * 180.0 / math.Pi,
		LonDeg: math.Atan2(r[1], r[0]) * 180.0 / math.Pi,
		AltKm:  r.Norm() - EarthRadiusKm,
	}
}

// GeodeticToECEF is the inverse of ECEFToGeodetic.
func GeodeticToECEF(latDeg, lonDeg, altKm float64) Vec3 {
	sinLat, cosLat := math.Sincos(latDeg * math.Pi / 180.0)
	sinLon, cosLon := math.Sincos(lonDeg * math.Pi / 180.0)
	rad := EarthRadiusKm + altKm
	return Vec3{rad * cosLat * cosLon, rad * cosLat * sinLon, rad * sinLat}
}

// Site is a ground location with its ECEF position and local east-north-up
// basis precomputed, so it can be reused across many satellite lookups.
type Site struct {
	ECEF            Vec3
	East, North, Up Vec3
}

// NewSite builds a Site at the given latitude/longitude (degrees) on the
// surface of the spherical Earth.
func NewSite(latDeg, lonDeg float64) Site {
	sinLat, cosLat := math.Sincos(latDeg * math.Pi / 180.0)
	sinLon, cosLon := math.Sincos(lonDeg * math.Pi / 180.0)
	return Site{
		ECEF:  GeodeticToECEF(latDeg, lonDeg, 0),
		East:  Vec3{-sinLon, cosLon, 0},
		North: Vec3{-sinLat * cosLon, -sinLat * sinLon, cosLat},
		Up:    Vec3{cosLat * cosLon, cosLat * sinLon, sinLat},
	}
}

// LookAngles holds azimuth, elevation, and range from a site to a satellite.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise, [0, 360)
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
	LineOfSight  Vec3    // unit vector site -> satellite (ECEF)
}

// LookAnglesTo computes azimuth, elevation and range from the site to a
// satellite given in ECEF km.
func (s Site) LookAnglesTo(sat Vec3) LookAngles {
	rel := sat.Sub(s.ECEF)
	east := rel.Dot(s.East)
	north := rel.Dot(s.North)
	up := rel.Dot(s.Up)

	az := math.Atan2(east, north) * 180.0 / math.Pi
	if az < 0 {
		az += 360.0
	}

	rng := rel.Norm()
	var los Vec3
	if rng > 0 {
		los = Vec3{rel[0] / rng, rel[1] / rng, rel[2] / rng}
	}

	return LookAngles{
		AzimuthDeg:   az,
		ElevationDeg: math.Atan2(up, math.Hypot(east, north)) * 180.0 / math.Pi,
		RangeKm:      rng,
		LineOfSight:  los,
	}
}

// GreatCircleKm returns the surface distance between two points on the
// spherical Earth (haversine).
func GreatCircleKm(lat1Deg, lon1Deg, lat2Deg, lon2Deg float64) float64 {
	const toRad = math.Pi / 180.0
	dLat := (lat2Deg - lat1Deg) * toRad
	dLon := (lon2Deg - lon1Deg) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Deg*toRad)*math.Cos(lat2Deg*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
