package groundtrack

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePoints reads "lat,lon;lat,lon" with latitudes in [-90, 90] and
// longitudes in [-180, 180].
func ParsePoints(s string) ([]Point, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("no points given")
	}
	var out []Point
	for _, pair := range strings.Split(s, ";") {
		latStr, lonStr, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("invalid point %q, want lat,lon", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil || !(lat >= -90 && lat <= 90) {
			return nil, fmt.Errorf("invalid latitude in %q", pair)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil || !(lon >= -180 && lon <= 180) {
			return nil, fmt.Errorf("invalid longitude in %q", pair)
		}
		out = append(out, Point{LatDeg: lat, LonDeg: lon})
	}
	return out, nil
}
