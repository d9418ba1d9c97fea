package link

// Window is one contiguous run of samples at or above the elevation mask.
type Window struct {
	StartIndex      int     `json:"start_index"`
	EndIndex        int     `json:"end_index"`
	StartT          float64 `json:"start_t"`
	EndT            float64 `json:"end_t"`
	DurationSec     float64 `json:"duration_sec"`
	MaxElevationDeg float64 `json:"max_elevation_deg"`
	MaxElevationT   float64 `json:"max_elevation_t"`
	AzimuthAtMax    float64 `json:"azimuth_at_max"`
	StartAzimuthDeg float64 `json:"start_azimuth_deg"`
	EndAzimuthDeg   float64 `json:"end_azimuth_deg"`
	MinDistanceKm   float64 `json:"min_distance_km"`
}

// Windows scans a series for visibility windows. A window still open at the
// last sample is closed there.
func Windows(series Series, minElevationDeg float64) []Window {
	var (
		out  []Window
		cur  Window
		open bool
	)

	for i, s := range series {
		above := s.ElevationDeg >= minElevationDeg

		if above && !open {
			// Rising.
			open = true
			cur = Window{
				StartIndex:      i,
				StartT:          s.T,
				StartAzimuthDeg: s.AzimuthDeg,
				MaxElevationDeg: s.ElevationDeg,
				MaxElevationT:   s.T,
				AzimuthAtMax:    s.AzimuthDeg,
				MinDistanceKm:   s.DistanceKm,
			}
		}

		if above {
			if s.ElevationDeg > cur.MaxElevationDeg {
				cur.MaxElevationDeg = s.ElevationDeg
				cur.MaxElevationT = s.T
				cur.AzimuthAtMax = s.AzimuthDeg
			}
			if s.DistanceKm < cur.MinDistanceKm {
				cur.MinDistanceKm = s.DistanceKm
			}
			cur.EndIndex = i
			cur.EndT = s.T
			cur.EndAzimuthDeg = s.AzimuthDeg
			continue
		}

		if open {
			// Setting.
			cur.DurationSec = cur.EndT - cur.StartT
			out = append(out, cur)
			open = false
		}
	}

	if open {
		cur.DurationSec = cur.EndT - cur.StartT
		out = append(out, cur)
	}
	return out
}
