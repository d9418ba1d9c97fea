// Package overlay propagates real satellites from TLEs with SGP4 so their
// ground tracks can be drawn next to designed orbits.
package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/transform"
)

// Track is one satellite's ground track over the requested timeline.
type Track struct {
	NORADID  int                   `json:"norad_id"`
	Name     string                `json:"name"`
	Points   []groundtrack.Point   `json:"points,omitempty"`
	Segments []groundtrack.Segment `json:"segments,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Provider produces ground tracks for externally catalogued satellites.
type Provider interface {
	GroundTracks(ctx context.Context, entries []Entry, start time.Time, timeline []float64) []Track
}

// SGP4Provider implements Provider with github.com/joshuaferrara/go-satellite.
// Each satellite runs in its own goroutine, bounded by a semaphore.
type SGP4Provider struct {
	workers int
	logger  *slog.Logger
}

// NewSGP4Provider creates a provider. workers <= 0 means runtime.NumCPU().
func NewSGP4Provider(workers int, logger *slog.Logger) *SGP4Provider {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &SGP4Provider{workers: workers, logger: logger}
}

// GroundTracks propagates every entry at start+timeline[i] seconds. Failures
// are reported per track rather than aborting the batch.
func (p *SGP4Provider) GroundTracks(ctx context.Context, entries []Entry, start time.Time, timeline []float64) []Track {
	results := make([]Track, len(entries))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, entry := range entries {
		wg.Add(1)
		go func(idx int, e Entry) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = Track{NORADID: e.NORADID, Name: e.Name, Error: "cancelled"}
				return
			}

			points, err := trackSatellite(ctx, e, start, timeline)
			if err != nil {
				p.logger.Warn("overlay propagation failed", "norad_id", e.NORADID, "error", err)
				results[idx] = Track{NORADID: e.NORADID, Name: e.Name, Error: err.Error()}
				return
			}
			results[idx] = Track{
				NORADID:  e.NORADID,
				Name:     e.Name,
				Points:   points,
				Segments: groundtrack.Split(points),
			}
		}(i, entry)
	}

	wg.Wait()
	return results
}

func trackSatellite(ctx context.Context, e Entry, start time.Time, timeline []float64) ([]groundtrack.Point, error) {
	sat, err := newSGP4(e)
	if err != nil {
		return nil, err
	}

	points := make([]groundtrack.Point, 0, len(timeline))
	for _, offset := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := start.Add(time.Duration(offset * float64(time.Second))).UTC()
		r, err := propagateECI(sat, e.NORADID, t)
		if err != nil {
			return nil, err
		}
		ecef, _ := transform.ECIToECEF(r, transform.Vec3{}, transform.GMST(t))
		geo := transform.ECEFToGeodetic(ecef)
		points = append(points, groundtrack.Point{LatDeg: geo.LatDeg, LonDeg: geo.LonDeg})
	}
	return points, nil
}

func newSGP4(e Entry) (satellite.Satellite, error) {
	if err := validateLines(e.Line1, e.Line2); err != nil {
		return satellite.Satellite{}, fmt.Errorf("NORAD %d: %w", e.NORADID, err)
	}
	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return satellite.Satellite{}, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", e.NORADID, sat.Error, sat.ErrorStr)
	}
	return sat, nil
}

// propagateECI returns the TEME position (km), treated as ECI. Failures show
// up as NaN or implausible magnitudes since go-satellite hides its error code.
func propagateECI(sat satellite.Satellite, noradID int, t time.Time) (transform.Vec3, error) {
	pos, _ := satellite.Propagate(sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	r := transform.Vec3{pos.X, pos.Y, pos.Z}

	mag := r.Norm()
	if math.IsNaN(mag) || math.IsInf(mag, 0) {
		return transform.Vec3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", noradID)
	}
	if mag < 6200.0 || mag > 50000.0 {
		return transform.Vec3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", noradID, mag)
	}
	return r, nil
}
