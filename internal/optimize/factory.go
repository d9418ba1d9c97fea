package optimize

import (
	"context"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/constellation"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
)

// PositionsFactory turns a design into one ground track per satellite, each
// sampled on timeline.
type PositionsFactory interface {
	Positions(ctx context.Context, d constellation.Design, timeline []float64) ([][]groundtrack.Point, error)
}

// InProcessFactory propagates every satellite on the calling goroutine.
type InProcessFactory struct {
	Epoch  time.Time
	Kepler orbit.KeplerOptions
}

// Positions implements PositionsFactory.
func (f InProcessFactory) Positions(ctx context.Context, d constellation.Design, timeline []float64) ([][]groundtrack.Point, error) {
	out := make([][]groundtrack.Point, len(d))
	for i, el := range d {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out[i] = trackFor(el, f.Epoch, timeline, f.Kepler)
	}
	return out, nil
}

func trackFor(el orbit.Elements, epoch time.Time, timeline []float64, kepler orbit.KeplerOptions) []groundtrack.Point {
	samples := orbit.SampleAt(el, epoch, timeline, kepler)
	track := make([]groundtrack.Point, len(samples))
	for i, s := range samples {
		track[i] = groundtrack.Point{LatDeg: s.LatDeg, LonDeg: s.LonDeg}
	}
	return track
}

// Timeline returns n evenly spaced offsets covering [0, horizonSec].
func Timeline(horizonSec float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{0}
	}
	out := make([]float64, n)
	step := horizonSec / float64(n-1)
	for i := range out {
		out[i] = float64(i) * step
	}
	return out
}
