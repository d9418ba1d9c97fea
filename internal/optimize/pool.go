package optimize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/constellation"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
)

// Progress is emitted each time a worker finishes one satellite. Track is the
// finished satellite's ground track so callers can render partial batches.
type Progress struct {
	Completed int                 `json:"completed"`
	Total     int                 `json:"total"`
	Satellite int                 `json:"satellite"`
	Track     []groundtrack.Point `json:"track,omitempty"`
}

// trackJob is a unit of work for the worker pool.
type trackJob struct {
	index    int
	elements orbit.Elements
}

// trackResult is the output of a single satellite propagation.
type trackResult struct {
	index int
	track []groundtrack.Point
}

// PoolFactory fans per-satellite propagation out over a fixed number of
// goroutines. Each worker owns the satellites it pulls from the job channel;
// only the collecting goroutine writes the output slice.
type PoolFactory struct {
	workers  int
	epoch    time.Time
	kepler   orbit.KeplerOptions
	logger   *slog.Logger
	progress chan<- Progress
}

// NewPoolFactory creates a pool factory with the given number of workers.
func NewPoolFactory(workers int, epoch time.Time, logger *slog.Logger) *PoolFactory {
	return &PoolFactory{
		workers: max(1, workers),
		epoch:   epoch,
		logger:  logger,
	}
}

// WithProgress sets the channel that receives progress events. Sends never
// block: events are dropped while the receiver is busy.
func (p *PoolFactory) WithProgress(ch chan<- Progress) *PoolFactory {
	p.progress = ch
	return p
}

// Positions implements PositionsFactory. On cancellation it returns the
// tracks finished so far (nil for the rest) together with ctx.Err().
func (p *PoolFactory) Positions(ctx context.Context, d constellation.Design, timeline []float64) ([][]groundtrack.Point, error) {
	out := make([][]groundtrack.Point, len(d))
	if len(d) == 0 {
		return out, nil
	}
	start := time.Now()

	jobs := make(chan trackJob, p.workers*2)
	results := make(chan trackResult, p.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res := trackResult{
					index: job.index,
					track: trackFor(job.elements, p.epoch, timeline, p.kepler),
				}
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, el := range d {
			select {
			case jobs <- trackJob{index: i, elements: el}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	var completed int
	for res := range results {
		out[res.index] = res.track
		completed++
		p.report(Progress{Completed: completed, Total: len(d), Satellite: res.index, Track: res.track})
	}

	if completed < len(d) {
		p.logger.Warn("track batch interrupted",
			"completed", completed,
			"total", len(d),
			"error", ctx.Err(),
		)
		return out, ctx.Err()
	}

	p.logger.Debug("track batch complete",
		"satellites", len(d),
		"samples", len(timeline),
		"workers", p.workers,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (p *PoolFactory) report(ev Progress) {
	if p.progress == nil {
		return
	}
	select {
	case p.progress <- ev:
	default:
	}
}
