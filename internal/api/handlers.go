package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/cache"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/constellation"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/link"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/optimize"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/overlay"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/resonance"
)

const (
	maxBodyBytes = 1 << 20 // JSON request bodies; raw TLE text included.

	defaultSamplesPerOrbit = 180
	defaultOverlayHorizon  = 5400.0
	defaultOverlayStep     = 30.0
	defaultOptimizeHorizon = 86400.0
	defaultOptimizeStep    = 60.0
)

type handlers struct {
	limits  Limits
	cache   *cache.PropagationCache
	catalog *overlay.Catalog
	overlay overlay.Provider
	logger  *slog.Logger
	now     func() time.Time
}

// defaultEpoch is used when a request names no epoch. It is truncated to the
// minute so repeated requests share a cache snapshot; clients that need a
// precise start send "epoch".
func (h *handlers) defaultEpoch() time.Time {
	return h.now().UTC().Truncate(time.Minute)
}

// orbitRequest is the propagation input shared by /propagate and /link.
type orbitRequest struct {
	Elements        orbit.Elements      `json:"elements"`
	Resonance       orbit.ResonanceSpec `json:"resonance"`
	SamplesPerOrbit float64             `json:"samples_per_orbit"`
	OrbitCount      int                 `json:"orbit_count"`
	Epoch           *time.Time          `json:"epoch"`
}

func (o orbitRequest) config(defaultEpoch time.Time) orbit.Config {
	cfg := orbit.Config{
		Elements:        o.Elements,
		Resonance:       o.Resonance,
		SamplesPerOrbit: o.SamplesPerOrbit,
		OrbitCount:      o.OrbitCount,
		Epoch:           defaultEpoch,
	}
	if cfg.SamplesPerOrbit == 0 {
		cfg.SamplesPerOrbit = defaultSamplesPerOrbit
	}
	if o.Epoch != nil {
		cfg.Epoch = o.Epoch.UTC()
	}
	return cfg
}

// sampleCount mirrors the horizon rule of orbit.Propagate.
func sampleCount(cfg orbit.Config) float64 {
	orbits := orbit.DefaultOrbitCount
	if cfg.OrbitCount > 0 {
		orbits = cfg.OrbitCount
	}
	if cfg.Resonance.Enabled {
		orbits = max(1, cfg.Resonance.Orbits)
	}
	return cfg.SamplesPerOrbit * float64(orbits)
}

// checkOrbit validates the request and enforces the sample budget, writing
// the error response itself. It reports whether the caller may proceed.
func (h *handlers) checkOrbit(w http.ResponseWriter, cfg orbit.Config) bool {
	if !(cfg.SamplesPerOrbit > 0) {
		writeError(w, http.StatusBadRequest, "samples_per_orbit must be positive")
		return false
	}
	if cfg.OrbitCount < 0 {
		writeError(w, http.StatusBadRequest, "orbit_count must not be negative")
		return false
	}
	if n := sampleCount(cfg); n > float64(h.limits.MaxSamples) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       fmt.Sprintf("request needs %.0f samples", n),
			"max_samples": h.limits.MaxSamples,
		})
		return false
	}
	return true
}

type propagateResponse struct {
	orbit.Result
	Segments []groundtrack.Segment `json:"segments"`
	Cached   bool                  `json:"cached"`
}

// POST /api/v1/propagate
func (h *handlers) propagate(w http.ResponseWriter, r *http.Request) {
	var req orbitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg := req.config(h.defaultEpoch())
	if !h.checkOrbit(w, cfg) {
		return
	}

	res, cached := h.cache.Propagate(cfg)
	writeJSON(w, http.StatusOK, propagateResponse{Result: res, Segments: res.Segments(), Cached: cached})
}

type linkRequest struct {
	Station         link.GroundStation `json:"station"`
	Orbit           orbitRequest       `json:"orbit"`
	Params          link.Params        `json:"params"`
	MinElevationDeg float64            `json:"min_elevation_deg"`
}

type linkResponse struct {
	Station     link.GroundStation `json:"station"`
	SemiMajorKm float64            `json:"semi_major_km"`
	PeriodSec   float64            `json:"period_sec"`
	Samples     link.Series        `json:"samples"`
	Windows     []link.Window      `json:"windows"`
	Warnings    []orbit.Warning    `json:"warnings,omitempty"`
}

// POST /api/v1/link
func (h *handlers) link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	station := req.Station.WithDefaults()
	if err := station.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := req.Orbit.config(h.defaultEpoch())
	if !h.checkOrbit(w, cfg) {
		return
	}

	res, _ := h.cache.Propagate(cfg)
	series := link.Compute(station, res.Samples, req.Params)
	writeJSON(w, http.StatusOK, linkResponse{
		Station:     station,
		SemiMajorKm: res.SemiMajorKm,
		PeriodSec:   res.PeriodSec,
		Samples:     series,
		Windows:     link.Windows(series, req.MinElevationDeg),
		Warnings:    res.Warnings,
	})
}

// POST /api/v1/resonances
func (h *handlers) resonances(w http.ResponseWriter, r *http.Request) {
	var q resonance.Query
	if !decodeJSON(w, r, &q) {
		return
	}
	candidates, err := resonance.Search(r.Context(), q)
	if err != nil {
		h.logger.Info("resonance search abandoned", "error", err, "partial", len(candidates))
		return
	}
	if candidates == nil {
		candidates = []resonance.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":      q.Normalized(),
		"candidates": candidates,
	})
}

// POST /api/v1/walker
func (h *handlers) walker(w http.ResponseWriter, r *http.Request) {
	var p constellation.WalkerParams
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.Total > h.limits.MaxSatellites {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("total exceeds %d satellites", h.limits.MaxSatellites))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"design": constellation.Walker(p)})
}

type optimizeRequest struct {
	Design      constellation.Design        `json:"design"`
	Walker      *constellation.WalkerParams `json:"walker"`
	Targets     []groundtrack.Point         `json:"targets"`
	HorizonSec  float64                     `json:"horizon_sec"`
	StepSec     float64                     `json:"step_sec"`
	ThresholdKm float64                     `json:"threshold_km"`
	Rounds      int                         `json:"rounds"`
	Epoch       *time.Time                  `json:"epoch"`
	Seed        *uint64                     `json:"seed"`
}

// POST /api/v1/optimize runs the full optimization synchronously. Use
// /api/v1/stream/optimize to watch progress.
func (h *handlers) optimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	design := req.Design
	if req.Walker != nil {
		if len(design) > 0 {
			writeError(w, http.StatusBadRequest, "specify either design or walker, not both")
			return
		}
		if req.Walker.Total > h.limits.MaxSatellites {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("walker total exceeds %d satellites", h.limits.MaxSatellites))
			return
		}
		design = constellation.Walker(*req.Walker)
	}
	if len(design) > h.limits.MaxSatellites {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("design exceeds %d satellites", h.limits.MaxSatellites))
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "at least one target is required")
		return
	}
	if req.Rounds < 0 || req.Rounds > h.limits.MaxRounds {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("rounds must be 0-%d", h.limits.MaxRounds))
		return
	}

	horizon, step := req.HorizonSec, req.StepSec
	if horizon == 0 {
		horizon = defaultOptimizeHorizon
	}
	if step == 0 {
		step = defaultOptimizeStep
	}
	samples, ok := h.timelineLength(w, horizon, step)
	if !ok {
		return
	}

	rounds := req.Rounds
	if rounds == 0 {
		rounds = optimize.DefaultRounds
	}
	if work := (rounds + 1) * len(design) * samples; work > h.limits.MaxWork {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    fmt.Sprintf("request needs %d propagated samples, use /api/v1/stream/optimize or shrink it", work),
			"max_work": h.limits.MaxWork,
		})
		return
	}

	epoch := time.Now().UTC()
	if req.Epoch != nil {
		epoch = req.Epoch.UTC()
	}
	seed := uint64(time.Now().UnixNano())
	if req.Seed != nil {
		seed = *req.Seed
	}

	// The server-wide WriteTimeout is sized for plain requests; give this
	// one room for the whole run plus the response.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.limits.OptimizeTimeout + 10*time.Second)); err != nil {
		h.logger.Debug("could not extend write deadline", "error", err)
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.limits.OptimizeTimeout)
	defer cancel()

	factory := optimize.NewPoolFactory(h.limits.Workers, epoch, h.logger)
	opt := optimize.New(factory, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), h.logger)
	result, err := opt.Run(ctx, design, optimize.Problem{
		Targets:     req.Targets,
		Timeline:    optimize.Timeline(horizon, samples),
		ThresholdKm: req.ThresholdKm,
		Rounds:      rounds,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case r.Context().Err() != nil:
		h.logger.Info("optimization abandoned by client", "error", err, "rounds", result.Rounds)
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("optimization exceeded time budget",
			"rounds", result.Rounds,
			"requested_rounds", rounds,
			"timeout_sec", h.limits.OptimizeTimeout.Seconds(),
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":            "optimization exceeded time budget",
			"rounds_completed": result.Rounds,
			"timeout_sec":      h.limits.OptimizeTimeout.Seconds(),
		})
	default:
		h.logger.Error("optimization failed", "error", err)
		writeError(w, http.StatusInternalServerError, "optimization failed")
	}
}

// timelineLength converts horizon/step into a sample count within budget.
func (h *handlers) timelineLength(w http.ResponseWriter, horizon, step float64) (int, bool) {
	if !(horizon > 0) || !(step > 0) {
		writeError(w, http.StatusBadRequest, "horizon_sec and step_sec must be positive")
		return 0, false
	}
	n := horizon/step + 1
	if n > float64(h.limits.MaxSamples) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       fmt.Sprintf("request needs %.0f samples", n),
			"max_samples": h.limits.MaxSamples,
		})
		return 0, false
	}
	return int(n), true
}

type overlayRequest struct {
	TLE        string     `json:"tle"`
	NORADIDs   []int      `json:"norad_ids"`
	Start      *time.Time `json:"start"`
	HorizonSec float64    `json:"horizon_sec"`
	StepSec    float64    `json:"step_sec"`
}

// POST /api/v1/overlay propagates real satellites from TLE text in the body
// or from the fetched catalog.
func (h *handlers) overlayTracks(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var entries []overlay.Entry
	switch {
	case strings.TrimSpace(req.TLE) != "":
		parsed, err := overlay.Parse(strings.NewReader(req.TLE), h.logger)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(parsed) == 0 {
			writeError(w, http.StatusBadRequest, overlay.ErrInvalidTLE.Error()+": no entries parsed")
			return
		}
		entries = parsed
	case len(req.NORADIDs) > 0:
		if h.catalog == nil || h.catalog.Get() == nil {
			writeError(w, http.StatusServiceUnavailable, "TLE catalog not loaded")
			return
		}
		entries = h.catalog.Select(req.NORADIDs)
	default:
		writeError(w, http.StatusBadRequest, "tle or norad_ids is required")
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "no matching satellites")
		return
	}
	if len(entries) > h.limits.MaxSatellites {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("overlay exceeds %d satellites", h.limits.MaxSatellites))
		return
	}

	horizon, step := req.HorizonSec, req.StepSec
	if horizon == 0 {
		horizon = defaultOverlayHorizon
	}
	if step == 0 {
		step = defaultOverlayStep
	}
	samples, ok := h.timelineLength(w, horizon, step)
	if !ok {
		return
	}

	start := time.Now().UTC()
	if req.Start != nil {
		start = req.Start.UTC()
	}

	tracks := h.overlay.GroundTracks(r.Context(), entries, start, optimize.Timeline(horizon, samples))
	writeJSON(w, http.StatusOK, map[string]any{
		"start":  start,
		"tracks": tracks,
	})
}

// POST /api/v1/overlay/refresh
func (h *handlers) overlayRefresh(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "TLE fetching is disabled")
		return
	}
	ds, err := h.catalog.Refresh(r.Context())
	if err != nil {
		h.logger.Warn("TLE catalog refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":     ds.Source,
		"fetched_at": ds.FetchedAt,
		"count":      len(ds.Entries),
	})
}

// GET /api/v1/cache/stats
func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// decodeJSON reads a single JSON object from the body, writing a 400 on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeJSON marshals before writing the header so encoding failures, such as
// non-finite floats, become a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
