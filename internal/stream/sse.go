// Package stream implements a Server-Sent Events feed of revisit optimizer
// progress. Clients connect via GET /api/v1/stream/optimize and watch a run
// unfold: per-satellite tracks as the worker pool finishes each batch (the
// initial design, then one batch per round), one summary per round, then the
// final design.
//
// Event sequence:
//
//	retry: <ms>
//	event: metadata   {"satellites":24,"targets":3,"rounds":20,"samples":1441}
//	event: progress   {"completed":5,"total":24,"satellite":7,"track":[...]}
//	event: round      {"round":0,"sigma_deg":5,"candidate":{...},"best":{...},"accepted":true}
//	event: result     {"design":[...],"score":{...},"stats":[...]}
//
// An "error" event replaces "result" when the run fails. Keep-alive comments
// (:\n\n) are sent every KeepaliveInterval while nothing else is written.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/constellation"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/metrics"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/optimize"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 4).
	MaxConcurrent      int           // Global stream cap (default: 100).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 15s).
	TrustProxy         bool          // Honor X-Forwarded-For for rate limiting.
	Workers            int           // Pool workers per optimizer run.
	MaxRounds          int           // Upper bound on the rounds parameter.
	MaxSatellites      int           // Upper bound on the total parameter.
}

// Handler manages SSE optimizer streams.
type Handler struct {
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler, applying defaults for zero
// config fields.
func NewHandler(config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 4
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 100
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 15 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = 200
	}
	if config.MaxSatellites <= 0 {
		config.MaxSatellites = 500
	}
	return &Handler{
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
}

// runRequest is a parsed optimizer stream request.
type runRequest struct {
	walker  constellation.WalkerParams
	problem optimize.Problem
	epoch   time.Time
	seed    uint64
}

// HandleOptimize serves the SSE optimizer stream.
// GET /api/v1/stream/optimize?total=24&planes=6&phasing=1&a=7000&inc=53&targets=48.1,11.6;40.4,-3.7
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := clientIP(r, h.config.TrustProxy)
	if reason := h.limiter.acquire(ip); reason != "" {
		perIP, total := h.limiter.active(ip)
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"reason", reason,
			"ip_streams", perIP,
			"total_streams", total,
		)
		metrics.RecordSSERejection(reason)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer h.limiter.release(ip)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	c := newClient(w, flusher, h.logger)

	metrics.SSEClientConnected()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"satellites", req.walker.Total,
		"rounds", req.problem.Rounds,
	)
	defer func() {
		metrics.SSEClientDisconnected()
		h.logger.Info("stream disconnected", append([]any{
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		}, c.summary()...)...)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered retry interval (3-7s) avoids reconnect storms after a restart.
	if err := c.sendRetry(time.Duration(3000+rand.IntN(4000)) * time.Millisecond); err != nil {
		return
	}

	design := constellation.Walker(req.walker)
	if err := c.send("metadata", metadataMessage{
		Satellites: len(design),
		Targets:    len(req.problem.Targets),
		Rounds:     req.problem.Rounds,
		Samples:    len(req.problem.Timeline),
	}); err != nil {
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	h.run(r.Context(), c, design, req)
}

// run drives one optimizer and relays its progress until it finishes or the
// client goes away. All writes to c happen on this goroutine.
func (h *Handler) run(ctx context.Context, c *client, design constellation.Design, req runRequest) {
	progress := make(chan optimize.Progress, 64)
	rounds := make(chan optimize.Round, 16)
	done := make(chan runOutcome, 1)

	pool := optimize.NewPoolFactory(h.config.Workers, req.epoch, h.logger).WithProgress(progress)
	opt := optimize.New(pool, rand.New(rand.NewPCG(req.seed, req.seed^0x5851f42d4c957f2d)), h.logger)

	opt.OnRound = func(r optimize.Round) {
		select {
		case rounds <- r:
		case <-ctx.Done():
		}
	}

	go func() {
		res, err := opt.Run(ctx, design, req.problem)
		done <- runOutcome{result: res, err: err}
	}()

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			// Run observes the same context and stops after its current round.
			return

		case p := <-progress:
			if err := c.send("progress", p); err != nil {
				h.logger.Warn("stream send error", "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case r := <-rounds:
			if err := c.send("round", r); err != nil {
				h.logger.Warn("stream send error", "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case out := <-done:
			// Flush events that raced with completion.
			for len(progress) > 0 {
				if err := c.send("progress", <-progress); err != nil {
					return
				}
			}
			for len(rounds) > 0 {
				if err := c.send("round", <-rounds); err != nil {
					return
				}
			}
			if out.err != nil {
				c.send("error", errorMessage{Error: out.err.Error()})
				return
			}
			if err := c.send("result", out.result); err != nil {
				h.logger.Warn("stream send error (result)", "error", err)
			}
			return

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				h.logger.Warn("stream keepalive error", "error", err)
				return
			}
		}
	}
}

type runOutcome struct {
	result optimize.Result
	err    error
}

func (h *Handler) parseRequest(r *http.Request) (runRequest, error) {
	q := r.URL.Query()
	var req runRequest
	var err error

	p := &req.walker
	if p.Total, err = queryInt(q.Get("total"), "total", 24, 1, h.config.MaxSatellites); err != nil {
		return req, err
	}
	if p.Planes, err = queryInt(q.Get("planes"), "planes", 6, 1, p.Total); err != nil {
		return req, err
	}
	if p.Phasing, err = queryInt(q.Get("phasing"), "phasing", 1, 0, max(0, p.Planes-1)); err != nil {
		return req, err
	}
	if p.SemiMajorKm, err = queryFloat(q.Get("a"), "a", 7000, orbit.MinSemiMajorKm, orbit.MaxSemiMajorKm); err != nil {
		return req, err
	}
	if p.InclinationDeg, err = queryFloat(q.Get("inc"), "inc", 53, 0, 180); err != nil {
		return req, err
	}

	pr := &req.problem
	if pr.Rounds, err = queryInt(q.Get("rounds"), "rounds", 20, 1, h.config.MaxRounds); err != nil {
		return req, err
	}
	if pr.ThresholdKm, err = queryFloat(q.Get("threshold"), "threshold", optimize.DefaultThresholdKm, 1, 20000); err != nil {
		return req, err
	}
	hours, err := queryFloat(q.Get("hours"), "hours", 24, 1, 168)
	if err != nil {
		return req, err
	}
	step, err := queryFloat(q.Get("step"), "step", 60, 10, 3600)
	if err != nil {
		return req, err
	}
	pr.Timeline = optimize.Timeline(hours*3600, int(hours*3600/step)+1)

	if pr.Targets, err = parseTargets(q.Get("targets")); err != nil {
		return req, err
	}

	req.epoch = time.Now().UTC()
	if v := q.Get("epoch"); v != "" {
		if req.epoch, err = time.Parse(time.RFC3339, v); err != nil {
			return req, fmt.Errorf("invalid epoch parameter, must be RFC3339")
		}
	}

	req.seed = uint64(time.Now().UnixNano())
	if v := q.Get("seed"); v != "" {
		if req.seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return req, fmt.Errorf("invalid seed parameter")
		}
	}
	return req, nil
}

const maxTargets = 50

// parseTargets reads "lat,lon;lat,lon".
func parseTargets(s string) ([]groundtrack.Point, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("targets parameter is required")
	}
	out, err := groundtrack.ParsePoints(s)
	if err != nil {
		return nil, fmt.Errorf("invalid targets parameter: %w", err)
	}
	if len(out) > maxTargets {
		return nil, fmt.Errorf("too many targets, max %d", maxTargets)
	}
	return out, nil
}

func queryInt(v, name string, def, lo, hi int) (int, error) {
	if v == "" {
		return min(max(def, lo), hi), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s parameter, must be %d-%d", name, lo, hi)
	}
	return n, nil
}

func queryFloat(v, name string, def, lo, hi float64) (float64, error) {
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !(f >= lo && f <= hi) {
		return 0, fmt.Errorf("invalid %s parameter, must be %g-%g", name, lo, hi)
	}
	return f, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorMessage{Error: msg})
}

// SSE message payload types.

type metadataMessage struct {
	Satellites int `json:"satellites"`
	Targets    int `json:"targets"`
	Rounds     int `json:"rounds"`
	Samples    int `json:"samples"`
}

type errorMessage struct {
	Error string `json:"error"`
}
