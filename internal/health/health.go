// Package health serves liveness and readiness probes.
package health

import (
	"net/http"
	"sync/atomic"
)

// Probe tracks whether the process should receive traffic. Liveness is
// unconditional; readiness starts false and is flipped by the binary once
// startup completes and back to false when shutdown begins.
type Probe struct {
	ready atomic.Bool
}

// SetReady updates the readiness state.
func (p *Probe) SetReady(ready bool) {
	p.ready.Store(ready)
}

// Ready reports the readiness state.
func (p *Probe) Ready() bool {
	return p.ready.Load()
}

// Healthz returns 200 "ok\n" unconditionally.
func (p *Probe) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" when ready and 503 otherwise.
func (p *Probe) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !p.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
