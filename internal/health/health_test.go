package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbe(t *testing.T) {
	var p Probe

	tests := []struct {
		name    string
		ready   bool
		handler func(*Probe) http.HandlerFunc
		want    int
		body    string
	}{
		{"healthz before ready", false, func(p *Probe) http.HandlerFunc { return p.Healthz }, http.StatusOK, "ok\n"},
		{"readyz before ready", false, func(p *Probe) http.HandlerFunc { return p.Readyz }, http.StatusServiceUnavailable, "not ready\n"},
		{"readyz when ready", true, func(p *Probe) http.HandlerFunc { return p.Readyz }, http.StatusOK, "ready\n"},
		{"readyz after shutdown begins", false, func(p *Probe) http.HandlerFunc { return p.Readyz }, http.StatusServiceUnavailable, "not ready\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.SetReady(tt.ready)
			w := httptest.NewRecorder()
			tt.handler(&p)(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if got := w.Body.String(); got != tt.body {
				t.Errorf("body = %q, want %q", got, tt.body)
			}
		})
	}
}
