package stream

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// Rejection reasons reported by streamLimiter.acquire.
const (
	rejectPerIP  = "per_ip"
	rejectGlobal = "global"
)

// streamLimiter caps optimizer streams. Each stream holds a worker pool for
// its whole run, so the caps bound CPU as much as connections.
type streamLimiter struct {
	mu       sync.Mutex
	byIP     map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	return &streamLimiter{
		byIP:     make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// acquire reserves a stream slot for ip. On refusal it returns the reason;
// an empty reason means the slot was granted and must be released.
func (l *streamLimiter) acquire(ip string) (reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.total >= l.maxTotal:
		return rejectGlobal
	case l.byIP[ip] >= l.maxPerIP:
		return rejectPerIP
	}
	l.byIP[ip]++
	l.total++
	return ""
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.byIP[ip]--; l.byIP[ip] <= 0 {
		delete(l.byIP, ip)
	}
}

// active reports the streams held by ip and in total.
func (l *streamLimiter) active(ip string) (perIP, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byIP[ip], l.total
}

// clientIP keys the limiter. Behind a trusted proxy it is the first
// X-Forwarded-For hop, otherwise the socket peer.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
