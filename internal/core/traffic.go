package core

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"farmconnect/internal/types"
)

// clientLimiter keeps one token bucket per client IP. Buckets idle for
// longer than idleTTL are swept.
type clientLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*clientBucket

	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int, idleTTL time.Duration) *clientLimiter {
	l := &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		idleTTL: idleTTL,
		clients: make(map[string]*clientBucket),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go l.sweepLoop()
	return l
}

// reserve takes a token for key. When none is available it returns the
// wait until the next one.
func (l *clientLimiter) reserve(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *clientLimiter) sweep() {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, k)
		}
	}
}

func (l *clientLimiter) sweepLoop() {
	t := time.NewTicker(l.idleTTL)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.sweep()
		}
	}
}

func (l *clientLimiter) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// RateLimit rejects clients that exceed their token bucket with 429 and a
// Retry-After header.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractClientIP(r)
		ok, wait := s.limiter.reserve(ip)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(math.Ceil(wait.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		types.LoggerFromContext(r.Context(), s.Logger).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "rate limit exceeded; retry later", nil))
	})
}

// extractClientIP prefers the first X-Forwarded-For entry, set by the load
// balancer, and falls back to RemoteAddr without its port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
